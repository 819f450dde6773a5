package station

import (
	"github.com/KevinKickass/OpenNosePort/internal/clock"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"go.uber.org/zap"
)

// EndTrigger selects what ends a laser stim besides its duration.
type EndTrigger uint8

const (
	// EndTimed ends the stim only when the stim duration has elapsed.
	EndTimed EndTrigger = iota
	// EndOnSenseCleared ends the stim when this station's sense clears.
	EndOnSenseCleared
	// EndOnSenseAsserted ends the stim on the next entry at any station.
	EndOnSenseAsserted

	numEndTriggers
)

func (t EndTrigger) String() string {
	switch t {
	case EndTimed:
		return "timed"
	case EndOnSenseCleared:
		return "on_sense_cleared"
	case EndOnSenseAsserted:
		return "on_sense_asserted"
	default:
		return "unknown"
	}
}

// StimPhase is the laser sub-state.
type StimPhase int

const (
	PhaseIdle StimPhase = iota
	PhaseDelaying
	PhasePulsing
)

func (p StimPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDelaying:
		return "delaying"
	case PhasePulsing:
		return "pulsing"
	default:
		return "unknown"
	}
}

type laserConfig struct {
	enabled         bool
	endTrigger      EndTrigger
	delayUs         uint32
	stimDurationUs  uint32 // max duration for non-timed triggers
	pulseDurationUs uint32
	pulsePeriodUs   uint32
}

// SetLaserPin wires the laser output, driven low. Pin 0 detaches the laser,
// which also disables it. A running stim is ended before re-wiring.
func (s *Station) SetLaserPin(pin pins.Pin) {
	if s.stimInProgress {
		s.EndStim()
	}
	s.laserPin = pin
	if pin == pins.None {
		s.laser.enabled = false
		return
	}
	s.bank().ConfigureOutput(pin)
	s.bank().Write(pin, false)
}

func (s *Station) SetLaserDelay(ms uint32) {
	s.laser.delayUs = clock.MillisToMicros(ms)
}

// SetLaserEndTrigger ignores values outside the known trigger kinds.
func (s *Station) SetLaserEndTrigger(kind uint32) {
	if kind < uint32(numEndTriggers) {
		s.laser.endTrigger = EndTrigger(kind)
	}
}

func (s *Station) SetLaserStimDuration(ms uint32) {
	s.laser.stimDurationUs = clock.MillisToMicros(ms)
}

func (s *Station) SetLaserPulseDuration(ms uint32) {
	s.laser.pulseDurationUs = clock.MillisToMicros(ms)
}

func (s *Station) SetLaserPulsePeriod(ms uint32) {
	s.laser.pulsePeriodUs = clock.MillisToMicros(ms)
}

// SetLaserActive arms the laser for the next entry. Arming has no effect
// without a laser pin.
func (s *Station) SetLaserActive(active bool) {
	if active {
		if s.laserPin != pins.None {
			s.laser.enabled = true
		}
		return
	}
	s.laser.enabled = false
}

func (s *Station) LaserEnabled() bool { return s.laser.enabled }
func (s *Station) StimInProgress() bool { return s.stimInProgress }
func (s *Station) LaserOn() bool { return s.laserOn }

// StimPhase reports where the running stim is in its schedule.
func (s *Station) StimPhase() StimPhase {
	if !s.stimInProgress {
		return PhaseIdle
	}
	if clock.Elapsed(s.now(), s.stimStartUs) <= s.laser.delayUs {
		return PhaseDelaying
	}
	return PhasePulsing
}

// StartStim begins the delay-then-pulse sequence.
func (s *Station) StartStim() {
	s.logger.Debug("Laser stim start")
	if s.laserPin == pins.None {
		return
	}
	s.stimInProgress = true
	s.stimStartUs = s.now()
	s.emit(TagStimStart)
	s.pulsePhaseStartUs = 0
}

// EndStim forces the laser off. Calling it again is harmless.
func (s *Station) EndStim() {
	s.logger.Debug("Laser stim end")
	s.stimInProgress = false
	if s.laserPin != pins.None {
		s.bank().Write(s.laserPin, false)
	}
	s.laserOn = false
	s.emit(TagStimEnd)
}

func (s *Station) advanceStim(now uint32) {
	elapsed := clock.Elapsed(now, s.stimStartUs)
	if elapsed <= s.laser.delayUs {
		return
	}

	sinceDelay := elapsed - s.laser.delayUs
	if sinceDelay >= s.laser.stimDurationUs {
		s.EndStim()
		if s.laser.endTrigger != EndTimed {
			s.logger.Debug("Laser stim timed out", zap.Stringer("end_trigger", s.laser.endTrigger))
			s.emit(TagStimTimeout)
		}
		return
	}

	switch {
	case sinceDelay >= s.pulsePhaseStartUs && !s.laserOn:
		s.setLaser(true)
	case sinceDelay >= s.pulsePhaseStartUs+s.laser.pulseDurationUs && s.laserOn:
		s.pulsePhaseStartUs += s.laser.pulsePeriodUs
		// back-to-back pulses stay on
		if sinceDelay < s.pulsePhaseStartUs {
			s.setLaser(false)
		}
	}
}

func (s *Station) setLaser(on bool) {
	s.bank().Write(s.laserPin, on)
	s.laserOn = on
}
