// Package station implements the per-port event and timing state machine,
// the registry that owns all ports, and the entry broadcast between them.
//
// Nothing in this package is safe for concurrent use. A single goroutine
// owns the Registry and every Station in it.
package station

import (
	"github.com/KevinKickass/OpenNosePort/internal/clock"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"go.uber.org/zap"
)

// Station is one nose port: a beam-break sense input, a reward solenoid and
// optional LED, reward-enable input and laser outputs.
type Station struct {
	id       int
	registry *Registry
	logger   *zap.Logger

	sensePin        pins.Pin
	rewardPin       pins.Pin
	ledPin          pins.Pin
	rewardEnablePin pins.Pin
	laserPin        pins.Pin

	rewardEnabled     bool
	rewardDurationUs  uint32
	singleReward      bool
	rewardEnableLevel bool
	rewardInProgress  bool
	rewardStartUs     uint32

	senseAsserted bool

	laser laserConfig

	stimInProgress    bool
	stimStartUs       uint32
	laserOn           bool
	pulsePhaseStartUs uint32
}

// ID returns the 1-based registry id, or 0 when the registry was full.
func (s *Station) ID() int { return s.id }

func (s *Station) now() uint32 { return s.registry.clock.NowMicros() }

func (s *Station) bank() pins.Bank { return s.registry.bank }

func (s *Station) emit(tag Tag) {
	s.registry.emit(Event{Tag: tag, StationID: s.id, AtMicros: s.now()})
}

func (s *Station) SetRewardDuration(ms uint32) {
	s.logger.Debug("Updated reward duration", zap.Uint32("duration_ms", ms))
	s.rewardDurationUs = clock.MillisToMicros(ms)
}

func (s *Station) SetActivated(activated bool) {
	s.logger.Debug("Updated activation state", zap.Bool("activated", activated))
	s.rewardEnabled = activated
}

func (s *Station) SetSingleReward(single bool) {
	s.singleReward = single
}

// SetRewardEnableInput wires an input whose level changes toggle reward
// activation. The remembered level starts low, so an input that is already
// high activates rewards on the next tick. Pin 0 detaches the input.
func (s *Station) SetRewardEnableInput(pin pins.Pin) {
	s.rewardEnablePin = pin
	if pin != pins.None {
		s.bank().ConfigureInput(pin)
	}
}

// PollTick advances the station by one sweep.
func (s *Station) PollTick() {
	if s.rewardEnablePin != pins.None {
		level := s.bank().Read(s.rewardEnablePin)
		if level != s.rewardEnableLevel {
			s.rewardEnableLevel = level
			s.SetActivated(level)
		}
	}

	if sensed := s.bank().Read(s.sensePin); sensed != s.senseAsserted {
		if sensed {
			s.SenseAsserted()
		} else {
			s.SenseCleared()
		}
	}

	if s.rewardInProgress && clock.Elapsed(s.now(), s.rewardStartUs) > s.rewardDurationUs {
		s.bank().Write(s.rewardPin, false)
		s.rewardInProgress = false
	}

	if s.stimInProgress {
		s.advanceStim(s.now())
	}
}

// SenseAsserted handles a rising edge on the sense input.
func (s *Station) SenseAsserted() {
	s.logger.Debug("Sense asserted")
	s.senseAsserted = true

	if s.rewardEnabled && s.rewardDurationUs > 0 {
		s.startReward()
		s.emit(TagRewardedEntry)
	} else {
		s.emit(TagUnrewardedEntry)
	}
	if s.singleReward {
		s.SetActivated(false)
	}

	// Other stations must see this entry before our own stim starts, or an
	// on-entry end trigger would cancel the stim we are about to begin.
	s.registry.Broadcast(s.id)
	if s.laser.enabled {
		s.StartStim()
	}
}

// SenseCleared handles a falling edge on the sense input.
func (s *Station) SenseCleared() {
	s.logger.Debug("Sense cleared")
	s.senseAsserted = false
	s.emit(TagExit)
	if s.stimInProgress && s.laser.endTrigger == EndOnSenseCleared {
		s.EndStim()
	}
}

// ReceiveBroadcast is called for every entry on any station, this one
// included.
func (s *Station) ReceiveBroadcast(fromID int) {
	if s.stimInProgress && s.laser.endTrigger == EndOnSenseAsserted {
		s.logger.Debug("Stim ended by entry broadcast", zap.Int("from_station", fromID))
		s.EndStim()
	}
}

// DeliverReward starts a reward regardless of sense state. A reward that is
// already running has its timer restarted.
func (s *Station) DeliverReward() {
	s.logger.Debug("Manual reward", zap.Uint32("duration_ms", s.rewardDurationUs/1000))
	if s.rewardDurationUs > 0 {
		s.startReward()
		s.emit(TagManualReward)
	}
}

func (s *Station) startReward() {
	s.rewardInProgress = true
	s.rewardStartUs = s.now()
	s.bank().Write(s.rewardPin, true)
}

// SetLedPin wires the LED output, driven low. Pin 0 detaches it.
func (s *Station) SetLedPin(pin pins.Pin) {
	s.ledPin = pin
	if pin != pins.None {
		s.bank().ConfigureOutput(pin)
		s.bank().Write(pin, false)
	}
}

func (s *Station) LedOn() {
	if s.ledPin != pins.None {
		s.bank().Write(s.ledPin, true)
	}
}

func (s *Station) LedOff() {
	if s.ledPin != pins.None {
		s.bank().Write(s.ledPin, false)
	}
}

// Identify writes the station wiring to the debug log.
func (s *Station) Identify() {
	s.logger.Debug("Station wiring",
		zap.Uint32("sense_pin", uint32(s.sensePin)),
		zap.Uint32("reward_pin", uint32(s.rewardPin)),
		zap.Uint32("led_pin", uint32(s.ledPin)),
		zap.Uint32("reward_enable_pin", uint32(s.rewardEnablePin)),
		zap.Uint32("laser_pin", uint32(s.laserPin)))
}

// Snapshot is a read-only view of a station.
type Snapshot struct {
	ID              int    `json:"id"`
	SensePin        uint32 `json:"sense_pin"`
	RewardPin       uint32 `json:"reward_pin"`
	LedPin          uint32 `json:"led_pin,omitempty"`
	RewardEnablePin uint32 `json:"reward_enable_pin,omitempty"`
	LaserPin        uint32 `json:"laser_pin,omitempty"`

	SenseAsserted    bool   `json:"sense_asserted"`
	RewardEnabled    bool   `json:"reward_enabled"`
	RewardDurationUs uint32 `json:"reward_duration_us"`
	SingleReward     bool   `json:"single_reward"`
	RewardInProgress bool   `json:"reward_in_progress"`

	LaserEnabled    bool   `json:"laser_enabled"`
	EndTrigger      string `json:"end_trigger"`
	DelayUs         uint32 `json:"delay_us"`
	StimDurationUs  uint32 `json:"stim_duration_us"`
	PulseDurationUs uint32 `json:"pulse_duration_us"`
	PulsePeriodUs   uint32 `json:"pulse_period_us"`
	StimPhase       string `json:"stim_phase"`
	LaserOn         bool   `json:"laser_on"`
}

func (s *Station) Snapshot() Snapshot {
	return Snapshot{
		ID:               s.id,
		SensePin:         uint32(s.sensePin),
		RewardPin:        uint32(s.rewardPin),
		LedPin:           uint32(s.ledPin),
		RewardEnablePin:  uint32(s.rewardEnablePin),
		LaserPin:         uint32(s.laserPin),
		SenseAsserted:    s.senseAsserted,
		RewardEnabled:    s.rewardEnabled,
		RewardDurationUs: s.rewardDurationUs,
		SingleReward:     s.singleReward,
		RewardInProgress: s.rewardInProgress,
		LaserEnabled:     s.laser.enabled,
		EndTrigger:       s.laser.endTrigger.String(),
		DelayUs:          s.laser.delayUs,
		StimDurationUs:   s.laser.stimDurationUs,
		PulseDurationUs:  s.laser.pulseDurationUs,
		PulsePeriodUs:    s.laser.pulsePeriodUs,
		StimPhase:        s.StimPhase().String(),
		LaserOn:          s.laserOn,
	}
}

func (s *Station) RewardInProgress() bool { return s.rewardInProgress }
func (s *Station) RewardEnabled() bool { return s.rewardEnabled }
func (s *Station) SenseIsAsserted() bool { return s.senseAsserted }
