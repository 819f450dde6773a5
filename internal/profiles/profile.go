// Package profiles loads rig descriptions from YAML and compiles them into
// protocol command lines, so a profile sets a rig up exactly as a host would.
package profiles

import (
	"fmt"

	"github.com/KevinKickass/OpenNosePort/internal/command"
	"github.com/KevinKickass/OpenNosePort/internal/station"
)

type Profile struct {
	Version     int       `yaml:"version" json:"version"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Stations    []Station `yaml:"stations" json:"stations"`
}

type Station struct {
	Name            string  `yaml:"name,omitempty" json:"name,omitempty"`
	SensePin        uint32  `yaml:"sense_pin" json:"sense_pin"`
	RewardPin       uint32  `yaml:"reward_pin" json:"reward_pin"`
	LedPin          uint32  `yaml:"led_pin,omitempty" json:"led_pin,omitempty"`
	RewardEnablePin uint32  `yaml:"reward_enable_pin,omitempty" json:"reward_enable_pin,omitempty"`
	Reward          *Reward `yaml:"reward,omitempty" json:"reward,omitempty"`
	Laser           *Laser  `yaml:"laser,omitempty" json:"laser,omitempty"`
}

type Reward struct {
	DurationMs uint32 `yaml:"duration_ms" json:"duration_ms"`
	Active     bool   `yaml:"active" json:"active"`
	Single     bool   `yaml:"single" json:"single"`
}

type Laser struct {
	Pin             uint32 `yaml:"pin" json:"pin"`
	EndTrigger      string `yaml:"end_trigger,omitempty" json:"end_trigger,omitempty"`
	DelayMs         uint32 `yaml:"delay_ms" json:"delay_ms"`
	StimDurationMs  uint32 `yaml:"stim_duration_ms" json:"stim_duration_ms"`
	PulseDurationMs uint32 `yaml:"pulse_duration_ms" json:"pulse_duration_ms"`
	PulsePeriodMs   uint32 `yaml:"pulse_period_ms" json:"pulse_period_ms"`
	Active          bool   `yaml:"active" json:"active"`
}

var endTriggers = map[string]station.EndTrigger{
	"":                                  station.EndTimed,
	station.EndTimed.String():           station.EndTimed,
	station.EndOnSenseCleared.String():  station.EndOnSenseCleared,
	station.EndOnSenseAsserted.String(): station.EndOnSenseAsserted,
}

// Compile turns the profile into command lines. Stations are created in
// order and are expected to receive ids firstID, firstID+1, ...
func (p *Profile) Compile(firstID int) ([]string, error) {
	var lines []string
	add := func(verb command.Verb, a, b uint32) {
		lines = append(lines, fmt.Sprintf("%s %d %d", verb, a, b))
	}
	flag := func(b bool) uint32 {
		if b {
			return 1
		}
		return 0
	}

	for i, s := range p.Stations {
		id := uint32(firstID + i)
		add(command.VerbNew, s.SensePin, s.RewardPin)

		if s.RewardEnablePin != 0 {
			add(command.VerbRewardEnablePin, id, s.RewardEnablePin)
		}
		if s.LedPin != 0 {
			add(command.VerbLedPin, id, s.LedPin)
		}
		if r := s.Reward; r != nil {
			add(command.VerbRewardDuration, id, r.DurationMs)
			add(command.VerbSingleReward, id, flag(r.Single))
			add(command.VerbRewardActivation, id, flag(r.Active))
		}
		if l := s.Laser; l != nil {
			trigger, ok := endTriggers[l.EndTrigger]
			if !ok {
				return nil, fmt.Errorf("%w: station %d: unknown end trigger %q", ErrInvalidProfile, i+1, l.EndTrigger)
			}
			add(command.VerbLaserPin, id, l.Pin)
			add(command.VerbLaserEndTrigger, id, uint32(trigger))
			add(command.VerbLaserDelay, id, l.DelayMs)
			add(command.VerbLaserStimDuration, id, l.StimDurationMs)
			add(command.VerbLaserPulseDuration, id, l.PulseDurationMs)
			add(command.VerbLaserPulsePeriod, id, l.PulsePeriodMs)
			add(command.VerbLaserActivation, id, flag(l.Active))
		}
	}

	return lines, nil
}
