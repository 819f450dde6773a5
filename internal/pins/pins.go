// Package pins defines the logical digital I/O surface the stations drive.
package pins

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Pin is a board channel number. Zero means "not wired".
type Pin uint32

const None Pin = 0

type Mode int

const (
	ModeUnset Mode = iota
	ModeInput
	ModeOutput
)

func (m Mode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	default:
		return "unset"
	}
}

// Bank is the pin-level hardware abstraction. Implementations must not block:
// stations call these from inside a poll tick.
type Bank interface {
	ConfigureInput(pin Pin)
	ConfigureOutput(pin Pin)
	Read(pin Pin) bool
	Write(pin Pin, high bool)
}

// Inspector is implemented by banks that can list their pins.
type Inspector interface {
	Snapshot() []State
}

// State is a point-in-time view of one pin.
type State struct {
	Pin   Pin    `json:"pin"`
	Mode  string `json:"mode"`
	Level bool   `json:"level"`
}

// SimBank is an in-memory Bank. Input levels are driven from outside with
// SetInput, output levels are recorded for inspection.
type SimBank struct {
	mu     sync.RWMutex
	modes  map[Pin]Mode
	levels map[Pin]bool
	writes map[Pin]int
}

func NewSimBank() *SimBank {
	return &SimBank{
		modes:  make(map[Pin]Mode),
		levels: make(map[Pin]bool),
		writes: make(map[Pin]int),
	}
}

func (b *SimBank) ConfigureInput(pin Pin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[pin] = ModeInput
}

func (b *SimBank) ConfigureOutput(pin Pin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[pin] = ModeOutput
}

func (b *SimBank) Read(pin Pin) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levels[pin]
}

func (b *SimBank) Write(pin Pin, high bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels[pin] = high
	b.writes[pin]++
}

// SetInput drives the external level of an input pin.
func (b *SimBank) SetInput(pin Pin, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mode := b.modes[pin]; mode == ModeOutput {
		return fmt.Errorf("pin %d is configured as %s", pin, mode)
	}
	b.levels[pin] = high
	return nil
}

// Level returns the current level of any pin.
func (b *SimBank) Level(pin Pin) bool {
	return b.Read(pin)
}

func (b *SimBank) Mode(pin Pin) Mode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.modes[pin]
}

// WriteCount returns how many times an output was written.
func (b *SimBank) WriteCount(pin Pin) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writes[pin]
}

// Snapshot lists every configured pin in pin order.
func (b *SimBank) Snapshot() []State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make([]State, 0, len(b.modes))
	for pin, mode := range b.modes {
		states = append(states, State{Pin: pin, Mode: mode.String(), Level: b.levels[pin]})
	}
	SortStates(states)
	return states
}

func SortStates(states []State) {
	slices.SortFunc(states, func(a, b State) int { return cmp.Compare(a.Pin, b.Pin) })
}
