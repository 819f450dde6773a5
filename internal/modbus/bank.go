package modbus

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"go.uber.org/zap"
)

// Bank is a pins.Bank backed by the process image of a Modbus/TCP I/O
// coupler. Pin n maps to discrete input n-1 when configured as an input and
// to coil n-1 when configured as an output. Read and Write only touch the
// image; Sync exchanges it with the device.
//
// Every level change of a coil is queued and written in order on the next
// Sync, so a pulse shorter than the poll interval still reaches the device,
// stretched to the poll timing.
type Bank struct {
	logger *zap.Logger

	mu     sync.Mutex
	modes  map[pins.Pin]pins.Mode
	inputs []bool
	coils  []bool
	edges  map[uint16][]bool
	warned map[pins.Pin]bool
}

func NewBank(inputCount, coilCount uint16, logger *zap.Logger) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bank{
		logger: logger,
		modes:  make(map[pins.Pin]pins.Mode),
		inputs: make([]bool, inputCount),
		coils:  make([]bool, coilCount),
		edges:  make(map[uint16][]bool),
		warned: make(map[pins.Pin]bool),
	}
}

func (b *Bank) ConfigureInput(pin pins.Pin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inRange(pin, len(b.inputs), "discrete input") {
		b.modes[pin] = pins.ModeInput
	}
}

func (b *Bank) ConfigureOutput(pin pins.Pin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inRange(pin, len(b.coils), "coil") {
		b.modes[pin] = pins.ModeOutput
	}
}

func (b *Bank) Read(pin pins.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.modes[pin] {
	case pins.ModeInput:
		return b.inputs[pin-1]
	case pins.ModeOutput:
		return b.coils[pin-1]
	default:
		return false
	}
}

func (b *Bank) Write(pin pins.Pin, high bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inRange(pin, len(b.coils), "coil") {
		return
	}
	addr := uint16(pin - 1)
	if b.coils[addr] != high {
		b.coils[addr] = high
		b.queueEdge(addr, high)
	}
}

// maxQueuedEdges bounds the levels kept per coil while the device is
// unreachable. The oldest on/off pair is dropped first so the final level
// is kept.
const maxQueuedEdges = 256

func (b *Bank) queueEdge(addr uint16, high bool) {
	queue := append(b.edges[addr], high)
	if len(queue) > maxQueuedEdges {
		queue = queue[2:]
	}
	b.edges[addr] = queue
}

// inRange reports whether pin addresses the given table, warning once per pin
// when it does not.
func (b *Bank) inRange(pin pins.Pin, size int, table string) bool {
	if pin != pins.None && int(pin) <= size {
		return true
	}
	if !b.warned[pin] {
		b.warned[pin] = true
		b.logger.Warn("Pin outside the Modbus process image",
			zap.Uint32("pin", uint32(pin)),
			zap.String("table", table),
			zap.Int("size", size))
	}
	return false
}

// Snapshot lists every configured pin in pin order.
func (b *Bank) Snapshot() []pins.State {
	b.mu.Lock()
	defer b.mu.Unlock()

	states := make([]pins.State, 0, len(b.modes))
	for pin, mode := range b.modes {
		level := false
		if mode == pins.ModeInput {
			level = b.inputs[pin-1]
		} else {
			level = b.coils[pin-1]
		}
		states = append(states, pins.State{Pin: pin, Mode: mode.String(), Level: level})
	}
	pins.SortStates(states)
	return states
}

// Sync writes queued coil levels, then refreshes the input image. Levels
// that fail to write are queued again ahead of newer ones and retried on the
// next call.
func (b *Bank) Sync(ctx context.Context, client *Client) error {
	b.mu.Lock()
	pending := b.edges
	b.edges = make(map[uint16][]bool)
	inputCount := uint16(len(b.inputs))
	b.mu.Unlock()

	addrs := slices.Sorted(maps.Keys(pending))
	for i, addr := range addrs {
		levels := pending[addr]
		for j, on := range levels {
			if err := client.WriteSingleCoil(ctx, addr, on); err != nil {
				pending[addr] = levels[j:]
				b.requeue(pending, addrs[i:])
				return fmt.Errorf("failed to write coil %d: %w", addr, err)
			}
		}
	}

	if inputCount == 0 {
		return nil
	}
	inputs, err := client.ReadDiscreteInputs(ctx, 0, inputCount)
	if err != nil {
		return fmt.Errorf("failed to read discrete inputs: %w", err)
	}

	b.mu.Lock()
	copy(b.inputs, inputs)
	b.mu.Unlock()

	return nil
}

func (b *Bank) requeue(pending map[uint16][]bool, addrs []uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, addr := range addrs {
		queue := append(slices.Clone(pending[addr]), b.edges[addr]...)
		if n := len(queue) - maxQueuedEdges; n > 0 {
			queue = queue[n+n%2:]
		}
		b.edges[addr] = queue
	}
}
