// Package machine runs the rig control loop. One goroutine owns the station
// registry; every other producer hands it work over a channel.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/clock"
	"github.com/KevinKickass/OpenNosePort/internal/command"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap"
)

const DefaultPollInterval = 500 * time.Microsecond

var (
	ErrNotRunning     = errors.New("control loop not running")
	ErrAlreadyRunning = errors.New("control loop already running")
)

type Config struct {
	Capacity     int
	PollInterval time.Duration
}

type request struct {
	fn   func()
	done chan struct{}
}

type Controller struct {
	logger       *zap.Logger
	clock        clock.Clock
	registry     *station.Registry
	interp       *command.Interpreter
	events       *EventBus
	pollInterval time.Duration
	capacity     int

	requests chan request
	started  chan struct{}
	stopped  chan struct{}
	runOnce  sync.Once

	mu              sync.RWMutex
	state           State
	stations        int
	polls           uint64
	commands        uint64
	protocolErrors  uint64
	lastStateChange time.Time
}

func NewController(cfg Config, clk clock.Clock, bank pins.Bank, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = station.DefaultCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	events := NewEventBus(logger.Named("events"))
	registry := station.NewRegistry(cfg.Capacity, clk, bank, events, logger.Named("station"))

	return &Controller{
		logger:          logger,
		clock:           clk,
		registry:        registry,
		interp:          command.NewInterpreter(registry, logger.Named("command")),
		events:          events,
		pollInterval:    cfg.PollInterval,
		capacity:        cfg.Capacity,
		requests:        make(chan request),
		started:         make(chan struct{}),
		stopped:         make(chan struct{}),
		state:           StateStopped,
		lastStateChange: time.Now(),
	}
}

// Events returns the bus every station event is published on.
func (c *Controller) Events() *EventBus { return c.events }

// Run owns the registry until ctx is cancelled. It polls every station on
// each tick and executes submitted work between ticks.
func (c *Controller) Run(ctx context.Context) error {
	first := false
	c.runOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.setState(StateRunning)
	close(c.started)
	defer func() {
		c.setState(StateStopped)
		close(c.stopped)
	}()

	c.logger.Info("Control loop started",
		zap.Duration("poll_interval", c.pollInterval),
		zap.Int("capacity", c.capacity))

	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopping)
			c.logger.Info("Control loop stopping")
			return nil

		case <-ticker.C:
			c.registry.PollAll()
			c.mu.Lock()
			c.polls++
			c.mu.Unlock()

		case req := <-c.requests:
			req.fn()
			close(req.done)
		}
	}
}

// Started is closed once Run has taken ownership of the registry.
func (c *Controller) Started() <-chan struct{} { return c.started }

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.stopped }

// do runs fn on the loop goroutine and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}

	select {
	case c.requests <- req:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit executes one protocol line and returns its reply lines. Protocol
// errors come back both as "#" reply lines and as a *command.Error.
func (c *Controller) Submit(ctx context.Context, line string) ([]string, error) {
	var (
		replies []string
		cmdErr  error
	)
	err := c.do(ctx, func() {
		replies, cmdErr = c.execute(line)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit command: %w", err)
	}
	return replies, cmdErr
}

// SubmitAll executes lines in order and stops at the first protocol error.
// Other producers may run commands between lines; use SubmitBatch when the
// lines depend on the registry staying as it was.
func (c *Controller) SubmitAll(ctx context.Context, lines []string) ([]string, error) {
	var all []string
	for _, line := range lines {
		replies, err := c.Submit(ctx, line)
		all = append(all, replies...)
		if err != nil {
			return all, fmt.Errorf("line %q: %w", line, err)
		}
	}
	return all, nil
}

// BuildFunc produces a batch of lines from the current station count and
// the registry capacity.
type BuildFunc func(stations, capacity int) ([]string, error)

// SubmitBatch calls build and executes its lines in one turn of the loop,
// so no other command can create stations in between. It returns the lines
// that were built. Execution stops at the first protocol error.
func (c *Controller) SubmitBatch(ctx context.Context, build BuildFunc) ([]string, error) {
	var (
		lines    []string
		batchErr error
	)
	err := c.do(ctx, func() {
		lines, batchErr = build(c.registry.Len(), c.capacity)
		if batchErr != nil {
			return
		}
		for _, line := range lines {
			if _, err := c.execute(line); err != nil {
				batchErr = fmt.Errorf("line %q: %w", line, err)
				return
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit batch: %w", err)
	}
	return lines, batchErr
}

// execute runs on the loop goroutine.
func (c *Controller) execute(line string) ([]string, error) {
	replies, cmdErr := c.interp.Execute(line)
	n := c.registry.Len()

	c.mu.Lock()
	c.commands++
	if cmdErr != nil {
		c.protocolErrors++
	}
	c.stations = n
	c.mu.Unlock()

	return replies, cmdErr
}

// Poll runs one sweep immediately instead of waiting for the next tick.
func (c *Controller) Poll(ctx context.Context) error {
	return c.do(ctx, c.registry.PollAll)
}

func (c *Controller) Snapshots(ctx context.Context) (StationList, error) {
	var list StationList
	err := c.do(ctx, func() {
		list = StationList{
			Stations: c.registry.Snapshots(),
			Capacity: c.capacity,
		}
	})
	if err != nil {
		return StationList{}, err
	}
	return list, nil
}

func (c *Controller) Station(ctx context.Context, id int) (station.Snapshot, error) {
	var (
		snap      station.Snapshot
		lookupErr error
	)
	err := c.do(ctx, func() {
		s, err := c.registry.Lookup(id)
		if err != nil {
			lookupErr = err
			return
		}
		snap = s.Snapshot()
	})
	if err != nil {
		return station.Snapshot{}, err
	}
	return snap, lookupErr
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == state {
		return
	}
	previous := c.state
	c.state = state
	c.lastStateChange = time.Now()

	c.logger.Info("Control loop state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previous)))
}

func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		State:           c.state,
		Stations:        c.stations,
		Capacity:        c.capacity,
		PollInterval:    c.pollInterval.String(),
		Polls:           c.polls,
		Commands:        c.commands,
		ProtocolErrors:  c.protocolErrors,
		ClockMicros:     c.clock.NowMicros(),
		LastStateChange: c.lastStateChange,
	}
}
