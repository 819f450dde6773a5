package station

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenNosePort/internal/clock"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"go.uber.org/zap"
)

const DefaultCapacity = 32

var ErrInvalidStationID = errors.New("invalid station id")

// Registry is the fixed-capacity arena that owns every addressable station.
// Stations are polled and receive broadcasts in registration order.
type Registry struct {
	stations []*Station
	clock    clock.Clock
	bank     pins.Bank
	sink     Sink
	logger   *zap.Logger
}

func NewRegistry(capacity int, clk clock.Clock, bank pins.Bank, sink Sink, logger *zap.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		stations: make([]*Station, 0, capacity),
		clock:    clk,
		bank:     bank,
		sink:     sink,
		logger:   logger,
	}
}

// Create wires a new station and registers it. When the registry is full
// the station still exists with id 0 but can never be addressed, polled or
// reached by a broadcast.
func (r *Registry) Create(sensePin, rewardPin pins.Pin) *Station {
	s := &Station{
		registry:  r,
		sensePin:  sensePin,
		rewardPin: rewardPin,
	}

	r.bank.ConfigureInput(sensePin)
	s.senseAsserted = r.bank.Read(sensePin)
	r.bank.ConfigureOutput(rewardPin)
	r.bank.Write(rewardPin, false)

	s.id = r.register(s)
	s.logger = r.logger.With(zap.Int("station_id", s.id))
	s.emit(TagNew)

	s.Identify()
	if s.id == 0 {
		r.logger.Warn("Station registry full, station is unaddressable",
			zap.Int("capacity", cap(r.stations)))
	}

	return s
}

func (r *Registry) register(s *Station) int {
	if len(r.stations) == cap(r.stations) {
		return 0
	}
	r.stations = append(r.stations, s)
	return len(r.stations)
}

// Lookup resolves a 1-based station id.
func (r *Registry) Lookup(id int) (*Station, error) {
	if id < 1 || id > len(r.stations) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrInvalidStationID, id, len(r.stations))
	}
	return r.stations[id-1], nil
}

func (r *Registry) Len() int { return len(r.stations) }

func (r *Registry) Cap() int { return cap(r.stations) }

// PollAll runs one sweep over every station.
func (r *Registry) PollAll() {
	for _, s := range r.stations {
		s.PollTick()
	}
}

// Broadcast delivers an entry on senderID to every station, the sender
// included, and returns only after all of them handled it.
func (r *Registry) Broadcast(senderID int) {
	for _, s := range r.stations {
		s.ReceiveBroadcast(senderID)
	}
}

// Each calls fn for every registered station in id order.
func (r *Registry) Each(fn func(*Station)) {
	for _, s := range r.stations {
		fn(s)
	}
}

// Snapshots returns a view of every registered station.
func (r *Registry) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(r.stations))
	r.Each(func(s *Station) {
		out = append(out, s.Snapshot())
	})
	return out
}

func (r *Registry) emit(e Event) {
	r.sink.Emit(e)
}
