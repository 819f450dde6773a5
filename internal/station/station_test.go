package station

import (
	"errors"
	"reflect"
	"testing"

	"github.com/KevinKickass/OpenNosePort/internal/clock"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"go.uber.org/zap/zaptest"
)

type rig struct {
	registry *Registry
	bank     *pins.SimBank
	clock    *clock.Manual
	events   *Recorder
}

func newRig(t *testing.T, capacity int, start uint32) *rig {
	t.Helper()
	r := &rig{
		bank:   pins.NewSimBank(),
		clock:  clock.NewManual(start),
		events: &Recorder{},
	}
	r.registry = NewRegistry(capacity, r.clock, r.bank, r.events, zaptest.NewLogger(t))
	return r
}

func (r *rig) sense(t *testing.T, pin pins.Pin, high bool) {
	t.Helper()
	if err := r.bank.SetInput(pin, high); err != nil {
		t.Fatalf("SetInput(%d) failed: %v", pin, err)
	}
	r.registry.PollAll()
}

// tickAt moves the clock to start+offset and runs one sweep.
func (r *rig) tickAt(start, offset uint32) {
	r.clock.Set(start + offset)
	r.registry.PollAll()
}

func assertLines(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(want) == 0 {
		want = []string{}
	}
	if len(got) == 0 {
		got = []string{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestCreateRegistersAndSamplesSense(t *testing.T) {
	r := newRig(t, 4, 0)
	r.bank.SetInput(2, true)

	s := r.registry.Create(2, 3)

	if s.ID() != 1 {
		t.Errorf("ID() = %d, want 1", s.ID())
	}
	if !s.SenseIsAsserted() {
		t.Error("initial sense level should be sampled as asserted")
	}
	if r.bank.Mode(3) != pins.ModeOutput || r.bank.Level(3) {
		t.Error("reward pin should be an output driven low")
	}
	assertLines(t, r.events.Lines(), "N 1")

	// Already asserted at creation: no edge on the first sweep.
	r.registry.PollAll()
	assertLines(t, r.events.Lines(), "N 1")
}

func TestRegistryFullYieldsUnaddressableStation(t *testing.T) {
	r := newRig(t, 2, 0)
	r.registry.Create(2, 3)
	r.registry.Create(4, 5)
	overflow := r.registry.Create(6, 7)

	if overflow.ID() != 0 {
		t.Errorf("overflow ID() = %d, want 0", overflow.ID())
	}
	if r.registry.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.registry.Len())
	}
	assertLines(t, r.events.Lines(), "N 1", "N 2", "N 0")

	// never polled
	r.events.Reset()
	r.sense(t, 6, true)
	assertLines(t, r.events.Lines())
}

func TestLookup(t *testing.T) {
	r := newRig(t, 4, 0)
	r.registry.Create(2, 3)

	if _, err := r.registry.Lookup(1); err != nil {
		t.Errorf("Lookup(1) failed: %v", err)
	}
	for _, id := range []int{0, 2, 99, -1} {
		if _, err := r.registry.Lookup(id); !errors.Is(err, ErrInvalidStationID) {
			t.Errorf("Lookup(%d) error = %v, want ErrInvalidStationID", id, err)
		}
	}
}

func TestRewardedEntryTiming(t *testing.T) {
	const start = 1000
	r := newRig(t, 4, start)
	s := r.registry.Create(2, 3)
	s.SetRewardDuration(50)
	s.SetActivated(true)

	r.sense(t, 2, true)
	if !r.bank.Level(3) || !s.RewardInProgress() {
		t.Fatal("reward should start on entry")
	}

	r.tickAt(start, 49999)
	if !r.bank.Level(3) {
		t.Error("reward output dropped before the duration elapsed")
	}
	r.tickAt(start, 50000)
	if !r.bank.Level(3) {
		t.Error("reward output dropped at exactly the duration")
	}
	r.tickAt(start, 50001)
	if r.bank.Level(3) || s.RewardInProgress() {
		t.Error("reward output still active after the duration")
	}

	assertLines(t, r.events.Lines(), "N 1", "D 1")
}

func TestRewardAcrossCounterWrap(t *testing.T) {
	start := ^uint32(0) - 1000
	r := newRig(t, 4, start)
	s := r.registry.Create(2, 3)
	s.SetRewardDuration(5)
	s.SetActivated(true)

	r.sense(t, 2, true)

	r.tickAt(start, 4999) // counter has wrapped
	if r.clock.NowMicros() >= start {
		t.Fatal("test clock did not wrap")
	}
	if !r.bank.Level(3) {
		t.Error("reward ended early across the wrap")
	}

	r.tickAt(start, 5001)
	if r.bank.Level(3) {
		t.Error("reward not ended after the duration across the wrap")
	}
}

func TestUnrewardedEntryAndExit(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)
	s.SetRewardDuration(0)
	s.SetActivated(true)

	r.sense(t, 2, true)
	r.sense(t, 2, false)

	if r.bank.Level(3) {
		t.Error("zero duration must not open the solenoid")
	}
	assertLines(t, r.events.Lines(), "N 1", "I 1", "O 1")
}

func TestSingleRewardMode(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)
	s.SetRewardDuration(10)
	s.SetActivated(true)
	s.SetSingleReward(true)

	r.sense(t, 2, true)
	if s.RewardEnabled() {
		t.Error("single reward should disable further rewards")
	}
	r.sense(t, 2, false)
	r.sense(t, 2, true)

	assertLines(t, r.events.Lines(), "N 1", "D 1", "O 1", "I 1")
}

func TestManualRewardRestartsTimer(t *testing.T) {
	const start = 0
	r := newRig(t, 4, start)
	s := r.registry.Create(2, 3)

	s.DeliverReward()
	assertLines(t, r.events.Lines(), "N 1")

	s.SetRewardDuration(10)
	s.DeliverReward()
	r.tickAt(start, 8000)
	s.DeliverReward()
	r.tickAt(start, 15000)
	if !r.bank.Level(3) {
		t.Error("second manual reward should restart the timer")
	}
	r.tickAt(start, 18001)
	if r.bank.Level(3) {
		t.Error("reward should end 10ms after the restart")
	}
	assertLines(t, r.events.Lines(), "N 1", "R 1", "R 1")
}

func TestRewardEnableInput(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)
	s.SetRewardDuration(10)
	s.SetRewardEnableInput(8)

	if r.bank.Mode(8) != pins.ModeInput {
		t.Fatal("reward enable pin should be an input")
	}

	r.sense(t, 8, true)
	if !s.RewardEnabled() {
		t.Error("high enable input should activate rewards")
	}
	r.sense(t, 8, false)
	if s.RewardEnabled() {
		t.Error("low enable input should deactivate rewards")
	}

	// A manual change sticks until the input level changes again.
	s.SetActivated(true)
	r.registry.PollAll()
	if !s.RewardEnabled() {
		t.Error("unchanged input must not override SetActivated")
	}
}

func TestLed(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)

	s.LedOn() // not wired: no-op
	if r.bank.WriteCount(0) != 0 {
		t.Error("LED without a pin must not write")
	}

	s.SetLedPin(11)
	s.LedOn()
	if !r.bank.Level(11) {
		t.Error("LedOn did not drive the pin high")
	}
	s.LedOff()
	if r.bank.Level(11) {
		t.Error("LedOff did not drive the pin low")
	}
}
