package machine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/clock"
	"github.com/KevinKickass/OpenNosePort/internal/command"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	ctrl  *Controller
	bank  *pins.SimBank
	clock *clock.Manual
}

func startController(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bank:  pins.NewSimBank(),
		clock: clock.NewManual(0),
	}
	h.ctrl = NewController(Config{Capacity: 4, PollInterval: time.Hour}, h.clock, h.bank, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Run(ctx) }()
	<-h.ctrl.Started()

	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() = %v", err)
		}
	})
	return h
}

func (h *harness) submit(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if _, err := h.ctrl.Submit(context.Background(), line); err != nil {
			t.Fatalf("Submit(%q) failed: %v", line, err)
		}
	}
}

func collect(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var lines []string
	timeout := time.After(2 * time.Second)
	for len(lines) < n {
		select {
		case ev := <-sub.C:
			lines = append(lines, ev.String())
		case <-timeout:
			t.Fatalf("got %q, want %d events", lines, n)
		}
	}
	return lines
}

func TestControllerRewardRoundTrip(t *testing.T) {
	h := startController(t)
	sub := h.ctrl.Events().Subscribe("test", 16)
	defer sub.Close()

	h.submit(t, "N 2 3", "D 1 50", "A 1 1")
	h.bank.SetInput(2, true)
	if err := h.ctrl.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}

	if got := collect(t, sub, 2); !reflect.DeepEqual(got, []string{"N 1", "D 1"}) {
		t.Errorf("events = %q, want [N 1 D 1]", got)
	}
	if !h.bank.Level(3) {
		t.Error("reward output should be active")
	}

	h.clock.Set(50001)
	h.ctrl.Poll(context.Background())
	if h.bank.Level(3) {
		t.Error("reward should have ended")
	}
}

func TestControllerProtocolErrors(t *testing.T) {
	h := startController(t)

	replies, err := h.ctrl.Submit(context.Background(), "R 7")
	if !errors.Is(err, command.ErrInvalidStationID) {
		t.Errorf("Submit(R 7) error = %v, want ErrInvalidStationID", err)
	}
	if !reflect.DeepEqual(replies, []string{`# badPortNumber: "R 7"`}) {
		t.Errorf("replies = %q", replies)
	}

	replies, err = h.ctrl.Submit(context.Background(), "^")
	if err != nil || !reflect.DeepEqual(replies, []string{"^"}) {
		t.Errorf("handshake = %q, %v", replies, err)
	}

	status := h.ctrl.GetStatus()
	if status.State != StateRunning || status.Commands != 2 || status.ProtocolErrors != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestControllerSubmitAllStopsAtFirstError(t *testing.T) {
	h := startController(t)

	_, err := h.ctrl.SubmitAll(context.Background(), []string{"N 2 3", "X", "N 4 5"})
	if !errors.Is(err, command.ErrUnknownVerb) {
		t.Errorf("SubmitAll() error = %v, want ErrUnknownVerb", err)
	}

	list, err := h.ctrl.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("Snapshots() failed: %v", err)
	}
	if len(list.Stations) != 1 || list.Capacity != 4 {
		t.Errorf("stations = %d capacity = %d, want 1 and 4", len(list.Stations), list.Capacity)
	}
}

func TestControllerStation(t *testing.T) {
	h := startController(t)
	h.submit(t, "N 2 3", "D 1 25")

	snap, err := h.ctrl.Station(context.Background(), 1)
	if err != nil {
		t.Fatalf("Station(1) failed: %v", err)
	}
	if snap.RewardDurationUs != 25000 {
		t.Errorf("RewardDurationUs = %d, want 25000", snap.RewardDurationUs)
	}

	if _, err := h.ctrl.Station(context.Background(), 2); !errors.Is(err, station.ErrInvalidStationID) {
		t.Errorf("Station(2) error = %v, want ErrInvalidStationID", err)
	}
}

func TestControllerRunOnce(t *testing.T) {
	h := startController(t)
	if err := h.ctrl.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	ctrl := NewController(Config{}, clock.NewManual(0), pins.NewSimBank(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	<-ctrl.Started()
	cancel()
	<-ctrl.Done()

	if _, err := ctrl.Submit(context.Background(), "^"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit() after stop = %v, want ErrNotRunning", err)
	}
	if got := ctrl.GetStatus().State; got != StateStopped {
		t.Errorf("State = %s, want %s", got, StateStopped)
	}
}

func TestSubmitHonoursContext(t *testing.T) {
	ctrl := NewController(Config{}, clock.NewManual(0), pins.NewSimBank(), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := ctrl.Submit(ctx, "^"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() without a loop = %v, want DeadlineExceeded", err)
	}
}

func TestControllerSubmitBatchSeesCurrentRegistry(t *testing.T) {
	h := startController(t)
	h.submit(t, "N 2 3")

	var gotStations, gotCapacity int
	lines, err := h.ctrl.SubmitBatch(context.Background(), func(stations, capacity int) ([]string, error) {
		gotStations, gotCapacity = stations, capacity
		return []string{"N 4 5", fmt.Sprintf("D %d 10", stations+1)}, nil
	})
	if err != nil {
		t.Fatalf("SubmitBatch() failed: %v", err)
	}
	if gotStations != 1 || gotCapacity != 4 {
		t.Errorf("build saw stations=%d capacity=%d, want 1 and 4", gotStations, gotCapacity)
	}
	if len(lines) != 2 || lines[1] != "D 2 10" {
		t.Errorf("lines = %q", lines)
	}

	snap, err := h.ctrl.Station(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if snap.RewardDurationUs != 10000 {
		t.Errorf("RewardDurationUs = %d, want 10000", snap.RewardDurationUs)
	}
}

func TestControllerSubmitBatchBuildError(t *testing.T) {
	h := startController(t)
	full := errors.New("no room")

	_, err := h.ctrl.SubmitBatch(context.Background(), func(int, int) ([]string, error) {
		return nil, full
	})
	if !errors.Is(err, full) {
		t.Errorf("SubmitBatch() error = %v, want %v", err, full)
	}
	if st := h.ctrl.GetStatus(); st.Commands != 0 {
		t.Errorf("Commands = %d, want 0", st.Commands)
	}
}

func TestControllerSubmitBatchStopsAtProtocolError(t *testing.T) {
	h := startController(t)

	_, err := h.ctrl.SubmitBatch(context.Background(), func(int, int) ([]string, error) {
		return []string{"N 2 3", "D 9 10", "N 4 5"}, nil
	})
	if !errors.Is(err, command.ErrInvalidStationID) {
		t.Errorf("SubmitBatch() error = %v, want ErrInvalidStationID", err)
	}
	if st := h.ctrl.GetStatus(); st.Stations != 1 {
		t.Errorf("Stations = %d, want 1", st.Stations)
	}
}
