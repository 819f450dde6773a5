package machine

import (
	"testing"

	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEventBusDropsForSlowSubscriber(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := NewEventBus(zap.New(core))

	fast := bus.Subscribe("fast", 8)
	slow := bus.Subscribe("slow", 1)
	defer fast.Close()
	defer slow.Close()

	for i := 1; i <= 3; i++ {
		bus.Emit(station.Event{Tag: station.TagNew, StationID: i})
	}

	if len(fast.C) != 3 {
		t.Errorf("fast subscriber buffered %d events, want 3", len(fast.C))
	}
	if slow.Dropped() != 2 {
		t.Errorf("slow.Dropped() = %d, want 2", slow.Dropped())
	}
	if logs.FilterMessage("Event subscriber too slow, dropping events").Len() != 1 {
		t.Error("expected a single warning for the slow subscriber")
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewEventBus(nil)
	sub := bus.Subscribe("once", 1)

	sub.Close()
	sub.Close()

	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", bus.Subscribers())
	}
	if _, ok := <-sub.C; ok {
		t.Error("C should be closed")
	}
	bus.Emit(station.Event{Tag: station.TagExit, StationID: 1})
}

func TestQueueKeepsEveryEvent(t *testing.T) {
	bus := NewEventBus(nil)
	q := bus.SubscribeQueue("record")
	defer q.Close()

	const n = 5000
	for i := 1; i <= n; i++ {
		bus.Emit(station.Event{Tag: station.TagNew, StationID: i})
	}

	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready() should signal after Emit")
	}

	events := q.Drain()
	if len(events) != n {
		t.Fatalf("Drain() returned %d events, want %d", len(events), n)
	}
	for i, ev := range events {
		if ev.StationID != i+1 {
			t.Fatalf("event %d has station %d, want emit order", i, ev.StationID)
		}
	}
	if q.Len() != 0 || q.Drain() != nil {
		t.Error("queue should be empty after Drain")
	}
}

func TestQueueClose(t *testing.T) {
	bus := NewEventBus(nil)
	q := bus.SubscribeQueue("record")
	bus.Emit(station.Event{Tag: station.TagExit, StationID: 1})

	q.Close()
	q.Close()

	select {
	case <-q.Done():
	default:
		t.Error("Done() should be closed")
	}
	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", bus.Subscribers())
	}
	bus.Emit(station.Event{Tag: station.TagExit, StationID: 2})
	if events := q.Drain(); len(events) != 1 {
		t.Errorf("Drain() after Close = %v, want the one pending event", events)
	}
}
