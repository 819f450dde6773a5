package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap/zaptest"
)

type memWriter struct {
	mu      sync.Mutex
	batches [][]EventRecord
	fail    bool
}

func (w *memWriter) InsertEvents(ctx context.Context, records []EventRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("database down")
	}
	w.batches = append(w.batches, append([]EventRecord(nil), records...))
	return nil
}

func (w *memWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, b := range w.batches {
		for _, r := range b {
			out = append(out, r.Line)
		}
	}
	return out
}

type memSource struct {
	mu      sync.Mutex
	pending []station.Event
	ready   chan struct{}
	done    chan struct{}
}

func newMemSource() *memSource {
	return &memSource{ready: make(chan struct{}, 1), done: make(chan struct{})}
}

func (s *memSource) emit(events ...station.Event) {
	s.mu.Lock()
	s.pending = append(s.pending, events...)
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *memSource) Ready() <-chan struct{} { return s.ready }
func (s *memSource) Done() <-chan struct{}  { return s.done }

func (s *memSource) Drain() []station.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.pending
	s.pending = nil
	return events
}

func TestRecorderBatchesAndFlushesOnClose(t *testing.T) {
	w := &memWriter{}
	rec := NewRecorder(w, 2, time.Hour, zaptest.NewLogger(t))

	src := newMemSource()
	runErr := make(chan error, 1)
	go func() { runErr <- rec.Run(context.Background(), src) }()

	src.emit(
		station.Event{Tag: station.TagNew, StationID: 1},
		station.Event{Tag: station.TagRewardedEntry, StationID: 1, AtMicros: 42},
		station.Event{Tag: station.TagExit, StationID: 1},
	)
	deadline := time.Now().Add(2 * time.Second)
	for len(w.lines()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(src.done)

	if err := <-runErr; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if len(w.batches) != 2 || len(w.batches[0]) != 2 || len(w.batches[1]) != 1 {
		t.Fatalf("batches = %v, want sizes 2 and 1", w.batches)
	}
	got := w.lines()
	want := []string{"N 1", "D 1", "O 1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}

	r := w.batches[0][1]
	if r.SessionID != rec.SessionID() || r.Tag != "D" || r.ClockMicros != 42 {
		t.Errorf("record = %+v", r)
	}
}

func TestRecorderKeepsEventsWhileWriterFails(t *testing.T) {
	w := &memWriter{fail: true}
	rec := NewRecorder(w, 1, time.Hour, zaptest.NewLogger(t))

	pending := rec.flush(context.Background(), []EventRecord{{Line: "N 1"}})
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1 after failed write", len(pending))
	}

	w.fail = false
	if pending = rec.flush(context.Background(), pending); len(pending) != 0 {
		t.Errorf("pending = %d, want 0 after successful write", len(pending))
	}
}

func TestRecorderFlushesQueuedEventsOnCancel(t *testing.T) {
	w := &memWriter{}
	rec := NewRecorder(w, 100, time.Hour, zaptest.NewLogger(t))

	src := newMemSource()
	for i := 1; i <= 5; i++ {
		src.pending = append(src.pending, station.Event{Tag: station.TagNew, StationID: i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx, src); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := len(w.lines()); got != 5 {
		t.Errorf("recorded %d events, want 5", got)
	}
}

func TestRecorderBoundsBacklog(t *testing.T) {
	w := &memWriter{fail: true}
	rec := NewRecorder(w, 1, time.Hour, zaptest.NewLogger(t))

	backlog := make([]EventRecord, 15)
	if pending := rec.flush(context.Background(), backlog); len(pending) != 10 {
		t.Errorf("pending = %d, want 10", len(pending))
	}
}
