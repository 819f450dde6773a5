package storage

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/station"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventWriter persists batches of records. PostgresClient implements it.
type EventWriter interface {
	InsertEvents(ctx context.Context, records []EventRecord) error
}

// Recorder drains a station event stream into an EventWriter in batches.
// All events of one process share a session id.
type Recorder struct {
	writer        EventWriter
	session       uuid.UUID
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// EventSource is a lossless event feed. machine.Queue implements it.
type EventSource interface {
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Drain() []station.Event
}

func NewRecorder(writer EventWriter, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Recorder {
	if batchSize <= 0 {
		batchSize = 64
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		writer:        writer,
		session:       uuid.New(),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		now:           time.Now,
	}
}

func (r *Recorder) SessionID() uuid.UUID { return r.session }

// Run records events until ctx is cancelled or events is closed, then
// flushes what is pending.
func (r *Recorder) Run(ctx context.Context, events EventSource) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	pending := make([]EventRecord, 0, r.batchSize)
	// take moves queued events into pending; batches are written only
	// while running, the final flush writes the rest.
	take := func(running bool) {
		for _, ev := range events.Drain() {
			pending = append(pending, NewEventRecord(r.session, ev, r.now()))
			if running && len(pending) >= r.batchSize {
				pending = r.flush(ctx, pending)
			}
		}
	}

	r.logger.Info("Event recorder started", zap.String("session_id", r.session.String()))

	for {
		select {
		case <-ctx.Done():
			take(false)
			r.final(pending)
			return nil

		case <-events.Done():
			take(false)
			r.final(pending)
			return nil

		case <-events.Ready():
			take(true)

		case <-ticker.C:
			pending = r.flush(ctx, pending)
		}
	}
}

// flush writes pending and returns the slice to keep. Failed batches are
// kept for the next attempt up to ten batches, then the oldest are dropped.
func (r *Recorder) flush(ctx context.Context, pending []EventRecord) []EventRecord {
	if len(pending) == 0 {
		return pending
	}

	if err := r.writer.InsertEvents(ctx, pending); err != nil {
		r.logger.Error("Failed to record events", zap.Int("count", len(pending)), zap.Error(err))
		if limit := 10 * r.batchSize; len(pending) > limit {
			dropped := len(pending) - limit
			r.logger.Warn("Dropping unrecorded events", zap.Int("count", dropped))
			pending = append(pending[:0], pending[dropped:]...)
		}
		return pending
	}

	r.logger.Debug("Recorded events", zap.Int("count", len(pending)))
	return pending[:0]
}

func (r *Recorder) final(pending []EventRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rest := r.flush(ctx, pending); len(rest) > 0 {
		r.logger.Warn("Event recorder stopped with unrecorded events", zap.Int("count", len(rest)))
	}
	r.logger.Info("Event recorder stopped")
}
