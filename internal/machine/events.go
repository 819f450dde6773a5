package machine

import (
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap"
)

// EventBus fans station events out to subscribers. Emit never blocks.
// A channel Subscription whose buffer is full misses the event and its drop
// counter is incremented. A Queue keeps every event.
type EventBus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	queues map[uint64]*Queue
}

type Subscription struct {
	C <-chan station.Event

	name    string
	id      uint64
	ch      chan station.Event
	bus     *EventBus
	dropped atomic.Uint64
	once    sync.Once
}

func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		logger: logger,
		subs:   make(map[uint64]*Subscription),
		queues: make(map[uint64]*Queue),
	}
}

// Subscribe registers a named consumer with the given channel buffer.
func (b *EventBus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan station.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		C:    ch,
		name: name,
		id:   b.nextID,
		ch:   ch,
		bus:  b,
	}
	b.subs[sub.id] = sub

	b.logger.Debug("Event subscriber added", zap.String("subscriber", name))
	return sub
}

// Emit implements station.Sink.
func (b *EventBus) Emit(ev station.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, q := range b.queues {
		q.push(ev)
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if sub.dropped.Add(1) == 1 {
				b.logger.Warn("Event subscriber too slow, dropping events",
					zap.String("subscriber", sub.name))
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs) + len(b.queues)
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Dropped returns how many events this subscriber has missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Queue is a lossless subscription for consumers that keep the event record.
// Emit appends to an unbounded list; the consumer waits on Ready and takes
// everything pending with Drain.
type Queue struct {
	name string
	id   uint64
	bus  *EventBus

	mu      sync.Mutex
	pending []station.Event
	ready   chan struct{}
	done    chan struct{}
	once    sync.Once
}

// SubscribeQueue registers a named lossless consumer.
func (b *EventBus) SubscribeQueue(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	q := &Queue{
		name:  name,
		id:    b.nextID,
		bus:   b,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	b.queues[q.id] = q

	b.logger.Debug("Event queue added", zap.String("subscriber", name))
	return q
}

func (q *Queue) push(ev station.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value whenever events may be pending.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Drain returns every pending event in emit order and empties the queue.
func (q *Queue) Drain() []station.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	events := q.pending
	q.pending = nil
	return events
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close unsubscribes and closes Done. Events already pending can still be
// drained.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.bus.mu.Lock()
		delete(q.bus.queues, q.id)
		q.bus.mu.Unlock()
		close(q.done)
	})
}
