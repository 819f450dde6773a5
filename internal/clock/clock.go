// Package clock provides the rig's monotonic microsecond counter.
//
// The counter is 32 bits wide and wraps roughly every 71.6 minutes. Callers
// must never compare two samples directly; durations are always computed
// with Elapsed, which stays correct across a single wrap.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current counter value in microseconds.
type Clock interface {
	NowMicros() uint32
}

// Elapsed returns now-start using unsigned arithmetic.
func Elapsed(now, start uint32) uint32 {
	return now - start
}

// MillisToMicros converts a protocol millisecond value, saturating instead of
// wrapping when the result does not fit the counter width.
func MillisToMicros(ms uint32) uint32 {
	const max = ^uint32(0)
	if ms > max/1000 {
		return max
	}
	return ms * 1000
}

// System is a Clock backed by the Go monotonic clock. The counter starts at
// the given offset so wraparound can be exercised without waiting an hour.
type System struct {
	origin time.Time
	offset uint32
}

func NewSystem(offset uint32) *System {
	return &System{origin: time.Now(), offset: offset}
}

func (s *System) NowMicros() uint32 {
	return s.offset + uint32(time.Since(s.origin).Microseconds())
}

// Manual is a Clock that only moves when told to. Used by tests and by the
// simulated pin bank.
type Manual struct {
	mu  sync.Mutex
	now uint32
}

func NewManual(start uint32) *Manual {
	return &Manual{now: start}
}

func (m *Manual) NowMicros() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the counter forward, wrapping at 2^32.
func (m *Manual) Advance(us uint32) {
	m.mu.Lock()
	m.now += us
	m.mu.Unlock()
}

func (m *Manual) Set(us uint32) {
	m.mu.Lock()
	m.now = us
	m.mu.Unlock()
}
