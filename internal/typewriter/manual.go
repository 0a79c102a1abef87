package typewriter

import "time"

// Manual is a Scheduler driven by hand, for deterministic tests. Its clock only moves on Advance.
type Manual struct {
	now     time.Time
	next    Handle
	queue   []Handle
	pending map[Handle]func(time.Time)
}

// NewManual returns a Manual whose clock reads start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:     start,
		pending: make(map[Handle]func(time.Time)),
	}
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time {
	return m.now
}

// Schedule implements Scheduler.
func (m *Manual) Schedule(fn func(now time.Time)) Handle {
	m.next++
	m.pending[m.next] = fn
	m.queue = append(m.queue, m.next)
	return m.next
}

// Cancel implements Scheduler.
func (m *Manual) Cancel(h Handle) {
	delete(m.pending, h)
	if len(m.pending) == 0 {
		m.queue = m.queue[:0]
	}
}

// Pending returns the number of callbacks waiting for the next frame.
func (m *Manual) Pending() int {
	return len(m.pending)
}

// Advance moves the clock forward by d and runs one frame: every callback scheduled before the
// call, in scheduling order.
func (m *Manual) Advance(d time.Duration) {
	m.now = m.now.Add(d)

	frame := m.queue
	m.queue = nil
	for _, h := range frame {
		fn, ok := m.pending[h]
		if !ok {
			continue
		}
		delete(m.pending, h)
		fn(m.now)
	}
}
