package typewriter

import (
	"errors"
	"sync"
	"time"
)

// ErrLoopClosed is returned by Loop.Do once the loop has been closed.
var ErrLoopClosed = errors.New("typewriter: loop closed")

// DefaultFrame is the frame interval used when NewLoop is given zero, roughly a 60Hz display.
const DefaultFrame = 16 * time.Millisecond

// Loop is a frame-driven Scheduler backed by a single goroutine. Scheduled callbacks run on that
// goroutine once per frame, in the order they were scheduled; a callback scheduled while a frame is
// running only runs on the next frame. Callers on other goroutines reach the loop through Do, which
// makes the loop the single logical thread an Engine requires.
//
// Schedule and Cancel must only be called from the loop goroutine, that is from inside a callback
// or a function passed to Do.
type Loop struct {
	frame time.Duration

	calls chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	// Owned by the loop goroutine.
	next    Handle
	queue   []Handle
	pending map[Handle]func(time.Time)
}

// NewLoop starts a Loop ticking every frame while callbacks are pending.
func NewLoop(frame time.Duration) *Loop {
	if frame <= 0 {
		frame = DefaultFrame
	}
	l := &Loop{
		frame:   frame,
		calls:   make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[Handle]func(time.Time)),
	}
	go l.run()
	return l
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Schedule implements Scheduler.
func (l *Loop) Schedule(fn func(now time.Time)) Handle {
	l.next++
	h := l.next
	l.pending[h] = fn
	l.queue = append(l.queue, h)
	return h
}

// Cancel implements Scheduler. The callback is dropped from the queue, so it cannot run afterwards.
func (l *Loop) Cancel(h Handle) {
	delete(l.pending, h)
	if len(l.pending) == 0 {
		l.queue = l.queue[:0]
	}
}

// Do runs fn on the loop goroutine and waits for it to return. It must not be called from the loop
// goroutine itself.
func (l *Loop) Do(fn func()) error {
	ran := make(chan struct{})
	call := func() {
		defer close(ran)
		fn()
	}

	select {
	case l.calls <- call:
	case <-l.quit:
		return ErrLoopClosed
	}
	<-ran
	return nil
}

// Close stops the loop and waits for its goroutine to exit. Pending callbacks are dropped.
// Close is safe to call more than once.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if len(l.pending) > 0 {
			if ticker == nil {
				ticker = time.NewTicker(l.frame)
			}
			tick = ticker.C
		} else if ticker != nil {
			ticker.Stop()
			ticker = nil
		}

		select {
		case <-l.quit:
			return
		case call := <-l.calls:
			call()
		case now := <-tick:
			l.runFrame(now)
		}
	}
}

func (l *Loop) runFrame(now time.Time) {
	frame := l.queue
	l.queue = nil
	for _, h := range frame {
		fn, ok := l.pending[h]
		if !ok {
			continue
		}
		delete(l.pending, h)
		fn(now)
	}
}
