// Package typewriter reveals complete strings incrementally, a few characters at a time, the way a
// chat widget types out an assistant reply that has already been fetched in full.
//
// An Engine tracks one session per message id. Every session advances on ticks supplied by a
// Scheduler, pauses while the hosting view is hidden and resumes where it stopped once the view is
// visible again. The Engine is not safe for concurrent use: all of its methods and all scheduled
// callbacks must run on the same logical thread, which is what Loop provides.
package typewriter

import (
	"math/rand/v2"
	"time"
	"unicode/utf8"
)

// Update is emitted every time a session reveals more text.
type Update struct {
	MessageID string
	// Text is the revealed prefix of the full text.
	Text string
	// Complete is true on the last update of a session, when Text equals the full text.
	Complete bool
}

// Handle identifies a callback scheduled on a Scheduler.
type Handle uint64

// Scheduler is the cooperative scheduling primitive the Engine runs on. Schedule queues fn to run
// at the next available opportunity with the time of that opportunity. Once Cancel returns, the
// callback identified by the handle must never run. Handles are never zero.
type Scheduler interface {
	Now() time.Time
	Schedule(fn func(now time.Time)) Handle
	Cancel(h Handle)
}

// Options tunes the reveal pace.
type Options struct {
	// Interval is the minimum time between two reveals of the same session. Defaults to 22ms.
	Interval time.Duration
	// MinChunk and MaxChunk bound the number of characters revealed per tick. Default to 1 and 3.
	MinChunk int
	MaxChunk int
	// Chunk, if set, replaces the random draw between MinChunk and MaxChunk.
	Chunk func() int
}

const (
	// DefaultInterval is the reveal interval used when Options.Interval is zero.
	DefaultInterval = 22 * time.Millisecond

	defaultMinChunk = 1
	defaultMaxChunk = 3
)

// Engine owns the reveal sessions of one hosting view.
type Engine struct {
	sched    Scheduler
	emit     func(Update)
	interval time.Duration
	chunk    func() int

	visible  bool
	sessions map[string]*session
	// revealed remembers the text of completed sessions, so restarting one with the same text
	// leaves it fully visible instead of typing it again.
	revealed map[string]string
}

type session struct {
	id      string
	text    string
	cursor  int
	paused  bool
	last    time.Time
	pending Handle
}

// NewEngine creates an Engine that schedules its ticks on sched and reports every reveal to emit.
// The hosting view is assumed visible until told otherwise with SetVisible.
func NewEngine(sched Scheduler, emit func(Update), opts Options) *Engine {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	chunk := opts.Chunk
	if chunk == nil {
		lo, hi := opts.MinChunk, opts.MaxChunk
		if lo < 1 {
			lo = defaultMinChunk
		}
		if hi < lo {
			hi = max(lo, defaultMaxChunk)
		}
		chunk = func() int { return lo + rand.IntN(hi-lo+1) }
	}

	return &Engine{
		sched:    sched,
		emit:     emit,
		interval: interval,
		chunk:    chunk,
		visible:  true,
		sessions: make(map[string]*session),
		revealed: make(map[string]string),
	}
}

// Start begins revealing text for id. A session already running for id is cancelled first,
// unless it is revealing the very same text, in which case Start does nothing. Starting an id
// that already finished revealing the same text does nothing either. An empty text completes at
// once with a single update.
func (e *Engine) Start(id, text string) {
	if s, ok := e.sessions[id]; ok {
		if s.text == text {
			return
		}
		e.stop(s)
	} else if done, ok := e.revealed[id]; ok && done == text {
		return
	}
	delete(e.revealed, id)

	if text == "" {
		e.revealed[id] = text
		e.emit(Update{MessageID: id, Complete: true})
		return
	}

	s := &session{
		id:   id,
		text: text,
		last: e.sched.Now(),
	}
	e.sessions[id] = s
	e.schedule(s)
}

// Cancel stops the session for id. Unknown ids are ignored, since a session removes itself once
// it completes.
func (e *Engine) Cancel(id string) {
	delete(e.revealed, id)
	if s, ok := e.sessions[id]; ok {
		e.stop(s)
	}
}

// CancelAll stops every session. It is meant for view teardown: no update is emitted after it
// returns.
func (e *Engine) CancelAll() {
	for _, s := range e.sessions {
		e.stop(s)
	}
	clear(e.revealed)
}

// Forget drops the record of a completed reveal of id, so a later Start with the same text types
// it again. A session still revealing id is left running.
func (e *Engine) Forget(id string) {
	delete(e.revealed, id)
}

// SetVisible reports a visibility change of the hosting view. Sessions that paused while hidden
// resume from where they stopped, without a catch-up burst for the time spent hidden.
func (e *Engine) SetVisible(visible bool) {
	wasVisible := e.visible
	e.visible = visible
	if !visible || wasVisible {
		return
	}

	now := e.sched.Now()
	for _, s := range e.sessions {
		if !s.paused || s.cursor >= len(s.text) {
			continue
		}
		s.paused = false
		s.last = now
		e.schedule(s)
	}
}

// Active reports whether a session for id is still revealing.
func (e *Engine) Active(id string) bool {
	_, ok := e.sessions[id]
	return ok
}

// Len returns the number of sessions still revealing.
func (e *Engine) Len() int {
	return len(e.sessions)
}

func (e *Engine) schedule(s *session) {
	s.pending = e.sched.Schedule(func(now time.Time) {
		e.tick(s, now)
	})
}

func (e *Engine) stop(s *session) {
	if s.pending != 0 {
		e.sched.Cancel(s.pending)
		s.pending = 0
	}
	delete(e.sessions, s.id)
}

func (e *Engine) tick(s *session, now time.Time) {
	s.pending = 0
	if e.sessions[s.id] != s {
		return
	}

	if !e.visible {
		s.paused = true
		return
	}

	if now.Sub(s.last) < e.interval {
		e.schedule(s)
		return
	}

	n := max(e.chunk(), 1)
	for ; n > 0 && s.cursor < len(s.text); n-- {
		_, size := utf8.DecodeRuneInString(s.text[s.cursor:])
		s.cursor += size
	}
	s.last = now

	complete := s.cursor == len(s.text)
	if complete {
		delete(e.sessions, s.id)
		e.revealed[s.id] = s.text
	}

	e.emit(Update{
		MessageID: s.id,
		Text:      s.text[:s.cursor],
		Complete:  complete,
	})

	// emit may have cancelled or replaced the session.
	if !complete && e.sessions[s.id] == s {
		e.schedule(s)
	}
}
