package handlers

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cosentus/chat-widget/internal/typewriter"
	"github.com/tmaxmax/go-sse"
)

// DefaultIdleTimeout is how long a view without subscribers is kept before it is closed.
const DefaultIdleTimeout = time.Minute

// views hosts one reveal engine per open chat widget. Each view runs its engine on its own loop, so
// the engine only ever sees one goroutine while HTTP handlers reach it concurrently through Do.
//
// A view lives while it has SSE subscribers. Once the last one leaves, the view is closed after the
// idle timeout unless a new subscriber arrives first.
type views struct {
	mu     sync.Mutex
	byChat map[string]*view

	frame   time.Duration
	idle    time.Duration
	opts    typewriter.Options
	publish func(typewriter.Update)

	logger *slog.Logger
}

type view struct {
	loop   *typewriter.Loop
	engine *typewriter.Engine

	// queued holds replies waiting for their first subscriber, by message id. Owned by loop.
	queued map[string]string

	// Guarded by views.mu.
	subscribers int
	gen         uint64
	timer       *time.Timer
}

func newViews(frame, idle time.Duration, opts typewriter.Options, publish func(typewriter.Update), logger *slog.Logger) *views {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &views{
		byChat:  make(map[string]*view),
		frame:   frame,
		idle:    idle,
		opts:    opts,
		publish: publish,
		logger:  logger,
	}
}

func (vs *views) open(chatID string) *view {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if v, ok := vs.byChat[chatID]; ok {
		if v.subscribers == 0 {
			vs.arm(chatID, v)
		}
		return v
	}

	loop := typewriter.NewLoop(vs.frame)
	v := &view{
		loop:   loop,
		queued: make(map[string]string),
	}
	v.engine = typewriter.NewEngine(loop, func(u typewriter.Update) {
		vs.publish(u)
		if u.Complete {
			// Every message is revealed once, so nothing needs the record.
			v.engine.Forget(u.MessageID)
		}
	}, vs.opts)
	vs.byChat[chatID] = v
	vs.arm(chatID, v)
	vs.logger.Debug("View opened", slog.String("chatID", chatID))
	return v
}

// arm (re)starts the idle timer of v. vs.mu must be held.
func (vs *views) arm(chatID string, v *view) {
	v.gen++
	gen := v.gen
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(vs.idle, func() { vs.expire(chatID, v, gen) })
}

func (vs *views) expire(chatID string, v *view, gen uint64) {
	vs.mu.Lock()
	if vs.byChat[chatID] != v || v.gen != gen || v.subscribers > 0 {
		vs.mu.Unlock()
		return
	}
	delete(vs.byChat, chatID)
	vs.mu.Unlock()

	v.close()
	vs.logger.Debug("View expired", slog.String("chatID", chatID))
}

func (vs *views) lookup(chatID string) (*view, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.byChat[chatID]
	return v, ok
}

// acquire registers an SSE subscriber of the chat, keeping its view open until release.
func (vs *views) acquire(chatID string) (*view, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.byChat[chatID]
	if !ok {
		return nil, false
	}
	v.subscribers++
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
	}
	return v, true
}

func (vs *views) release(chatID string, v *view) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v.subscribers--
	if v.subscribers == 0 && vs.byChat[chatID] == v {
		vs.arm(chatID, v)
	}
}

// queue stores a reply to reveal once a client subscribes to its message.
func (vs *views) queue(chatID, messageID, text string) {
	v := vs.open(chatID)
	err := v.loop.Do(func() {
		v.queued[messageID] = text
	})
	if err != nil {
		vs.logger.Warn("View closed before the reply was queued",
			slog.String("chatID", chatID),
			slog.String("messageID", messageID))
	}
}

// reveal starts revealing a queued reply. Messages with nothing queued are ignored.
func (vs *views) reveal(chatID, messageID string) {
	v, ok := vs.lookup(chatID)
	if !ok {
		return
	}
	_ = v.loop.Do(func() {
		text, ok := v.queued[messageID]
		if !ok {
			return
		}
		delete(v.queued, messageID)
		v.engine.Start(messageID, text)
	})
}

// setVisible forwards a visibility change of the widget to its engine. It reports whether the chat
// has an open view.
func (vs *views) setVisible(chatID string, visible bool) bool {
	v, ok := vs.lookup(chatID)
	if !ok {
		return false
	}
	return v.loop.Do(func() {
		v.engine.SetVisible(visible)
	}) == nil
}

// close tears down the view of chatID. Once it returns, no update of that chat is published.
func (vs *views) close(chatID string) bool {
	vs.mu.Lock()
	v, ok := vs.byChat[chatID]
	delete(vs.byChat, chatID)
	if ok && v.timer != nil {
		v.timer.Stop()
	}
	vs.mu.Unlock()

	if !ok {
		return false
	}
	v.close()
	vs.logger.Debug("View closed", slog.String("chatID", chatID))
	return true
}

func (vs *views) closeAll() {
	vs.mu.Lock()
	all := vs.byChat
	vs.byChat = make(map[string]*view)
	for _, v := range all {
		if v.timer != nil {
			v.timer.Stop()
		}
	}
	vs.mu.Unlock()

	for _, v := range all {
		v.close()
	}
}

func (vs *views) count() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.byChat)
}

func (v *view) close() {
	_ = v.loop.Do(v.engine.CancelAll)
	v.loop.Close()
}

// revealReplayer starts the reveal of the message a new SSE client subscribes to. Joe calls Replay
// on its own goroutine while registering the subscription, so every update published by the reveal
// is handled after the subscriber is in place. It replays nothing, but flushes the response headers
// so the client sees the stream open even while the reveal is paused.
type revealReplayer struct {
	views *views
}

func (r revealReplayer) Put(msg *sse.Message, _ []string) (*sse.Message, error) {
	return msg, nil
}

func (r revealReplayer) Replay(sub sse.Subscription) error {
	if err := sub.Client.Flush(); err != nil {
		return err
	}

	sess, ok := sub.Client.(*sse.Session)
	if !ok {
		return nil
	}
	chatID := sess.Req.URL.Query().Get("chat_id")
	for _, topic := range sub.Topics {
		messageID, ok := strings.CutPrefix(topic, messageTopicPrefix)
		if !ok {
			continue
		}
		// Publishing blocks on Joe, which is busy with this very call until Replay returns.
		go r.views.reveal(chatID, messageID)
	}
	return nil
}
