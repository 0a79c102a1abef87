package typewriter_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cosentus/chat-widget/internal/typewriter"
)

type recordedUpdate struct {
	typewriter.Update
	at time.Time
}

type recorder struct {
	sched   *typewriter.Manual
	updates []recordedUpdate
}

func (r *recorder) emit(u typewriter.Update) {
	r.updates = append(r.updates, recordedUpdate{Update: u, at: r.sched.Now()})
}

func (r *recorder) texts(id string) []string {
	var texts []string
	for _, u := range r.updates {
		if u.MessageID == id {
			texts = append(texts, u.Text)
		}
	}
	return texts
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedChunk(n int) func() int {
	return func() int { return n }
}

func newEngine(opts typewriter.Options) (*typewriter.Engine, *typewriter.Manual, *recorder) {
	sched := typewriter.NewManual(epoch)
	rec := &recorder{sched: sched}
	return typewriter.NewEngine(sched, rec.emit, opts), sched, rec
}

// drain advances the clock by step until nothing is scheduled.
func drain(t *testing.T, sched *typewriter.Manual, step time.Duration) {
	t.Helper()
	for i := 0; sched.Pending() > 0; i++ {
		if i > 100000 {
			t.Fatal("scheduler never went idle")
		}
		sched.Advance(step)
	}
}

func TestEngineRevealsHello(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{
		Interval: 20 * time.Millisecond,
		Chunk:    fixedChunk(1),
	})

	engine.Start("m1", "Hello")
	drain(t, sched, 5*time.Millisecond)

	want := []string{"H", "He", "Hel", "Hell", "Hello"}
	got := rec.texts("m1")
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("updates = %q, want %q", got, want)
	}
	if len(rec.updates) != len(want) {
		t.Fatalf("got %d updates, want %d", len(rec.updates), len(want))
	}

	prev := epoch
	for i, u := range rec.updates {
		if gap := u.at.Sub(prev); gap < 20*time.Millisecond {
			t.Errorf("update %d came %v after the previous one, want >= 20ms", i, gap)
		}
		prev = u.at
		if wantComplete := i == len(want)-1; u.Complete != wantComplete {
			t.Errorf("update %d Complete = %v, want %v", i, u.Complete, wantComplete)
		}
	}

	if engine.Active("m1") {
		t.Error("session still active after completion")
	}
}

func TestEngineRestartReplacesSession(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("m1", "AB")
	engine.Start("m1", "XY")
	drain(t, sched, 10*time.Millisecond)

	got := rec.texts("m1")
	if strings.Join(got, "|") != "X|XY" {
		t.Fatalf("updates = %q, want [X XY]", got)
	}
	if !rec.updates[len(rec.updates)-1].Complete {
		t.Error("last update is not complete")
	}
}

func TestEngineRestartMidStream(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("m1", "ABCD")
	for len(rec.updates) < 2 {
		sched.Advance(25 * time.Millisecond)
	}
	engine.Start("m1", "XY")
	drain(t, sched, 25*time.Millisecond)

	got := rec.texts("m1")
	if strings.Join(got, "|") != "A|AB|X|XY" {
		t.Fatalf("updates = %q, want [A AB X XY]", got)
	}
	if sched.Pending() != 0 {
		t.Errorf("pending = %d, want 0", sched.Pending())
	}
}

func TestEngineIdempotentStart(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("m1", "abc")
	engine.Start("m1", "abc")

	if engine.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", engine.Len())
	}
	if sched.Pending() != 1 {
		t.Fatalf("pending ticks = %d, want 1", sched.Pending())
	}

	drain(t, sched, 25*time.Millisecond)
	if got := rec.texts("m1"); strings.Join(got, "|") != "a|ab|abc" {
		t.Fatalf("updates = %q, want [a ab abc]", got)
	}

	engine.Start("m1", "abc")
	drain(t, sched, 25*time.Millisecond)
	if len(rec.updates) != 3 {
		t.Errorf("restarting a revealed text emitted %d more updates", len(rec.updates)-3)
	}
	if engine.Active("m1") {
		t.Error("restarting a revealed text created a session")
	}
}

func TestEngineEmptyText(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{})

	engine.Start("m1", "")

	if len(rec.updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(rec.updates))
	}
	u := rec.updates[0]
	if u.MessageID != "m1" || u.Text != "" || !u.Complete {
		t.Errorf("update = %+v, want empty complete update for m1", u.Update)
	}
	if sched.Pending() != 0 {
		t.Errorf("pending = %d, want 0", sched.Pending())
	}
	if engine.Active("m1") {
		t.Error("empty text left an active session")
	}
}

func TestEnginePauseBeforeStart(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.SetVisible(false)
	engine.Start("m1", "Hi!")

	for range 100 {
		sched.Advance(time.Second)
	}
	if len(rec.updates) != 0 {
		t.Fatalf("revealed %q while hidden", rec.texts("m1"))
	}
	if sched.Pending() != 0 {
		t.Fatalf("a paused session kept %d ticks scheduled", sched.Pending())
	}
	if !engine.Active("m1") {
		t.Fatal("paused session was dropped")
	}

	resumedAt := sched.Now()
	engine.SetVisible(true)
	drain(t, sched, 5*time.Millisecond)

	if got := rec.texts("m1"); strings.Join(got, "|") != "H|Hi|Hi!" {
		t.Fatalf("updates = %q, want [H Hi Hi!]", got)
	}
	if first := rec.updates[0].at.Sub(resumedAt); first < typewriter.DefaultInterval {
		t.Errorf("first update %v after resume, want >= %v", first, typewriter.DefaultInterval)
	}
}

func TestEnginePauseMidStream(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})
	text := "pause here"

	engine.Start("m1", text)
	for len(rec.updates) < 4 {
		sched.Advance(25 * time.Millisecond)
	}

	engine.SetVisible(false)
	for range 50 {
		sched.Advance(time.Minute)
	}
	if len(rec.updates) != 4 {
		t.Fatalf("revealed %d updates while hidden", len(rec.updates)-4)
	}

	engine.SetVisible(true)
	// The time spent hidden does not count towards the next reveal.
	sched.Advance(10 * time.Millisecond)
	if len(rec.updates) != 4 {
		t.Fatalf("resume revealed %d updates without waiting for the interval", len(rec.updates)-4)
	}
	drain(t, sched, 25*time.Millisecond)

	got := rec.texts("m1")
	if len(got) != utf8.RuneCountInString(text) {
		t.Fatalf("got %d updates, want %d", len(got), len(text))
	}
	for i, s := range got {
		if s != text[:i+1] {
			t.Errorf("update %d = %q, want %q", i, s, text[:i+1])
		}
	}
}

func TestEngineVisibilityFlapWithoutTick(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("m1", "ab")
	engine.SetVisible(false)
	engine.SetVisible(true)

	if sched.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", sched.Pending())
	}
	drain(t, sched, 25*time.Millisecond)
	if got := rec.texts("m1"); strings.Join(got, "|") != "a|ab" {
		t.Fatalf("updates = %q, want [a ab]", got)
	}
}

func TestEngineCancel(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("m1", "cancel me")
	sched.Advance(25 * time.Millisecond)
	if len(rec.updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(rec.updates))
	}
	if sched.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", sched.Pending())
	}

	engine.Cancel("m1")
	if sched.Pending() != 0 {
		t.Errorf("cancel left %d ticks scheduled", sched.Pending())
	}
	for range 20 {
		sched.Advance(time.Second)
	}
	if len(rec.updates) != 1 {
		t.Errorf("got %d updates after cancel", len(rec.updates)-1)
	}

	engine.Cancel("m1")
	engine.Cancel("unknown")
}

func TestEngineCancelAll(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("m1", "first message")
	engine.Start("m2", "second message")
	engine.SetVisible(false)
	engine.Start("m3", "paused message")
	sched.Advance(25 * time.Millisecond)
	engine.SetVisible(true)

	before := len(rec.updates)
	engine.CancelAll()

	if engine.Len() != 0 {
		t.Errorf("Len() = %d after CancelAll", engine.Len())
	}
	if sched.Pending() != 0 {
		t.Errorf("CancelAll left %d ticks scheduled", sched.Pending())
	}
	engine.SetVisible(false)
	engine.SetVisible(true)
	for range 20 {
		sched.Advance(time.Second)
	}
	if len(rec.updates) != before {
		t.Errorf("got %d updates after CancelAll", len(rec.updates)-before)
	}
}

func TestEngineConcurrentSessions(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("a", "one")
	sched.Advance(10 * time.Millisecond)
	engine.Start("b", "three")
	drain(t, sched, 10*time.Millisecond)

	if got := rec.texts("a"); strings.Join(got, "|") != "o|on|one" {
		t.Errorf("a updates = %q", got)
	}
	if got := rec.texts("b"); strings.Join(got, "|") != "t|th|thr|thre|three" {
		t.Errorf("b updates = %q", got)
	}
}

func TestEngineRandomChunksAreMonotonic(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{})
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)

	engine.Start("m1", text)
	drain(t, sched, 16*time.Millisecond)

	got := rec.texts("m1")
	if len(got) == 0 {
		t.Fatal("no updates")
	}
	prev := ""
	for i, s := range got {
		if !strings.HasPrefix(text, s) {
			t.Fatalf("update %d is not a prefix of the text", i)
		}
		if !strings.HasPrefix(s, prev) {
			t.Fatalf("update %d does not extend update %d", i, i-1)
		}
		if step := len(s) - len(prev); step < 1 || step > 3 {
			t.Fatalf("update %d revealed %d characters, want 1-3", i, step)
		}
		prev = s
	}
	last := rec.updates[len(rec.updates)-1]
	if last.Text != text || !last.Complete {
		t.Errorf("last update = %q complete=%v, want full text", last.Text, last.Complete)
	}
}

func TestEngineRevealsRunes(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(2)})
	text := "héllo, 世界!"

	engine.Start("m1", text)
	drain(t, sched, 25*time.Millisecond)

	got := rec.texts("m1")
	for i, s := range got {
		if !utf8.ValidString(s) {
			t.Errorf("update %d = %q splits a rune", i, s)
		}
	}
	if want := (utf8.RuneCountInString(text) + 1) / 2; len(got) != want {
		t.Errorf("got %d updates, want %d", len(got), want)
	}
	if got[len(got)-1] != text {
		t.Errorf("last update = %q, want %q", got[len(got)-1], text)
	}
}

func TestEngineThrottlesFastFrames(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{
		Interval: 20 * time.Millisecond,
		Chunk:    fixedChunk(1),
	})

	engine.Start("m1", strings.Repeat("x", 100))
	for range 100 {
		sched.Advance(time.Millisecond)
	}

	if len(rec.updates) != 5 {
		t.Errorf("got %d updates in 100ms of 1ms frames, want 5", len(rec.updates))
	}
}

func TestEngineEmitCanCancel(t *testing.T) {
	sched := typewriter.NewManual(epoch)
	var engine *typewriter.Engine
	var got []string
	engine = typewriter.NewEngine(sched, func(u typewriter.Update) {
		got = append(got, u.Text)
		engine.Cancel(u.MessageID)
	}, typewriter.Options{Chunk: fixedChunk(1)})

	engine.Start("m1", "abc")
	drain(t, sched, 25*time.Millisecond)

	if strings.Join(got, "|") != "a" {
		t.Errorf("updates = %q, want [a]", got)
	}
}

func TestEngineForget(t *testing.T) {
	engine, sched, rec := newEngine(typewriter.Options{Chunk: fixedChunk(2)})

	engine.Start("m1", "abcd")
	engine.Start("m2", "xyz")
	sched.Advance(25 * time.Millisecond)

	// m2 is still revealing, Forget must not touch it.
	engine.Forget("m2")
	drain(t, sched, 25*time.Millisecond)
	if got := rec.texts("m2"); strings.Join(got, "|") != "xy|xyz" {
		t.Fatalf("m2 updates = %q, want [xy xyz]", got)
	}

	engine.Forget("m1")
	engine.Start("m1", "abcd")
	drain(t, sched, 25*time.Millisecond)
	if got := rec.texts("m1"); strings.Join(got, "|") != "ab|abcd|ab|abcd" {
		t.Errorf("m1 updates = %q, want the text typed twice", got)
	}
}
