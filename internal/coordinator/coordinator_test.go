package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/voicelark/voicelark/internal/utterance"
)

// startRecorder captures generations the coordinator kicks off.
type startRecorder struct {
	mu    sync.Mutex
	calls []utterance.Utterance
}

func (r *startRecorder) start(u utterance.Utterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, u)
}

func (r *startRecorder) all() []utterance.Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]utterance.Utterance, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *startRecorder) waitFor(t *testing.T, n int, timeout time.Duration) []utterance.Utterance {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := r.all(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := r.all()
	t.Fatalf("timed out waiting for %d generations, got %d: %v", n, len(got), got)
	return nil
}

func TestCoordinator_Submit(t *testing.T) {
	t.Run("idle coordinator starts immediately", func(t *testing.T) {
		var r startRecorder
		c := New(Config{Start: r.start})
		defer c.Close()

		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "hello there"})

		got := r.all()
		if len(got) != 1 || got[0].Text != "hello there" {
			t.Fatalf("expected one immediate generation, got %v", got)
		}
		if !c.Busy() {
			t.Error("expected coordinator busy after start")
		}
	})

	t.Run("queued utterances coalesce into one follow-up", func(t *testing.T) {
		var r startRecorder
		c := New(Config{
			Cooldown:   10 * time.Millisecond,
			FlushDelay: 30 * time.Millisecond,
			Start:      r.start,
		})
		defer c.Close()

		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "first"})
		// These three arrive while the first generation is in flight.
		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "what about"})
		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "the second"})
		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "dungeon"})

		c.Release()

		got := r.waitFor(t, 2, 2*time.Second)
		if len(got) != 2 {
			t.Fatalf("expected exactly 2 generations, got %d: %v", len(got), got)
		}
		want := "what about the second dungeon"
		if got[1].Text != want {
			t.Errorf("follow-up text = %q, want %q", got[1].Text, want)
		}
	})

	t.Run("cooldown queues instead of starting", func(t *testing.T) {
		var r startRecorder
		c := New(Config{
			Cooldown:   200 * time.Millisecond,
			FlushDelay: 20 * time.Millisecond,
			Start:      r.start,
		})
		defer c.Close()

		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "first"})
		c.Release()

		// Within cooldown: must queue, not start.
		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "second"})
		if got := r.all(); len(got) != 1 {
			t.Fatalf("expected generation to queue during cooldown, got %v", got)
		}

		// After the cooldown expires the flush goes through.
		got := r.waitFor(t, 2, 2*time.Second)
		if got[1].Text != "second" {
			t.Errorf("follow-up text = %q, want %q", got[1].Text, "second")
		}
	})

	t.Run("release without queue schedules nothing", func(t *testing.T) {
		var r startRecorder
		c := New(Config{
			Cooldown:   10 * time.Millisecond,
			FlushDelay: 10 * time.Millisecond,
			Start:      r.start,
		})
		defer c.Close()

		c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "only one"})
		c.Release()

		time.Sleep(60 * time.Millisecond)
		if got := r.all(); len(got) != 1 {
			t.Fatalf("expected exactly 1 generation, got %v", got)
		}
	})
}

func TestCoordinator_Close(t *testing.T) {
	var r startRecorder
	c := New(Config{
		Cooldown:   10 * time.Millisecond,
		FlushDelay: 10 * time.Millisecond,
		Start:      r.start,
	})

	c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "first"})
	c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "queued"})
	c.Close()
	c.Release()

	time.Sleep(60 * time.Millisecond)
	if got := r.all(); len(got) != 1 {
		t.Fatalf("expected no flush after Close, got %v", got)
	}

	// Submit after Close is a no-op.
	c.Submit(utterance.Utterance{SpeakerID: "u1", Text: "late"})
	if got := r.all(); len(got) != 1 {
		t.Errorf("expected Submit after Close to be ignored, got %v", got)
	}
}
