package perception

import (
	"strings"
	"testing"
	"time"
)

func newActiveFilter(cfg Config) *Filter {
	f := New(cfg)
	f.StartSession()
	return f
}

func TestFilter_Check(t *testing.T) {
	t.Run("accepts normal chunk", func(t *testing.T) {
		f := newActiveFilter(Config{})
		defer f.Close()

		ok, reason := f.Check("The dungeon entrance is north of the bridge.")
		if !ok {
			t.Fatalf("expected accept, got reason %q", reason)
		}
	})

	t.Run("rejects without active session", func(t *testing.T) {
		f := New(Config{})
		defer f.Close()

		if ok, reason := f.Check("Hello there friend."); ok || reason != "no-session" {
			t.Fatalf("got ok=%v reason=%q, want no-session reject", ok, reason)
		}
	})

	tests := []struct {
		name   string
		chunk  string
		reason string
	}{
		{"empty", "   ", "empty"},
		{"too long", strings.Repeat("word ", 500), "length"},
		{"single word", "Hello.", "word-count"},
		{"error dump", "Error: connection refused by upstream", "garbage"},
		{"markup", "here is {\"a\": 1} some json", "garbage"},
		{"url", "check https://example.com for details", "garbage"},
		{"repeated chars", "aaaaaaaa everywhere here", "garbage"},
		{"punctuation only", "... ---", "empty-or-fragment"},
		{"ellipsis lead", "...and so on", "fragment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newActiveFilter(Config{})
			defer f.Close()

			ok, reason := f.Check(tt.chunk)
			if ok {
				t.Fatalf("expected reject for %q", tt.chunk)
			}
			if tt.reason != "empty-or-fragment" && reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}

	t.Run("sentence cap", func(t *testing.T) {
		f := newActiveFilter(Config{SentenceCap: 2})
		defer f.Close()

		sentences := []string{
			"The first sentence goes here.",
			"A second different sentence follows now.",
			"This third sentence breaks the cap.",
		}
		var accepted int
		var lastReason string
		for _, s := range sentences {
			if ok, reason := f.Check(s); ok {
				accepted++
			} else {
				lastReason = reason
			}
		}
		if accepted != 2 {
			t.Fatalf("accepted = %d, want 2", accepted)
		}
		if lastReason != "sentence-cap" {
			t.Errorf("reason = %q, want sentence-cap", lastReason)
		}
	})

	t.Run("near-duplicate rejected", func(t *testing.T) {
		f := newActiveFilter(Config{})
		defer f.Close()

		if ok, _ := f.Check("The tavern is just across the square."); !ok {
			t.Fatal("first chunk should pass")
		}
		ok, reason := f.Check("The tavern is just across the square!")
		if ok || reason != "duplicate" {
			t.Fatalf("got ok=%v reason=%q, want duplicate reject", ok, reason)
		}
	})

	t.Run("dissimilar chunk passes after duplicates", func(t *testing.T) {
		f := newActiveFilter(Config{})
		defer f.Close()

		_, _ = f.Check("The tavern is just across the square.")
		if ok, reason := f.Check("Bring a torch for the lower levels."); !ok {
			t.Fatalf("expected accept, got %q", reason)
		}
	})
}

func TestFilter_Burst(t *testing.T) {
	t.Run("burst of session starts triggers cooldown", func(t *testing.T) {
		f := New(Config{
			BurstStarts:   4,
			BurstWindow:   time.Second,
			BurstCooldown: 80 * time.Millisecond,
		})
		defer f.Close()

		for i := 0; i < 4; i++ {
			f.StartSession()
			f.EndSession()
		}

		// 5th start within the window: chunks rejected outright.
		f.StartSession()
		if ok, reason := f.Check("Perfectly fine sentence here."); ok || reason != "burst-cooldown" {
			t.Fatalf("got ok=%v reason=%q, want burst-cooldown reject", ok, reason)
		}

		// After cooldown expiry a chunk passes normally.
		time.Sleep(120 * time.Millisecond)
		f.StartSession()
		if ok, reason := f.Check("Perfectly fine sentence here."); !ok {
			t.Fatalf("expected accept after cooldown, got %q", reason)
		}
	})

	t.Run("starts during cooldown do not extend it", func(t *testing.T) {
		f := New(Config{
			BurstStarts:   4,
			BurstWindow:   time.Second,
			BurstCooldown: 80 * time.Millisecond,
		})
		defer f.Close()

		for i := 0; i < 4; i++ {
			f.StartSession()
			f.EndSession()
		}

		// Two more starts while cooling down must not re-arm the cooldown.
		f.StartSession()
		f.EndSession()
		f.StartSession()
		f.EndSession()

		time.Sleep(120 * time.Millisecond)
		f.StartSession()
		if ok, reason := f.Check("Perfectly fine sentence here."); !ok {
			t.Fatalf("expected accept after cooldown, got %q", reason)
		}
	})

	t.Run("ending sessions does not reset the burst clock", func(t *testing.T) {
		f := New(Config{
			BurstStarts:   3,
			BurstWindow:   time.Second,
			BurstCooldown: time.Second,
		})
		defer f.Close()

		f.StartSession()
		f.EndSession()
		f.StartSession()
		f.EndSession()
		f.StartSession() // third start trips the threshold

		if ok, reason := f.Check("Still a fine sentence here."); ok || reason != "burst-cooldown" {
			t.Fatalf("got ok=%v reason=%q, want burst-cooldown", ok, reason)
		}
	})
}

func TestFilter_IdleTimeout(t *testing.T) {
	f := New(Config{IdleTimeout: 30 * time.Millisecond})
	defer f.Close()

	f.StartSession()
	if !f.Active() {
		t.Fatal("expected active session")
	}

	time.Sleep(80 * time.Millisecond)
	if f.Active() {
		t.Fatal("expected session to end after idle timeout")
	}
	if ok, reason := f.Check("A sentence arriving too late."); ok || reason != "no-session" {
		t.Fatalf("got ok=%v reason=%q, want no-session", ok, reason)
	}
}

func TestFilter_Close(t *testing.T) {
	f := New(Config{})
	f.StartSession()
	f.Close()

	if f.Active() {
		t.Fatal("expected inactive after Close")
	}
	// StartSession after Close is a no-op.
	f.StartSession()
	if f.Active() {
		t.Fatal("expected StartSession to be ignored after Close")
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"the quick brown fox", "the quick brown fox", 1},
		{"the quick brown fox", "lazy dogs sleep here", 0},
		{"a b c d", "a b c e", 0.6},
	}
	for _, tt := range tests {
		a := wordSet(strings.Fields(tt.a))
		b := wordSet(strings.Fields(tt.b))
		if got := jaccard(a, b); got != tt.want {
			t.Errorf("jaccard(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
