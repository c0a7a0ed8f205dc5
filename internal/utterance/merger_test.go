package utterance

import (
	"testing"
	"time"
)

func TestMerger_Process(t *testing.T) {
	t.Run("merges incomplete utterance with follow-up", func(t *testing.T) {
		var c collector
		m := NewMerger(MergerConfig{
			Timeout: 200 * time.Millisecond,
			Emit:    c.emit,
		})
		defer m.Close()

		m.Process(Utterance{SpeakerID: "u1", Text: "I need a"})
		m.Process(Utterance{SpeakerID: "u1", Text: "cookie"})

		got := c.all()
		if len(got) != 1 {
			t.Fatalf("expected exactly 1 utterance, got %d: %v", len(got), got)
		}
		if got[0].Text != "I need a cookie" {
			t.Errorf("text = %q, want %q", got[0].Text, "I need a cookie")
		}
	})

	t.Run("emits complete utterance immediately", func(t *testing.T) {
		var c collector
		m := NewMerger(MergerConfig{Emit: c.emit})
		defer m.Close()

		m.Process(Utterance{SpeakerID: "u1", Text: "What time does the raid start?"})

		got := c.all()
		if len(got) != 1 || got[0].Text != "What time does the raid start?" {
			t.Fatalf("expected immediate emit, got %v", got)
		}
	})

	t.Run("emits buffered utterance after timeout", func(t *testing.T) {
		var c collector
		m := NewMerger(MergerConfig{
			Timeout: 40 * time.Millisecond,
			Emit:    c.emit,
		})
		defer m.Close()

		m.Process(Utterance{SpeakerID: "u1", Text: "I need a"})
		if got := c.all(); len(got) != 0 {
			t.Fatalf("expected buffering, got %v", got)
		}

		got := c.waitFor(t, 1, time.Second)
		if got[0].Text != "I need a" {
			t.Errorf("text = %q, want %q", got[0].Text, "I need a")
		}
	})

	t.Run("merges lowercase continuation after complete-looking text", func(t *testing.T) {
		var c collector
		m := NewMerger(MergerConfig{
			Timeout: 200 * time.Millisecond,
			Emit:    c.emit,
		})
		defer m.Close()

		// Trailing comma is a strong incomplete marker.
		m.Process(Utterance{SpeakerID: "u1", Text: "Well,"})
		m.Process(Utterance{SpeakerID: "u1", Text: "and then we left."})

		got := c.all()
		if len(got) != 1 {
			t.Fatalf("expected 1 merged utterance, got %d: %v", len(got), got)
		}
		if got[0].Text != "Well, and then we left." {
			t.Errorf("text = %q", got[0].Text)
		}
	})

	t.Run("incomplete prior merges even with capitalised follow-up", func(t *testing.T) {
		var c collector
		m := NewMerger(MergerConfig{
			Timeout: 500 * time.Millisecond,
			Emit:    c.emit,
		})
		defer m.Close()

		m.Process(Utterance{SpeakerID: "u1", Text: "I was going to"})
		m.Process(Utterance{SpeakerID: "u1", Text: "Nevermind forget it."})

		got := c.all()
		if len(got) != 1 {
			t.Fatalf("expected 1 merged utterance, got %d: %v", len(got), got)
		}
		if got[0].Text != "I was going to Nevermind forget it." {
			t.Errorf("text = %q", got[0].Text)
		}
	})

	t.Run("still-incomplete merge keeps buffering", func(t *testing.T) {
		var c collector
		m := NewMerger(MergerConfig{
			Timeout: 60 * time.Millisecond,
			Emit:    c.emit,
		})
		defer m.Close()

		m.Process(Utterance{SpeakerID: "u1", Text: "I want to go to"})
		m.Process(Utterance{SpeakerID: "u1", Text: "the"})
		if got := c.all(); len(got) != 0 {
			t.Fatalf("expected continued buffering, got %v", got)
		}

		got := c.waitFor(t, 1, time.Second)
		if got[0].Text != "I want to go to the" {
			t.Errorf("text = %q", got[0].Text)
		}
	})

	t.Run("speakers buffer independently", func(t *testing.T) {
		var c collector
		m := NewMerger(MergerConfig{
			Timeout: 200 * time.Millisecond,
			Emit:    c.emit,
		})
		defer m.Close()

		m.Process(Utterance{SpeakerID: "u1", Text: "I need a"})
		m.Process(Utterance{SpeakerID: "u2", Text: "cookie"})

		// u2's "cookie" is a fresh single-word utterance, complete on its own;
		// u1's buffer must not consume it.
		got := c.all()
		if len(got) != 1 || got[0].SpeakerID != "u2" {
			t.Fatalf("expected only u2's utterance, got %v", got)
		}
	})
}

func TestMerger_Close(t *testing.T) {
	var c collector
	m := NewMerger(MergerConfig{
		Timeout: 30 * time.Millisecond,
		Emit:    c.emit,
	})

	m.Process(Utterance{SpeakerID: "u1", Text: "I need a"})
	m.Close()

	time.Sleep(80 * time.Millisecond)
	if got := c.all(); len(got) != 0 {
		t.Errorf("expected no emissions after Close, got %v", got)
	}
}

func TestMerger_looksIncomplete(t *testing.T) {
	m := NewMerger(MergerConfig{Emit: func(Utterance) {}})

	tests := []struct {
		text string
		want bool
	}{
		{"I need a", true},                      // bare article
		{"Honestly I'm", true},                  // trailing contraction
		{"Well,", true},                         // trailing comma
		{"I was walking to", true},              // short + trailing preposition
		{"we looked everywhere for hours and hours but", false}, // weak pattern, long enough
		{"That was great.", false},
		{"cookie", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := m.looksIncomplete(tt.text); got != tt.want {
				t.Errorf("looksIncomplete(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMerger_looksContinuation(t *testing.T) {
	m := NewMerger(MergerConfig{Emit: func(Utterance) {}})

	tests := []struct {
		text string
		want bool
	}{
		{"and then we left", true},
		{"And then we left", true}, // continuation adverb, capitalised
		{"cookie", true},           // lowercase start
		{"Nevermind", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := m.looksContinuation(tt.text); got != tt.want {
				t.Errorf("looksContinuation(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
