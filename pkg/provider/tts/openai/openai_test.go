package openai

import (
	"context"
	"testing"

	"github.com/voicelark/voicelark/pkg/provider/tts"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
}

func TestNew_WithModel(t *testing.T) {
	p, err := New("key", WithModel("tts-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "tts-1" {
		t.Errorf("expected model 'tts-1', got %q", p.model)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "", tts.VoiceProfile{ID: "alloy"}); err == nil {
		t.Error("expected error for empty text")
	}
}
