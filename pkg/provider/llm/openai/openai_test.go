package openai

import (
	"testing"

	"github.com/voicelark/voicelark/pkg/provider/llm"
)

// ---- Constructor ----

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("key", "gpt-4o-mini"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// ---- Message conversion ----

func TestConvertMessage_System(t *testing.T) {
	param := convertMessage(llm.Message{Role: "system", Content: "You are helpful."})
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

func TestConvertMessage_User(t *testing.T) {
	param := convertMessage(llm.Message{Role: "user", Content: "Hello!", Name: "Alice"})
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
	if param.OfUser.Content.OfString.Value != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", param.OfUser.Content.OfString.Value)
	}
	if param.OfUser.Name.Value != "Alice" {
		t.Errorf("expected speaker name to carry through, got %q", param.OfUser.Name.Value)
	}
}

func TestConvertMessage_Assistant(t *testing.T) {
	param := convertMessage(llm.Message{Role: "assistant", Content: "Hi there!"})
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
	if param.OfAssistant.Content.OfString.Value != "Hi there!" {
		t.Errorf("expected content 'Hi there!', got %q", param.OfAssistant.Content.OfString.Value)
	}
}

func TestConvertMessage_UnknownRoleFallsBackToUser(t *testing.T) {
	param := convertMessage(llm.Message{Role: "narrator", Content: "Meanwhile..."})
	if param.OfUser == nil {
		t.Fatal("expected unknown role to convert as user message")
	}
}

// ---- Param building ----

func TestBuildParams(t *testing.T) {
	p, err := New("key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages: []llm.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
		Temperature: 0.7,
		MaxTokens:   128,
	})

	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %q", params.Model)
	}
	// System prompt prepended before the conversation history.
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be the system prompt")
	}
	if params.Temperature.Value != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Value != 128 {
		t.Errorf("expected max tokens 128, got %v", params.MaxCompletionTokens.Value)
	}
}

func TestBuildParams_ZeroDefaultsOmitted(t *testing.T) {
	p, _ := New("key", "gpt-4o-mini")

	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})

	if params.Temperature.Valid() {
		t.Error("zero temperature should be omitted for provider default")
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("zero max tokens should be omitted for provider default")
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected no system message when prompt empty, got %d messages", len(params.Messages))
	}
}
