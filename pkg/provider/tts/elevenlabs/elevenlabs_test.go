package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/voicelark/voicelark/pkg/provider/tts"
)

// roundTripFunc lets tests intercept HTTP requests without a live server.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testClient(fn roundTripFunc) *http.Client {
	return &http.Client{Transport: fn}
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// ---- Constructor ----

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
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", p.model)
	}
	if p.outputFormat != "pcm_24000" {
		t.Errorf("expected outputFormat 'pcm_24000', got %q", p.outputFormat)
	}
}

// ---- Synthesize ----

func TestSynthesize_RequestShape(t *testing.T) {
	var captured *http.Request
	var capturedBody synthesizeRequest

	p, _ := New("secret-key", WithHTTPClient(testClient(func(r *http.Request) (*http.Response, error) {
		captured = r
		if err := json.NewDecoder(r.Body).Decode(&capturedBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		return response(http.StatusOK, "pcm-audio-bytes"), nil
	})))

	audio, err := p.Synthesize(context.Background(), "Hello there.", tts.VoiceProfile{
		ID:          "voice-abc",
		SpeedFactor: 1.2,
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "pcm-audio-bytes" {
		t.Errorf("unexpected audio %q", audio)
	}

	if captured.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", captured.Method)
	}
	if !strings.Contains(captured.URL.Path, "voice-abc") {
		t.Errorf("URL path should contain voice ID, got %s", captured.URL.Path)
	}
	if got := captured.URL.Query().Get("output_format"); got != defaultOutputFmt {
		t.Errorf("expected output_format %q, got %q", defaultOutputFmt, got)
	}
	if got := captured.Header.Get("xi-api-key"); got != "secret-key" {
		t.Errorf("expected xi-api-key header, got %q", got)
	}
	if capturedBody.Text != "Hello there." {
		t.Errorf("expected text in body, got %q", capturedBody.Text)
	}
	if capturedBody.ModelID != defaultModel {
		t.Errorf("expected model_id %q, got %q", defaultModel, capturedBody.ModelID)
	}
	if capturedBody.VoiceSettings == nil || capturedBody.VoiceSettings.Speed != 1.2 {
		t.Errorf("expected voice_settings.speed 1.2, got %+v", capturedBody.VoiceSettings)
	}
}

func TestSynthesize_DefaultSpeedOmitsVoiceSettings(t *testing.T) {
	p, _ := New("key", WithHTTPClient(testClient(func(r *http.Request) (*http.Response, error) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if _, ok := body["voice_settings"]; ok {
			t.Error("voice_settings should be omitted when SpeedFactor is zero")
		}
		return response(http.StatusOK, "audio"), nil
	})))

	if _, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{ID: "v1"}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
}

func TestSynthesize_InputValidation(t *testing.T) {
	p, _ := New("key")

	if _, err := p.Synthesize(context.Background(), "", tts.VoiceProfile{ID: "v1"}); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestSynthesize_APIError(t *testing.T) {
	p, _ := New("key", WithHTTPClient(testClient(func(*http.Request) (*http.Response, error) {
		return response(http.StatusUnauthorized, `{"detail":"bad key"}`), nil
	})))

	_, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{ID: "v1"})
	if err == nil {
		t.Fatal("expected error on 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should mention status code, got %v", err)
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	p, _ := New("key", WithHTTPClient(testClient(func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, ""), nil
	})))

	if _, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{ID: "v1"}); err == nil {
		t.Error("expected error for empty audio response")
	}
}
