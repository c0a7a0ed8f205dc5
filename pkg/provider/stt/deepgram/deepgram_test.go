package deepgram

import (
	"net/url"
	"testing"
	"time"

	"github.com/voicelark/voicelark/pkg/provider/stt"
)

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
	if p.language != defaultLanguage {
		t.Errorf("expected language %q, got %q", defaultLanguage, p.language)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("nova-2"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "nova-2" {
		t.Errorf("expected model 'nova-2', got %q", p.model)
	}
	if p.language != "de-DE" {
		t.Errorf("expected language 'de-DE', got %q", p.language)
	}
}

// ---- URL construction ----

func TestBuildURL_Defaults(t *testing.T) {
	p, _ := New("key")
	raw, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	if u.Scheme != "wss" {
		t.Errorf("expected wss scheme, got %q", u.Scheme)
	}
	q := u.Query()
	if q.Get("model") != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, q.Get("model"))
	}
	if q.Get("language") != defaultLanguage {
		t.Errorf("expected language %q, got %q", defaultLanguage, q.Get("language"))
	}
	if q.Get("sample_rate") != "48000" {
		t.Errorf("expected default sample_rate 48000, got %q", q.Get("sample_rate"))
	}
	if q.Get("encoding") != "linear16" {
		t.Errorf("expected encoding linear16, got %q", q.Get("encoding"))
	}
	if q.Get("interim_results") != "true" {
		t.Errorf("expected interim_results true, got %q", q.Get("interim_results"))
	}
	if q.Has("channels") {
		t.Error("channels should be omitted when zero")
	}
}

func TestBuildURL_ConfigOverrides(t *testing.T) {
	p, _ := New("key")
	raw, err := p.buildURL(stt.StreamConfig{
		SampleRate: 16000,
		Channels:   2,
		Language:   "en-US",
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	q, _ := url.Parse(raw)
	if got := q.Query().Get("sample_rate"); got != "16000" {
		t.Errorf("expected sample_rate 16000, got %q", got)
	}
	if got := q.Query().Get("channels"); got != "2" {
		t.Errorf("expected channels 2, got %q", got)
	}
	if got := q.Query().Get("language"); got != "en-US" {
		t.Errorf("expected stream language to win, got %q", got)
	}
}

// ---- Response parsing ----

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantOK bool
		want   stt.Transcript
	}{
		{
			name: "final result",
			raw: `{"type":"Results","is_final":true,"start":1.5,
				"channel":{"alternatives":[{"transcript":"hello there","confidence":0.98}]}}`,
			wantOK: true,
			want: stt.Transcript{
				Text:       "hello there",
				IsFinal:    true,
				Confidence: 0.98,
				Timestamp:  1500 * time.Millisecond,
			},
		},
		{
			name: "interim result",
			raw: `{"type":"Results","is_final":false,"start":0,
				"channel":{"alternatives":[{"transcript":"hel","confidence":0.4}]}}`,
			wantOK: true,
			want:   stt.Transcript{Text: "hel", IsFinal: false, Confidence: 0.4},
		},
		{
			name:   "metadata message ignored",
			raw:    `{"type":"Metadata","request_id":"abc"}`,
			wantOK: false,
		},
		{
			name:   "no alternatives ignored",
			raw:    `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
			wantOK: false,
		},
		{
			name:   "invalid json ignored",
			raw:    `{not json`,
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseResponse([]byte(tc.raw))
			if ok != tc.wantOK {
				t.Fatalf("parseResponse ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got != tc.want {
				t.Errorf("parseResponse = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSecondsToDuration(t *testing.T) {
	if got := secondsToDuration(2.25); got != 2250*time.Millisecond {
		t.Errorf("secondsToDuration(2.25) = %v, want 2.25s", got)
	}
	if got := secondsToDuration(0); got != 0 {
		t.Errorf("secondsToDuration(0) = %v, want 0", got)
	}
}
