// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/voicelark/voicelark/pkg/audio"
	"github.com/voicelark/voicelark/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	// Text is the chunk text passed to Synthesize.
	Text string
	// Voice is the voice profile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
//
// By default every call returns Audio (or a one-byte placeholder when Audio
// is nil). Set Err to fail every call, or SynthesizeFunc for per-call control
// in tests that exercise out-of-order completion.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when SynthesizeFunc is nil.
	Audio []byte

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// SynthesizeFunc, if non-nil, overrides the canned Audio/Err behaviour.
	// It runs outside the mock's lock so it may block to simulate slow
	// synthesis.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error)

	// Calls records every invocation in order.
	Calls []Call

	// Format, if non-zero, is returned from OutputFormat. The zero value
	// reports 48 kHz stereo so canned audio passes through unconverted.
	Format audio.Format
}

// OutputFormat returns the configured format, defaulting to 48 kHz stereo.
func (p *Provider) OutputFormat() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Format == (audio.Format{}) {
		return audio.Format{SampleRate: 48000, Channels: 2}
	}
	return p.Format
}

// Synthesize records the call and returns the configured response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	audio := p.Audio
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	if audio == nil {
		return []byte{0}, nil
	}
	cp := make([]byte, len(audio))
	copy(cp, audio)
	return cp, nil
}

// CallCount returns the number of Synthesize invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Texts returns the chunk texts of all recorded calls in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)
