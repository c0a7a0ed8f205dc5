// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech API) and presents a uniform per-chunk interface: given one
// speakable chunk of text, Synthesize returns one raw PCM audio buffer. The
// pipeline calls Synthesize concurrently for several chunks of the same reply
// and reorders the results itself, so implementations need no ordering
// guarantees of their own.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voicelark/voicelark/pkg/audio"
)

// VoiceProfile identifies a synthesis voice and its delivery parameters.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name, when known.
	Name string

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0].
	// Zero means the provider default.
	SpeedFactor float64
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple Synthesize calls
// may run in parallel for chunks of the same reply.
type Provider interface {
	// Synthesize renders text with the given voice and returns the raw PCM
	// audio in the format reported by OutputFormat.
	//
	// Returns an error if synthesis fails; the caller isolates the failure
	// to this one chunk and continues with the rest of the reply.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)

	// OutputFormat reports the PCM format Synthesize produces. The pipeline
	// converts it to the voice platform's playback format.
	OutputFormat() audio.Format
}
