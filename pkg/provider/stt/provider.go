// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// StreamHandle: once opened for a speaker, a stream accepts raw PCM audio
// and emits Transcript values — low-latency partials for responsiveness and
// authoritative finals for the utterance pipeline. The pipeline consumes only
// final, non-empty transcripts.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"time"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript. The pipeline ignores partials entirely.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration
}

// StreamConfig describes the audio format for a new transcription stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 48000 (Discord Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// StreamHandle represents an open per-speaker transcription stream. It is an
// interface so that test code can provide mock implementations without a live
// provider connection.
//
// Callers must call Close when the stream is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type StreamHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the SampleRate, Channels, and
	// bit-depth agreed in StreamConfig. Calling SendAudio after Close returns
	// an error.
	SendAudio(chunk []byte) error

	// Transcripts returns a read-only channel that emits Transcript values,
	// both partial and final, in recognition order. The channel is closed
	// when the stream ends.
	Transcripts() <-chan Transcript

	// Close terminates the stream, flushes any pending audio, and releases
	// all associated resources. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple streams may be
// open simultaneously — one per speaker in a voice session.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format. The returned StreamHandle is ready to accept audio
	// immediately.
	//
	// Returns an error if the provider cannot establish the stream (auth
	// failure, unsupported configuration, or ctx already cancelled). The
	// caller owns the StreamHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}
