// Package audio defines the interfaces for voice-platform connectivity.
//
// The two primary abstractions are:
//
//   - [Platform] — joins a voice channel and returns a [Connection].
//   - [Connection] — an active presence on that channel, giving callers
//     per-participant input streams, a blocking playback call for synthesized
//     audio, the participant roster, and lifecycle events.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., audio/discord). The interfaces are intentionally narrow so the
// conversation pipeline stays decoupled from provider details.
package audio

import "context"

// Frame is a block of raw PCM audio from one participant.
type Frame struct {
	// PCM audio data, interleaved little-endian int16 samples.
	PCM []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus decode output).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Participant describes one member of the voice channel.
type Participant struct {
	// UserID is the platform-specific unique identifier.
	UserID string

	// DisplayName is the member's human-readable name.
	DisplayName string

	// Bot reports whether the participant is an automated account.
	// Bots are excluded from the human member count.
	Bot bool
}

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// Participant identifies who joined or left.
	Participant Participant
}

// Connection represents an active presence on a voice channel.
//
// A Connection is obtained from [Platform.Join] and remains valid until
// [Connection.Leave] is called. All channels returned by Connection methods
// are closed automatically when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-participant audio
	// channels. The map key is the participant's user ID; the value delivers
	// [Frame] values as they arrive from that participant. A new entry
	// appears for each participant that starts transmitting and is removed
	// (channel closed) when that participant leaves.
	InputStreams() map[string]<-chan Frame

	// Play renders one PCM buffer to the channel and returns when the buffer
	// has been fully transmitted or ctx is cancelled. The buffer must be in
	// the format reported by PlaybackFormat. Playback is paced in real time;
	// callers serialise Play invocations to keep output ordered.
	Play(ctx context.Context, pcm []byte) error

	// PlaybackFormat reports the PCM format Play expects. Callers convert
	// synthesized audio to this format before playing it.
	PlaybackFormat() Format

	// Participants returns the current roster of the voice channel,
	// including this connection's own bot account.
	Participants() []Participant

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves. Only one callback may be registered at a
	// time; subsequent calls replace the previous registration. The callback
	// is invoked on an internal goroutine — callers must not block.
	OnParticipantChange(cb func(Event))

	// Leave cleanly tears down the connection, stops playback, and closes
	// all input channels. Calling Leave more than once is safe; subsequent
	// calls do nothing and return the first call's result.
	Leave() error
}

// Platform is the entry point for a voice-channel provider.
// Implementations wrap provider-specific SDKs and expose a uniform
// [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Join connects to the voice channel identified by channelID and returns
	// an active [Connection]. The supplied ctx governs the lifetime of the
	// join attempt only; once joined, the Connection remains alive until
	// [Connection.Leave] is called.
	Join(ctx context.Context, channelID string) (Connection, error)
}
