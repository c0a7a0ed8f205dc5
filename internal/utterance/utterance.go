// Package utterance turns noisy per-speaker transcription fragments into
// complete spoken turns.
//
// Two stages cooperate:
//
//   - [Aggregator] debounce-merges consecutive final STT fragments from one
//     speaker into a single utterance.
//   - [Merger] detects linguistically incomplete utterances ("I need a")
//     and holds them briefly so a timely follow-up ("cookie") can be merged
//     into one turn.
//
// Both stages guarantee that every fragment is eventually emitted exactly
// once, merged or stand-alone, and that teardown cancels all pending timers.
package utterance

import "time"

// Utterance is one speaker's complete turn, post-aggregation.
type Utterance struct {
	// SpeakerID is the platform-specific identifier of the speaker.
	SpeakerID string

	// DisplayName is the speaker's human-readable name.
	DisplayName string

	// Text is the aggregated transcript of the turn.
	Text string

	// Confidence is the transcription confidence in [0,1], averaged over
	// the merged fragments.
	Confidence float64

	// Timestamp is when the first fragment of the turn arrived.
	Timestamp time.Time
}
