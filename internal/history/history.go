// Package history persists conversation turns so reply generation can ground
// its prompt in recent context. Persistence is best-effort: a store failure
// degrades the assistant to contextless replies, it never blocks the voice
// pipeline.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a channel has no recorded history.
var ErrNotFound = errors.New("history: not found")

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser marks a human speaker's turn.
	RoleUser Role = "user"

	// RoleAssistant marks the assistant's own reply.
	RoleAssistant Role = "assistant"
)

// Turn is one persisted conversation turn.
type Turn struct {
	// ChannelID identifies the voice channel the turn belongs to.
	ChannelID string

	// Role is who spoke.
	Role Role

	// SpeakerName is the display name of the speaker.
	SpeakerName string

	// Text is the spoken content.
	Text string

	// Timestamp is when the turn completed.
	Timestamp time.Time
}

// Store persists and retrieves conversation turns.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append records one turn.
	Append(ctx context.Context, turn Turn) error

	// Recent returns up to limit of the channel's most recent turns, oldest
	// first.
	Recent(ctx context.Context, channelID string, limit int) ([]Turn, error)

	// Close releases the store's resources.
	Close() error
}
