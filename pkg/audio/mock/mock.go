// Package mock provides in-memory [audio.Platform] and [audio.Connection]
// implementations for testing the conversation pipeline without a live
// voice-platform connection.
package mock

import (
	"context"
	"sync"

	"github.com/voicelark/voicelark/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)

// Platform is a mock [audio.Platform] that records Join calls and hands out
// pre-configured or freshly-created mock Connections.
type Platform struct {
	mu sync.Mutex

	// Conn, if set, is returned from Join. Otherwise a new Connection is
	// created per call.
	Conn *Connection

	// JoinErr, if set, is returned from Join.
	JoinErr error

	// JoinCalls records the channel IDs passed to Join, in order.
	JoinCalls []string
}

// Join records the call and returns the configured connection or error.
func (p *Platform) Join(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.JoinCalls = append(p.JoinCalls, channelID)
	if p.JoinErr != nil {
		return nil, p.JoinErr
	}
	if p.Conn != nil {
		return p.Conn, nil
	}
	return NewConnection(), nil
}

// Connection is a mock [audio.Connection]. Tests feed participant audio via
// [Connection.EmitFrame], adjust the roster with [Connection.SetParticipants],
// fire lifecycle events with [Connection.EmitEvent], and inspect playback via
// [Connection.Played].
type Connection struct {
	mu sync.Mutex

	inputs       map[string]chan audio.Frame
	participants []audio.Participant
	changeCb     func(audio.Event)

	// PlayErr, if set, is returned from Play.
	PlayErr error

	// PlayFunc, if set, is invoked by Play instead of the default record-only
	// behavior. Useful for blocking playback in ordering tests.
	PlayFunc func(ctx context.Context, pcm []byte) error

	// Format is returned from PlaybackFormat. NewConnection sets 48 kHz
	// stereo.
	Format audio.Format

	played [][]byte
	left   bool
}

// NewConnection creates an empty mock connection.
func NewConnection() *Connection {
	return &Connection{
		inputs: make(map[string]chan audio.Frame),
		Format: audio.Format{SampleRate: 48000, Channels: 2},
	}
}

// PlaybackFormat returns the configured playback format.
func (c *Connection) PlaybackFormat() audio.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Format
}

// InputStreams returns a snapshot of the per-participant input channels.
func (c *Connection) InputStreams() map[string]<-chan audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[string]<-chan audio.Frame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// EmitFrame delivers one frame on userID's input stream, creating the stream
// if it does not exist yet.
func (c *Connection) EmitFrame(userID string, f audio.Frame) {
	c.mu.Lock()
	ch, ok := c.inputs[userID]
	if !ok {
		ch = make(chan audio.Frame, 64)
		c.inputs[userID] = ch
	}
	c.mu.Unlock()
	ch <- f
}

// Play records pcm and returns the configured error, or delegates to PlayFunc
// when set.
func (c *Connection) Play(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	fn := c.PlayFunc
	if fn == nil {
		c.played = append(c.played, pcm)
		err := c.PlayErr
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	err := fn(ctx, pcm)
	c.mu.Lock()
	c.played = append(c.played, pcm)
	c.mu.Unlock()
	return err
}

// Played returns a copy of all PCM buffers passed to Play, in call order.
func (c *Connection) Played() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.played))
	copy(out, c.played)
	return out
}

// Participants returns the configured roster.
func (c *Connection) Participants() []audio.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// SetParticipants replaces the roster returned by Participants.
func (c *Connection) SetParticipants(ps []audio.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants = append(c.participants[:0], ps...)
}

// OnParticipantChange registers cb as the lifecycle-event callback.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeCb = cb
}

// EmitEvent invokes the registered lifecycle callback synchronously.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cb := c.changeCb
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Leave marks the connection closed and closes all input streams.
func (c *Connection) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.left {
		return nil
	}
	c.left = true
	for id, ch := range c.inputs {
		close(ch)
		delete(c.inputs, id)
	}
	return nil
}

// Left reports whether Leave has been called.
func (c *Connection) Left() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}
