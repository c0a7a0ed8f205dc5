// Package mock provides test doubles for the stt.Provider and
// stt.StreamHandle interfaces.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voicelark/voicelark/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider. Each StartStream call
// returns a fresh *Stream which is also recorded in Streams for inspection.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartStream.
	StartErr error

	// Streams records every stream opened, in order.
	Streams []*Stream

	// StartCalls records the StreamConfig of every StartStream invocation.
	StartCalls []stt.StreamConfig
}

// StartStream records the call and returns a new mock Stream.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := NewStream()
	p.Streams = append(p.Streams, s)
	return s, nil
}

// Stream is a mock implementation of stt.StreamHandle. Tests push transcripts
// through Emit and inspect received audio via SentAudio.
type Stream struct {
	mu     sync.Mutex
	sent   [][]byte
	ch     chan stt.Transcript
	closed bool
}

// NewStream creates a ready-to-use mock stream.
func NewStream() *Stream {
	return &Stream{ch: make(chan stt.Transcript, 64)}
}

// SendAudio records the chunk. Returns an error after Close.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: stream is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

// Transcripts returns the transcript channel fed by Emit.
func (s *Stream) Transcripts() <-chan stt.Transcript { return s.ch }

// Emit delivers a transcript to the stream's consumer. No-op after Close.
func (s *Stream) Emit(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- t
}

// SentAudio returns a copy of all audio chunks received so far.
func (s *Stream) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Close closes the transcript channel. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// Compile-time interface assertions.
var (
	_ stt.Provider     = (*Provider)(nil)
	_ stt.StreamHandle = (*Stream)(nil)
)
