package history

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] for tests and database-less deployments.
// Turns are kept per channel with a bounded backlog.
type MemStore struct {
	maxPerChannel int

	mu    sync.Mutex
	turns map[string][]Turn
}

// NewMemStore creates a MemStore keeping at most maxPerChannel turns per
// channel (0 selects 200).
func NewMemStore(maxPerChannel int) *MemStore {
	if maxPerChannel <= 0 {
		maxPerChannel = 200
	}
	return &MemStore{
		maxPerChannel: maxPerChannel,
		turns:         make(map[string][]Turn),
	}
}

// Append records one turn, evicting the channel's oldest when full.
func (m *MemStore) Append(_ context.Context, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.turns[turn.ChannelID], turn)
	if len(list) > m.maxPerChannel {
		list = list[len(list)-m.maxPerChannel:]
	}
	m.turns[turn.ChannelID] = list
	return nil
}

// Recent returns up to limit of the channel's most recent turns, oldest first.
func (m *MemStore) Recent(_ context.Context, channelID string, limit int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.turns[channelID]
	if len(list) == 0 {
		return nil, nil
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]Turn, len(list))
	copy(out, list)
	return out, nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }
