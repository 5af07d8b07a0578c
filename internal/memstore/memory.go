// Package memstore provides the memory backends behind the kernel's
// write-through rule: every step result and phase outcome is persisted
// before control moves on.
//
// Two backends are available: an in-process map for tests and single
// binary runs, and a NATS JetStream key/value bucket for durable shared
// state.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/loopkit/quadra/internal/collab"
)

// InMemory is a process-local Memory backend.
type InMemory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemory creates an empty in-process store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string][]byte)}
}

// Write stores a copy of value under key.
func (m *InMemory) Write(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	m.data[key] = buf
	return nil
}

// Read returns the stored value and whether the key exists.
func (m *InMemory) Read(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	return buf, true, nil
}

// Search returns entries whose keys start with prefix, in key order.
func (m *InMemory) Search(_ context.Context, prefix string) ([]collab.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []collab.Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			buf := make([]byte, len(v))
			copy(buf, v)
			out = append(out, collab.Entry{Key: k, Value: buf})
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []collab.Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

var _ collab.Memory = (*InMemory)(nil)
