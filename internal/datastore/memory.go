package datastore

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MemoryBackend keeps entries in a map. It can be told to fail upcoming
// commits, which tests use to exercise chain failure handling.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
	failErr []error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

// NewMemoryStore returns a Broker over a fresh MemoryBackend.
func NewMemoryStore(typ Type, logger *zap.Logger) (*Broker, *MemoryBackend) {
	backend := NewMemoryBackend()
	return NewBroker(typ, backend, logger), backend
}

// FailNext makes the next Apply call fail with err. Calls queue up.
func (m *MemoryBackend) FailNext(err error) {
	m.mu.Lock()
	m.failErr = append(m.failErr, err)
	m.mu.Unlock()
}

func (m *MemoryBackend) Apply(ctx context.Context, writes []Write) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failErr) > 0 {
		err := m.failErr[0]
		m.failErr = m.failErr[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage on a copy-on-write overlay so a failing merge leaves no trace.
	staged := make(map[string][]byte)
	deleted := make(map[string]bool)
	current := func(path string) []byte {
		if deleted[path] {
			return nil
		}
		if v, ok := staged[path]; ok {
			return v
		}
		return m.entries[path]
	}

	changes := make([]Change, 0, len(writes))
	for _, w := range writes {
		before := current(w.Path)
		var after []byte
		switch w.Op {
		case OpPut:
			after = w.Value
		case OpMerge:
			merged, err := MergeJSON(before, w.Value)
			if err != nil {
				return nil, err
			}
			after = merged
		case OpDelete:
			after = nil
		}
		if after == nil {
			delete(staged, w.Path)
			deleted[w.Path] = true
		} else {
			staged[w.Path] = after
			delete(deleted, w.Path)
		}
		changes = append(changes, Change{Path: w.Path, Before: before, After: after})
	}

	for path := range deleted {
		delete(m.entries, path)
	}
	for path, v := range staged {
		m.entries[path] = v
	}
	return changes, nil
}

func (m *MemoryBackend) Get(_ context.Context, path string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[path]
	return v, ok, nil
}

func (m *MemoryBackend) Scan(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for path, v := range m.entries {
		if strings.HasPrefix(path, prefix) {
			out[path] = v
		}
	}
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
var _ Store = (*Broker)(nil)
