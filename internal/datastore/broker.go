package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// WriteOp is the kind of a buffered write.
type WriteOp int

const (
	OpPut WriteOp = iota
	OpMerge
	OpDelete
)

// Write is one buffered modification handed to a Backend.
type Write struct {
	Op    WriteOp
	Path  string
	Value []byte
}

// Backend persists committed writes. Apply must be atomic: either every
// write is applied and the resulting changes are returned, or none is.
type Backend interface {
	Apply(ctx context.Context, writes []Write) ([]Change, error)
	Get(ctx context.Context, path string) ([]byte, bool, error)
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}

// Broker implements Store on top of a Backend. It orders transactions per
// chain, serializes commits across chains and fans committed changes out to
// change listeners.
type Broker struct {
	typ     Type
	backend Backend
	logger  *zap.Logger

	mu     sync.Mutex // serializes commits and guards regs
	regs   map[*registration]struct{}
	closed bool
}

// NewBroker wraps backend into a Store of type typ.
func NewBroker(typ Type, backend Backend, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		typ:     typ,
		backend: backend,
		logger:  logger.Named("datastore").With(zap.String("type", string(typ))),
		regs:    make(map[*registration]struct{}),
	}
}

func (b *Broker) Type() Type { return b.typ }

func (b *Broker) CreateTransactionChain(listener ChainListener) TxChain {
	return &chain{broker: b, listener: listener}
}

// RegisterChangeListener delivers every future committed change under prefix
// to listener on a goroutine dedicated to this registration.
func (b *Broker) RegisterChangeListener(prefix string, listener ChangeListener) (Registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	r := newRegistration(b, prefix, listener)
	b.regs[r] = struct{}{}
	go r.run()
	return r, nil
}

// RegisterChangeListenerWithSnapshot is RegisterChangeListener whose first
// delivered batch holds every entry already stored under prefix, as
// creations sorted by path. The snapshot and the registration are taken
// under the commit lock, so every later commit is delivered after it.
func (b *Broker) RegisterChangeListenerWithSnapshot(ctx context.Context, prefix string, listener ChangeListener) (Registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	entries, err := b.backend.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	r := newRegistration(b, prefix, listener)
	if len(entries) > 0 {
		paths := make([]string, 0, len(entries))
		for path := range entries {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		snapshot := make([]Change, len(paths))
		for i, path := range paths {
			snapshot[i] = Change{Path: path, After: entries[path]}
		}
		r.enqueue(snapshot)
	}
	b.regs[r] = struct{}{}
	go r.run()
	return r, nil
}

func (b *Broker) Read(ctx context.Context, path string) ([]byte, error) {
	v, ok, err := b.backend.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, ErrNotFound)
	}
	return v, nil
}

func (b *Broker) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	entries, err := b.backend.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return entries, nil
}

// Close stops every registration and closes the backend.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	regs := b.regs
	b.regs = make(map[*registration]struct{})
	b.mu.Unlock()

	for r := range regs {
		r.stop()
	}
	return b.backend.Close()
}

// commit applies writes and publishes the resulting changes.
func (b *Broker) commit(ctx context.Context, writes []Write) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if len(writes) == 0 {
		return nil
	}

	changes, err := b.backend.Apply(ctx, writes)
	if err != nil {
		return err
	}

	// A write that left the value untouched is not a change.
	effective := changes[:0]
	for _, c := range changes {
		if c.Before == nil && c.After == nil {
			continue
		}
		if bytes.Equal(c.Before, c.After) {
			continue
		}
		effective = append(effective, c)
	}
	if len(effective) == 0 {
		return nil
	}

	for r := range b.regs {
		var matched []Change
		for _, c := range effective {
			if strings.HasPrefix(c.Path, r.prefix) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			r.enqueue(matched)
		}
	}
	return nil
}

func (b *Broker) unregister(r *registration) {
	b.mu.Lock()
	delete(b.regs, r)
	b.mu.Unlock()
}

// MergeJSON merges the top-level members of the JSON object patch into the
// JSON object base. A nil base is treated as an empty object.
func MergeJSON(base, patch []byte) ([]byte, error) {
	merged := map[string]any{}
	if base != nil {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, fmt.Errorf("merge: decode stored value: %w", err)
		}
	}
	var p map[string]any
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("merge: decode patch: %w", err)
	}
	for k, v := range p {
		merged[k] = v
	}
	return json.Marshal(merged)
}
