package datastore

import (
	"context"
	"fmt"
	"sync"
)

type chain struct {
	broker   *Broker
	listener ChainListener

	mu     sync.Mutex // orders submits and guards state
	failed error
	closed bool
}

func (c *chain) NewReadWriteTx() ReadWriteTx {
	return &tx{chain: c}
}

func (c *chain) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// submit commits writes on behalf of one transaction. Commits of one chain
// never overlap, so they land in submit order.
func (c *chain) submit(writes []Write) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChainClosed
	}
	if c.failed != nil {
		return fmt.Errorf("%w: %v", ErrChainFailed, c.failed)
	}

	if err := c.broker.commit(context.Background(), writes); err != nil {
		c.failed = err
		if c.listener != nil {
			go c.listener.OnChainFailed(c, err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	chain  *chain
	mu     sync.Mutex
	writes []Write
	done   bool
}

func (t *tx) add(w Write) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.writes = append(t.writes, w)
}

func (t *tx) Put(path string, value []byte) {
	t.add(Write{Op: OpPut, Path: path, Value: value})
}

func (t *tx) Merge(path string, value []byte) {
	t.add(Write{Op: OpMerge, Path: path, Value: value})
}

func (t *tx) Delete(path string) {
	t.add(Write{Op: OpDelete, Path: path})
}

// Submit commits before returning; the result is still handed back through a
// channel so callers do not depend on that.
func (t *tx) Submit() <-chan error {
	result := make(chan error, 1)

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		result <- ErrTxDone
		return result
	}
	t.done = true
	writes := t.writes
	t.writes = nil
	t.mu.Unlock()

	result <- t.chain.submit(writes)
	return result
}

func (t *tx) Cancel() {
	t.mu.Lock()
	t.done = true
	t.writes = nil
	t.mu.Unlock()
}
