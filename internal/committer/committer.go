// Package committer serializes writes from any number of producers into
// batched transactions on one datastore transaction chain.
//
// Producers Submit idempotent operations (upsert or delete of a whole entity
// by id). A single worker takes the first queued operation, drains up to
// MaxBatch-1 more that are already waiting, applies them all in one
// read-write transaction and submits it. When a transaction or the chain
// fails, the worker opens a fresh chain and carries on; the failed batch is
// not replayed; the producers' next idempotent write for the same entity
// repairs the stored state.
package committer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/datastore"
)

const (
	DefaultQueueCapacity = 256
	DefaultMaxBatch      = 100
)

// ErrClosed is returned by Submit once the committer has been closed.
var ErrClosed = errors.New("committer closed")

// Op is one unit of work applied inside a transaction.
type Op func(tx datastore.ReadWriteTx)

// Put returns an Op storing value at path.
func Put(path string, value []byte) Op {
	return func(tx datastore.ReadWriteTx) { tx.Put(path, value) }
}

// Merge returns an Op merging value into path.
func Merge(path string, value []byte) Op {
	return func(tx datastore.ReadWriteTx) { tx.Merge(path, value) }
}

// Delete returns an Op deleting path.
func Delete(path string) Op {
	return func(tx datastore.ReadWriteTx) { tx.Delete(path) }
}

// Options tunes a Committer. Zero values select the defaults.
type Options struct {
	QueueCapacity int
	MaxBatch      int
	Logger        *zap.Logger
}

// Stats is a snapshot of a committer's counters.
type Stats struct {
	Batches       uint64 // transactions submitted
	Applied       uint64 // ops in successfully committed transactions
	Dropped       uint64 // ops lost to failed transactions or shutdown
	ChainRestarts uint64
}

// Committer owns one worker goroutine and one transaction chain at a time.
type Committer struct {
	store    datastore.Store
	queue    chan Op
	maxBatch int
	logger   *zap.Logger

	// chainFailed is raised by the asynchronous failure callback of the
	// current chain generation and consumed by the worker before it opens
	// the next transaction. Callbacks from older generations are ignored.
	chainFailed atomic.Bool
	generation  atomic.Uint64

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	// enqueue is held for reading by every Submit in flight. Close takes it
	// for writing before draining, so no op lands in the queue after that.
	enqueue sync.RWMutex

	batches, applied, dropped, restarts atomic.Uint64
}

// New starts a committer writing into store.
func New(store datastore.Store, opts Options) *Committer {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Committer{
		store:    store,
		queue:    make(chan Op, opts.QueueCapacity),
		maxBatch: opts.MaxBatch,
		logger:   logger.Named("committer"),
		closing:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Submit enqueues op, blocking while the queue is full. It fails when ctx
// ends first or the committer is closed.
func (c *Committer) Submit(ctx context.Context, op Op) error {
	c.enqueue.RLock()
	defer c.enqueue.RUnlock()
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.queue <- op:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (c *Committer) Stats() Stats {
	return Stats{
		Batches:       c.batches.Load(),
		Applied:       c.applied.Load(),
		Dropped:       c.dropped.Load(),
		ChainRestarts: c.restarts.Load(),
	}
}

// Close stops the worker, lets an in-flight transaction finish, and discards
// whatever is still queued. Every op a Submit accepted is counted either as
// applied or as dropped.
func (c *Committer) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
	// Wait out Submits still racing the close.
	c.enqueue.Lock()
	c.enqueue.Unlock()
	c.wg.Wait()
	for {
		select {
		case <-c.queue:
			c.dropped.Add(1)
		default:
			return
		}
	}
}

func (c *Committer) newChain() datastore.TxChain {
	gen := c.generation.Add(1)
	c.chainFailed.Store(false)
	return c.store.CreateTransactionChain(datastore.ChainListenerFunc(func(_ datastore.TxChain, err error) {
		if c.generation.Load() != gen {
			return
		}
		c.logger.Warn("Transaction chain failed", zap.Error(err))
		c.chainFailed.Store(true)
	}))
}

func (c *Committer) run() {
	defer c.wg.Done()

	chain := c.newChain()
	defer func() { chain.Close() }()

	for {
		var first Op
		select {
		case <-c.closing:
			return
		case first = <-c.queue:
		}

		if c.chainFailed.Swap(false) {
			chain.Close()
			chain = c.newChain()
			c.restarts.Add(1)
			c.logger.Info("Transaction chain recreated")
		}

		tx := chain.NewReadWriteTx()
		n := c.apply(tx, first)
	drain:
		for n < c.maxBatch {
			select {
			case op := <-c.queue:
				n += c.apply(tx, op)
			default:
				break drain
			}
		}

		c.batches.Add(1)
		if err := <-tx.Submit(); err != nil {
			c.dropped.Add(uint64(n))
			c.logger.Error("Transaction submit failed, dropping batch",
				zap.Int("ops", n), zap.Error(err))
			chain.Close()
			chain = c.newChain()
			c.restarts.Add(1)
			continue
		}
		c.applied.Add(uint64(n))
	}
}

// apply runs op, shielding the worker from a panicking op. It returns the
// number of ops counted against the batch.
func (c *Committer) apply(tx datastore.ReadWriteTx, op Op) (n int) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("Operation panicked", zap.Any("panic", p))
			c.dropped.Add(1)
			n = 0
		}
	}()
	op(tx)
	return 1
}
