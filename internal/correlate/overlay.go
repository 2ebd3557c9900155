// Package correlate implements the incremental join engine that turns
// underlay item deltas into overlay item lifecycle events.
//
// All mutable correlation state of one overlay topology (every operator's
// correlation store and filtration state, and the sink's wrapper set) is
// guarded by that overlay's Overlay context. State can only be changed
// through a *Txn, and a Txn only exists inside Overlay.Update.
package correlate

import (
	"context"
	"sync"

	"github.com/agentic-research/topoproc/internal/model"
)

// Overlay is the correlation context of one overlay topology.
type Overlay struct {
	ID string

	mu sync.Mutex
}

func NewOverlay(id string) *Overlay {
	return &Overlay{ID: id}
}

// Update runs fn with exclusive access to the overlay's correlation state.
// The Txn must not be retained after fn returns. ctx bounds the blocking
// work sinks do on behalf of the Txn, such as queueing writes.
func (o *Overlay) Update(ctx context.Context, fn func(txn *Txn)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	txn := &Txn{overlay: o, ctx: ctx}
	defer func() { txn.done = true }()
	fn(txn)
}

// Txn is proof of exclusive access to one Overlay's state.
type Txn struct {
	overlay *Overlay
	ctx     context.Context
	done    bool
}

// Context returns the context the Txn was opened with.
func (t *Txn) Context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Overlay returns the overlay this Txn grants access to.
func (t *Txn) Overlay() *Overlay {
	return t.overlay
}

// Check panics if t does not currently grant access to o. Types that keep
// state under an Overlay call it on entry to every mutating method.
func (t *Txn) Check(o *Overlay) {
	if t == nil || t.done {
		panic("correlate: use of expired or nil Txn")
	}
	if t.overlay != o {
		panic("correlate: Txn belongs to overlay " + t.overlay.ID + ", not " + o.ID)
	}
}

// Sink receives overlay item lifecycle events. It is always called inside
// Overlay.Update with the Txn of the triggering delta.
type Sink interface {
	OverlayItemCreated(txn *Txn, item *model.OverlayItem)
	OverlayItemUpdated(txn *Txn, item *model.OverlayItem)
	OverlayItemDeleted(txn *Txn, item *model.OverlayItem)
}
