// Package copier mirrors the items of one underlay topology into another
// topology unchanged.
package copier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/committer"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/model"
)

// Writer accepts idempotent write operations.
type Writer interface {
	Submit(ctx context.Context, op committer.Op) error
}

// Copier writes every committed item of (Source, Kind) to the same item id
// under Target.
type Copier struct {
	source, target string
	kind           model.ItemKind
	writer         Writer
	ctx            context.Context
	logger         *zap.Logger

	reg datastore.Registration
}

// Start registers a copier on store. Items already present under source are
// copied first, in path order, ahead of any later change.
func Start(ctx context.Context, store datastore.Store, source, target string, kind model.ItemKind, w Writer, logger *zap.Logger) (*Copier, error) {
	if source == target {
		return nil, fmt.Errorf("copy %s onto itself", source)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Copier{
		source: source,
		target: target,
		kind:   kind,
		writer: w,
		ctx:    ctx,
		logger: logger.Named("copier").With(zap.String("source", source), zap.String("target", target)),
	}

	prefix := datastore.KindPrefix(source, kind)
	reg, err := store.RegisterChangeListenerWithSnapshot(ctx, prefix, c)
	if err != nil {
		return nil, fmt.Errorf("register copier: %w", err)
	}
	c.reg = reg
	return c, nil
}

func (c *Copier) Close() {
	if c.reg != nil {
		c.reg.Close()
	}
}

func (c *Copier) OnDataChanged(changes []datastore.Change) {
	for _, ch := range changes {
		c.copy(ch)
	}
}

func (c *Copier) copy(ch datastore.Change) {
	topo, kind, itemID, ok := datastore.ParseItemPath(ch.Path)
	if !ok || topo != c.source || kind != c.kind {
		return
	}
	dst := datastore.ItemPath(c.target, kind, itemID)

	op := committer.Put(dst, ch.After)
	if ch.After == nil {
		op = committer.Delete(dst)
	}
	if err := c.writer.Submit(c.ctx, op); err != nil {
		c.logger.Warn("Dropping copy", zap.String("item", itemID), zap.Error(err))
	}
}
