// Package listener turns committed datastore changes of one underlay
// topology into create, update and remove deltas for a correlation operator.
package listener

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/correlate"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/model"
)

// Operator is the part of *correlate.Operator a listener drives.
type Operator interface {
	Overlay() *correlate.Overlay
	Kind() model.ItemKind
	Create(txn *correlate.Txn, u *model.UnderlayItem)
	Update(txn *correlate.Txn, u *model.UnderlayItem)
	Remove(txn *correlate.Txn, id model.Identity)
}

var _ Operator = (*correlate.Operator)(nil)

// Listener feeds one underlay topology into one operator.
type Listener struct {
	topology string
	op       Operator
	ctx      context.Context
	logger   *zap.Logger

	reg datastore.Registration
}

// Register subscribes a listener for topology on store. The items already
// stored there reach the operator first, as creations, ahead of any later
// change. Termination points live
// nested in nodes, so a termination-point operator listens to the topology's
// nodes. ctx bounds the writes the listener's deltas cause.
func Register(ctx context.Context, store datastore.Store, topology string, op Operator, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		topology: topology,
		op:       op,
		ctx:      ctx,
		logger: logger.Named("listener").With(
			zap.String("underlay", topology),
			zap.Stringer("kind", op.Kind()),
			zap.String("store", string(store.Type())),
		),
	}

	watched := op.Kind()
	if watched == model.TerminationPoint {
		watched = model.Node
	}
	prefix := datastore.KindPrefix(topology, watched)
	reg, err := store.RegisterChangeListenerWithSnapshot(ctx, prefix, l)
	if err != nil {
		return nil, fmt.Errorf("register listener for %s: %w", topology, err)
	}
	l.reg = reg
	return l, nil
}

// Close ends the registration. No delta is delivered after Close returns.
func (l *Listener) Close() {
	if l.reg != nil {
		l.reg.Close()
	}
}

// Delta is one create, update or remove of an underlay item.
type Delta struct {
	Type DeltaType
	Item *model.UnderlayItem // nil for Removed
	ID   model.Identity
}

type DeltaType int

const (
	Created DeltaType = iota
	Updated
	Removed
)

func (d DeltaType) String() string {
	switch d {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("DeltaType(%d)", int(d))
	}
}

// OnDataChanged implements datastore.ChangeListener.
func (l *Listener) OnDataChanged(changes []datastore.Change) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("Change notification panicked", zap.Any("panic", p))
		}
	}()

	var deltas []Delta
	for _, c := range changes {
		ds, err := Deltas(l.topology, l.op.Kind(), c)
		if err != nil {
			l.logger.Warn("Skipping change", zap.String("path", c.Path), zap.Error(err))
			continue
		}
		deltas = append(deltas, ds...)
	}
	if len(deltas) == 0 {
		return
	}

	l.op.Overlay().Update(l.ctx, func(txn *correlate.Txn) {
		for _, d := range deltas {
			switch d.Type {
			case Created:
				l.op.Create(txn, d.Item)
			case Updated:
				l.op.Update(txn, d.Item)
			case Removed:
				l.op.Remove(txn, d.ID)
			}
		}
	})
	l.logger.Debug("Applied deltas", zap.Int("count", len(deltas)))
}

// Deltas computes the deltas of kind carried by one change under topology.
// A change whose content did not actually change yields nothing.
func Deltas(topology string, kind model.ItemKind, c datastore.Change) ([]Delta, error) {
	topo, pathKind, itemID, ok := datastore.ParseItemPath(c.Path)
	if !ok || topo != topology {
		return nil, fmt.Errorf("unexpected path %q", c.Path)
	}

	before, err := decode(c.Before)
	if err != nil {
		return nil, fmt.Errorf("decode before: %w", err)
	}
	after, err := decode(c.After)
	if err != nil {
		return nil, fmt.Errorf("decode after: %w", err)
	}

	if kind == model.TerminationPoint && pathKind == model.Node {
		return tpDeltas(topology, itemID, before, after), nil
	}
	if pathKind != kind {
		return nil, fmt.Errorf("path %q is not a %s", c.Path, kind)
	}
	id := model.Identity{Topology: topology, ItemID: itemID, Kind: kind}
	if d, ok := diff(id, before, after); ok {
		return []Delta{d}, nil
	}
	return nil, nil
}

// tpDeltas diffs the termination point lists nested in a node's before and
// after contents. Each termination point becomes an item with id
// <node-id>/<tp-id> carrying a node-ref back to its node.
func tpDeltas(topology, nodeID string, before, after map[string]any) []Delta {
	beforeOrder, beforeTPs := model.TerminationPoints(before)
	afterOrder, afterTPs := model.TerminationPoints(after)

	var out []Delta
	for _, tpID := range beforeOrder {
		if _, ok := afterTPs[tpID]; ok {
			continue
		}
		out = append(out, Delta{Type: Removed, ID: tpIdentity(topology, nodeID, tpID)})
	}
	for _, tpID := range afterOrder {
		id := tpIdentity(topology, nodeID, tpID)
		var prev map[string]any
		if tp, ok := beforeTPs[tpID]; ok {
			prev = tpContent(nodeID, tp)
		}
		if d, ok := diff(id, prev, tpContent(nodeID, afterTPs[tpID])); ok {
			out = append(out, d)
		}
	}
	return out
}

func tpIdentity(topology, nodeID, tpID string) model.Identity {
	return model.Identity{Topology: topology, ItemID: nodeID + "/" + tpID, Kind: model.TerminationPoint}
}

func tpContent(nodeID string, tp map[string]any) map[string]any {
	out := make(map[string]any, len(tp)+1)
	for k, v := range tp {
		out[k] = v
	}
	out[model.FieldNodeRef] = nodeID
	return out
}

func diff(id model.Identity, before, after map[string]any) (Delta, bool) {
	switch {
	case before == nil && after == nil:
		return Delta{}, false
	case after == nil:
		return Delta{Type: Removed, ID: id}, true
	case before == nil:
		return Delta{Type: Created, ID: id, Item: item(id, after)}, true
	case reflect.DeepEqual(before, after):
		return Delta{}, false
	default:
		return Delta{Type: Updated, ID: id, Item: item(id, after)}, true
	}
}

func item(id model.Identity, content map[string]any) *model.UnderlayItem {
	return &model.UnderlayItem{Identity: id, Content: content}
}

func decode(data []byte) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	return model.DecodeContent(data)
}
