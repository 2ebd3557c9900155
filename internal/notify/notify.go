// Package notify tells downstream consumers about overlay topology changes as
// typed node, termination point and link events.
package notify

import (
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/model"
)

// Event describes one changed overlay item.
type Event struct {
	Store    datastore.Type
	Topology string // topology path, e.g. "topology/overlay-1"
	Key      string // item id; <node-id>/<tp-id> for nested termination points
	Item     map[string]any
}

// Listener receives overlay events. Deleted events carry the last known Item.
type Listener interface {
	OnNodeCreated(Event)
	OnNodeUpdated(Event)
	OnNodeDeleted(Event)
	OnTpCreated(Event)
	OnTpUpdated(Event)
	OnTpDeleted(Event)
	OnLinkCreated(Event)
	OnLinkUpdated(Event)
	OnLinkDeleted(Event)
}

// Base implements Listener with no-ops. Embed it to handle only some events.
type Base struct{}

func (Base) OnNodeCreated(Event) {}
func (Base) OnNodeUpdated(Event) {}
func (Base) OnNodeDeleted(Event) {}
func (Base) OnTpCreated(Event)   {}
func (Base) OnTpUpdated(Event)   {}
func (Base) OnTpDeleted(Event)   {}
func (Base) OnLinkCreated(Event) {}
func (Base) OnLinkUpdated(Event) {}
func (Base) OnLinkDeleted(Event) {}

var _ Listener = Base{}

// Dispatcher translates the committed changes of one overlay topology into
// Listener calls. Calls happen on the store's delivery goroutine, in commit
// order.
type Dispatcher struct {
	store    datastore.Type
	topology string
	listener Listener
	logger   *zap.Logger

	reg datastore.Registration
}

// Register starts dispatching changes of overlay in store to l.
func Register(store datastore.Store, overlay string, l Listener, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := datastore.TopologyPrefix(overlay)
	d := &Dispatcher{
		store:    store.Type(),
		topology: strings.TrimSuffix(prefix, "/"),
		listener: l,
		logger:   logger.Named("notify").With(zap.String("overlay", overlay)),
	}
	reg, err := store.RegisterChangeListener(prefix, d)
	if err != nil {
		return nil, err
	}
	d.reg = reg
	return d, nil
}

func (d *Dispatcher) Close() {
	if d.reg != nil {
		d.reg.Close()
	}
}

func (d *Dispatcher) OnDataChanged(changes []datastore.Change) {
	for _, c := range changes {
		d.dispatch(c)
	}
}

func (d *Dispatcher) dispatch(c datastore.Change) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("Listener panicked", zap.String("path", c.Path), zap.Any("panic", p))
		}
	}()

	_, kind, key, ok := datastore.ParseItemPath(c.Path)
	if !ok {
		d.logger.Debug("Ignoring change outside topology items", zap.String("path", c.Path))
		return
	}
	before, err := decode(c.Before)
	if err != nil {
		d.logger.Warn("Undecodable previous value", zap.String("path", c.Path), zap.Error(err))
	}
	after, err := decode(c.After)
	if err != nil {
		d.logger.Warn("Undecodable value", zap.String("path", c.Path), zap.Error(err))
		return
	}

	l := d.listener
	switch kind {
	case model.Node:
		d.fire(key, before, after, l.OnNodeCreated, l.OnNodeUpdated, l.OnNodeDeleted)
		d.nestedTPs(key, before, after)
	case model.TerminationPoint:
		d.fire(key, before, after, l.OnTpCreated, l.OnTpUpdated, l.OnTpDeleted)
	case model.Link:
		d.fire(key, before, after, l.OnLinkCreated, l.OnLinkUpdated, l.OnLinkDeleted)
	}
}

func (d *Dispatcher) nestedTPs(node string, before, after map[string]any) {
	beforeOrder, beforeTPs := model.TerminationPoints(before)
	afterOrder, afterTPs := model.TerminationPoints(after)
	l := d.listener
	for _, id := range beforeOrder {
		if _, ok := afterTPs[id]; !ok {
			d.fire(node+"/"+id, beforeTPs[id], nil, l.OnTpCreated, l.OnTpUpdated, l.OnTpDeleted)
		}
	}
	for _, id := range afterOrder {
		d.fire(node+"/"+id, beforeTPs[id], afterTPs[id], l.OnTpCreated, l.OnTpUpdated, l.OnTpDeleted)
	}
}

func (d *Dispatcher) fire(key string, before, after map[string]any, created, updated, deleted func(Event)) {
	ev := Event{Store: d.store, Topology: d.topology, Key: key, Item: after}
	switch {
	case before == nil && after == nil:
	case after == nil:
		ev.Item = before
		deleted(ev)
	case before == nil:
		created(ev)
	case !reflect.DeepEqual(before, after):
		updated(ev)
	}
}

func decode(data []byte) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	return model.DecodeContent(data)
}
