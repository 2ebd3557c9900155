package correlate

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/filter"
	"github.com/agentic-research/topoproc/internal/model"
	"github.com/agentic-research/topoproc/internal/schema"
)

// AggregationType selects how an operator computes join keys.
type AggregationType int

const (
	// None keys every item by its own identity: filtration only, each
	// passing underlay item becomes its own overlay item.
	None AggregationType = iota
	// Equality joins items whose declared field values are equal.
	Equality
	// Unification joins items mapped to the same logical name by an
	// explicit, content-independent table.
	Unification
)

func (a AggregationType) String() string {
	switch a {
	case None:
		return "none"
	case Equality:
		return "equality"
	case Unification:
		return "unification"
	default:
		return fmt.Sprintf("AggregationType(%d)", int(a))
	}
}

// ParseAggregationType maps a configuration string to an AggregationType.
// The empty string means None.
func ParseAggregationType(s string) (AggregationType, error) {
	switch s {
	case "", "none", "filtration":
		return None, nil
	case "equality":
		return Equality, nil
	case "unification":
		return Unification, nil
	}
	return 0, fmt.Errorf("%w: unknown aggregation type %q", ErrInvalidCorrelation, s)
}

// ErrInvalidCorrelation reports an operator configuration that cannot work.
var ErrInvalidCorrelation = errors.New("invalid correlation")

// Config declares one correlation.
type Config struct {
	Name        string
	Kind        model.ItemKind
	Aggregation AggregationType

	// Topologies lists the underlay topologies feeding the operator.
	Topologies []string

	// Fields holds the Equality join field per underlay topology.
	Fields map[string]*schema.Accessor

	// Mapping holds the Unification table: topology -> item id -> logical name.
	Mapping map[string]map[string]string

	// Filters holds filter chains per underlay topology; the chain under ""
	// applies to every topology.
	Filters map[string]filter.Chain
}

// Operator is the aggregation/filtration engine of one correlation. It is
// shared by every listener feeding the correlation; all methods require a Txn
// of the overlay the operator was built for.
type Operator struct {
	overlay *Overlay
	cfg     Config
	sink    Sink
	logger  *zap.Logger

	store    *Store
	filtered map[model.Identity]struct{}
}

// NewOperator validates cfg and builds an operator emitting to sink.
func NewOperator(overlay *Overlay, cfg Config, sink Sink, logger *zap.Logger) (*Operator, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: %s: no sink", ErrInvalidCorrelation, cfg.Name)
	}
	if len(cfg.Topologies) == 0 {
		return nil, fmt.Errorf("%w: %s: no underlay topologies", ErrInvalidCorrelation, cfg.Name)
	}
	switch cfg.Aggregation {
	case None:
	case Equality:
		for _, topo := range cfg.Topologies {
			if cfg.Fields[topo] == nil {
				return nil, fmt.Errorf("%w: %s: no join field for underlay %q", ErrInvalidCorrelation, cfg.Name, topo)
			}
		}
	case Unification:
		if len(cfg.Mapping) == 0 {
			return nil, fmt.Errorf("%w: %s: unification needs a name mapping", ErrInvalidCorrelation, cfg.Name)
		}
	default:
		return nil, fmt.Errorf("%w: %s: unknown aggregation %v", ErrInvalidCorrelation, cfg.Name, cfg.Aggregation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Operator{
		overlay:  overlay,
		cfg:      cfg,
		sink:     sink,
		logger:   logger.Named("operator").With(zap.String("overlay", overlay.ID), zap.String("correlation", cfg.Name)),
		store:    newStore(),
		filtered: make(map[model.Identity]struct{}),
	}, nil
}

// Name returns the correlation name.
func (op *Operator) Name() string { return op.cfg.Name }

// Kind returns the item kind the operator correlates.
func (op *Operator) Kind() model.ItemKind { return op.cfg.Kind }

// Overlay returns the overlay context the operator belongs to.
func (op *Operator) Overlay() *Overlay { return op.overlay }

// Create handles a newly observed underlay item. Creating an item that is
// already a member with identical content changes nothing.
func (op *Operator) Create(txn *Txn, u *model.UnderlayItem) {
	txn.Check(op.overlay)
	op.upsert(txn, u)
}

// Update handles new content for a known underlay item. It behaves as a
// remove followed by a create, except that an unchanged join key refreshes
// the member in place.
func (op *Operator) Update(txn *Txn, u *model.UnderlayItem) {
	txn.Check(op.overlay)
	op.upsert(txn, u)
}

// Remove handles the disappearance of an underlay item.
func (op *Operator) Remove(txn *Txn, id model.Identity) {
	txn.Check(op.overlay)
	delete(op.filtered, id)
	if _, ok := op.store.lookup(id); ok {
		op.detach(txn, id)
	}
}

// Owner returns the OverlayItem id currently belongs to.
func (op *Operator) Owner(txn *Txn, id model.Identity) (*model.OverlayItem, bool) {
	txn.Check(op.overlay)
	m, ok := op.store.lookup(id)
	return m.item, ok
}

// IsFiltered reports whether id was last seen failing this correlation.
func (op *Operator) IsFiltered(txn *Txn, id model.Identity) bool {
	txn.Check(op.overlay)
	_, ok := op.filtered[id]
	return ok
}

// Members returns the number of underlay items currently joined.
func (op *Operator) Members(txn *Txn) int {
	txn.Check(op.overlay)
	return op.store.size()
}

func (op *Operator) upsert(txn *Txn, u *model.UnderlayItem) {
	id := u.Identity
	if id.Kind != op.cfg.Kind {
		op.logger.Debug("Ignoring item of foreign kind", zap.Stringer("item", id))
		return
	}
	prev, member := op.store.lookup(id)

	key, ok := op.key(u)
	if !ok {
		op.filtered[id] = struct{}{}
		if member {
			op.detach(txn, id)
		}
		return
	}
	delete(op.filtered, id)

	if member && prev.key == key {
		old, _ := prev.item.Member(id)
		prev.item.Put(u)
		if old == nil || !reflect.DeepEqual(old.Content, u.Content) {
			op.sink.OverlayItemUpdated(txn, prev.item)
		}
		return
	}
	if member {
		op.detach(txn, id)
	}

	item, created := op.store.bind(u, key)
	if created {
		op.sink.OverlayItemCreated(txn, item)
	} else {
		op.sink.OverlayItemUpdated(txn, item)
	}
}

func (op *Operator) detach(txn *Txn, id model.Identity) {
	item, empty := op.store.unbind(id)
	if item == nil {
		return
	}
	if empty {
		op.sink.OverlayItemDeleted(txn, item)
		return
	}
	op.sink.OverlayItemUpdated(txn, item)
}

// key runs the filter chains and computes the join key. ok is false when the
// item is filtered out, including when its join field is absent.
func (op *Operator) key(u *model.UnderlayItem) (string, bool) {
	if !op.cfg.Filters[""].Passes(u.Content) {
		return "", false
	}
	if u.Topology != "" && !op.cfg.Filters[u.Topology].Passes(u.Content) {
		return "", false
	}

	switch op.cfg.Aggregation {
	case Equality:
		field := op.cfg.Fields[u.Topology]
		if field == nil {
			op.logger.Debug("No join field for underlay", zap.Stringer("item", u.Identity))
			return "", false
		}
		v, ok := field.String(u.Content)
		if !ok {
			op.logger.Debug("Join field absent", zap.Stringer("item", u.Identity), zap.String("field", field.Path))
			return "", false
		}
		return v, true
	case Unification:
		name, ok := op.cfg.Mapping[u.Topology][u.ItemID]
		if !ok || name == "" {
			op.logger.Debug("Item not in unification table", zap.Stringer("item", u.Identity))
			return "", false
		}
		return name, true
	default:
		return u.Identity.String(), true
	}
}
