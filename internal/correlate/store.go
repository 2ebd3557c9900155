package correlate

import "github.com/agentic-research/topoproc/internal/model"

// membership records which OverlayItem an underlay item belongs to and under
// which join key it was attached.
type membership struct {
	item *model.OverlayItem
	key  string
}

// Store is the correlation store of one operator. Items are indexed per
// underlay topology (the operator's kind is fixed); the join-key index is
// shared across topologies so items from different underlays can meet.
//
// Every bound identity is a member of exactly the OverlayItem it points to,
// and every member of an indexed OverlayItem is bound; bind and unbind are
// the only mutators and keep both directions in step.
type Store struct {
	byTopology map[string]map[string]membership // topology -> item id -> membership
	byKey      map[string]*model.OverlayItem
}

func newStore() *Store {
	return &Store{
		byTopology: make(map[string]map[string]membership),
		byKey:      make(map[string]*model.OverlayItem),
	}
}

func (s *Store) lookup(id model.Identity) (membership, bool) {
	m, ok := s.byTopology[id.Topology][id.ItemID]
	return m, ok
}

// bind adds u to the item indexed under key, creating that item if needed.
// It reports whether a new OverlayItem was created.
func (s *Store) bind(u *model.UnderlayItem, key string) (*model.OverlayItem, bool) {
	items, ok := s.byTopology[u.Topology]
	if !ok {
		items = make(map[string]membership)
		s.byTopology[u.Topology] = items
	}

	item, exists := s.byKey[key]
	if exists {
		item.Put(u)
	} else {
		item = model.NewOverlayItem(u)
		s.byKey[key] = item
	}
	items[u.ItemID] = membership{item: item, key: key}
	return item, !exists
}

// unbind removes id from its item and reports the item and whether it became
// empty (in which case it is also dropped from the key index).
func (s *Store) unbind(id model.Identity) (*model.OverlayItem, bool) {
	items := s.byTopology[id.Topology]
	m, ok := items[id.ItemID]
	if !ok {
		return nil, false
	}
	delete(items, id.ItemID)
	if len(items) == 0 {
		delete(s.byTopology, id.Topology)
	}

	m.item.Remove(id)
	if !m.item.IsEmpty() {
		return m.item, false
	}
	if s.byKey[m.key] == m.item {
		delete(s.byKey, m.key)
	}
	return m.item, true
}

// size returns the number of bound underlay items.
func (s *Store) size() int {
	n := 0
	for _, items := range s.byTopology {
		n += len(items)
	}
	return n
}
