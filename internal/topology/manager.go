// Package topology owns the overlay wrappers of one overlay topology: it
// merges OverlayItems from the overlay's correlations into wrappers, assigns
// wrapper ids, translates wrappers into overlay topology items and hands the
// resulting writes to a committer.
package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/committer"
	"github.com/agentic-research/topoproc/internal/correlate"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/model"
)

// Writer accepts idempotent write operations. *committer.Committer
// implements it.
type Writer interface {
	Submit(ctx context.Context, op committer.Op) error
}

// Manager is the sink of every operator of one overlay. All of its state is
// guarded by the overlay's correlate.Overlay and is only touched with a Txn.
type Manager struct {
	overlay *correlate.Overlay
	writer  Writer
	logger  *zap.Logger

	nextID   uint32
	wrappers map[uint32]*model.Wrapper

	// Roaring bitmap indexes over wrapper int ids.
	byUnderlay  map[model.Identity]*roaring.Bitmap // underlay item → wrappers containing it
	linksByNode map[model.Identity]*roaring.Bitmap // underlay node → link wrappers ending at it
	indexed     map[uint32][]model.Identity        // wrapper → identities it is indexed under
	endpoints   map[uint32][]model.Identity        // link wrapper → endpoint nodes it is indexed under
	intIDs      map[*model.Wrapper]uint32
}

// NewManager creates the manager of overlay, writing through w.
func NewManager(overlay *correlate.Overlay, w Writer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		overlay:     overlay,
		writer:      w,
		logger:      logger.Named("topology").With(zap.String("overlay", overlay.ID)),
		wrappers:    make(map[uint32]*model.Wrapper),
		byUnderlay:  make(map[model.Identity]*roaring.Bitmap),
		linksByNode: make(map[model.Identity]*roaring.Bitmap),
		indexed:     make(map[uint32][]model.Identity),
		endpoints:   make(map[uint32][]model.Identity),
		intIDs:      make(map[*model.Wrapper]uint32),
	}
}

var _ correlate.Sink = (*Manager)(nil)

// OverlayItemCreated adds item to the wrapper that already holds one of its
// underlay items, or to a new wrapper.
func (m *Manager) OverlayItemCreated(txn *correlate.Txn, item *model.OverlayItem) {
	txn.Check(m.overlay)

	if id, w, ok := m.findWrapperSharing(item); ok {
		w.Attach(item)
		m.logger.Debug("Merged overlay item into wrapper", zap.String("wrapper", w.ID))
		m.changed(txn, id, w)
		return
	}

	m.nextID++
	id := m.nextID
	w := model.NewWrapper(fmt.Sprintf("%s:%d", m.overlay.ID, id), item)
	m.wrappers[id] = w
	m.intIDs[w] = id
	m.logger.Debug("Created wrapper", zap.String("wrapper", w.ID), zap.Stringer("kind", w.Kind))
	m.changed(txn, id, w)
}

// OverlayItemUpdated retranslates the wrapper owning item. The item stays in
// its wrapper even when its membership now overlaps another wrapper.
func (m *Manager) OverlayItemUpdated(txn *correlate.Txn, item *model.OverlayItem) {
	txn.Check(m.overlay)

	w := item.Wrapper
	if w == nil {
		m.logger.Warn("Update for overlay item without wrapper")
		return
	}
	m.changed(txn, m.intIDs[w], w)
}

// OverlayItemDeleted drops item from its wrapper and deletes the wrapper once
// nothing is left in it.
func (m *Manager) OverlayItemDeleted(txn *correlate.Txn, item *model.OverlayItem) {
	txn.Check(m.overlay)

	w := item.Wrapper
	if w == nil {
		return
	}
	id := m.intIDs[w]
	w.Detach(item)
	if !w.IsEmpty() {
		m.changed(txn, id, w)
		return
	}

	nodes := m.unindex(id)
	delete(m.wrappers, id)
	delete(m.intIDs, w)
	m.logger.Debug("Deleted wrapper", zap.String("wrapper", w.ID))
	m.submit(txn, committer.Delete(datastore.ItemPath(m.overlay.ID, w.Kind, w.ID)))
	if w.Kind == model.Node {
		m.retranslateLinks(txn, nodes)
	}
}

// Wrappers returns the current wrappers ordered by creation.
func (m *Manager) Wrappers(txn *correlate.Txn) []*model.Wrapper {
	txn.Check(m.overlay)
	ids := make([]uint32, 0, len(m.wrappers))
	for id := range m.wrappers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*model.Wrapper, len(ids))
	for i, id := range ids {
		out[i] = m.wrappers[id]
	}
	return out
}

// WrapperOf returns the wrapper containing underlay item u.
func (m *Manager) WrapperOf(txn *correlate.Txn, u model.Identity) (*model.Wrapper, bool) {
	txn.Check(m.overlay)
	return m.wrapperOf(u)
}

func (m *Manager) wrapperOf(u model.Identity) (*model.Wrapper, bool) {
	bm, ok := m.byUnderlay[u]
	if !ok || bm.IsEmpty() {
		return nil, false
	}
	w, ok := m.wrappers[bm.Minimum()]
	return w, ok
}

func (m *Manager) findWrapperSharing(item *model.OverlayItem) (uint32, *model.Wrapper, bool) {
	for _, u := range item.Members() {
		bm, ok := m.byUnderlay[u.Identity]
		if !ok {
			continue
		}
		it := bm.Iterator()
		for it.HasNext() {
			id := it.Next()
			if w := m.wrappers[id]; w != nil && w.Kind == item.Kind {
				return id, w, true
			}
		}
	}
	return 0, nil, false
}

// changed reindexes w, writes its translation and, for node wrappers,
// retranslates the links whose endpoints it covers now or covered before.
func (m *Manager) changed(txn *correlate.Txn, id uint32, w *model.Wrapper) {
	before := m.unindex(id)
	m.index(id, w)
	m.write(txn, w)
	if w.Kind == model.Node {
		m.retranslateLinks(txn, append(before, m.indexed[id]...))
	}
}

func (m *Manager) index(id uint32, w *model.Wrapper) {
	underlay := w.Underlay()
	ids := make([]model.Identity, 0, len(underlay))
	for _, u := range underlay {
		bm, ok := m.byUnderlay[u.Identity]
		if !ok {
			bm = roaring.New()
			m.byUnderlay[u.Identity] = bm
		}
		bm.Add(id)
		ids = append(ids, u.Identity)
	}
	m.indexed[id] = ids

	if w.Kind != model.Link || len(underlay) == 0 {
		return
	}
	src, dst := LinkEndpoints(underlay[0])
	var ends []model.Identity
	for _, n := range []model.Identity{src, dst} {
		if n.ItemID == "" {
			continue
		}
		bm, ok := m.linksByNode[n]
		if !ok {
			bm = roaring.New()
			m.linksByNode[n] = bm
		}
		bm.Add(id)
		ends = append(ends, n)
	}
	m.endpoints[id] = ends
}

// unindex removes every index entry of wrapper id and returns the underlay
// identities it was indexed under.
func (m *Manager) unindex(id uint32) []model.Identity {
	ids := m.indexed[id]
	for _, u := range ids {
		if bm, ok := m.byUnderlay[u]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(m.byUnderlay, u)
			}
		}
	}
	delete(m.indexed, id)

	for _, n := range m.endpoints[id] {
		if bm, ok := m.linksByNode[n]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(m.linksByNode, n)
			}
		}
	}
	delete(m.endpoints, id)
	return ids
}

func (m *Manager) retranslateLinks(txn *correlate.Txn, nodes []model.Identity) {
	links := roaring.New()
	for _, n := range nodes {
		if bm, ok := m.linksByNode[n]; ok {
			links.Or(bm)
		}
	}
	it := links.Iterator()
	for it.HasNext() {
		id := it.Next()
		if w := m.wrappers[id]; w != nil {
			m.write(txn, w)
		}
	}
}

func (m *Manager) resolveNode(u model.Identity) (string, bool) {
	w, ok := m.wrapperOf(u)
	if !ok || w.Kind != model.Node {
		return "", false
	}
	return w.ID, true
}

func (m *Manager) write(txn *correlate.Txn, w *model.Wrapper) {
	var v any
	switch w.Kind {
	case model.Node:
		v = TranslateNode(w)
	case model.TerminationPoint:
		v = TranslateTerminationPoint(w)
	case model.Link:
		v = TranslateLink(w, m.resolveNode)
	default:
		m.logger.Error("Wrapper of unknown kind", zap.String("wrapper", w.ID), zap.Stringer("kind", w.Kind))
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("Marshal wrapper failed", zap.String("wrapper", w.ID), zap.Error(err))
		return
	}
	m.submit(txn, committer.Put(datastore.ItemPath(m.overlay.ID, w.Kind, w.ID), data))
}

func (m *Manager) submit(txn *correlate.Txn, op committer.Op) {
	if err := m.writer.Submit(txn.Context(), op); err != nil {
		m.logger.Warn("Dropping overlay write", zap.Error(err))
	}
}
