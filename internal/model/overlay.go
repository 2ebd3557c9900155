package model

// OverlayItem is the ordered set of underlay items one correlation currently
// considers equivalent. All members share Kind and no Identity appears twice.
type OverlayItem struct {
	Kind    ItemKind
	members []*UnderlayItem

	// Wrapper is the wrapper that currently owns this item. It is set by the
	// topology manager and cleared when the item is dropped from it.
	Wrapper *Wrapper
}

// NewOverlayItem creates an OverlayItem holding a single member.
func NewOverlayItem(first *UnderlayItem) *OverlayItem {
	return &OverlayItem{
		Kind:    first.Kind,
		members: []*UnderlayItem{first},
	}
}

// Members returns the current members in insertion order. The returned slice
// must not be modified.
func (o *OverlayItem) Members() []*UnderlayItem {
	return o.members
}

// Len returns the number of members.
func (o *OverlayItem) Len() int {
	return len(o.members)
}

// IsEmpty reports whether the item has lost its last member.
func (o *OverlayItem) IsEmpty() bool {
	return len(o.members) == 0
}

func (o *OverlayItem) indexOf(id Identity) int {
	for i, m := range o.members {
		if m.Identity == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is a member.
func (o *OverlayItem) Contains(id Identity) bool {
	return o.indexOf(id) >= 0
}

// Put adds u as a member, or replaces the existing member with the same
// identity in place. It reports whether u was newly added.
func (o *OverlayItem) Put(u *UnderlayItem) bool {
	if i := o.indexOf(u.Identity); i >= 0 {
		o.members[i] = u
		return false
	}
	o.members = append(o.members, u)
	return true
}

// Remove drops the member with the given identity and reports whether it was
// present.
func (o *OverlayItem) Remove(id Identity) bool {
	i := o.indexOf(id)
	if i < 0 {
		return false
	}
	o.members = append(o.members[:i], o.members[i+1:]...)
	return true
}

// Wrapper is the externally addressable overlay entity. Its ID is assigned
// once and never reused; it owns one OverlayItem per correlation that feeds
// it, in the order they were attached.
type Wrapper struct {
	ID    string
	Kind  ItemKind
	items []*OverlayItem
}

// NewWrapper creates a wrapper owning first.
func NewWrapper(id string, first *OverlayItem) *Wrapper {
	w := &Wrapper{ID: id, Kind: first.Kind}
	w.Attach(first)
	return w
}

// Items returns the owned OverlayItems in attachment order.
func (w *Wrapper) Items() []*OverlayItem {
	return w.items
}

// Attach adds o to the wrapper. Attaching an item twice is a no-op.
func (w *Wrapper) Attach(o *OverlayItem) {
	for _, it := range w.items {
		if it == o {
			return
		}
	}
	w.items = append(w.items, o)
	o.Wrapper = w
}

// Detach removes o from the wrapper.
func (w *Wrapper) Detach(o *OverlayItem) {
	for i, it := range w.items {
		if it == o {
			w.items = append(w.items[:i], w.items[i+1:]...)
			o.Wrapper = nil
			return
		}
	}
}

// IsEmpty reports whether the wrapper no longer owns a non-empty OverlayItem.
func (w *Wrapper) IsEmpty() bool {
	for _, it := range w.items {
		if !it.IsEmpty() {
			return false
		}
	}
	return true
}

// Underlay returns every distinct underlay item reachable from the wrapper,
// in the order its OverlayItem was attached and then member order.
func (w *Wrapper) Underlay() []*UnderlayItem {
	seen := make(map[Identity]struct{})
	var out []*UnderlayItem
	for _, it := range w.items {
		for _, m := range it.members {
			if _, ok := seen[m.Identity]; ok {
				continue
			}
			seen[m.Identity] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// Member returns the current snapshot of the member with the given identity.
func (o *OverlayItem) Member(id Identity) (*UnderlayItem, bool) {
	if i := o.indexOf(id); i >= 0 {
		return o.members[i], true
	}
	return nil, false
}
