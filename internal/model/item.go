package model

import "fmt"

// ItemKind is the kind of topology element an item represents.
type ItemKind int

const (
	Node ItemKind = iota
	TerminationPoint
	Link
)

func (k ItemKind) String() string {
	switch k {
	case Node:
		return "node"
	case TerminationPoint:
		return "termination-point"
	case Link:
		return "link"
	default:
		return fmt.Sprintf("ItemKind(%d)", int(k))
	}
}

// ParseItemKind maps the textual kind used in configuration and datastore
// paths back to an ItemKind.
func ParseItemKind(s string) (ItemKind, error) {
	switch s {
	case "node":
		return Node, nil
	case "termination-point", "tp":
		return TerminationPoint, nil
	case "link":
		return Link, nil
	}
	return 0, fmt.Errorf("unknown item kind %q", s)
}

// Identity names one underlay element. The topology is part of the identity,
// so equal item ids from different underlay topologies never collide.
type Identity struct {
	Topology string
	ItemID   string
	Kind     ItemKind
}

func (id Identity) String() string {
	return id.Topology + "/" + id.Kind.String() + "/" + id.ItemID
}

// UnderlayItem is one raw element as seen in exactly one underlay topology.
// It is immutable: an update produces a new UnderlayItem with the same
// Identity and new Content.
type UnderlayItem struct {
	Identity
	Content map[string]any
}

// NewUnderlayItem builds an UnderlayItem for the given topology element.
func NewUnderlayItem(topology, itemID string, kind ItemKind, content map[string]any) *UnderlayItem {
	return &UnderlayItem{
		Identity: Identity{Topology: topology, ItemID: itemID, Kind: kind},
		Content:  content,
	}
}
