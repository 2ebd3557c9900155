package topology

import (
	"strings"

	"github.com/agentic-research/topoproc/internal/model"
)

// Node is the overlay representation of a node wrapper.
type Node struct {
	NodeID            string             `json:"node-id"`
	SupportingNodes   []SupportingNode   `json:"supporting-node"`
	TerminationPoints []TerminationPoint `json:"termination-point,omitempty"`
}

type SupportingNode struct {
	TopologyRef string `json:"topology-ref"`
	NodeRef     string `json:"node-ref"`
}

// TerminationPoint is an overlay termination point, either nested in a Node
// or standing alone for a termination-point correlation.
type TerminationPoint struct {
	TPID          string         `json:"tp-id"`
	SupportingTPs []SupportingTP `json:"supporting-termination-point,omitempty"`
}

type SupportingTP struct {
	TopologyRef string `json:"topology-ref"`
	NodeRef     string `json:"node-ref"`
	TPRef       string `json:"tp-ref"`
}

// Link is the overlay representation of a link wrapper.
type Link struct {
	LinkID          string           `json:"link-id"`
	Source          LinkSource       `json:"source"`
	Destination     LinkDestination  `json:"destination"`
	SupportingLinks []SupportingLink `json:"supporting-link"`
}

type LinkSource struct {
	SourceNode string `json:"source-node"`
	SourceTP   string `json:"source-tp,omitempty"`
}

type LinkDestination struct {
	DestNode string `json:"dest-node"`
	DestTP   string `json:"dest-tp,omitempty"`
}

type SupportingLink struct {
	TopologyRef string `json:"topology-ref"`
	LinkRef     string `json:"link-ref"`
}

// NodeResolver maps an underlay node to the id of the overlay node that
// contains it.
type NodeResolver func(underlay model.Identity) (string, bool)

// TranslateNode renders a node wrapper together with the termination points
// of all its underlay nodes. Termination points with the same tp-id on
// different underlay nodes become one overlay termination point.
func TranslateNode(w *model.Wrapper) Node {
	out := Node{NodeID: w.ID}
	tpIndex := make(map[string]int)
	for _, u := range w.Underlay() {
		out.SupportingNodes = append(out.SupportingNodes, SupportingNode{
			TopologyRef: u.Topology,
			NodeRef:     u.ItemID,
		})
		order, _ := model.TerminationPoints(u.Content)
		for _, tpID := range order {
			i, ok := tpIndex[tpID]
			if !ok {
				i = len(out.TerminationPoints)
				tpIndex[tpID] = i
				out.TerminationPoints = append(out.TerminationPoints, TerminationPoint{TPID: tpID})
			}
			out.TerminationPoints[i].SupportingTPs = append(out.TerminationPoints[i].SupportingTPs, SupportingTP{
				TopologyRef: u.Topology,
				NodeRef:     u.ItemID,
				TPRef:       tpID,
			})
		}
	}
	return out
}

// TranslateTerminationPoint renders a termination-point wrapper. Underlay
// termination point ids have the form <node-id>/<tp-id>.
func TranslateTerminationPoint(w *model.Wrapper) TerminationPoint {
	out := TerminationPoint{TPID: w.ID}
	for _, u := range w.Underlay() {
		node, tp := splitTPID(u.ItemID)
		if ref := model.StringAt(u.Content, model.FieldNodeRef); ref != "" {
			node = ref
		}
		if ref := model.StringAt(u.Content, model.FieldTPID); ref != "" {
			tp = ref
		}
		out.SupportingTPs = append(out.SupportingTPs, SupportingTP{
			TopologyRef: u.Topology,
			NodeRef:     node,
			TPRef:       tp,
		})
	}
	return out
}

// TranslateLink renders a link wrapper. Endpoints come from the first
// underlay link; each underlay endpoint node is replaced by the overlay node
// containing it when resolve knows one.
func TranslateLink(w *model.Wrapper, resolve NodeResolver) Link {
	out := Link{LinkID: w.ID}
	underlay := w.Underlay()
	for _, u := range underlay {
		out.SupportingLinks = append(out.SupportingLinks, SupportingLink{
			TopologyRef: u.Topology,
			LinkRef:     u.ItemID,
		})
	}
	if len(underlay) == 0 {
		return out
	}

	first := underlay[0]
	src, dst := LinkEndpoints(first)
	out.Source = LinkSource{
		SourceNode: resolveNode(resolve, src),
		SourceTP:   model.StringAt(first.Content, model.FieldSource, model.FieldSourceTP),
	}
	out.Destination = LinkDestination{
		DestNode: resolveNode(resolve, dst),
		DestTP:   model.StringAt(first.Content, model.FieldDestination, model.FieldDestTP),
	}
	return out
}

// LinkEndpoints returns the underlay node identities an underlay link
// connects. An endpoint the link does not name has an empty ItemID.
func LinkEndpoints(link *model.UnderlayItem) (src, dst model.Identity) {
	src = model.Identity{
		Topology: link.Topology,
		ItemID:   model.StringAt(link.Content, model.FieldSource, model.FieldSourceNode),
		Kind:     model.Node,
	}
	dst = model.Identity{
		Topology: link.Topology,
		ItemID:   model.StringAt(link.Content, model.FieldDestination, model.FieldDestNode),
		Kind:     model.Node,
	}
	return src, dst
}

func resolveNode(resolve NodeResolver, id model.Identity) string {
	if id.ItemID == "" {
		return ""
	}
	if resolve != nil {
		if overlay, ok := resolve(id); ok {
			return overlay
		}
	}
	return id.ItemID
}

func splitTPID(itemID string) (node, tp string) {
	i := strings.LastIndexByte(itemID, '/')
	if i < 0 {
		return "", itemID
	}
	return itemID[:i], itemID[i+1:]
}
