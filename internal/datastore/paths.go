package datastore

import (
	"strings"

	"github.com/agentic-research/topoproc/internal/model"
)

const topologyRoot = "topology"

// RootPrefix is the path prefix of every topology item.
const RootPrefix = topologyRoot + "/"

// TopologyPrefix is the path prefix under which every item of topology lives.
func TopologyPrefix(topology string) string {
	return topologyRoot + "/" + topology + "/"
}

// KindPrefix is the path prefix of every item of kind in topology.
func KindPrefix(topology string, kind model.ItemKind) string {
	return TopologyPrefix(topology) + kind.String() + "/"
}

// ItemPath is the path of one topology item.
func ItemPath(topology string, kind model.ItemKind, itemID string) string {
	return KindPrefix(topology, kind) + itemID
}

// ParseItemPath splits an item path built by ItemPath. Item ids may contain
// '/'; everything after the kind segment is the id.
func ParseItemPath(path string) (topology string, kind model.ItemKind, itemID string, ok bool) {
	parts := strings.SplitN(path, "/", 4)
	if len(parts) != 4 || parts[0] != topologyRoot || parts[1] == "" || parts[3] == "" {
		return "", 0, "", false
	}
	kind, err := model.ParseItemKind(parts[2])
	if err != nil {
		return "", 0, "", false
	}
	return parts[1], kind, parts[3], true
}
