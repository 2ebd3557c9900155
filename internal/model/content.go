package model

import (
	"fmt"

	"github.com/ohler55/ojg/oj"
)

// Field names shared by underlay content and translated overlay output.
const (
	FieldNodeID            = "node-id"
	FieldTPID              = "tp-id"
	FieldLinkID            = "link-id"
	FieldTerminationPoints = "termination-point"
	FieldSource            = "source"
	FieldDestination       = "destination"
	FieldSourceNode        = "source-node"
	FieldSourceTP          = "source-tp"
	FieldDestNode          = "dest-node"
	FieldDestTP            = "dest-tp"
	FieldNodeRef           = "node-ref"
)

// TerminationPoints returns the termination points nested in a node's
// content, keyed by tp-id, along with their ids in document order. Entries
// without a string tp-id are skipped.
func TerminationPoints(node map[string]any) (order []string, tps map[string]map[string]any) {
	list, _ := node[FieldTerminationPoints].([]any)
	tps = make(map[string]map[string]any, len(list))
	for _, e := range list {
		tp, ok := e.(map[string]any)
		if !ok {
			continue
		}
		id, ok := tp[FieldTPID].(string)
		if !ok || id == "" {
			continue
		}
		if _, dup := tps[id]; !dup {
			order = append(order, id)
		}
		tps[id] = tp
	}
	return order, tps
}

// StringAt reads a string nested under the given keys. Missing keys and
// non-string values yield "".
func StringAt(content map[string]any, keys ...string) string {
	var cur any = content
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[k]
	}
	s, _ := cur.(string)
	return s
}

// DecodeContent parses a JSON document into item content. Documents that are
// not JSON objects are rejected.
func DecodeContent(data []byte) (map[string]any, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse content: want object, got %T", v)
	}
	return m, nil
}
