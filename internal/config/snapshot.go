package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/model"
)

// Entry is one datastore item of an underlay snapshot.
type Entry struct {
	Path  string
	Value []byte
}

// LoadSnapshot reads the underlay snapshot file at name on fsys.
func LoadSnapshot(fsys billy.Filesystem, name string) ([]Entry, error) {
	data, err := util.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	entries, err := ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return entries, nil
}

// ParseSnapshot parses a snapshot document of the form
//
//	{"<topology-id>": {"node": [{"node-id": ...}], "link": [{"link-id": ...}]}}
//
// into datastore entries ordered by path. Termination points travel nested
// in their nodes.
func ParseSnapshot(data []byte) ([]Entry, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	topologies, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("want an object of topologies, got %T", doc)
	}

	var entries []Entry
	for topo, v := range topologies {
		kinds, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("topology %q: want an object, got %T", topo, v)
		}
		for kindName, list := range kinds {
			kind, err := model.ParseItemKind(kindName)
			if err != nil || kind == model.TerminationPoint {
				return nil, fmt.Errorf("topology %q: unsupported item kind %q", topo, kindName)
			}
			items, ok := list.([]any)
			if !ok {
				return nil, fmt.Errorf("topology %q: %s: want a list, got %T", topo, kindName, list)
			}
			idField := model.FieldNodeID
			if kind == model.Link {
				idField = model.FieldLinkID
			}
			for i, it := range items {
				content, ok := it.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("topology %q: %s[%d]: want an object", topo, kindName, i)
				}
				id := model.StringAt(content, idField)
				if id == "" {
					return nil, fmt.Errorf("topology %q: %s[%d]: missing %s", topo, kindName, i, idField)
				}
				value, err := json.Marshal(content)
				if err != nil {
					return nil, fmt.Errorf("topology %q: %s %q: %w", topo, kindName, id, err)
				}
				entries = append(entries, Entry{Path: datastore.ItemPath(topo, kind, id), Value: value})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
