package schema

import (
	"fmt"
	"sync"

	"github.com/agentic-research/topoproc/internal/model"
)

// Leaf declares where one schema leaf lives inside an item's content, per
// item kind. A kind missing from Paths means the leaf does not exist for it.
type Leaf struct {
	Name  string
	Paths map[model.ItemKind]string // kind -> JSONPath
}

// Registry maps module:leaf names to JSONPath selectors.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]Leaf
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]map[string]Leaf)}
}

// Register adds (or replaces) a leaf of module.
func (r *Registry) Register(module string, leaf Leaf) error {
	if module == "" || leaf.Name == "" {
		return fmt.Errorf("register leaf: module and leaf name are required")
	}
	if len(leaf.Paths) == 0 {
		return fmt.Errorf("register %s:%s: no paths declared", module, leaf.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	leaves, ok := r.modules[module]
	if !ok {
		leaves = make(map[string]Leaf)
		r.modules[module] = leaves
	}
	leaves[leaf.Name] = leaf
	return nil
}

// lookup returns the JSONPath of module:leaf for kind.
func (r *Registry) lookup(module, leaf string, kind model.ItemKind) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	leaves, ok := r.modules[module]
	if !ok {
		return "", fmt.Errorf("%w: unknown module %q", ErrUnresolvable, module)
	}
	l, ok := leaves[leaf]
	if !ok {
		return "", fmt.Errorf("%w: module %q has no leaf %q", ErrUnresolvable, module, leaf)
	}
	path, ok := l.Paths[kind]
	if !ok {
		return "", fmt.Errorf("%w: leaf %s:%s not defined for %s", ErrUnresolvable, module, leaf, kind)
	}
	return path, nil
}

// Modules returns the registered module names.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for m := range r.modules {
		out = append(out, m)
	}
	return out
}

// DefaultRegistry returns a registry preloaded with the network-topology,
// l3-unicast-igp-topology and network-inventory modules.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for module, leaves := range builtin {
		for _, l := range leaves {
			// builtin is static and well formed
			_ = r.Register(module, l)
		}
	}
	return r
}

var builtin = map[string][]Leaf{
	"network-topology": {
		{Name: "node-id", Paths: map[model.ItemKind]string{model.Node: "$['node-id']"}},
		{Name: "tp-id", Paths: map[model.ItemKind]string{model.TerminationPoint: "$['tp-id']"}},
		{Name: "link-id", Paths: map[model.ItemKind]string{model.Link: "$['link-id']"}},
		{Name: "source-node", Paths: map[model.ItemKind]string{model.Link: "$.source['source-node']"}},
		{Name: "dest-node", Paths: map[model.ItemKind]string{model.Link: "$.destination['dest-node']"}},
	},
	"l3-unicast-igp-topology": {
		{Name: "router-id", Paths: map[model.ItemKind]string{
			model.Node: "$['igp-node-attributes']['router-id'][0]",
		}},
		{Name: "name", Paths: map[model.ItemKind]string{
			model.Node: "$['igp-node-attributes'].name",
			model.Link: "$['igp-link-attributes'].name",
		}},
		{Name: "prefix", Paths: map[model.ItemKind]string{
			model.Node: "$['igp-node-attributes'].prefix[0].prefix",
		}},
		{Name: "ip-address", Paths: map[model.ItemKind]string{
			model.TerminationPoint: "$['igp-termination-point-attributes']['ip-address'][0]",
		}},
		{Name: "metric", Paths: map[model.ItemKind]string{
			model.Link: "$['igp-link-attributes'].metric",
		}},
	},
	"network-inventory": {
		{Name: "ip", Paths: allKinds("$.ip")},
		{Name: "mac", Paths: allKinds("$.mac")},
		{Name: "vendor", Paths: allKinds("$.vendor")},
		{Name: "vlan", Paths: allKinds("$.vlan")},
		{Name: "site", Paths: allKinds("$.site")},
	},
}

func allKinds(path string) map[model.ItemKind]string {
	return map[model.ItemKind]string{
		model.Node:             path,
		model.TerminationPoint: path,
		model.Link:             path,
	}
}
