package api

// File is the top-level layout of a request file. One file may declare any
// number of overlay requests and 1:1 copies.
type File struct {
	Overlays []Request `hcl:"overlay,block" json:"overlays,omitempty"`
	Copies   []Copy    `hcl:"copy,block" json:"copies,omitempty"`
}

// Request describes one overlay topology to build.
type Request struct {
	// Overlay is the id of the overlay topology the request writes.
	Overlay string `hcl:"id,label" json:"overlay"`
	// Datastore is "operational" (default) or "config".
	Datastore string `hcl:"datastore,optional" json:"datastore,omitempty"`
	// Correlations feed the overlay. At least one is required.
	Correlations []Correlation `hcl:"correlation,block" json:"correlations"`
}

// Correlation declares how items of one kind from one or more underlay
// topologies are joined and filtered.
type Correlation struct {
	Name string `hcl:"name,label" json:"name"`
	// Kind is "node", "termination-point" or "link".
	Kind string `hcl:"kind" json:"kind"`
	// Aggregation is "equality", "unification" or "none" (filtration only).
	Aggregation string `hcl:"aggregation,optional" json:"aggregation,omitempty"`
	// Underlays lists the topologies feeding the correlation.
	Underlays []Underlay `hcl:"underlay,block" json:"underlays"`
	// Filters apply to every underlay, before the per-underlay filters.
	Filters []Filter `hcl:"filter,block" json:"filters,omitempty"`
}

// Underlay binds one underlay topology into a correlation.
type Underlay struct {
	Topology string `hcl:"topology,label" json:"topology"`
	// Field is the equality join field, as "<module>:<leaf>".
	Field string `hcl:"field,optional" json:"field,omitempty"`
	// Mapping is the unification table: underlay item id to logical name.
	Mapping map[string]string `hcl:"mapping,optional" json:"mapping,omitempty"`
	Filters []Filter          `hcl:"filter,block" json:"filters,omitempty"`
}

// Filter is one predicate of a filter chain.
type Filter struct {
	// Kind is one of "string", "number", "range-number", "range-string",
	// "ipv4" or "ipv6".
	Kind   string `hcl:"kind,label" json:"kind"`
	Field  string `hcl:"field" json:"field"`
	Value  string `hcl:"value,optional" json:"value,omitempty"`
	Min    string `hcl:"min,optional" json:"min,omitempty"`
	Max    string `hcl:"max,optional" json:"max,omitempty"`
	Prefix string `hcl:"prefix,optional" json:"prefix,omitempty"`
}

// Copy mirrors one underlay topology's items of one kind into Target.
type Copy struct {
	Source    string `hcl:"source,label" json:"source"`
	Target    string `hcl:"target" json:"target"`
	Kind      string `hcl:"kind" json:"kind"`
	Datastore string `hcl:"datastore,optional" json:"datastore,omitempty"`
}
