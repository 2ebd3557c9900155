// Package filter implements the per-field predicates used by filtration
// correlations. A Filtrator is selected once, at request setup, from a Kind;
// evaluation never fails: a value that is absent or cannot be interpreted
// simply does not pass.
package filter

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/agentic-research/topoproc/internal/schema"
)

// Kind selects a predicate.
type Kind string

const (
	StringEquality Kind = "string"
	NumberEquality Kind = "number"
	NumericRange   Kind = "range-number"
	StringRange    Kind = "range-string"
	IPv4Prefix     Kind = "ipv4"
	IPv6Prefix     Kind = "ipv6"
)

// ErrInvalidFilter reports a filter whose kind or parameters are unusable.
var ErrInvalidFilter = errors.New("invalid filter")

// Params carries the kind-specific parameters of one filter.
// Equality filters use Value; range filters use Min and Max (inclusive);
// prefix filters use Prefix in CIDR notation.
type Params struct {
	Value  string
	Min    string
	Max    string
	Prefix string
}

// Filtrator decides whether an item's content passes.
type Filtrator interface {
	Passes(content map[string]any) bool
}

// New builds the Filtrator for kind reading its field through accessor.
func New(kind Kind, accessor *schema.Accessor, p Params) (Filtrator, error) {
	if accessor == nil {
		return nil, fmt.Errorf("%w: %s filter has no field", ErrInvalidFilter, kind)
	}
	switch kind {
	case StringEquality:
		return &stringEquals{field: accessor, want: p.Value}, nil
	case NumberEquality:
		n, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number value %q: %v", ErrInvalidFilter, p.Value, err)
		}
		return &numberEquals{field: accessor, want: n}, nil
	case NumericRange:
		lo, err := strconv.ParseFloat(p.Min, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: range min %q: %v", ErrInvalidFilter, p.Min, err)
		}
		hi, err := strconv.ParseFloat(p.Max, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: range max %q: %v", ErrInvalidFilter, p.Max, err)
		}
		if lo > hi {
			return nil, fmt.Errorf("%w: range min %v > max %v", ErrInvalidFilter, lo, hi)
		}
		return &numberRange{field: accessor, min: lo, max: hi}, nil
	case StringRange:
		if p.Min > p.Max {
			return nil, fmt.Errorf("%w: range min %q > max %q", ErrInvalidFilter, p.Min, p.Max)
		}
		return &stringRange{field: accessor, min: p.Min, max: p.Max}, nil
	case IPv4Prefix, IPv6Prefix:
		prefix, err := netip.ParsePrefix(p.Prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: prefix %q: %v", ErrInvalidFilter, p.Prefix, err)
		}
		if (kind == IPv4Prefix) != prefix.Addr().Is4() {
			return nil, fmt.Errorf("%w: prefix %q does not match filter kind %s", ErrInvalidFilter, p.Prefix, kind)
		}
		return &prefixContains{field: accessor, prefix: prefix.Masked()}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, kind)
}

// Chain is an ordered list of filtrators; an item passes only if every
// filtrator passes. The empty chain passes everything.
type Chain []Filtrator

func (c Chain) Passes(content map[string]any) bool {
	for _, f := range c {
		if !f.Passes(content) {
			return false
		}
	}
	return true
}

type stringEquals struct {
	field *schema.Accessor
	want  string
}

func (f *stringEquals) Passes(content map[string]any) bool {
	v, ok := f.field.String(content)
	return ok && v == f.want
}

type numberEquals struct {
	field *schema.Accessor
	want  float64
}

func (f *numberEquals) Passes(content map[string]any) bool {
	v, ok := number(f.field, content)
	return ok && v == f.want
}

type numberRange struct {
	field    *schema.Accessor
	min, max float64
}

func (f *numberRange) Passes(content map[string]any) bool {
	v, ok := number(f.field, content)
	return ok && v >= f.min && v <= f.max
}

type stringRange struct {
	field    *schema.Accessor
	min, max string
}

func (f *stringRange) Passes(content map[string]any) bool {
	v, ok := f.field.String(content)
	return ok && v >= f.min && v <= f.max
}

type prefixContains struct {
	field  *schema.Accessor
	prefix netip.Prefix
}

// Passes accepts a bare address inside the prefix, or a prefix value that is
// fully contained in it.
func (f *prefixContains) Passes(content map[string]any) bool {
	s, ok := f.field.String(content)
	if !ok {
		return false
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		addr = addr.Unmap()
		return addr.Is4() == f.prefix.Addr().Is4() && f.prefix.Contains(addr)
	}
	p, err := netip.ParsePrefix(s)
	if err != nil || p.Addr().Is4() != f.prefix.Addr().Is4() {
		return false
	}
	return p.Bits() >= f.prefix.Bits() && f.prefix.Contains(p.Addr())
}

// number reads a numeric field. JSON decoders hand back several numeric
// types; numeric strings are accepted as well.
func number(a *schema.Accessor, content map[string]any) (float64, bool) {
	v, ok := a.Value(content)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
