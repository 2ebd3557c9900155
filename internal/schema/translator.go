// Package schema resolves textual "module:field" paths into accessors that
// extract one value from an item's content.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/topoproc/internal/model"
)

var (
	// ErrMalformedPath reports a field path that is not of the form module:leaf.
	ErrMalformedPath = errors.New("malformed field path")
	// ErrUnresolvable reports a well-formed path naming an unknown module or leaf.
	ErrUnresolvable = errors.New("unresolvable field path")
)

// Accessor extracts one field from item content.
type Accessor struct {
	Path string // module:leaf
	expr jp.Expr
}

// Value returns the first value the accessor selects. The boolean is false
// when the field is absent or null.
func (a *Accessor) Value(content map[string]any) (any, bool) {
	if a == nil || content == nil {
		return nil, false
	}
	results := a.expr.Get(content)
	if len(results) == 0 || results[0] == nil {
		return nil, false
	}
	return results[0], true
}

// String returns the selected value rendered as a string. Scalars are
// formatted with %v; absent values report false.
func (a *Accessor) String(content map[string]any) (string, bool) {
	v, ok := a.Value(content)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprintf("%v", s), true
	}
}

type cacheKey struct {
	path string
	kind model.ItemKind
}

// Translator compiles field paths against a Registry and caches the result.
type Translator struct {
	registry *Registry
	cache    sync.Map // cacheKey -> *Accessor
}

func NewTranslator(registry *Registry) *Translator {
	return &Translator{registry: registry}
}

// SplitPath validates the module:leaf syntax and returns both halves.
func SplitPath(fieldPath string) (module, leaf string, err error) {
	if fieldPath == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrMalformedPath)
	}
	if strings.Count(fieldPath, ":") != 1 {
		return "", "", fmt.Errorf("%w: %q must contain exactly one ':'", ErrMalformedPath, fieldPath)
	}
	i := strings.IndexByte(fieldPath, ':')
	if i == 0 || i == len(fieldPath)-1 {
		return "", "", fmt.Errorf("%w: %q has ':' at an end", ErrMalformedPath, fieldPath)
	}
	return fieldPath[:i], fieldPath[i+1:], nil
}

// Resolve turns fieldPath into an Accessor for items of kind.
func (t *Translator) Resolve(fieldPath string, kind model.ItemKind) (*Accessor, error) {
	key := cacheKey{path: fieldPath, kind: kind}
	if a, ok := t.cache.Load(key); ok {
		return a.(*Accessor), nil
	}

	module, leaf, err := SplitPath(fieldPath)
	if err != nil {
		return nil, err
	}
	selector, err := t.registry.lookup(module, leaf, kind)
	if err != nil {
		return nil, err
	}
	expr, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid jsonpath %q for %s: %v", ErrUnresolvable, selector, fieldPath, err)
	}

	a, _ := t.cache.LoadOrStore(key, &Accessor{Path: fieldPath, expr: expr})
	return a.(*Accessor), nil
}
