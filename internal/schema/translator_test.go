package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/topoproc/internal/model"
)

func TestSplitPath(t *testing.T) {
	module, leaf, err := SplitPath("network-topology:node-id")
	require.NoError(t, err)
	assert.Equal(t, "network-topology", module)
	assert.Equal(t, "node-id", leaf)

	for _, bad := range []string{"", "node-id", "a:b:c", ":leaf", "module:"} {
		_, _, err := SplitPath(bad)
		assert.ErrorIs(t, err, ErrMalformedPath, bad)
	}
}

func TestTranslator_Resolve(t *testing.T) {
	tr := NewTranslator(DefaultRegistry())

	acc, err := tr.Resolve("l3-unicast-igp-topology:router-id", model.Node)
	require.NoError(t, err)

	content := map[string]any{
		"igp-node-attributes": map[string]any{
			"router-id": []any{"10.0.0.1", "10.0.0.2"},
		},
	}
	v, ok := acc.String(content)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	_, ok = acc.String(map[string]any{})
	assert.False(t, ok, "absent field")
	_, ok = acc.String(nil)
	assert.False(t, ok, "nil content")
}

func TestTranslator_ResolveIsCached(t *testing.T) {
	tr := NewTranslator(DefaultRegistry())
	a, err := tr.Resolve("network-inventory:ip", model.Node)
	require.NoError(t, err)
	b, err := tr.Resolve("network-inventory:ip", model.Node)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := tr.Resolve("network-inventory:ip", model.Link)
	require.NoError(t, err)
	assert.NotSame(t, a, c, "cache is per kind")
}

func TestTranslator_Unresolvable(t *testing.T) {
	tr := NewTranslator(DefaultRegistry())

	_, err := tr.Resolve("no-such-module:leaf", model.Node)
	assert.ErrorIs(t, err, ErrUnresolvable)

	_, err = tr.Resolve("network-topology:no-such-leaf", model.Node)
	assert.ErrorIs(t, err, ErrUnresolvable)

	// link-id exists, but not for nodes
	_, err = tr.Resolve("network-topology:link-id", model.Node)
	assert.ErrorIs(t, err, ErrUnresolvable)

	_, err = tr.Resolve("network-topology", model.Node)
	assert.ErrorIs(t, err, ErrMalformedPath)
}

func TestAccessor_StringRendersScalars(t *testing.T) {
	tr := NewTranslator(DefaultRegistry())
	acc, err := tr.Resolve("network-inventory:vlan", model.Node)
	require.NoError(t, err)

	v, ok := acc.String(map[string]any{"vlan": int64(42)})
	require.True(t, ok)
	assert.Equal(t, "42", v)

	_, ok = acc.String(map[string]any{"vlan": map[string]any{"id": 1}})
	assert.False(t, ok, "objects have no string form")
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register("", Leaf{Name: "x", Paths: allKinds("$.x")}))
	require.Error(t, r.Register("m", Leaf{Name: "x"}))
	require.NoError(t, r.Register("m", Leaf{Name: "x", Paths: allKinds("$.x")}))

	tr := NewTranslator(r)
	acc, err := tr.Resolve("m:x", model.TerminationPoint)
	require.NoError(t, err)
	v, ok := acc.String(map[string]any{"x": "y"})
	require.True(t, ok)
	assert.Equal(t, "y", v)
	assert.Equal(t, []string{"m"}, r.Modules())
}
