package request

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentic-research/topoproc/api"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/model"
	"github.com/agentic-research/topoproc/internal/topology"
)

// -----------------------------------------------------------------------------
// Test fixtures
// -----------------------------------------------------------------------------

func newManager(t *testing.T) (*Manager, *datastore.Broker) {
	t.Helper()
	store, _ := datastore.NewMemoryStore(datastore.Operational, zaptest.NewLogger(t))
	m := NewManager([]datastore.Store{store}, Options{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() {
		m.Close()
		_ = store.Close()
	})
	return m, store
}

func ipEquality(overlay string) api.Request {
	return api.Request{
		Overlay: overlay,
		Correlations: []api.Correlation{{
			Name:        "by-ip",
			Kind:        "node",
			Aggregation: "equality",
			Underlays: []api.Underlay{
				{Topology: "A", Field: "network-inventory:ip"},
				{Topology: "B", Field: "network-inventory:ip"},
			},
		}},
	}
}

func putNode(t *testing.T, store datastore.Store, topo, id, ip string) {
	t.Helper()
	tx := store.CreateTransactionChain(nil).NewReadWriteTx()
	tx.Put(datastore.ItemPath(topo, model.Node, id), []byte(`{"node-id":"`+id+`","ip":"`+ip+`"}`))
	require.NoError(t, <-tx.Submit())
}

// overlayNodes returns overlay node id -> supporting "topology/node" refs.
func overlayNodes(t *testing.T, store datastore.Store, overlay string) map[string][]string {
	t.Helper()
	entries, err := store.List(context.Background(), datastore.KindPrefix(overlay, model.Node))
	require.NoError(t, err)
	out := make(map[string][]string)
	for _, v := range entries {
		var n topology.Node
		require.NoError(t, json.Unmarshal(v, &n))
		refs := []string{}
		for _, s := range n.SupportingNodes {
			refs = append(refs, s.TopologyRef+"/"+s.NodeRef)
		}
		out[n.NodeID] = refs
	}
	return out
}

func eventuallyNodes(t *testing.T, store datastore.Store, overlay string, want map[string][]string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, overlayNodes(t, store, overlay))
	}, 5*time.Second, 10*time.Millisecond, "overlay %s never reached %v; have %v", overlay, want, overlayNodes(t, store, overlay))
}

// -----------------------------------------------------------------------------
// End to end
// -----------------------------------------------------------------------------

func TestManager_EqualityOverlay(t *testing.T) {
	m, store := newManager(t)
	require.NoError(t, m.Start(context.Background(), ipEquality("ov")))

	putNode(t, store, "A", "a1", "10.0.0.1")
	putNode(t, store, "B", "b1", "10.0.0.1")
	eventuallyNodes(t, store, "ov", map[string][]string{
		"ov:1": {"A/a1", "B/b1"},
	})

	// a1 changes its join key and splits off.
	putNode(t, store, "A", "a1", "10.0.0.2")
	eventuallyNodes(t, store, "ov", map[string][]string{
		"ov:1": {"B/b1"},
		"ov:2": {"A/a1"},
	})

	wrappers, ok := m.Wrappers("ov")
	require.True(t, ok)
	assert.Equal(t, []string{"ov:1", "ov:2"}, wrappers)

	require.Eventually(t, func() bool {
		stats, ok := m.Stats("ov")
		return ok && stats.Applied > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManager_ReplaysExistingUnderlay(t *testing.T) {
	m, store := newManager(t)
	putNode(t, store, "A", "a1", "10.0.0.1")
	putNode(t, store, "B", "b1", "10.0.0.1")

	require.NoError(t, m.Start(context.Background(), ipEquality("ov")))
	eventuallyNodes(t, store, "ov", map[string][]string{
		"ov:1": {"A/a1", "B/b1"},
	})
}

func TestManager_FiltrationOverlay(t *testing.T) {
	m, store := newManager(t)
	require.NoError(t, m.Start(context.Background(), api.Request{
		Overlay: "lab",
		Correlations: []api.Correlation{{
			Name:        "subnet",
			Kind:        "node",
			Aggregation: "none",
			Underlays:   []api.Underlay{{Topology: "A"}},
			Filters: []api.Filter{
				{Kind: "ipv4", Field: "network-inventory:ip", Prefix: "10.0.0.0/24"},
			},
		}},
	}))

	putNode(t, store, "A", "out", "192.168.1.1")
	putNode(t, store, "A", "in", "10.0.0.9")
	eventuallyNodes(t, store, "lab", map[string][]string{
		"lab:1": {"A/in"},
	})
}

func TestManager_Stop(t *testing.T) {
	m, store := newManager(t)
	require.NoError(t, m.Start(context.Background(), ipEquality("ov")))
	assert.Equal(t, []string{"ov"}, m.Running())

	require.NoError(t, m.Stop("ov"))
	assert.Empty(t, m.Running())
	assert.ErrorIs(t, m.Stop("ov"), ErrUnknown)

	// Nothing listens any more.
	putNode(t, store, "A", "a1", "10.0.0.1")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, overlayNodes(t, store, "ov"))

	// The id is free again.
	require.NoError(t, m.Start(context.Background(), ipEquality("ov")))
}

func TestManager_Copy(t *testing.T) {
	m, store := newManager(t)
	require.NoError(t, m.StartCopy(context.Background(), api.Copy{Source: "A", Target: "mirror", Kind: "node"}))
	assert.Equal(t, []string{"copy:mirror/node"}, m.Running())

	putNode(t, store, "A", "a1", "10.0.0.1")
	require.Eventually(t, func() bool {
		_, err := store.Read(context.Background(), datastore.ItemPath("mirror", model.Node, "a1"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	err := m.StartCopy(context.Background(), api.Copy{Source: "A", Target: "mirror", Kind: "node"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

// -----------------------------------------------------------------------------
// Setup errors
// -----------------------------------------------------------------------------

func TestManager_RejectsInvalidRequests(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	cases := map[string]func(r *api.Request){
		"no overlay id":       func(r *api.Request) { r.Overlay = "" },
		"no correlations":     func(r *api.Request) { r.Correlations = nil },
		"unknown datastore":   func(r *api.Request) { r.Datastore = "running" },
		"missing store":       func(r *api.Request) { r.Datastore = "config" },
		"unknown kind":        func(r *api.Request) { r.Correlations[0].Kind = "router" },
		"unknown aggregation": func(r *api.Request) { r.Correlations[0].Aggregation = "fuzzy" },
		"missing field":       func(r *api.Request) { r.Correlations[0].Underlays[0].Field = "" },
		"malformed field":     func(r *api.Request) { r.Correlations[0].Underlays[0].Field = "ip" },
		"unresolvable field":  func(r *api.Request) { r.Correlations[0].Underlays[0].Field = "nope:ip" },
		"no underlays":        func(r *api.Request) { r.Correlations[0].Underlays = nil },
		"duplicate underlay": func(r *api.Request) {
			r.Correlations[0].Underlays[1].Topology = "A"
		},
		"unknown filter": func(r *api.Request) {
			r.Correlations[0].Filters = []api.Filter{{Kind: "regex", Field: "network-inventory:ip"}}
		},
		"bad filter params": func(r *api.Request) {
			r.Correlations[0].Filters = []api.Filter{{Kind: "range-number", Field: "network-inventory:vlan", Min: "9", Max: "1"}}
		},
		"unification without mapping": func(r *api.Request) { r.Correlations[0].Aggregation = "unification" },
		"filtration without filters":  func(r *api.Request) { r.Correlations[0].Aggregation = "none" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := ipEquality("ov")
			mutate(&req)
			err := m.Start(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Empty(t, m.Running())
		})
	}
}

func TestManager_RejectsDuplicateOverlay(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, ipEquality("ov")))
	assert.ErrorIs(t, m.Start(ctx, ipEquality("ov")), ErrDuplicate)
}

func TestManager_RollsBackOnRegistrationFailure(t *testing.T) {
	m, store := newManager(t)
	require.NoError(t, store.Close())

	err := m.Start(context.Background(), ipEquality("ov"))
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrClosed)
	assert.Empty(t, m.Running())
}
