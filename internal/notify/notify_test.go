package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/model"
)

type recorder struct {
	Base
	mu     sync.Mutex
	events []string
	last   Event
}

func (r *recorder) add(name string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name+" "+ev.Key)
	r.last = ev
}

func (r *recorder) OnNodeCreated(ev Event) { r.add("node-created", ev) }
func (r *recorder) OnNodeUpdated(ev Event) { r.add("node-updated", ev) }
func (r *recorder) OnNodeDeleted(ev Event) { r.add("node-deleted", ev) }
func (r *recorder) OnTpCreated(ev Event)   { r.add("tp-created", ev) }
func (r *recorder) OnTpUpdated(ev Event)   { r.add("tp-updated", ev) }
func (r *recorder) OnTpDeleted(ev Event)   { r.add("tp-deleted", ev) }
func (r *recorder) OnLinkCreated(ev Event) { r.add("link-created", ev) }

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.events) >= n
	}, 5*time.Second, 5*time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func write(t *testing.T, store datastore.Store, fn func(tx datastore.ReadWriteTx)) {
	t.Helper()
	tx := store.CreateTransactionChain(nil).NewReadWriteTx()
	fn(tx)
	require.NoError(t, <-tx.Submit())
}

func TestDispatcher_NodeAndNestedTPs(t *testing.T) {
	store, _ := datastore.NewMemoryStore(datastore.Operational, zaptest.NewLogger(t))
	defer store.Close()

	rec := &recorder{}
	d, err := Register(store, "ov", rec, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	path := datastore.ItemPath("ov", model.Node, "ov:1")
	write(t, store, func(tx datastore.ReadWriteTx) {
		tx.Put(path, []byte(`{"node-id":"ov:1","termination-point":[{"tp-id":"eth0"}]}`))
	})
	write(t, store, func(tx datastore.ReadWriteTx) {
		tx.Put(path, []byte(`{"node-id":"ov:1","termination-point":[{"tp-id":"eth0","x":1},{"tp-id":"eth1"}]}`))
	})
	write(t, store, func(tx datastore.ReadWriteTx) {
		tx.Delete(path)
	})

	got := rec.wait(t, 8)
	assert.Equal(t, []string{
		"node-created ov:1",
		"tp-created ov:1/eth0",
		"node-updated ov:1",
		"tp-updated ov:1/eth0",
		"tp-created ov:1/eth1",
		"node-deleted ov:1",
		"tp-deleted ov:1/eth0",
		"tp-deleted ov:1/eth1",
	}, got)
}

func TestDispatcher_EventCarriesContext(t *testing.T) {
	store, _ := datastore.NewMemoryStore(datastore.Config, zaptest.NewLogger(t))
	defer store.Close()

	rec := &recorder{}
	d, err := Register(store, "ov", rec, nil)
	require.NoError(t, err)
	defer d.Close()

	write(t, store, func(tx datastore.ReadWriteTx) {
		tx.Put(datastore.ItemPath("ov", model.Link, "ov:2"), []byte(`{"link-id":"ov:2"}`))
		tx.Put(datastore.ItemPath("other", model.Link, "x"), []byte(`{}`))
	})

	assert.Equal(t, []string{"link-created ov:2"}, rec.wait(t, 1))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, datastore.Config, rec.last.Store)
	assert.Equal(t, "topology/ov", rec.last.Topology)
	assert.Equal(t, "ov:2", rec.last.Item["link-id"])
}
