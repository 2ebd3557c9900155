package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/datastore/sqlitestore"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadRequests_FileAndDir(t *testing.T) {
	dir := t.TempDir()
	one := writeTemp(t, dir, "one.hcl", `overlay "one" {
  correlation "c" {
    kind = "node"
    underlay "igp" {}
    filter "string" {
      field = "network-inventory:site"
      value = "lab"
    }
  }
}`)
	writeTemp(t, dir, "two.hcl", `copy "igp" {
  target = "mirror"
  kind   = "node"
}`)

	f, err := loadRequests(one)
	require.NoError(t, err)
	require.Len(t, f.Overlays, 1)
	assert.Empty(t, f.Copies)

	f, err = loadRequests(dir)
	require.NoError(t, err)
	assert.Len(t, f.Overlays, 1)
	assert.Len(t, f.Copies, 1)

	_, err = loadRequests(filepath.Join(dir, "absent.hcl"))
	assert.ErrorContains(t, err, "stat requests")
}

func TestLoadSnapshots(t *testing.T) {
	dir := t.TempDir()
	first := writeTemp(t, dir, "first.json", `{"igp": {"node": [{"node-id": "r1", "ip": "10.0.0.1"}]}}`)
	second := writeTemp(t, dir, "second.json", `{"igp": {"node": [{"node-id": "r1", "ip": "10.0.0.9"}, {"node-id": "r2"}]}}`)

	store, _ := datastore.NewMemoryStore(datastore.Operational, zaptest.NewLogger(t))
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, loadSnapshots(ctx, store, []string{first, second}, zaptest.NewLogger(t)))

	entries, err := store.List(ctx, datastore.TopologyPrefix("igp"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	// Later files win.
	assert.JSONEq(t, `{"node-id": "r1", "ip": "10.0.0.9"}`, string(entries["topology/igp/node/r1"]))

	bad := writeTemp(t, dir, "bad.json", `[]`)
	assert.Error(t, loadSnapshots(ctx, store, []string{first, bad}, zaptest.NewLogger(t)))
}

func TestShow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "topoproc.db")
	store, err := sqlitestore.OpenStore(db, datastore.Operational, zaptest.NewLogger(t))
	require.NoError(t, err)
	tx := store.CreateTransactionChain(nil).NewReadWriteTx()
	tx.Put("topology/igp/node/r1", []byte(`{"node-id":"r1"}`))
	tx.Put("topology/ov/node/ov:1", []byte(`{"node-id":"ov:1"}`))
	require.NoError(t, <-tx.Submit())
	require.NoError(t, store.Close())

	t.Setenv("TOPOPROC_DB", db)
	t.Setenv("TOPOPROC_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"show", "ov"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Equal(t, "topology/ov/node/ov:1\t{\"node-id\":\"ov:1\"}\n", out.String())
}
