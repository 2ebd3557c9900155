package config

import (
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryRequest = `
overlay "inventory" {
  correlation "by-ip" {
    kind        = "node"
    aggregation = "equality"

    underlay "igp" {
      field = "network-inventory:ip"
    }
    underlay "cmdb" {
      field = "network-inventory:ip"
      filter "string" {
        field = "network-inventory:vendor"
        value = "acme"
      }
    }

    filter "ipv4" {
      field  = "network-inventory:ip"
      prefix = "10.0.0.0/8"
    }
  }

  correlation "sites" {
    kind        = "link"
    aggregation = "unification"

    underlay "igp" {
      mapping = {
        "l1" = "core"
        "l2" = "edge"
      }
    }
  }
}

copy "igp" {
  target = "igp-mirror"
  kind   = "node"
}
`

func writeFile(t *testing.T, fsys billy.Filesystem, name, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, name, []byte(content), 0o644))
}

func TestLoadRequests(t *testing.T) {
	fsys := memfs.New()
	writeFile(t, fsys, "requests/inventory.hcl", inventoryRequest)

	f, err := LoadRequests(fsys, "requests/inventory.hcl")
	require.NoError(t, err)

	require.Len(t, f.Overlays, 1)
	req := f.Overlays[0]
	assert.Equal(t, "inventory", req.Overlay)
	assert.Empty(t, req.Datastore)
	require.Len(t, req.Correlations, 2)

	byIP := req.Correlations[0]
	assert.Equal(t, "by-ip", byIP.Name)
	assert.Equal(t, "equality", byIP.Aggregation)
	require.Len(t, byIP.Underlays, 2)
	assert.Equal(t, "igp", byIP.Underlays[0].Topology)
	assert.Equal(t, "network-inventory:ip", byIP.Underlays[0].Field)
	require.Len(t, byIP.Underlays[1].Filters, 1)
	assert.Equal(t, "acme", byIP.Underlays[1].Filters[0].Value)
	require.Len(t, byIP.Filters, 1)
	assert.Equal(t, "ipv4", byIP.Filters[0].Kind)
	assert.Equal(t, "10.0.0.0/8", byIP.Filters[0].Prefix)

	sites := req.Correlations[1]
	assert.Equal(t, map[string]string{"l1": "core", "l2": "edge"}, sites.Underlays[0].Mapping)

	require.Len(t, f.Copies, 1)
	assert.Equal(t, "igp", f.Copies[0].Source)
	assert.Equal(t, "igp-mirror", f.Copies[0].Target)
	assert.Equal(t, "node", f.Copies[0].Kind)
}

func TestLoadRequests_Errors(t *testing.T) {
	fsys := memfs.New()

	_, err := LoadRequests(fsys, "missing.hcl")
	assert.ErrorContains(t, err, "read missing.hcl")

	writeFile(t, fsys, "broken.hcl", `overlay "x" { correlation "c" {`)
	_, err = LoadRequests(fsys, "broken.hcl")
	assert.ErrorContains(t, err, "decode broken.hcl")

	// kind is required.
	writeFile(t, fsys, "nokind.hcl", `overlay "x" { correlation "c" {} }`)
	_, err = LoadRequests(fsys, "nokind.hcl")
	assert.Error(t, err)
}

func TestLoadRequestDir(t *testing.T) {
	fsys := memfs.New()
	writeFile(t, fsys, "requests/b.hcl", `overlay "second" {
  correlation "all" {
    kind = "link"
    underlay "igp" {}
    filter "number" {
      field = "l3-unicast-igp-topology:metric"
      value = "10"
    }
  }
}`)
	writeFile(t, fsys, "requests/a.hcl", `overlay "first" {
  datastore = "config"
  correlation "all" {
    kind = "node"
    underlay "igp" {}
    filter "string" {
      field = "network-inventory:site"
      value = "lab"
    }
  }
}
copy "igp" {
  target = "mirror"
  kind   = "link"
}`)
	writeFile(t, fsys, "requests/notes.txt", "ignored")

	f, err := LoadRequestDir(fsys, "requests")
	require.NoError(t, err)
	require.Len(t, f.Overlays, 2)
	assert.Equal(t, "first", f.Overlays[0].Overlay)
	assert.Equal(t, "config", f.Overlays[0].Datastore)
	assert.Equal(t, "second", f.Overlays[1].Overlay)
	require.Len(t, f.Copies, 1)
	assert.Equal(t, "mirror", f.Copies[0].Target)
}

func TestLoadRequestDir_Empty(t *testing.T) {
	f, err := LoadRequestDir(memfs.New(), "requests")
	require.NoError(t, err)
	assert.Empty(t, f.Overlays)
	assert.Empty(t, f.Copies)
}
