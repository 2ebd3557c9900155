package config

import (
	"fmt"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/topoproc/api"
)

// LoadRequests decodes the HCL request file at name on fsys.
func LoadRequests(fsys billy.Filesystem, name string) (*api.File, error) {
	src, err := util.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var f api.File
	// hclsimple picks the syntax from the extension; only .hcl and .json are
	// accepted.
	if err := hclsimple.Decode(name, src, nil, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &f, nil
}

// LoadRequestDir decodes every *.hcl file in dir and concatenates them in
// file name order.
func LoadRequestDir(fsys billy.Filesystem, dir string) (*api.File, error) {
	names, err := util.Glob(fsys, path.Join(dir, "*.hcl"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(names)

	var all api.File
	for _, name := range names {
		f, err := LoadRequests(fsys, name)
		if err != nil {
			return nil, err
		}
		all.Overlays = append(all.Overlays, f.Overlays...)
		all.Copies = append(all.Copies, f.Copies...)
	}
	return &all, nil
}
