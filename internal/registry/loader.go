package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tokpool/internal/common/fsutil"
	"tokpool/internal/tokenizer"
	"tokpool/pkg/types"
)

// LoadDir scans a directory for adapter descriptor files (.yaml/.yml/.json/.toml)
// and builds the adapter list from filenames. ID is the filename without its
// extension; Source is the absolute file path.
func LoadDir(dir string) ([]types.Adapter, error) {
	abs, err := fsutil.AbsPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var adapters []types.Adapter
	seen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !tokenizer.IsDescriptorPath(name) || strings.HasPrefix(name, ".") {
			continue
		}
		id := AdapterID(name)
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("adapter %q defined by both %s and %s", id, prev, name)
		}
		seen[id] = name
		adapters = append(adapters, types.Adapter{ID: id, Source: filepath.Join(abs, name)})
	}
	return adapters, nil
}

// AdapterID derives the adapter id from a descriptor path ("/a/sql-lora.yaml" -> "sql-lora").
func AdapterID(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Lookup returns the adapter with the given id.
func Lookup(adapters []types.Adapter, id string) (types.Adapter, bool) {
	for _, a := range adapters {
		if a.ID == id {
			return a, true
		}
	}
	return types.Adapter{}, false
}
