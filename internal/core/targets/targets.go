// Package targets registers the built-in import targets with the core
// registry. Import it for side effects; call LoadDir to add targets defined
// in YAML schema files.
package targets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/schema"
)

func init() {
	core.Register(core.TargetDefinition{
		Key:    "users",
		Label:  "Users",
		Table:  "users",
		Schema: schema.People,
	})
}

// LoadDir registers one target per *.yaml or *.yml file in dir, keyed by the
// schema name. It returns the keys it added, sorted.
func LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	var keys []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		s, err := schema.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return keys, err
		}
		if s.Name == "" {
			return keys, fmt.Errorf("schema %s: missing name", e.Name())
		}
		if _, exists := core.Get(s.Name); exists {
			return keys, fmt.Errorf("schema %s: target %q already registered", e.Name(), s.Name)
		}
		core.Register(core.TargetDefinition{Key: s.Name, Schema: s})
		keys = append(keys, s.Name)
	}
	sort.Strings(keys)
	return keys, nil
}
