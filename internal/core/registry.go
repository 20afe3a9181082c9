package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/ingest/internal/schema"
)

// ErrUnknownTarget is returned for a target key that was never registered.
var ErrUnknownTarget = errors.New("unknown import target")

// TargetDefinition describes one kind of import: the schema rows must match
// and the table or collection they are stored in.
type TargetDefinition struct {
	Key    string         `json:"key"`
	Label  string         `json:"label"`
	Table  string         `json:"table"`
	Schema *schema.Schema `json:"schema"`
}

var (
	registry   = make(map[string]TargetDefinition)
	registryMu sync.RWMutex
)

// Register adds a target. It panics on a duplicate key or a definition
// without a schema, since both are programming errors caught at init.
func Register(def TargetDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if def.Schema == nil {
		panic(fmt.Sprintf("target %s has no schema", def.Key))
	}
	if _, exists := registry[def.Key]; exists {
		panic(fmt.Sprintf("target already registered: %s", def.Key))
	}
	if def.Table == "" {
		def.Table = def.Key
	}
	if def.Label == "" {
		def.Label = def.Key
	}
	registry[def.Key] = def
}

// Get returns a target by key.
func Get(key string) (TargetDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// Lookup is Get returning ErrUnknownTarget for a missing key.
func Lookup(key string) (TargetDefinition, error) {
	def, ok := Get(key)
	if !ok {
		return TargetDefinition{}, fmt.Errorf("%w: %q", ErrUnknownTarget, key)
	}
	return def, nil
}

// All returns every target sorted by key.
func All() []TargetDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]TargetDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// Count returns the number of registered targets.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes every target. Tests use it to start from an empty registry.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]TargetDefinition)
}
