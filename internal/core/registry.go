package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Resource describes one synced entity: where it lives, how it is listed and
// how it is projected to the wire.
type Resource struct {
	// Name is the entity name used in events ("customer", "sale", ...).
	Name string

	// Path is the route segment, e.g. "customer" or "deliveries".
	Path string

	Table   string
	Filters FilterSpec

	// Base is ANDed in front of every list query.
	Base []Condition

	// Scope may add conditions that depend on the parsed filters.
	Scope func(filters []Condition) []Condition

	Order []Order

	// Project renders rows in wire format, one element per row in order.
	Project func(ctx context.Context, r Reader, rows []Row) ([]any, error)

	// Writer is nil for read-only resources.
	Writer *Writer
}

// Writer describes how client records are validated and mapped to columns.
type Writer struct {
	Schema   string   // embedded JSON schema name
	Required []string // absent or null fails the record

	// Prepare decodes a validated record. Errors should be *BadRequestError.
	Prepare func(ctx context.Context, r Reader, rec Record) (Change, error)
}

// Change is a decoded client record ready to be written.
type Change struct {
	MobileUID string
	Fields    Fields // written on create and update
	OnCreate  Fields // written on create only
	Refs      []Reference
}

var (
	registry   = make(map[string]*Resource)
	registryMu sync.RWMutex
)

// Register adds a resource to the registry.
// Panics if a resource with the same name is already registered.
func Register(res *Resource) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[res.Name]; exists {
		panic(fmt.Sprintf("resource already registered: %s", res.Name))
	}
	if res.Project == nil {
		panic(fmt.Sprintf("resource %s has no projection", res.Name))
	}
	registry[res.Name] = res
}

// Get returns a resource by name.
func Get(name string) (*Resource, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	res, ok := registry[name]
	return res, ok
}

// All returns all registered resources sorted by name.
func All() []*Resource {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*Resource, 0, len(registry))
	for _, res := range registry {
		result = append(result, res)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Writable returns the resources that accept batch sync.
func Writable() []*Resource {
	var out []*Resource
	for _, res := range All() {
		if res.Writer != nil {
			out = append(out, res)
		}
	}
	return out
}
