// Package source holds the registry of selection capabilities for external
// attachment sources. When the user picks an existing record as a field's
// attachment, the source it comes from may restrict the selection dialog
// with preset filters. Sources without a registered capability set fall back
// to no filtering.
package source

import (
	"fmt"
	"sort"
	"sync"
)

// Filter is one preset filter applied to the selection dialog.
type Filter struct {
	Field string
	Type  string
	Value string
}

// Capabilities describes how a source restricts record selection.
type Capabilities struct {
	// SelectionFilters are preset filters applied to the listing.
	SelectionFilters []Filter

	// BoolFilterList names the toggle filters offered.
	BoolFilterList []string

	// PrimaryFilterName selects the initially active primary filter.
	PrimaryFilterName string
}

var (
	registry   = make(map[string]Capabilities)
	registryMu sync.RWMutex
)

// Register adds a source's selection capabilities to the registry.
// Panics if the source is already registered.
func Register(name string, caps Capabilities) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source already registered: %s", name))
	}

	registry[name] = caps
}

// Lookup returns the capabilities registered for a source. Unregistered
// sources get the zero value, meaning no selection restrictions.
func Lookup(name string) Capabilities {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return registry[name]
}

// Names returns all registered source names.
// Sorted alphabetically for consistent ordering.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Clear removes all registered sources.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Capabilities)
}
