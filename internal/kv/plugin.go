package kv

import "fmt"

// Loader constructs a Provider for one vault's storage, given cfg.
type Loader func(cfg Config) (Provider, error)

// Plugin names one storage engine implementation, selected by the
// --store-kind flag. Grounded on the registry/plugin pattern used
// throughout the teacher's storage and encryption SPIs.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins = map[string]Plugin{}

// Register adds an engine to the selectable set. Intended to be called
// from each engine package's init().
func Register(p Plugin) {
	if p.Name == "" {
		panic("kv: plugin registered with empty name")
	}
	plugins[p.Name] = p
}

// Select looks up a previously Register-ed engine by name.
func Select(name string) (Plugin, error) {
	p, ok := plugins[name]
	if !ok {
		return Plugin{}, fmt.Errorf("kv: unknown store kind %q (known: %v)", name, Names())
	}
	return p, nil
}

// Names lists every registered engine name.
func Names() []string {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	return names
}
