package software

import (
	"fmt"
	"os"
	"path/filepath"
)

// Registry discovers one Plugin per executable in a plugin directory,
// keyed by filename.
type Registry struct {
	dir     string
	plugins map[string]Plugin
}

// OpenRegistry scans dir for executable files and registers one plugin
// per file, named after the file.
func OpenRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir, plugins: map[string]Plugin{}}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("software: open plugin dir %q: %w", r.dir, err)
	}
	plugins := map[string]Plugin{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Mode()&0o111 == 0 {
			continue // not executable
		}
		name := entry.Name()
		plugins[name] = NewExternalPluginCommand(name, filepath.Join(r.dir, name))
	}
	r.plugins = plugins
	return nil
}

// NewRegistryWithPlugins builds a Registry directly from an already-
// constructed plugin set, bypassing directory discovery. Useful for
// wiring in-process fakes in tests.
func NewRegistryWithPlugins(plugins map[string]Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Empty reports whether no plugin was discovered.
func (r *Registry) Empty() bool {
	return len(r.plugins) == 0
}

// ByType returns the plugin registered for a software type, if any.
func (r *Registry) ByType(softwareType string) (Plugin, bool) {
	p, ok := r.plugins[softwareType]
	return p, ok
}

// Types returns every registered software type, for iterating a
// multi-type update request.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		out = append(out, t)
	}
	return out
}

// List aggregates every plugin's List() into one Inventory: the
// canonical software inventory reported to the cloud.
func (r *Registry) List() (Inventory, error) {
	inventory := Inventory{}
	for softwareType, plugin := range r.plugins {
		modules, err := plugin.List()
		if err != nil {
			return nil, err
		}
		inventory[softwareType] = modules
	}
	return inventory, nil
}
