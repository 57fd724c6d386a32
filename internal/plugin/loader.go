package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader discovers plugins in one directory.
//
// A plugin is either a single file (dir/name.lua) or a directory
// (dir/name/) holding init.lua or the main file named by its plugin.toml.
type Loader struct {
	dir string
}

// Info contains discovery information about a plugin.
type Info struct {
	Name     string
	Manifest *Manifest
	Error    error
}

// NewLoader creates a loader for dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the plugin directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Discover finds all plugins in the directory, sorted by name. A missing
// directory holds no plugins.
func (l *Loader) Discover() ([]*Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	found := make(map[string]*Info)
	for _, entry := range entries {
		var info *Info
		if entry.IsDir() {
			info = l.inspectDir(entry.Name())
		} else if filepath.Ext(entry.Name()) == ".lua" {
			info = l.inspectFile(strings.TrimSuffix(entry.Name(), ".lua"))
		} else {
			continue
		}
		// Directory plugins shadow single files of the same name.
		if prev, exists := found[info.Name]; exists && prev.Error == nil {
			continue
		}
		found[info.Name] = info
	}

	plugins := make([]*Info, 0, len(found))
	for _, info := range found {
		plugins = append(plugins, info)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins, nil
}

// Find locates the plugin called name.
func (l *Loader) Find(name string) (*Manifest, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidPlugin, ErrInvalidName, name)
	}

	err := fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	if stat, statErr := os.Stat(filepath.Join(l.dir, name)); statErr == nil && stat.IsDir() {
		info := l.inspectDir(name)
		if info.Error == nil {
			return info.Manifest, nil
		}
		err = info.Error
	}
	if _, statErr := os.Stat(filepath.Join(l.dir, name+".lua")); statErr == nil {
		return l.inspectFile(name).Manifest, nil
	}
	return nil, err
}

// Owns returns the name of the plugin that path belongs to.
func (l *Loader) Owns(path string) (string, bool) {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil || !filepath.IsLocal(rel) {
		return "", false
	}
	first, _, nested := strings.Cut(filepath.ToSlash(rel), "/")
	if !nested {
		if filepath.Ext(first) != ".lua" {
			return "", false
		}
		first = strings.TrimSuffix(first, ".lua")
	}
	if !ValidName(first) {
		return "", false
	}
	return first, true
}

func (l *Loader) inspectFile(name string) *Info {
	info := &Info{Name: name}
	if !ValidName(name) {
		info.Error = fmt.Errorf("%w: %s", ErrInvalidName, name)
		return info
	}
	m := NewManifestMinimal(name, l.dir)
	m.Main = name + ".lua"
	info.Manifest = m
	return info
}

func (l *Loader) inspectDir(name string) *Info {
	path := filepath.Join(l.dir, name)
	info := &Info{Name: name}

	manifestPath := filepath.Join(path, ManifestFile)
	if _, err := os.Stat(manifestPath); err == nil {
		m, err := LoadManifest(manifestPath)
		if err != nil {
			info.Error = fmt.Errorf("%w: %w", ErrInvalidPlugin, err)
			return info
		}
		if m.Name != name {
			info.Error = fmt.Errorf("%w: manifest name %q does not match directory %q", ErrInvalidPlugin, m.Name, name)
			return info
		}
		if _, err := os.Stat(m.MainPath()); err != nil {
			info.Error = fmt.Errorf("%w: %s", ErrNoEntryPoint, m.Main)
			return info
		}
		info.Manifest = m
		return info
	}

	if !ValidName(name) {
		info.Error = fmt.Errorf("%w: %s", ErrInvalidName, name)
		return info
	}
	m := NewManifestMinimal(name, path)
	if _, err := os.Stat(m.MainPath()); err != nil {
		info.Error = ErrNoEntryPoint
		return info
	}
	info.Manifest = m
	return info
}
