package plugin

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLoaderDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "motd.lua"), "-- motd")
	writeFile(t, filepath.Join(dir, "ranked", "init.lua"), "-- ranked")
	writeFile(t, filepath.Join(dir, "custom", ManifestFile), "name = \"custom\"\nmain = \"main.lua\"")
	writeFile(t, filepath.Join(dir, "custom", "main.lua"), "-- custom")
	writeFile(t, filepath.Join(dir, "empty", "README"), "nothing here")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	infos, err := NewLoader(dir).Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	want := []string{"custom", "empty", "motd", "ranked"}
	if len(names) != len(want) {
		t.Fatalf("Discover() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Discover()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if !errors.Is(infos[1].Error, ErrNoEntryPoint) {
		t.Errorf("empty plugin error = %v, want ErrNoEntryPoint", infos[1].Error)
	}
	if got := infos[0].Manifest.MainPath(); got != filepath.Join(dir, "custom", "main.lua") {
		t.Errorf("custom MainPath() = %q", got)
	}
	if got := infos[2].Manifest.MainPath(); got != filepath.Join(dir, "motd.lua") {
		t.Errorf("motd MainPath() = %q", got)
	}
}

func TestLoaderDiscoverMissingDir(t *testing.T) {
	infos, err := NewLoader(filepath.Join(t.TempDir(), "absent")).Discover()
	if err != nil || len(infos) != 0 {
		t.Errorf("Discover() = %v, %v; want no plugins", infos, err)
	}
}

func TestLoaderFind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "motd.lua"), "-- motd")
	writeFile(t, filepath.Join(dir, "wrong", ManifestFile), `name = "other"`)
	writeFile(t, filepath.Join(dir, "wrong", "init.lua"), "")
	l := NewLoader(dir)

	if m, err := l.Find("motd"); err != nil || m.Name != "motd" {
		t.Errorf("Find(motd) = %v, %v", m, err)
	}
	if _, err := l.Find("absent"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Find(absent) error = %v, want ErrPluginNotFound", err)
	}
	if _, err := l.Find("../motd"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Find(../motd) error = %v, want ErrInvalidName", err)
	}
	if _, err := l.Find("wrong"); !errors.Is(err, ErrInvalidPlugin) {
		t.Errorf("Find(wrong) error = %v, want ErrInvalidPlugin", err)
	}
}

func TestLoaderOwns(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir)

	tests := []struct {
		path string
		name string
		ok   bool
	}{
		{filepath.Join(dir, "motd.lua"), "motd", true},
		{filepath.Join(dir, "ranked", "init.lua"), "ranked", true},
		{filepath.Join(dir, "ranked", "lib", "elo.lua"), "ranked", true},
		{filepath.Join(dir, "notes.txt"), "", false},
		{filepath.Join(dir, "ranked"), "", false},
		{filepath.Join(filepath.Dir(dir), "elsewhere.lua"), "", false},
	}
	for _, tt := range tests {
		name, ok := l.Owns(tt.path)
		if name != tt.name || ok != tt.ok {
			t.Errorf("Owns(%q) = %q, %v; want %q, %v", tt.path, name, ok, tt.name, tt.ok)
		}
	}
}
