package plugin

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type notifications struct {
	mu    sync.Mutex
	names []string
	ch    chan string
}

func newNotifications() *notifications {
	return &notifications{ch: make(chan string, 16)}
}

func (n *notifications) notify(name string) {
	n.mu.Lock()
	n.names = append(n.names, name)
	n.mu.Unlock()
	n.ch <- name
}

func (n *notifications) wait(t *testing.T) string {
	t.Helper()
	select {
	case name := <-n.ch:
		return name
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
		return ""
	}
}

func TestWatcherNotifiesOwningPlugin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ranked", "init.lua"), "-- v1")

	n := newNotifications()
	w, err := NewWatcher(NewLoader(dir), 20*time.Millisecond, n.notify, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	writeFile(t, filepath.Join(dir, "ranked", "init.lua"), "-- v2")
	if got := n.wait(t); got != "ranked" {
		t.Errorf("notified %q, want ranked", got)
	}

	writeFile(t, filepath.Join(dir, "motd.lua"), "-- new")
	if got := n.wait(t); got != "motd" {
		t.Errorf("notified %q, want motd", got)
	}
}

func TestWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "motd.lua"), "-- v0")

	n := newNotifications()
	w, err := NewWatcher(NewLoader(dir), 100*time.Millisecond, n.notify, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(dir, "motd.lua"), "-- edit")
	}
	n.wait(t)
	time.Sleep(250 * time.Millisecond)

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.names) != 1 {
		t.Errorf("notifications = %v, want one", n.names)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	n := newNotifications()
	w, err := NewWatcher(NewLoader(dir), 20*time.Millisecond, n.notify, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	time.Sleep(150 * time.Millisecond)
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.names) != 0 {
		t.Errorf("notifications = %v, want none", n.names)
	}
}

func TestManagerWatchReloadsOnFrame(t *testing.T) {
	f := newManagerFixture(t)
	f.write(t, "greet.lua", `hook.add("client_command", function() return "say v1" end)`)
	if _, err := f.m.Load("greet"); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	f.write(t, "greet.lua", `hook.add("client_command", function() return "say v2" end)`)

	deadline := time.Now().Add(2 * time.Second)
	for f.m.RunPending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("change was never applied")
		}
		time.Sleep(10 * time.Millisecond)
	}

	p, _ := f.m.Get("greet")
	if p.State() != StateLoaded {
		t.Fatalf("State() = %v", p.State())
	}
}
