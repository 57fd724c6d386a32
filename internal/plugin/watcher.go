package plugin

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/gamehook/internal/logging"
)

// Watcher reports plugins whose files changed. Changes to the same plugin
// within the debounce delay are coalesced into one notification.
type Watcher struct {
	watcher *fsnotify.Watcher
	loader  *Loader
	delay   time.Duration
	notify  func(name string)
	log     *logging.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewWatcher watches the loader's directory and every plugin directory in
// it. notify is called with the plugin name from a timer goroutine.
func NewWatcher(loader *Loader, delay time.Duration, notify func(string), log *logging.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fsw,
		loader:  loader,
		delay:   delay,
		notify:  notify,
		log:     logging.OrNull(log),
		pending: make(map[string]*time.Timer),
		closeCh: make(chan struct{}),
	}

	if err := w.add(loader.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(loader.Dir())
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := w.add(filepath.Join(loader.Dir(), entry.Name())); err != nil {
				w.log.Warn("watch %s: %v", entry.Name(), err)
			}
		}
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

func (w *Watcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.watcher.Add(abs)
}

// Close stops the watcher and cancels pending notifications.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	w.closedWg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}

	// A new plugin directory needs its own watch.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.add(ev.Name); err != nil {
				w.log.Warn("watch %s: %v", ev.Name, err)
			}
		}
	}

	dir, err := filepath.Abs(w.loader.Dir())
	if err != nil {
		return
	}
	rel, err := filepath.Rel(dir, ev.Name)
	if err != nil {
		return
	}
	name, ok := w.loader.Owns(filepath.Join(w.loader.Dir(), rel))
	if !ok {
		return
	}
	w.schedule(name)
}

// schedule (re)starts the debounce timer of name.
func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, exists := w.pending[name]; exists {
		t.Reset(w.delay)
		return
	}
	w.pending[name] = time.AfterFunc(w.delay, func() {
		w.fire(name)
	})
}

func (w *Watcher) fire(name string) {
	w.mu.Lock()
	if _, exists := w.pending[name]; !exists || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, name)
	w.mu.Unlock()

	w.log.Debug("plugin %s changed", name)
	w.notify(name)
}
