package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
	"github.com/dshills/gamehook/internal/logging"
)

// Message types sent to and received from feed clients. A plugin message
// reports a plugin lifecycle change; a plugins message asks for, and
// answers with, the plugin list.
const (
	TypeDispatch = "dispatch"
	TypeFault    = "fault"
	TypeCommand  = "command"
	TypeResult   = "result"
	TypeError    = "error"
	TypeWelcome  = "welcome"
	TypePlugin   = "plugin"
	TypePlugins  = "plugins"
)

// Message is one JSON frame on the feed.
type Message struct {
	Type string `json:"type"`

	Event    string         `json:"event,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Decision string         `json:"decision,omitempty"`
	Ran      int            `json:"ran,omitempty"`
	Faults   int            `json:"faults,omitempty"`
	// ElapsedUS is the dispatch time in microseconds.
	ElapsedUS int64 `json:"elapsed_us,omitempty"`

	Text string `json:"text,omitempty"`
	OK   bool   `json:"ok,omitempty"`

	Plugin  string         `json:"plugin,omitempty"`
	Plugins []PluginStatus `json:"plugins,omitempty"`

	// Password and Command are only read from clients.
	Password string `json:"password,omitempty"`
	Command  string `json:"command,omitempty"`
}

// PluginStatus describes one plugin in a plugin list.
type PluginStatus struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	State    string `json:"state"`
	Handlers int    `json:"handlers"`
	Error    string `json:"error,omitempty"`
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	// Queue bounds the messages waiting between the server thread and
	// the subscribers.
	Queue int
	// Buffer bounds each subscriber's backlog.
	Buffer int
	// Exclude lists events never published.
	Exclude []string
	Log     *logging.Logger
}

// Feed is an event.Observer that publishes dispatches to subscribers.
// Observer calls only build a message and queue it, so a slow subscriber
// never stalls the server thread; whatever does not fit is dropped.
type Feed struct {
	pool    *Pool
	exclude map[string]bool
	buffer  int
	log     *logging.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	published atomic.Uint64
}

// NewFeed creates a stopped feed.
func NewFeed(cfg FeedConfig) *Feed {
	log := logging.OrNull(cfg.Log).WithComponent("feed")
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	f := &Feed{
		pool:    NewPool(WithQueueSize(cfg.Queue), WithPoolLogger(log)),
		exclude: make(map[string]bool, len(cfg.Exclude)),
		buffer:  cfg.Buffer,
		log:     log,
		subs:    make(map[*Subscription]struct{}),
	}
	for _, name := range cfg.Exclude {
		f.exclude[name] = true
	}
	return f
}

// Start starts delivery.
func (f *Feed) Start() error {
	return f.pool.Start()
}

// Close stops delivery and closes every subscription.
func (f *Feed) Close(ctx context.Context) error {
	err := f.pool.Stop(ctx)

	f.mu.Lock()
	for s := range f.subs {
		s.close()
	}
	f.subs = make(map[*Subscription]struct{})
	f.mu.Unlock()

	if err == ErrNotRunning {
		return nil
	}
	return err
}

// Dispatched implements event.Observer.
func (f *Feed) Dispatched(name string, p *event.Payload, r event.Result, elapsed time.Duration) {
	if f.exclude[name] || f.Subscribers() == 0 {
		return
	}
	f.Publish(Message{
		Type:      TypeDispatch,
		Event:     name,
		Args:      events.Fields(name, p),
		Decision:  r.Decision.String(),
		Ran:       r.Ran,
		Faults:    r.Faults,
		ElapsedUS: elapsed.Microseconds(),
	})
}

// HandlerFault implements event.Observer.
func (f *Feed) HandlerFault(fe *event.FaultError) {
	if f.exclude[fe.Event] || f.Subscribers() == 0 {
		return
	}
	f.Publish(Message{Type: TypeFault, Event: fe.Event, Text: fe.Error()})
}

// PluginChanged publishes a plugin lifecycle change. kind is what
// happened, such as "loaded" or "error".
func (f *Feed) PluginChanged(name, kind string, err error) {
	if f.Subscribers() == 0 {
		return
	}
	msg := Message{Type: TypePlugin, Event: kind, Plugin: name}
	if err != nil {
		msg.Text = err.Error()
	}
	f.Publish(msg)
}

// Publish queues msg for every subscriber. It reports false when the
// message was dropped.
func (f *Feed) Publish(msg Message) bool {
	if err := f.pool.Submit(func() { f.broadcast(msg) }); err != nil {
		if err == ErrQueueFull {
			f.log.Debug("dropped %s message for %s", msg.Type, msg.Event)
		}
		return false
	}
	f.published.Add(1)
	return true
}

func (f *Feed) broadcast(msg Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for s := range f.subs {
		s.deliver(msg)
	}
}

// Subscribe registers a new subscriber.
func (f *Feed) Subscribe() *Subscription {
	s := &Subscription{
		feed: f,
		ch:   make(chan Message, f.buffer),
	}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

func (f *Feed) unsubscribe(s *Subscription) {
	f.mu.Lock()
	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		s.close()
	}
	f.mu.Unlock()
}

// Subscribers returns the number of subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Stats returns the delivery pool statistics.
func (f *Feed) Stats() PoolStats {
	return f.pool.Stats()
}

// Subscription receives feed messages on C until it is closed.
type Subscription struct {
	feed *Feed
	ch   chan Message

	dropped atomic.Uint64
	closed  bool // guarded by feed.mu
}

// C returns the message channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Dropped returns how many messages this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.feed.unsubscribe(s)
}

func (s *Subscription) deliver(msg Message) {
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

func (s *Subscription) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
