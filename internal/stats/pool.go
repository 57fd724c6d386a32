package stats

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dshills/gamehook/internal/logging"
)

// Pool runs submitted tasks on a fixed set of workers fed by a bounded
// queue. Submit never blocks: a full queue drops the task.
type Pool struct {
	queueSize   int
	workerCount int
	log         *logging.Logger

	mu      sync.Mutex // protects queue creation/destruction
	queue   chan func()
	running atomic.Bool
	wg      sync.WaitGroup

	enqueued  atomic.Uint64
	processed atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueueSize sets the task queue size.
func WithQueueSize(size int) PoolOption {
	return func(p *Pool) {
		if size > 0 {
			p.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of worker goroutines. One worker keeps
// tasks in submission order.
func WithWorkerCount(count int) PoolOption {
	return func(p *Pool) {
		if count > 0 {
			p.workerCount = count
		}
	}
}

// WithPoolLogger sets the logger for recovered panics.
func WithPoolLogger(l *logging.Logger) PoolOption {
	return func(p *Pool) {
		p.log = logging.OrNull(l)
	}
}

// NewPool creates a stopped pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		queueSize:   1024,
		workerCount: 1,
		log:         logging.NullLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start starts the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return ErrAlreadyRunning
	}

	p.queue = make(chan func(), p.queueSize)
	p.running.Store(true)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(p.queue)
	}
	return nil
}

// Stop closes the queue and waits for queued tasks to finish or ctx to end.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running.Store(false)
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues task. It returns ErrQueueFull when the queue is at
// capacity and ErrNotRunning after Stop.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return ErrNotRunning
	}
	select {
	case p.queue <- task:
		p.enqueued.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

func (p *Pool) worker(queue chan func()) {
	defer p.wg.Done()
	for task := range queue {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		p.processed.Add(1)
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.log.Error("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	task()
}

// QueueDepth returns the number of tasks waiting.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return 0
	}
	return len(p.queue)
}

// IsRunning reports whether the workers are started.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Enqueued:   p.enqueued.Load(),
		Processed:  p.processed.Load(),
		Panicked:   p.panicked.Load(),
		Dropped:    p.dropped.Load(),
		QueueDepth: p.QueueDepth(),
	}
}

// PoolStats contains statistics for a Pool.
type PoolStats struct {
	Enqueued  uint64
	Processed uint64
	Panicked  uint64
	// Dropped counts tasks refused because the queue was full.
	Dropped    uint64
	QueueDepth int
}
