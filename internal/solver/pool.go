package solver

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrQueueFull is returned by Submit when the pool's backlog is at capacity.
var ErrQueueFull = errors.New("solver queue full")

// Pool runs solve invocations on a fixed set of workers. Request handlers
// submit work and wait on the returned handle; they never block a worker
// themselves. Stop cancels the pool context, which in-flight solves observe
// as cooperative cancellation.
type Pool struct {
	tasks  chan *Handle
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger

	mu      sync.Mutex
	started bool
}

// Handle tracks one submitted invocation.
type Handle struct {
	run  func(ctx context.Context) error
	done chan struct{}
	err  error
}

// Done is closed when the invocation finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is valid after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the invocation finishes or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan *Handle, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: log.New(log.Writer(), "[SOLVER-POOL] ", log.LstdFlags),
	}
	p.start(workers)
	return p
}

func (p *Pool) start(workers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Printf("started %d workers (queue %d)", workers, cap(p.tasks))
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case h, ok := <-p.tasks:
			if !ok {
				return
			}
			h.err = h.run(p.ctx)
			close(h.done)
		}
	}
}

// Submit enqueues an invocation. Returns ErrQueueFull when the backlog is at
// capacity; callers surface that as RESOURCE_BUSY.
func (p *Pool) Submit(run func(ctx context.Context) error) (*Handle, error) {
	h := &Handle{run: run, done: make(chan struct{})}
	select {
	case p.tasks <- h:
		return h, nil
	default:
		return nil, ErrQueueFull
	}
}

// QueueDepth reports the current backlog, exposed by the readiness probe.
func (p *Pool) QueueDepth() int { return len(p.tasks) }

// Stop cancels in-flight work and waits for the workers to exit.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Printf("stopped")
}
