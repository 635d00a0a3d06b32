package scheduler

import (
	"errors"
	"log/slog"
	"sync"
)

const (
	DefaultPoolSize  = 16
	DefaultQueueSize = 1000
)

var (
	// ErrPoolFull is returned when the job queue is at capacity.
	ErrPoolFull = errors.New("worker pool queue is full")
	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Pool runs submitted jobs on a fixed number of workers.
type Pool struct {
	logger *slog.Logger
	jobs   chan func()
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queue int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{logger: logger, jobs: make(chan func(), queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("scheduled job panicked", "panic", r)
		}
	}()
	job()
}
