package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateTask is returned when a task key is already registered somewhere in the cluster.
var ErrDuplicateTask = errors.New("task already registered")

// DefaultClaimGrace keeps a one-shot claim alive past its fire time so a slow
// pool can still pick it up.
const DefaultClaimGrace = time.Minute

// Task is the unit of scheduled work.
type Task func(ctx context.Context)

// Handle identifies a scheduled one-shot task. It can be stored and used to
// cancel the task from any node.
type Handle struct {
	Key    string
	ID     string
	FireAt time.Time
}

// FixedRateOptions tunes a periodic registration.
type FixedRateOptions struct {
	// LeaseTTL bounds how long the registration survives a dead holder. Defaults to three intervals.
	LeaseTTL time.Duration
	// Standby keeps a non-holder node polling for the marker instead of failing with ErrDuplicateTask.
	Standby bool
	// OnLeadership runs on the loop goroutine each time this node takes the marker.
	OnLeadership func(ctx context.Context)
}

type Config struct {
	NodeID     string
	PoolSize   int
	QueueSize  int
	ClaimGrace time.Duration
}

// Scheduler runs claim-once one-shot tasks and leased periodic tasks on a worker pool.
type Scheduler struct {
	claims Claimer
	pool   *Pool
	logger *slog.Logger
	nodeID string
	grace  time.Duration
	now    func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	timers   map[string]*oneShot
	periodic map[string]*Registration
}

type oneShot struct {
	handle Handle
	timer  *time.Timer
}

func New(cfg Config, claims Claimer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.ClaimGrace <= 0 {
		cfg.ClaimGrace = DefaultClaimGrace
	}
	logger = logger.With("component", "scheduler", "node_id", cfg.NodeID)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		claims:   claims,
		pool:     NewPool(cfg.PoolSize, cfg.QueueSize, logger),
		logger:   logger,
		nodeID:   cfg.NodeID,
		grace:    cfg.ClaimGrace,
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
		timers:   make(map[string]*oneShot),
		periodic: make(map[string]*Registration),
	}
}

// NodeID is the holder name this node uses for periodic markers.
func (s *Scheduler) NodeID() string {
	return s.nodeID
}

// ScheduleOnce registers task to run once after delay. Only one handle per key
// can exist in the cluster; a second registration fails with ErrDuplicateTask.
func (s *Scheduler) ScheduleOnce(ctx context.Context, key string, delay time.Duration, task Task) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	handle := Handle{Key: key, ID: uuid.NewString(), FireAt: s.now().Add(delay)}

	ok, err := s.claims.Claim(ctx, key, handle.ID, delay+s.grace)
	if err != nil {
		return Handle{}, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return Handle{}, ErrDuplicateTask
	}

	entry := &oneShot{handle: handle}
	s.mu.Lock()
	entry.timer = time.AfterFunc(delay, func() { s.fire(entry, task) })
	s.timers[handle.ID] = entry
	s.mu.Unlock()

	s.logger.Debug("one-shot task scheduled", "key", key, "handle_id", handle.ID, "fire_at", handle.FireAt)
	return handle, nil
}

func (s *Scheduler) fire(entry *oneShot, task Task) {
	s.mu.Lock()
	if _, ok := s.timers[entry.handle.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, entry.handle.ID)
	s.mu.Unlock()

	handle := entry.handle
	err := s.pool.Submit(func() {
		ctx := s.baseCtx
		holder, err := s.claims.Holder(ctx, handle.Key)
		if err != nil {
			s.logger.Error("read task claim", "key", handle.Key, "error", err)
			return
		}
		if holder != handle.ID {
			s.logger.Debug("one-shot task cancelled elsewhere", "key", handle.Key, "handle_id", handle.ID)
			return
		}
		defer func() {
			if _, err := s.claims.Release(ctx, handle.Key, handle.ID); err != nil {
				s.logger.Warn("release task claim", "key", handle.Key, "error", err)
			}
		}()
		task(ctx)
	})
	if err != nil {
		s.logger.Error("submit one-shot task; releasing its claim", "key", handle.Key, "error", err)
		if _, err := s.claims.Release(s.baseCtx, handle.Key, handle.ID); err != nil {
			s.logger.Warn("release task claim", "key", handle.Key, "error", err)
		}
	}
}

// Cancel disposes handle. It reports false when the task already fired or was
// cancelled before; that is not an error.
func (s *Scheduler) Cancel(ctx context.Context, handle Handle) (bool, error) {
	stopped := false
	s.mu.Lock()
	if entry, ok := s.timers[handle.ID]; ok {
		stopped = entry.timer.Stop()
		delete(s.timers, handle.ID)
	}
	s.mu.Unlock()

	released, err := s.claims.Release(ctx, handle.Key, handle.ID)
	if err != nil {
		return stopped, fmt.Errorf("release %s: %w", handle.Key, err)
	}
	return stopped || released, nil
}

// CancelKey cancels whatever one-shot task currently holds key, on any node.
func (s *Scheduler) CancelKey(ctx context.Context, key string) (bool, error) {
	holder, err := s.claims.Holder(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read claim %s: %w", key, err)
	}
	if holder == "" {
		return false, nil
	}
	return s.Cancel(ctx, Handle{Key: key, ID: holder})
}

// CancelLocal cancels every one-shot task whose timer lives on this node and
// returns how many were cancelled.
func (s *Scheduler) CancelLocal(ctx context.Context) int {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.timers))
	for _, entry := range s.timers {
		handles = append(handles, entry.handle)
	}
	s.mu.Unlock()

	cancelled := 0
	for _, handle := range handles {
		ok, err := s.Cancel(ctx, handle)
		if err != nil {
			s.logger.Warn("cancel local task", "key", handle.Key, "error", err)
			continue
		}
		if ok {
			cancelled++
		}
	}
	return cancelled
}

// ScheduleAtFixedRate runs task every interval on exactly one node of the
// cluster. The marker under key is a lease renewed on every tick.
func (s *Scheduler) ScheduleAtFixedRate(ctx context.Context, key string, interval time.Duration, task Task, opts FixedRateOptions) (*Registration, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive", key)
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 3 * interval
	}

	s.mu.Lock()
	if _, ok := s.periodic[key]; ok {
		s.mu.Unlock()
		return nil, ErrDuplicateTask
	}
	reg := &Registration{
		key:      key,
		interval: interval,
		task:     task,
		opts:     opts,
		s:        s,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.periodic[key] = reg
	s.mu.Unlock()

	ok, err := s.claims.Claim(ctx, key, s.nodeID, opts.LeaseTTL)
	if err == nil && !ok && !opts.Standby {
		err = ErrDuplicateTask
	}
	if err != nil {
		s.mu.Lock()
		delete(s.periodic, key)
		s.mu.Unlock()
		if errors.Is(err, ErrDuplicateTask) {
			return nil, err
		}
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}

	reg.setLeader(ok)
	go reg.loop(ok)
	return reg, nil
}

// Shutdown stops every periodic registration, cancels local one-shot tasks and
// drains the pool.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	regs := make([]*Registration, 0, len(s.periodic))
	for _, reg := range s.periodic {
		regs = append(regs, reg)
	}
	s.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		if _, err := reg.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.CancelLocal(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// Registration is a running periodic task.
type Registration struct {
	key      string
	interval time.Duration
	task     Task
	opts     FixedRateOptions
	s        *Scheduler

	mu     sync.Mutex
	leader bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Key is the registration marker key.
func (r *Registration) Key() string {
	return r.key
}

// Leader reports whether this node currently holds the marker.
func (r *Registration) Leader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leader
}

func (r *Registration) setLeader(v bool) {
	r.mu.Lock()
	r.leader = v
	r.mu.Unlock()
}

// Stop ends the loop, waits for an in-flight run and releases the marker if
// this node holds it. It reports whether the marker was held.
func (r *Registration) Stop(ctx context.Context) (bool, error) {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	r.s.mu.Lock()
	if r.s.periodic[r.key] == r {
		delete(r.s.periodic, r.key)
	}
	r.s.mu.Unlock()

	if !r.Leader() {
		return false, nil
	}
	r.setLeader(false)
	if _, err := r.s.claims.Release(ctx, r.key, r.s.nodeID); err != nil {
		return true, fmt.Errorf("release %s: %w", r.key, err)
	}
	return true, nil
}

func (r *Registration) loop(leader bool) {
	defer close(r.done)
	logger := r.s.logger.With("key", r.key)
	ctx := r.s.baseCtx

	if leader {
		logger.Info("periodic task registered", "interval", r.interval)
		r.onLeadership(ctx)
	} else {
		logger.Info("periodic task already registered on another node; standing by")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		if !r.holdLease(ctx, logger) {
			continue
		}
		r.runOnce(ctx, logger)
	}
}

func (r *Registration) holdLease(ctx context.Context, logger *slog.Logger) bool {
	claims := r.s.claims
	if r.Leader() {
		ok, err := claims.Renew(ctx, r.key, r.s.nodeID, r.opts.LeaseTTL)
		if err != nil {
			// keep running on transient errors; the lease outlives several ticks
			logger.Warn("renew periodic lease", "error", err)
			return true
		}
		if !ok {
			logger.Warn("periodic lease lost")
			r.setLeader(false)
		}
		return ok
	}

	ok, err := claims.Claim(ctx, r.key, r.s.nodeID, r.opts.LeaseTTL)
	if err != nil {
		logger.Warn("claim periodic lease", "error", err)
		return false
	}
	if !ok {
		return false
	}
	logger.Info("took over periodic task")
	r.setLeader(true)
	r.onLeadership(ctx)
	return true
}

func (r *Registration) onLeadership(ctx context.Context) {
	if r.opts.OnLeadership == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.s.logger.Error("leadership hook panicked", "key", r.key, "panic", rec)
		}
	}()
	r.opts.OnLeadership(ctx)
}

// runOnce submits one occurrence and waits for it so runs never overlap. The
// lease is renewed while the run is in flight; if it is lost the run's context
// is cancelled so a new holder does not work alongside it.
func (r *Registration) runOnce(ctx context.Context, logger *slog.Logger) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan struct{})
	err := r.s.pool.Submit(func() {
		defer close(finished)
		r.task(runCtx)
	})
	if err != nil {
		logger.Error("submit periodic task", "error", err)
		return
	}

	ticker := time.NewTicker(r.renewEvery())
	defer ticker.Stop()
	for {
		select {
		case <-finished:
			return
		case <-ticker.C:
			ok, err := r.s.claims.Renew(ctx, r.key, r.s.nodeID, r.opts.LeaseTTL)
			if err != nil {
				logger.Warn("renew periodic lease during run", "error", err)
				continue
			}
			if !ok {
				logger.Warn("periodic lease lost during run; cancelling it")
				r.setLeader(false)
				cancel()
				<-finished
				return
			}
		}
	}
}

func (r *Registration) renewEvery() time.Duration {
	every := r.opts.LeaseTTL / 3
	if every <= 0 {
		every = r.interval
	}
	return every
}
