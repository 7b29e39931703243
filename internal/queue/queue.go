// Package queue meters outbound analysis work: a fixed number of tasks
// run concurrently, a bounded FIFO holds the overflow, and anything
// beyond that is rejected synchronously so callers never block on
// admission.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/qerrors/internal/metrics"
)

var (
	// ErrQueueFull reports that both the concurrency slots and the queue
	// slots were exhausted at submission time.
	ErrQueueFull = errors.New("analysis queue full")
	// ErrShutdown reports that the scheduler no longer accepts work.
	ErrShutdown = errors.New("scheduler shut down")
)

// Task is one unit of outbound work. It runs on a detached context:
// callers cancel their wait, never the task itself.
type Task func(ctx context.Context) (any, error)

// Config holds scheduler settings.
type Config struct {
	MaxConcurrency  int           // tasks running at once, minimum 1
	MaxQueueLength  int           // waiting tasks; 0 disables queueing
	MetricsInterval time.Duration // stats logging cadence while busy; 0 disables

	// OnBusy fires when the scheduler leaves the idle state, OnIdle when
	// the last task drains. Both run with the scheduler's lock held and
	// must not call back into it.
	OnBusy func()
	OnIdle func()
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	Active    int
	Queued    int
	Rejected  int64
	Processed int64
}

// Pending is a handle to a submitted task.
type Pending struct {
	done   chan struct{}
	result any
	err    error
}

// Wait blocks until the task finishes or ctx is done. Cancelling ctx
// abandons the wait; the task keeps running.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type waiter struct {
	task Task
	p    *Pending
}

// Scheduler admits tasks up to a concurrency bound, queues a bounded
// overflow in FIFO order, and rejects the rest.
type Scheduler struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	running   int
	waiting   *list.List
	closed    bool
	statsStop chan struct{} // non-nil while the stats loop runs

	rejected  atomic.Int64
	processed atomic.Int64
	wg        sync.WaitGroup
}

// New creates a scheduler. Out-of-range limits are corrected silently.
func New(cfg Config, log *slog.Logger) *Scheduler {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxQueueLength < 0 {
		cfg.MaxQueueLength = 0
	}
	if log == nil {
		log = slog.Default()
	}

	return &Scheduler{
		cfg:     cfg,
		log:     log.With("component", "scheduler"),
		waiting: list.New(),
	}
}

// Submit admits a task. It runs immediately when a concurrency slot is
// free, waits in FIFO order when the queue has room, and is rejected
// with ErrQueueFull otherwise. Submit never blocks.
func (s *Scheduler) Submit(task Task) (*Pending, error) {
	p := &Pending{done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}

	if s.running < s.cfg.MaxConcurrency {
		wasIdle := s.running == 0
		s.running++
		s.wg.Add(1)
		metrics.QueueActive.Set(float64(s.running))
		if wasIdle {
			s.becomeBusyUnsafe()
		}
		s.mu.Unlock()
		go s.run(task, p)
		return p, nil
	}

	if s.waiting.Len() < s.cfg.MaxQueueLength {
		s.waiting.PushBack(&waiter{task: task, p: p})
		s.wg.Add(1)
		metrics.QueueDepth.Set(float64(s.waiting.Len()))
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	s.rejected.Add(1)
	metrics.QueueRejected.Inc()
	return nil, ErrQueueFull
}

func (s *Scheduler) run(task Task, p *Pending) {
	// complete runs before the done channel closes so waiters observe
	// the updated counters.
	defer s.wg.Done()
	defer close(p.done)
	defer s.complete()
	defer func() {
		if r := recover(); r != nil {
			p.err = fmt.Errorf("task panic: %v", r)
			s.log.Error("analysis task panicked", "panic", r)
		}
	}()

	p.result, p.err = task(context.Background())
}

func (s *Scheduler) complete() {
	s.processed.Add(1)
	metrics.QueueProcessed.Inc()

	s.mu.Lock()
	if el := s.waiting.Front(); el != nil {
		s.waiting.Remove(el)
		metrics.QueueDepth.Set(float64(s.waiting.Len()))
		w := el.Value.(*waiter)
		s.mu.Unlock()
		go s.run(w.task, w.p)
		return
	}

	s.running--
	metrics.QueueActive.Set(float64(s.running))
	if s.running == 0 {
		s.becomeIdleUnsafe()
	}
	s.mu.Unlock()
}

func (s *Scheduler) becomeBusyUnsafe() {
	if s.cfg.MetricsInterval > 0 && s.statsStop == nil {
		stop := make(chan struct{})
		s.statsStop = stop
		go s.statsLoop(stop)
	}
	if s.cfg.OnBusy != nil {
		s.cfg.OnBusy()
	}
}

func (s *Scheduler) becomeIdleUnsafe() {
	if s.statsStop != nil {
		close(s.statsStop)
		s.statsStop = nil
	}
	if s.cfg.OnIdle != nil {
		s.cfg.OnIdle()
	}
}

func (s *Scheduler) statsLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			st := s.Stats()
			s.log.Debug("queue stats",
				"active", st.Active,
				"queued", st.Queued,
				"rejected", st.Rejected,
				"processed", st.Processed)
		}
	}
}

// Stats returns a snapshot of current scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Active: s.running,
		Queued: s.waiting.Len(),
	}
	s.mu.Unlock()

	st.Rejected = s.rejected.Load()
	st.Processed = s.processed.Load()
	return st
}

// Shutdown stops the stats loop and rejects further submissions.
// Running and already queued tasks finish.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.statsStop != nil {
		close(s.statsStop)
		s.statsStop = nil
	}
}

// Drain waits until all admitted tasks have finished or ctx is done.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
