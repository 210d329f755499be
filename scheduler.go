// scheduler.go: priority queue, concurrency gate and pause barrier
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
)

// Ticket is the pending result of an enqueued operation.
type Ticket struct {
	id       uint64
	priority Priority

	done chan struct{}
	once sync.Once
	val  interface{}
	err  error
}

// ID returns the operation id, unique per Scheduler.
func (t *Ticket) ID() uint64 { return t.id }

// Priority returns the priority the operation was enqueued with.
func (t *Ticket) Priority() Priority { return t.priority }

// Done is closed when the operation has settled.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the operation settles or ctx ends. A ctx ending does
// not withdraw the operation from the queue.
func (t *Ticket) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Ticket) settle(v interface{}, err error) {
	t.once.Do(func() {
		t.val, t.err = v, err
		close(t.done)
	})
}

type queuedOp struct {
	ticket     *Ticket
	ctx        context.Context
	fn         Operation
	enqueuedAt time.Time
}

// Scheduler runs operations in priority order (lower number first, FIFO
// among equals) with at most MaxConcurrent executing at once.
//
// A single drain loop dequeues the head once a semaphore slot is free.
// While paused, only PriorityCritical heads are dequeued; operations
// already running are unaffected.
type Scheduler struct {
	mu         sync.Mutex
	queue      []*queuedOp
	nextID     uint64
	paused     int
	processing bool
	running    int
	closed     bool

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	clock   clockwork.Clock
	logger  Logger
	metrics MetricsCollector
}

// NewScheduler creates a Scheduler. cfg must have been validated.
func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.MetricsCollector,
	}
}

// Enqueue adds fn to the queue. fn receives ctx when it runs; if ctx has
// ended by then, fn is skipped and the ticket settles with ctx.Err().
func (s *Scheduler) Enqueue(ctx context.Context, priority Priority, fn Operation) (*Ticket, error) {
	if !priority.Valid() {
		return nil, NewErrInvalidPriority(priority)
	}
	if fn == nil {
		return nil, NewErrInvalidOperation("")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewErrClosed("Enqueue")
	}

	s.nextID++
	op := &queuedOp{
		ticket:     &Ticket{id: s.nextID, priority: priority, done: make(chan struct{})},
		ctx:        ctx,
		fn:         fn,
		enqueuedAt: s.clock.Now(),
	}

	// Insert before the first strictly less urgent operation.
	i := len(s.queue)
	for j, q := range s.queue {
		if q.ticket.priority > priority {
			i = j
			break
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = op

	s.startLocked()
	return op.ticket, nil
}

// Do enqueues fn and waits for its result.
func (s *Scheduler) Do(ctx context.Context, priority Priority, fn Operation) (interface{}, error) {
	t, err := s.Enqueue(ctx, priority, fn)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// admissibleLocked reports whether the head may be dequeued now.
func (s *Scheduler) admissibleLocked() bool {
	if s.closed || len(s.queue) == 0 {
		return false
	}
	return s.paused == 0 || s.queue[0].ticket.priority == PriorityCritical
}

func (s *Scheduler) startLocked() {
	if s.processing || !s.admissibleLocked() {
		return
	}
	s.processing = true
	s.wg.Add(1)
	go s.drain()
}

func (s *Scheduler) drain() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if !s.admissibleLocked() {
			s.processing = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		// Cannot fail with a background context.
		_ = s.sem.Acquire(context.Background(), 1)

		s.mu.Lock()
		// Pause, cancellation or Close may have happened while waiting.
		if !s.admissibleLocked() {
			s.processing = false
			s.mu.Unlock()
			s.sem.Release(1)
			return
		}
		op := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running++
		s.wg.Add(1)
		s.mu.Unlock()

		go s.run(op)
	}
}

func (s *Scheduler) run(op *queuedOp) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered in scheduled operation", "id", op.ticket.id, "panic", r)
			op.ticket.settle(nil, NewErrPanicRecovered("scheduler", r))
		}
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
		s.sem.Release(1)
		s.wg.Done()
	}()

	s.metrics.RecordQueueWait(s.clock.Since(op.enqueuedAt))
	if err := op.ctx.Err(); err != nil {
		op.ticket.settle(nil, err)
		return
	}
	v, err := op.fn(op.ctx)
	op.ticket.settle(v, err)
}

// Pause stops further dequeues, except PriorityCritical, until Resume.
// Pauses nest: each Pause needs its own Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused++
}

// Resume releases one Pause and restarts the drain loop if work remains.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused > 0 {
		s.paused--
	}
	s.startLocked()
}

// CancelByPriorityCeiling removes every queued operation whose priority
// number is <= maxPriority, i.e. maxPriority and everything more urgent.
// Their tickets settle with an XANTHOS_CANCELLED error. Running operations
// are not affected.
func (s *Scheduler) CancelByPriorityCeiling(maxPriority Priority) int {
	return s.cancelWhere(func(p Priority) bool { return p <= maxPriority })
}

// Clear cancels everything queued.
func (s *Scheduler) Clear() int {
	return s.cancelWhere(func(Priority) bool { return true })
}

func (s *Scheduler) cancelWhere(match func(Priority) bool) int {
	s.mu.Lock()
	var cancelled []*queuedOp
	kept := s.queue[:0]
	for _, op := range s.queue {
		if match(op.ticket.priority) {
			cancelled = append(cancelled, op)
		} else {
			kept = append(kept, op)
		}
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	s.mu.Unlock()

	for _, op := range cancelled {
		op.ticket.settle(nil, NewErrCancelled(op.ticket.id, op.ticket.priority))
	}
	if len(cancelled) > 0 {
		s.logger.Debug("cancelled queued operations", "count", len(cancelled))
	}
	return len(cancelled)
}

// Close rejects queued operations with XANTHOS_CLOSED and waits for
// running ones until ctx ends.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, op := range queued {
		op.ticket.settle(nil, NewErrClosed("scheduler"))
	}

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

// QueueDepth returns the number of operations waiting to start.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running returns the number of operations executing.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsProcessing reports whether the drain loop is active.
func (s *Scheduler) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// IsPaused reports whether at least one Pause is outstanding.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused > 0
}
