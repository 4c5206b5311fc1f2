// Package dispatch runs work for many calls concurrently while keeping the
// work of any single call strictly ordered.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned by Submit after Stop.
	ErrClosed = errors.New("dispatch lanes closed")
	// ErrLaneFull is returned when a call already has too much queued work.
	ErrLaneFull = errors.New("lane full")
)

const (
	DefaultDepth    = 32
	DefaultIdleTime = 30 * time.Second
)

type task struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan error
}

// Lanes keeps one FIFO lane per key, each drained by its own goroutine. A
// weighted semaphore bounds how many lanes run work at the same time. A lane
// with nothing to do for the idle time removes itself.
type Lanes struct {
	mu     sync.Mutex
	lanes  map[string]chan *task
	closed bool

	sem    *semaphore.Weighted
	depth  int
	idle   time.Duration
	active atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates lanes allowing maxConcurrent keys to run at once. depth bounds
// each lane's queue. Zero values take defaults.
func New(maxConcurrent int64, depth int, idle time.Duration) *Lanes {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	if idle <= 0 {
		idle = DefaultIdleTime
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lanes{
		lanes:  make(map[string]chan *task),
		sem:    semaphore.NewWeighted(maxConcurrent),
		depth:  depth,
		idle:   idle,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start ties the lanes' lifetime to ctx.
func (l *Lanes) Start(ctx context.Context) {
	l.cancel()
	l.ctx, l.cancel = context.WithCancel(ctx)
}

// Stop cancels queued work, closes every lane and waits for running work.
func (l *Lanes) Stop() {
	l.cancel()
	l.mu.Lock()
	l.closed = true
	for key, lane := range l.lanes {
		close(lane)
		delete(l.lanes, key)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// Submit queues fn on key's lane and waits until it has run. fn receives
// ctx; it is skipped if ctx ends while queued.
func (l *Lanes) Submit(ctx context.Context, key string, fn func(context.Context)) error {
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := l.enqueue(key, t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrClosed
	}
}

func (l *Lanes) enqueue(key string, t *task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	lane, ok := l.lanes[key]
	if !ok {
		lane = make(chan *task, l.depth)
		l.lanes[key] = lane
		l.wg.Add(1)
		go l.drain(key, lane)
	}

	select {
	case lane <- t:
		return nil
	default:
		return fmt.Errorf("%s: %w", key, ErrLaneFull)
	}
}

func (l *Lanes) drain(key string, lane chan *task) {
	defer l.wg.Done()
	timer := time.NewTimer(l.idle)
	defer timer.Stop()

	for {
		select {
		case t, ok := <-lane:
			if !ok {
				return
			}
			l.run(key, t)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.idle)
		case <-timer.C:
			if l.retire(key, lane) {
				return
			}
			timer.Reset(l.idle)
		case <-l.ctx.Done():
			return
		}
	}
}

// retire removes an empty lane. Sends happen under mu, so once the lane is
// gone from the map nothing else can be queued on it.
func (l *Lanes) retire(key string, lane chan *task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(lane) > 0 || l.lanes[key] != lane {
		return false
	}
	delete(l.lanes, key)
	return true
}

func (l *Lanes) run(key string, t *task) {
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}
	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		t.done <- ErrClosed
		return
	}
	defer l.sem.Release(1)

	l.active.Add(1)
	defer l.active.Add(-1)

	t.done <- l.call(key, t)
}

func (l *Lanes) call(key string, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lane task panicked", "key", key, "panic", r)
			err = fmt.Errorf("lane %s: panic: %v", key, r)
		}
	}()
	t.fn(t.ctx)
	return nil
}

// Active returns how many tasks are running right now.
func (l *Lanes) Active() int64 {
	return l.active.Load()
}

// Len returns the number of live lanes.
func (l *Lanes) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// WaitIdle blocks until no task is running or timeout passes. It reports
// whether the lanes went idle.
func (l *Lanes) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if l.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}
