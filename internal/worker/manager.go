// Package worker serializes turns per session key.
//
// Each key gets its own goroutine fed by a bounded queue, so turns on one
// conversation run strictly in arrival order while different conversations
// run in parallel. Idle goroutines exit after IdleTimeout.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("session queue full")
	ErrStopped   = errors.New("session worker stopped")
)

const (
	defaultQueueLen    = 16
	defaultIdleTimeout = 10 * time.Minute
)

// Task runs one unit of work for a session.
type Task func(ctx context.Context) (string, error)

type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
	// MaxActive caps concurrently running tasks across all keys; zero means no cap.
	MaxActive int
}

type Manager struct {
	cfg     Config
	mu      sync.Mutex
	workers map[string]*sessionWorker
	active  chan struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueLen
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	m := &Manager{
		cfg:     cfg,
		workers: make(map[string]*sessionWorker),
	}
	if cfg.MaxActive > 0 {
		m.active = make(chan struct{}, cfg.MaxActive)
	}
	return m
}

// Do queues task behind earlier tasks for key and waits for its result.
// A task whose ctx is already done when it reaches the head of the queue is
// skipped.
func (m *Manager) Do(ctx context.Context, key string, task Task) (string, error) {
	if task == nil {
		return "", errors.New("task required")
	}
	j := job{ctx: ctx, task: task, result: make(chan jobResult, 1)}

	m.mu.Lock()
	w := m.ensureWorkerLocked(key)
	select {
	case w.queue <- j:
	default:
		m.mu.Unlock()
		return "", ErrQueueFull
	}
	m.mu.Unlock()

	select {
	case res := <-j.result:
		return res.out, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Purge stops the worker for key. Queued tasks fail with ErrStopped; a
// running task finishes first, and tasks queued for key after Purge wait
// until it has.
func (m *Manager) Purge(key string) {
	m.mu.Lock()
	if w, ok := m.workers[key]; ok {
		w.halt()
	}
	m.mu.Unlock()
}

// Active reports the number of live session workers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.workers {
		if !w.stopped {
			n++
		}
	}
	return n
}

// Shutdown stops every worker.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, w := range m.workers {
		w.halt()
	}
	m.mu.Unlock()
}

func (m *Manager) ensureWorkerLocked(key string) *sessionWorker {
	prev, ok := m.workers[key]
	if ok && !prev.stopped {
		return prev
	}
	w := newSessionWorker(m.cfg.QueueSize)
	m.workers[key] = w
	go m.run(key, w, prev)
	return w
}

// run serves w's queue. When prev is set, w starts only after prev has exited
// so a stopped worker's in-flight task never overlaps its successor.
func (m *Manager) run(key string, w, prev *sessionWorker) {
	defer close(w.done)
	if prev != nil {
		select {
		case <-prev.done:
		case <-w.stop:
			m.exit(key, w)
			// a successor chains on w.done, so w must outlast prev
			<-prev.done
			return
		}
	}
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-w.stop:
			m.exit(key, w)
			return
		default:
		}
		select {
		case <-w.stop:
			m.exit(key, w)
			return
		case j := <-w.queue:
			m.execute(j)
			resetTimer(idle, m.cfg.IdleTimeout)
		case <-idle.C:
			m.mu.Lock()
			// enqueue happens under m.mu, so an empty queue here stays empty
			if len(w.queue) == 0 && m.workers[key] == w {
				delete(m.workers, key)
				m.mu.Unlock()
				debugLog("worker for %s idle, exiting", key)
				return
			}
			m.mu.Unlock()
			idle.Reset(m.cfg.IdleTimeout)
		}
	}
}

func (m *Manager) exit(key string, w *sessionWorker) {
	m.mu.Lock()
	if m.workers[key] == w {
		delete(m.workers, key)
	}
	m.mu.Unlock()
	w.drain(ErrStopped)
	debugLog("worker for %s stopped", key)
}

func (m *Manager) execute(j job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		j.result <- jobResult{err: err}
		return
	}
	if m.active != nil {
		select {
		case m.active <- struct{}{}:
			defer func() { <-m.active }()
		case <-ctx.Done():
			j.result <- jobResult{err: ctx.Err()}
			return
		}
	}
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "session task panicked", "panic", r)
			j.result <- jobResult{err: errors.New("internal error")}
		}
	}()
	out, err := j.task(ctx)
	j.result <- jobResult{out: out, err: err}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
