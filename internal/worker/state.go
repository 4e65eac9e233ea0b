package worker

import "context"

type job struct {
	ctx    context.Context
	task   Task
	result chan jobResult
}

type jobResult struct {
	out string
	err error
}

type sessionWorker struct {
	queue chan job
	stop  chan struct{}
	// done closes when the worker goroutine returns.
	done chan struct{}
	// stopped is guarded by Manager.mu.
	stopped bool
}

func newSessionWorker(queueLen int) *sessionWorker {
	return &sessionWorker{
		queue: make(chan job, queueLen),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// halt signals the worker to stop. Callers hold Manager.mu.
func (w *sessionWorker) halt() {
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stop)
}

// drain fails every queued job with err.
func (w *sessionWorker) drain(err error) {
	for {
		select {
		case j := <-w.queue:
			j.result <- jobResult{err: err}
		default:
			return
		}
	}
}
