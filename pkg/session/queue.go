package session

import (
	"context"
	"sync"
)

// taskQueue runs closures one at a time in submission order. push never
// blocks, so the reader can hand off notifications without waiting on them.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func(context.Context)
	wake  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{wake: make(chan struct{}, 1)}
}

func (q *taskQueue) push(task func(context.Context)) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until ctx is done. Tasks still queued then are dropped.
func (q *taskQueue) run(ctx context.Context) {
	for {
		q.mu.Lock()
		batch := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		for _, task := range batch {
			if ctx.Err() != nil {
				return
			}
			task(ctx)
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return
		}
	}
}
