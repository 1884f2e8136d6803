package voice

import "sync"

// turnQueue serializes turn processing within one session: a single consumer
// drains tasks in arrival order, so the side effects of one utterance never
// interleave with another's. Different sessions run independently.
type turnQueue struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newTurnQueue() *turnQueue {
	q := &turnQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.drain()
	return q
}

// enqueue appends a task. Tasks enqueued after close are dropped.
func (q *turnQueue) enqueue(task func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *turnQueue) drain() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		task()
	}
}

// close stops the consumer after the current task; queued tasks are dropped.
// Safe to call from inside a task: it does not wait for the drain goroutine.
func (q *turnQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
