package sandbox

import (
	"sync"
)

// eventLoop serializes all runtime access onto the goroutine that drives an
// invocation. Background work hands results back through post.
type eventLoop struct {
	mu      sync.Mutex
	tasks   []func() error
	wake    chan struct{}
	closed  bool
	pending int
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan struct{}, 1),
	}
}

// post queues a task for the loop goroutine. It may be called from any goroutine.
func (l *eventLoop) post(task func() error) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return true
}

// hold and release track outstanding background work. Loop goroutine only.
func (l *eventLoop) hold() {
	l.pending++
}

func (l *eventLoop) release() {
	if l.pending > 0 {
		l.pending--
	}
}

func (l *eventLoop) drain() error {
	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return nil
		}

		for i, task := range batch {
			if err := task(); err != nil {
				l.requeue(batch[i+1:])
				return err
			}
		}
	}
}

func (l *eventLoop) requeue(rest []func() error) {
	if len(rest) == 0 {
		return
	}

	l.mu.Lock()
	l.tasks = append(rest, l.tasks...)
	l.mu.Unlock()
}

func (l *eventLoop) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.tasks) == 0 && l.pending == 0
}

func (l *eventLoop) close() {
	l.mu.Lock()
	l.closed = true
	l.tasks = nil
	l.mu.Unlock()
}
