package vpn

import (
	"sync"

	"github.com/google/uuid"
)

// worker serializes everything an instance does. Management calls and bus
// events funnel through one goroutine, so instance state needs no locking.
type worker struct {
	id    uuid.UUID
	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newWorker(bufsize int) *worker {
	w := &worker{
		id:    uuid.New(),
		tasks: make(chan func(), bufsize),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	for task := range w.tasks {
		task()
	}
	close(w.done)
}

// submit enqueues a task without waiting for it. It reports false once the
// worker is stopped.
func (w *worker) submit(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.tasks <- task
	return true
}

// call runs the task on the worker goroutine and waits for its result.
func (w *worker) call(task func() error) error {
	errc := make(chan error, 1)
	if !w.submit(func() { errc <- task() }) {
		return ErrStopped
	}
	return <-errc
}

// stop refuses further tasks and waits for queued ones to finish.
func (w *worker) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.tasks)
	w.mu.Unlock()
	<-w.done
}
