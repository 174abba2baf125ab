package store

import (
	"context"
	"sync"

	"github.com/and161185/gophstore/internal/errs"
)

type queueKey struct{}

// queue is the serial execution context of one Store. A single worker runs
// tasks in submission order; tasks receive a context marked with the queue so
// nested store calls run inline instead of deadlocking. The backlog is
// unbounded, so submitting never blocks, including from the worker itself.
type queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// inside reports whether ctx was issued by this queue's worker.
func (q *queue) inside(ctx context.Context) bool {
	owner, _ := ctx.Value(queueKey{}).(*queue)
	return owner == q
}

func (q *queue) mark(ctx context.Context) context.Context {
	// queued work is not cancellable mid-flight
	return context.WithValue(context.WithoutCancel(ctx), queueKey{}, q)
}

func (q *queue) submit(fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errs.ErrClosed
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Do runs fn on the queue and waits. Called from inside the queue it runs fn inline.
func (q *queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if q.inside(ctx) {
		return fn(ctx)
	}
	qctx := q.mark(ctx)
	errc := make(chan error, 1)
	if err := q.submit(func() { errc <- fn(qctx) }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-q.done:
		// the worker may have finished fn just before exiting
		select {
		case err := <-errc:
			return err
		default:
			return errs.ErrClosed
		}
	}
}

// Go submits fn and returns without waiting. fn runs after everything submitted before it.
func (q *queue) Go(ctx context.Context, fn func(ctx context.Context)) error {
	qctx := q.mark(ctx)
	return q.submit(func() { fn(qctx) })
}

// close stops accepting work, runs what was already queued and waits for the worker.
// It must not be called from inside the queue.
func (q *queue) close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.signal()
	})
	<-q.done
}

// call runs fn on q and returns its result.
func call[T any](ctx context.Context, q *queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
