package swap

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// joinGrace bounds how long Join waits for tasks after the batch deadline
const joinGrace = time.Second

// Future holds the result of one task in a Batch
type Future[T any] struct {
	done chan struct{}
	val  T
}

// Done is closed once the task has returned
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Value returns the task result and whether the task completed
func (f *Future[T]) Value() (T, bool) {
	select {
	case <-f.done:
		return f.val, true
	default:
		var zero T
		return zero, false
	}
}

// Batch runs tasks on a bounded number of workers under one deadline. The
// batch context is the cancellation token every task must watch.
type Batch[T any] struct {
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	futures []*Future[T]
}

// NewBatch starts a batch; timeout <= 0 means no deadline beyond the parent's
func NewBatch[T any](parent context.Context, workers int, timeout time.Duration) *Batch[T] {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	return &Batch[T]{parent: parent, ctx: gctx, cancel: cancel, group: g}
}

// Context returns the batch cancellation token
func (b *Batch[T]) Context() context.Context {
	return b.ctx
}

// Go submits a task. It blocks while all workers are busy and returns nil
// once the batch is cancelled or past its deadline.
func (b *Batch[T]) Go(task func(ctx context.Context) T) *Future[T] {
	if b.ctx.Err() != nil {
		return nil
	}
	f := &Future[T]{done: make(chan struct{})}
	b.futures = append(b.futures, f)
	b.group.Go(func() error {
		defer close(f.done)
		f.val = task(b.ctx)
		return nil
	})
	return f
}

// Join waits for submitted tasks and returns the results of the completed
// ones in submission order. Tasks still running joinGrace after the deadline
// are abandoned. timedOut is true when the batch deadline, not the parent,
// cut the batch short.
func (b *Batch[T]) Join() (results []T, timedOut bool) {
	defer b.cancel()

	finished := make(chan struct{})
	go func() {
		_ = b.group.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-b.ctx.Done():
		select {
		case <-finished:
		case <-time.After(joinGrace):
		}
	}

	for _, f := range b.futures {
		if v, ok := f.Value(); ok {
			results = append(results, v)
		}
	}
	timedOut = errors.Is(b.ctx.Err(), context.DeadlineExceeded) && b.parent.Err() == nil
	return results, timedOut
}
