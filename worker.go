package nutrivision

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Worker runs jobs one at a time on a dedicated goroutine locked to its OS
// thread, optionally pinned to CPU cores.  It owns the Runtime so inference
// never runs concurrently, and jobs reach it over a single slot channel
type Worker struct {
	jobs  chan func()
	quit  chan struct{}
	done  chan struct{}
	close sync.Once
	log   *zap.Logger
}

// NewWorker starts a worker, cores pins its thread when not empty
func NewWorker(cores []int, log *zap.Logger) *Worker {

	if log == nil {
		log = zap.NewNop()
	}

	w := &Worker{
		jobs: make(chan func(), 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  log,
	}

	started := make(chan struct{})
	go w.loop(cores, started)
	<-started

	return w
}

func (w *Worker) loop(cores []int, started chan<- struct{}) {

	defer close(w.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(cores) > 0 {
		if err := SetThreadAffinity(cores); err != nil {
			w.log.Warn("error pinning inference worker", zap.Ints("cores", cores), zap.Error(err))
		}
	}

	close(started)

	for {
		select {
		case job := <-w.jobs:
			w.run(job)

		case <-w.quit:
			// finish jobs accepted before close
			for {
				select {
				case job := <-w.jobs:
					w.run(job)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) run(job func()) {

	defer func() {
		if p := recover(); p != nil {
			w.log.Error("inference worker job panic", zap.Any("panic", p))
		}
	}()

	job()
}

// TrySubmit offers a job without blocking, it returns false when the slot is
// taken or the worker is closed
func (w *Worker) TrySubmit(job func()) bool {

	select {
	case <-w.quit:
		return false
	default:
	}

	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Do runs job on the worker and waits for it to complete.  When ctx ends
// first the job may still run
func (w *Worker) Do(ctx context.Context, job func()) error {

	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		job()
	}

	select {
	case <-w.quit:
		return ErrWorkerClosed
	default:
	}

	select {
	case w.jobs <- wrapped:
	case <-w.quit:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after the already accepted jobs have run
func (w *Worker) Close() {
	w.close.Do(func() {
		close(w.quit)
	})

	<-w.done
}
