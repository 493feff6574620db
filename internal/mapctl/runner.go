package mapctl

import (
	"context"
	"sync"
)

// Task does blocking work off the event loop and returns a continuation to
// run back on it. A nil continuation is skipped.
type Task func(ctx context.Context) func()

// Runner schedules tasks. post delivers a continuation to the event loop.
type Runner interface {
	Run(ctx context.Context, task Task, post func(func()))
}

// AsyncRunner runs each task on its own goroutine.
type AsyncRunner struct {
	wg sync.WaitGroup
}

func (r *AsyncRunner) Run(ctx context.Context, task Task, post func(func())) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if k := task(ctx); k != nil {
			post(k)
		}
	}()
}

// Wait blocks until every started task has returned.
func (r *AsyncRunner) Wait() {
	r.wg.Wait()
}

// InlineRunner runs the task and its continuation immediately on the
// calling goroutine. Event handling becomes fully sequential, which makes
// scripted sessions deterministic.
type InlineRunner struct{}

func (InlineRunner) Run(ctx context.Context, task Task, _ func(func())) {
	if k := task(ctx); k != nil {
		k()
	}
}
