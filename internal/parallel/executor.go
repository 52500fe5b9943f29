// Package parallel runs independent tasks concurrently with bounded workers.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
)

// Task represents a unit of work to be executed
type Task interface {
	// Name returns the task name for logging
	Name() string
	// Execute runs the task
	Execute(ctx context.Context) error
}

// TaskFunc is a function adapter for Task
type TaskFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewTask creates a new TaskFunc
func NewTask(name string, fn func(ctx context.Context) error) *TaskFunc {
	return &TaskFunc{name: name, fn: fn}
}

func (t *TaskFunc) Name() string {
	return t.name
}

func (t *TaskFunc) Execute(ctx context.Context) error {
	return t.fn(ctx)
}

// Result represents the outcome of a task execution
type Result struct {
	// Index is the position of the task in the submitted list
	Index int
	Task  Task
	Error error
}

// Executor manages parallel task execution
type Executor struct {
	workers    int
	onProgress func(completed, total int, result Result)
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithWorkers sets the number of workers. Zero runs every task at once.
func WithWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.workers = n
		}
	}
}

// WithProgress sets a progress callback, invoked from the collecting goroutine
func WithProgress(fn func(completed, total int, result Result)) ExecutorOption {
	return func(e *Executor) {
		e.onProgress = fn
	}
}

// NewExecutor creates a new parallel executor
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type indexedTask struct {
	index int
	task  Task
}

// Execute runs tasks and returns one result per task, in task order.
// A failing task never cancels its siblings; tasks still queued when ctx is
// done are not started and report the context error.
func (e *Executor) Execute(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	workers := e.workers
	if workers == 0 || workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan indexedTask, len(tasks))
	for i, task := range tasks {
		queue <- indexedTask{index: i, task: task}
	}
	close(queue)

	out := make(chan Result, len(tasks))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for it := range queue {
				if err := ctx.Err(); err != nil {
					out <- Result{Index: it.index, Task: it.task, Error: err}
					continue
				}
				log.Debug("Worker starting task", "worker", id, "task", it.task.Name())
				out <- Result{Index: it.index, Task: it.task, Error: it.task.Execute(ctx)}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]Result, len(tasks))
	completed := 0
	for result := range out {
		results[result.Index] = result
		completed++

		if result.Error != nil {
			log.Debug("Task failed", "task", result.Task.Name(), "error", result.Error)
		} else {
			log.Debug("Task completed", "task", result.Task.Name())
		}

		if e.onProgress != nil {
			e.onProgress(completed, len(tasks), result)
		}
	}

	return results
}

// Errors returns all errors from results
func Errors(results []Result) []error {
	var errs []error
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}

// Semaphore limits concurrent operations
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a new semaphore
func NewSemaphore(limit int) *Semaphore {
	return &Semaphore{
		ch: make(chan struct{}, limit),
	}
}

// Acquire acquires a semaphore slot
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a semaphore slot
func (s *Semaphore) Release() {
	<-s.ch
}

// Map executes a function on each item in parallel and returns results in item order.
// Zero workers runs every item at once. The first error cancels the context
// passed to the remaining calls and is returned once all of them have settled.
func Map[T any, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		index int
		value R
		err   error
	}

	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}
	sem := NewSemaphore(workers)
	results := make(chan result, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(idx int, it T) {
			defer wg.Done()

			if err := sem.Acquire(ctx); err != nil {
				results <- result{index: idx, err: err}
				return
			}
			defer sem.Release()

			val, err := fn(ctx, it)
			results <- result{index: idx, value: val, err: err}
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	output := make([]R, len(items))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				cancel()
			}
			continue
		}
		output[r.index] = r.value
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return output, nil
}

// ForEach executes a function on each item in parallel
func ForEach[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) error) error {
	_, err := Map(ctx, items, workers, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}
