package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteKeepsOrderAndIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	tasks := []Task{
		NewTask("slow", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			ran.Add(1)
			return nil
		}),
		NewTask("fail", func(ctx context.Context) error {
			ran.Add(1)
			return boom
		}),
		NewTask("fast", func(ctx context.Context) error {
			ran.Add(1)
			return ctx.Err()
		}),
	}

	var progress []int
	results := NewExecutor(WithWorkers(0), WithProgress(func(completed, total int, _ Result) {
		assert.Equal(t, 3, total)
		progress = append(progress, completed)
	})).Execute(context.Background(), tasks)

	require.Len(t, results, 3)
	assert.Equal(t, int32(3), ran.Load(), "a failure does not cancel siblings")
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Same(t, tasks[i], r.Task)
	}
	assert.NoError(t, results[0].Error)
	assert.ErrorIs(t, results[1].Error, boom)
	assert.NoError(t, results[2].Error)
	assert.Len(t, Errors(results), 1)
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestExecuteSerialRunsOneAtATime(t *testing.T) {
	var running, peak atomic.Int32
	var order []string
	task := func(name string) Task {
		return NewTask(name, func(ctx context.Context) error {
			n := running.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			order = append(order, name)
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return errors.New(name)
		})
	}

	results := NewExecutor(WithWorkers(1)).Execute(context.Background(), []Task{task("a"), task("b"), task("c")})
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Len(t, Errors(results), 3, "later tasks still run after a failure")
}

func TestExecuteSkipsQueuedTasksAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	tasks := []Task{
		NewTask("first", func(ctx context.Context) error { ran.Add(1); return nil }),
		NewTask("second", func(ctx context.Context) error { ran.Add(1); return nil }),
	}
	results := NewExecutor(WithWorkers(1)).Execute(ctx, tasks)
	assert.Zero(t, ran.Load())
	assert.Len(t, Errors(results), 2)
	assert.ErrorIs(t, results[1].Error, context.Canceled)
}

func TestExecuteEmpty(t *testing.T) {
	assert.Nil(t, NewExecutor().Execute(context.Background(), nil))
}

func TestMapAndForEach(t *testing.T) {
	out, err := Map(context.Background(), []int{1, 2, 3}, 0, func(_ context.Context, i int) (int, error) {
		return i * i, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9}, out)

	var sum atomic.Int32
	err = ForEach(context.Background(), []int{1, 2, 3}, 2, func(_ context.Context, i int) error {
		sum.Add(int32(i))
		if i == 2 {
			return errors.New("two")
		}
		return nil
	})
	assert.EqualError(t, err, "two")
}

func TestMapCancelsSiblingsOnError(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Bool
	_, err := Map(context.Background(), []string{"fail", "slow"}, 0, func(ctx context.Context, item string) (string, error) {
		if item == "fail" {
			return "", boom
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return item, nil
		}
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, cancelled.Load(), "running siblings see the cancellation")
}
