package async

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunParallel_Success(t *testing.T) {
	var count atomic.Int32

	tasks := []Task{
		{Name: "task1", Func: func(_ context.Context) error {
			count.Add(1)
			return nil
		}},
		{Name: "task2", Func: func(_ context.Context) error {
			count.Add(1)
			return nil
		}},
		{Name: "task3", Func: func(_ context.Context) error {
			count.Add(1)
			return nil
		}},
	}

	if err := RunParallel(context.Background(), tasks); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if count.Load() != 3 {
		t.Errorf("expected 3 tasks to run, got %d", count.Load())
	}
}

func TestRunParallel_EmptyTasks(t *testing.T) {
	if err := RunParallel(context.Background(), nil); err != nil {
		t.Errorf("expected no error for empty tasks, got: %v", err)
	}
	if err := RunParallel(context.Background(), []Task{}); err != nil {
		t.Errorf("expected no error for empty slice, got: %v", err)
	}
}

func TestRunParallel_SingleError(t *testing.T) {
	expectedErr := errors.New("task failed")

	tasks := []Task{
		{Name: "success", Func: func(_ context.Context) error {
			return nil
		}},
		{Name: "failing", Func: func(_ context.Context) error {
			return expectedErr
		}},
	}

	err := RunParallel(context.Background(), tasks)
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected error to wrap %v, got: %v", expectedErr, err)
	}
	if !strings.Contains(err.Error(), "failing:") {
		t.Errorf("expected task name in error, got: %v", err)
	}
	if strings.Contains(err.Error(), "success") {
		t.Errorf("successful task should not appear in error, got: %v", err)
	}
}

func TestRunParallel_MultipleErrors(t *testing.T) {
	err1 := errors.New("error 1")
	err2 := errors.New("error 2")

	tasks := []Task{
		{Name: "fail1", Func: func(_ context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return err1
		}},
		{Name: "fail2", Func: func(_ context.Context) error {
			return err2
		}},
	}

	err := RunParallel(context.Background(), tasks)
	if !errors.Is(err, err1) || !errors.Is(err, err2) {
		t.Fatalf("expected both errors to be joined, got: %v", err)
	}
	// Joined in task order, not completion order.
	if strings.Index(err.Error(), "fail1") > strings.Index(err.Error(), "fail2") {
		t.Errorf("expected errors in task order, got: %v", err)
	}
}

func TestRunParallel_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task{
		{Name: "task", Func: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				return nil
			}
		}},
	}

	err := RunParallel(ctx, tasks)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got: %v", err)
	}
}

func TestRunParallel_FailureDoesNotStopSiblings(t *testing.T) {
	var completed atomic.Int32

	tasks := []Task{
		{Name: "fast-fail", Func: func(_ context.Context) error {
			return errors.New("fast fail")
		}},
		{Name: "slow-success-1", Func: func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			if ctx.Err() == nil {
				completed.Add(1)
			}
			return nil
		}},
		{Name: "slow-success-2", Func: func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			if ctx.Err() == nil {
				completed.Add(1)
			}
			return nil
		}},
	}

	_ = RunParallel(context.Background(), tasks)

	// RunParallel waits for every task, so no extra sleep is needed here.
	if completed.Load() != 2 {
		t.Errorf("expected 2 slow tasks to complete, got %d", completed.Load())
	}
}

func TestRunParallel_Concurrent(t *testing.T) {
	var maxConcurrent atomic.Int32
	var current atomic.Int32

	tasks := make([]Task, 5)
	for i := range tasks {
		tasks[i] = Task{
			Name: "task",
			Func: func(_ context.Context) error {
				c := current.Add(1)
				for {
					old := maxConcurrent.Load()
					if c <= old || maxConcurrent.CompareAndSwap(old, c) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				current.Add(-1)
				return nil
			},
		}
	}

	if err := RunParallel(context.Background(), tasks); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if maxConcurrent.Load() < 2 {
		t.Errorf("expected tasks to overlap, max concurrent was %d", maxConcurrent.Load())
	}
}
