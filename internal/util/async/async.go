package async

import (
	"context"
	"errors"
	"fmt"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel executes tasks in parallel and waits for all of them.
// A failing task never cancels its siblings. Every failure is returned,
// prefixed with the task name and joined with errors.Join.
//
// Example:
//
//	tasks := []Task{
//	    {Name: "staging", Func: destroyStaging},
//	    {Name: "review-42", Func: destroyReview},
//	}
//	if err := RunParallel(ctx, tasks); err != nil {
//	    return err
//	}
func RunParallel(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	type result struct {
		index int
		err   error
	}

	resultChan := make(chan result, len(tasks))

	for i, task := range tasks {
		go func() {
			resultChan <- result{index: i, err: task.Func(ctx)}
		}()
	}

	// Keep errors in task order so the joined message is stable.
	errs := make([]error, len(tasks))
	for range len(tasks) {
		res := <-resultChan
		if res.err != nil {
			errs[res.index] = fmt.Errorf("%s: %w", tasks[res.index].Name, res.err)
		}
	}

	return errors.Join(errs...)
}
