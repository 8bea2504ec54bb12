// Package admission caps the number of simultaneously in-flight generation
// tasks across all job types. The count is a query against the task store,
// not a process-local counter, so multi-instance deployments share the cap.
// Check-then-create is racy under concurrent requests; the cap is soft and
// may transiently overshoot by the number of concurrently admitted requests.
package admission

import (
	"context"
	"errors"
)

// ErrTooManyTasks is a retryable condition, distinguishable from
// validation errors. Callers map it to HTTP 429.
var ErrTooManyTasks = errors.New("too many concurrent tasks, retry later")

// TaskCounter counts tasks in pending or processing status.
type TaskCounter interface {
	CountActive(ctx context.Context) (int, error)
}

type Controller struct {
	Tasks TaskCounter
	Max   int
}

func NewController(tasks TaskCounter, max int) *Controller {
	return &Controller{Tasks: tasks, Max: max}
}

// CanAdmit reports whether a new task may enter the system.
func (c *Controller) CanAdmit(ctx context.Context) (bool, error) {
	n, err := c.Tasks.CountActive(ctx)
	if err != nil {
		return false, err
	}
	return n < c.Max, nil
}

// Admit is CanAdmit with the refusal folded into the error.
func (c *Controller) Admit(ctx context.Context) error {
	ok, err := c.CanAdmit(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTooManyTasks
	}
	return nil
}
