package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// GenerateJobArgs identifies one generation task to execute in the
// background. Inserted transactionally together with the task row, so a
// task never exists without its background unit (and vice versa).
type GenerateJobArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (GenerateJobArgs) Kind() string { return "generation" }

// TaskExecutor is the contract the worker needs to run one task end to end.
// Execute owns the whole background unit: submit, poll, ingest, settle.
type TaskExecutor interface {
	Execute(ctx context.Context, taskID uuid.UUID) error
}

type GenerateWorker struct {
	river.WorkerDefaults[GenerateJobArgs]
	executor TaskExecutor
}

func NewGenerateWorker(executor TaskExecutor) *GenerateWorker {
	return &GenerateWorker{executor: executor}
}

func (w *GenerateWorker) Work(ctx context.Context, job *river.Job[GenerateJobArgs]) error {
	if err := w.executor.Execute(ctx, job.Args.TaskID); err != nil {
		return fmt.Errorf("execute task %s: %w", job.Args.TaskID, err)
	}
	return nil
}
