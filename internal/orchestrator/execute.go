package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
	"github.com/irisblue-leo/denexus-sub000/internal/provider"
)

// Execute runs one task end to end in the background: submit to the
// provider, wait for the result (polling when asynchronous), re-host the
// output, and settle the task in a terminal state. It is the TaskExecutor
// behind the generation worker.
//
// The queue retries on error, so Execute guards against re-entry: a
// terminal task is a no-op, and a processing task is resumed (polling) or
// failed-with-refund rather than resubmitted. Submission happens at most
// once per task.
func (s *Service) Execute(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.Logger.Warn("task vanished before execution", "task_id", taskID)
			return nil
		}
		return fmt.Errorf("load task: %w", err)
	}
	if task.IsTerminal() {
		return nil
	}

	adapter, ok := s.Providers.Get(task.JobType)
	if !ok {
		return s.finishFailed(ctx, task, fmt.Sprintf("no provider for job_type %q", task.JobType), false)
	}

	if task.Status == models.TaskStatusProcessing {
		if task.ExternalTaskID != nil && *task.ExternalTaskID != "" {
			// Submitted before a crash or retry; pick the poll loop back up.
			return s.awaitAsync(ctx, task, adapter, *task.ExternalTaskID)
		}
		// Processing with no handle means we died mid-submit. We cannot
		// know whether the provider accepted it, so resubmitting risks a
		// double charge; settle as failed and give the credits back.
		return s.finishFailed(ctx, task, "execution interrupted before provider confirmation", false)
	}

	task.Status = models.TaskStatusProcessing
	if err := s.Tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	res, err := adapter.Submit(ctx, task.InputPayload)
	if err != nil {
		return s.finishFailed(ctx, task, err.Error(), true)
	}

	if res.Output != nil {
		return s.complete(ctx, task, res.Output)
	}

	task.ExternalTaskID = &res.Handle
	if err := s.Tasks.Update(ctx, task); err != nil {
		// The provider is already running the job but we lost the handle;
		// the re-entry guard will settle this as interrupted on retry.
		return fmt.Errorf("record external handle: %w", err)
	}
	return s.awaitAsync(ctx, task, adapter, res.Handle)
}

// awaitAsync polls the provider until a terminal report or the attempt
// budget runs out. Exhausting the budget is treated as a timeout: the task
// fails and the reservation is refunded unconditionally.
func (s *Service) awaitAsync(ctx context.Context, task *models.GenerationTask, adapter provider.Adapter, handle string) error {
	out, err := s.pollUntilDone(ctx, adapter, handle)
	if err != nil {
		if errors.Is(err, errPollTimeout) {
			return s.finishFailed(ctx, task, fmt.Sprintf("generation timed out after %d poll attempts", adapter.MaxPollAttempts()), false)
		}
		if ctx.Err() != nil {
			// Shutdown, not an answer from the provider. Leave the task
			// processing with its handle so a retry resumes polling.
			return err
		}
		return s.finishFailed(ctx, task, err.Error(), true)
	}
	return s.complete(ctx, task, out)
}

func (s *Service) pollUntilDone(ctx context.Context, adapter provider.Adapter, handle string) (*provider.Output, error) {
	interval := adapter.PollInterval()
	for attempt := 1; attempt <= adapter.MaxPollAttempts(); attempt++ {
		if err := s.wait(ctx, interval); err != nil {
			return nil, err
		}
		res, err := adapter.PollStatus(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// Transient poll errors burn an attempt instead of failing the
			// task outright.
			s.Logger.Warn("poll attempt failed", "handle", handle, "attempt", attempt, "error", err)
			continue
		}
		switch res.State {
		case provider.StateCompleted:
			return res.Output, nil
		case provider.StateFailed:
			return nil, errors.New(failureReason(res.Reason))
		}
	}
	return nil, errPollTimeout
}

// complete ingests the provider's output and marks the task completed. A
// failed re-host degrades to the provider-hosted URL; it never fails the
// task, and it never refunds.
func (s *Service) complete(ctx context.Context, task *models.GenerationTask, out *provider.Output) error {
	if out == nil {
		return s.finishFailed(ctx, task, "provider reported success without output", false)
	}

	if out.Text != "" {
		task.ResultText = &out.Text
	}

	urls := make([]string, 0, len(out.AssetURLs))
	for _, src := range out.AssetURLs {
		asset, err := s.Ingestor.Persist(ctx, src, task.UserID, &task.ID, string(task.JobType), out.AssetKind)
		if err != nil {
			s.Logger.Warn("asset ingest failed, serving provider URL",
				"task_id", task.ID, "source", src, "error", err)
			urls = append(urls, src)
			continue
		}
		urls = append(urls, asset.URL)
	}
	task.ResultURLs = urls

	task.Status = models.TaskStatusCompleted
	task.ErrorMessage = nil
	secs := int(time.Since(task.CreatedAt).Seconds())
	task.DurationSeconds = &secs
	if err := s.Tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	s.Logger.Info("task completed", "task_id", task.ID, "job_type", task.JobType,
		"duration_seconds", secs, "assets", len(urls))
	return nil
}

// finishFailed settles a task as failed. When classify is true the failure
// message is checked against the policy markers and a violation forfeits
// the reservation; timeouts and internal faults always refund. The refund
// lands before the status flips so a mid-settlement crash re-runs the
// whole settlement rather than stranding credits.
func (s *Service) finishFailed(ctx context.Context, task *models.GenerationTask, reason string, classify bool) error {
	refund := true
	if classify && s.Policy.IsPolicyViolation(reason) {
		refund = false
	}

	if refund {
		desc := fmt.Sprintf("refund: %s generation failed", task.JobType)
		if err := s.Ledger.Refund(ctx, task.UserID, task.CreditsCost, desc, &task.ID, string(task.JobType)); err != nil {
			return fmt.Errorf("refund task %s: %w", task.ID, err)
		}
	}

	task.Status = models.TaskStatusFailed
	task.ErrorMessage = &reason
	if err := s.Tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	s.Logger.Info("task failed", "task_id", task.ID, "job_type", task.JobType,
		"refunded", refund, "reason", reason)
	return nil
}

func failureReason(reason string) string {
	if reason == "" {
		return "provider reported failure without a reason"
	}
	return reason
}
