// Package orchestrator coordinates generation tasks: it validates requests,
// reserves credits, enforces admission, creates the task record, and hands
// execution to a background worker that is not on the caller's response
// path.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irisblue-leo/denexus-sub000/internal/execution"
	"github.com/irisblue-leo/denexus-sub000/internal/ledger"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
	"github.com/irisblue-leo/denexus-sub000/internal/provider"
)

var (
	// ErrTaskNotFound covers both missing tasks and tasks owned by someone
	// else; callers cannot tell the two apart.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskActive is returned when deleting a task that still occupies an
	// admission slot. Deletion is a data-lifecycle operation, not a
	// cancellation signal to the provider.
	ErrTaskActive = errors.New("task is still pending or processing")

	errPollTimeout = errors.New("poll attempts exhausted")
)

// TaskRepo is the task store interface the orchestrator needs.
type TaskRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.GenerationTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)
	Update(ctx context.Context, t *models.GenerationTask) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.GenerationTask, error)
}

// UserGetter reads a user for the cheap balance pre-check. The ledger's
// conditional deduct stays the authoritative check.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Ledger is the credit interface the orchestrator needs.
type Ledger interface {
	Deduct(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, description string, taskID *uuid.UUID, taskType string) error
	Refund(ctx context.Context, userID uuid.UUID, amount int, description string, taskID *uuid.UUID, taskType string) error
}

// Admitter enforces the global in-flight cap.
type Admitter interface {
	Admit(ctx context.Context) error
}

// AssetPersister re-hosts provider output and records an asset row.
type AssetPersister interface {
	Persist(ctx context.Context, sourceRef string, ownerID uuid.UUID, taskID *uuid.UUID, source, kind string) (*models.Asset, error)
}

// ViolationClassifier decides refund-vs-forfeit for a failure message.
type ViolationClassifier interface {
	IsPolicyViolation(errorMessage string) bool
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InsertGenerateTxFunc enqueues the background unit within the given
// transaction. Provided by main as a closure over river.Client.InsertTx.
type InsertGenerateTxFunc func(ctx context.Context, tx pgx.Tx, args execution.GenerateJobArgs) error

type Service struct {
	Pool      TxBeginner
	Tasks     TaskRepo
	Users     UserGetter
	Ledger    Ledger
	Admission Admitter
	Providers *provider.Registry
	Validator *Validator
	Ingestor  AssetPersister
	Policy    ViolationClassifier
	InsertJob InsertGenerateTxFunc
	Logger    *slog.Logger

	// wait is swapped in tests so poll loops don't sleep for real.
	wait func(ctx context.Context, d time.Duration) error
}

func NewService(
	pool TxBeginner,
	tasks TaskRepo,
	users UserGetter,
	ledgerSvc Ledger,
	admission Admitter,
	providers *provider.Registry,
	validator *Validator,
	ingestor AssetPersister,
	classifier ViolationClassifier,
	insertJob InsertGenerateTxFunc,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Pool:      pool,
		Tasks:     tasks,
		Users:     users,
		Ledger:    ledgerSvc,
		Admission: admission,
		Providers: providers,
		Validator: validator,
		Ingestor:  ingestor,
		Policy:    classifier,
		InsertJob: insertJob,
		Logger:    logger,
		wait:      waitCtx,
	}
}

// CreateTask is the request path: validate -> cost -> balance pre-check ->
// admission -> { deduct + create + enqueue } in one transaction. The
// returned task is pending; execution happens off the caller's path.
func (s *Service) CreateTask(ctx context.Context, userID uuid.UUID, jobType models.JobType, payload json.RawMessage) (*models.GenerationTask, error) {
	adapter, ok := s.Providers.Get(jobType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown job_type %q", ErrValidation, jobType)
	}
	if err := s.Validator.ValidateInput(jobType, payload); err != nil {
		return nil, err
	}
	cost, err := adapter.Cost(payload)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidRequest) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("compute cost: %w", err)
	}

	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Credits < cost {
		return nil, ledger.ErrInsufficientCredits
	}

	if err := s.Admission.Admit(ctx); err != nil {
		return nil, err
	}

	task := &models.GenerationTask{
		ID:           uuid.New(),
		UserID:       userID,
		JobType:      jobType,
		Status:       models.TaskStatusPending,
		CreditsCost:  cost,
		InputPayload: payload,
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The pre-check above can race; the conditional deduct is the real gate.
	if err := s.Ledger.Deduct(ctx, tx, userID, cost, fmt.Sprintf("%s generation", jobType), &task.ID, string(jobType)); err != nil {
		return nil, err
	}
	if err := s.Tasks.CreateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.InsertJob(ctx, tx, execution.GenerateJobArgs{TaskID: task.ID}); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.Logger.Info("task admitted", "task_id", task.ID, "job_type", jobType, "credits_cost", cost)
	return task, nil
}

// GetTask returns the task if it exists and belongs to userID.
func (s *Service) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error) {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// ListTasks returns the user's tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, userID uuid.UUID) ([]*models.GenerationTask, error) {
	return s.Tasks.ListByUserID(ctx, userID)
}

// DeleteTask removes a terminal task record. In-flight tasks are refused:
// there is no cancellation API, only completed/failed ends a job.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID uuid.UUID) error {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if !task.IsTerminal() {
		return ErrTaskActive
	}
	return s.Tasks.Delete(ctx, taskID)
}

func waitCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
