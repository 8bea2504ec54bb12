package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irisblue-leo/denexus-sub000/internal/admission"
	"github.com/irisblue-leo/denexus-sub000/internal/execution"
	"github.com/irisblue-leo/denexus-sub000/internal/ledger"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
	"github.com/irisblue-leo/denexus-sub000/internal/policy"
	"github.com/irisblue-leo/denexus-sub000/internal/provider"
)

// ---------------------------------------------------------------------------
// In-memory mocks. These let us test the real orchestration logic without a
// database, a queue, or live providers.
// ---------------------------------------------------------------------------

type mockTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.GenerationTask

	createErr error
	updateErr error
}

func newMockTasks(ts ...*models.GenerationTask) *mockTasks {
	m := &mockTasks{tasks: make(map[uuid.UUID]*models.GenerationTask)}
	for _, t := range ts {
		cp := *t
		m.tasks[t.ID] = &cp
	}
	return m
}

func (m *mockTasks) CreateTx(_ context.Context, _ pgx.Tx, t *models.GenerationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	t.CreatedAt = time.Now()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) GetByID(_ context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) Update(_ context.Context, t *models.GenerationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *mockTasks) ListByUserID(_ context.Context, userID uuid.UUID) ([]*models.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationTask
	for _, t := range m.tasks {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTasks) get(id uuid.UUID) *models.GenerationTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// ---

type mockUsers struct {
	mu      sync.Mutex
	credits map[uuid.UUID]int
}

func (m *mockUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &models.User{ID: id, Credits: c}, nil
}

// ---

type ledgerCall struct {
	userID uuid.UUID
	amount int
	taskID *uuid.UUID
}

type mockLedger struct {
	mu        sync.Mutex
	deducts   []ledgerCall
	refunds   []ledgerCall
	deductErr error
	refundErr error
}

func (m *mockLedger) Deduct(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount int, _ string, taskID *uuid.UUID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deductErr != nil {
		return m.deductErr
	}
	m.deducts = append(m.deducts, ledgerCall{userID, amount, taskID})
	return nil
}

func (m *mockLedger) Refund(_ context.Context, userID uuid.UUID, amount int, _ string, taskID *uuid.UUID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refundErr != nil {
		return m.refundErr
	}
	m.refunds = append(m.refunds, ledgerCall{userID, amount, taskID})
	return nil
}

func (m *mockLedger) deductCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deducts)
}

func (m *mockLedger) refundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

// ---

type stubAdmit struct{ err error }

func (s *stubAdmit) Admit(context.Context) error { return s.err }

// ---

type mockIngest struct {
	mu        sync.Mutex
	persisted []string
	failFor   map[string]bool
	baseURL   string
}

func (m *mockIngest) Persist(_ context.Context, sourceRef string, ownerID uuid.UUID, taskID *uuid.UUID, source, kind string) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[sourceRef] {
		return nil, fmt.Errorf("download failed")
	}
	m.persisted = append(m.persisted, sourceRef)
	return &models.Asset{
		ID:     uuid.New(),
		UserID: ownerID,
		Type:   kind,
		Source: source,
		URL:    m.baseURL + "/" + sourceRef,
		TaskID: taskID,
	}, nil
}

// ---

// fakeAdapter is a scriptable provider binding registered as "clip" so the
// embedded clip schema applies.
type fakeAdapter struct {
	mu        sync.Mutex
	cost      int
	submitRes *provider.SubmitResult
	submitErr error
	polls     []*provider.PollResult
	pollErrs  []error
	pollIdx   int
	submits   int
	attempts  int
}

func (f *fakeAdapter) JobType() models.JobType { return models.JobTypeClip }

func (f *fakeAdapter) Cost(json.RawMessage) (int, error) { return f.cost, nil }

func (f *fakeAdapter) Submit(context.Context, json.RawMessage) (*provider.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitRes, nil
}

func (f *fakeAdapter) PollStatus(context.Context, string) (*provider.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pollIdx
	f.pollIdx++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return nil, f.pollErrs[i]
	}
	if i < len(f.polls) {
		return f.polls[i], nil
	}
	return &provider.PollResult{State: provider.StateProcessing}, nil
}

func (f *fakeAdapter) PollInterval() time.Duration { return time.Millisecond }
func (f *fakeAdapter) MaxPollAttempts() int {
	if f.attempts == 0 {
		return 5
	}
	return f.attempts
}

func (f *fakeAdapter) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

// ---

// fakeTx satisfies pgx.Tx for code that only needs Commit/Rollback.
type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakePool struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &fakeTx{}
	p.txs = append(p.txs, tx)
	return tx, nil
}

// ---------------------------------------------------------------------------
// Test fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc     *Service
	tasks   *mockTasks
	users   *mockUsers
	ledger  *mockLedger
	admit   *stubAdmit
	adapter *fakeAdapter
	ingest  *mockIngest
	pool    *fakePool
	jobs    []execution.GenerateJobArgs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	f := &fixture{
		tasks:   newMockTasks(),
		users:   &mockUsers{credits: map[uuid.UUID]int{}},
		ledger:  &mockLedger{},
		admit:   &stubAdmit{},
		adapter: &fakeAdapter{cost: 10},
		ingest:  &mockIngest{baseURL: "https://assets.example.com", failFor: map[string]bool{}},
		pool:    &fakePool{},
	}
	insert := func(_ context.Context, _ pgx.Tx, args execution.GenerateJobArgs) error {
		f.jobs = append(f.jobs, args)
		return nil
	}

	f.svc = NewService(
		f.pool, f.tasks, f.users, f.ledger, f.admit,
		provider.NewRegistry(f.adapter), validator, f.ingest,
		policy.NewClassifier(nil), insert,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	f.svc.wait = func(context.Context, time.Duration) error { return nil }
	return f
}

func (f *fixture) user(credits int) uuid.UUID {
	id := uuid.New()
	f.users.mu.Lock()
	f.users.credits[id] = credits
	f.users.mu.Unlock()
	return id
}

var validClipPayload = json.RawMessage(`{"prompt":"a cat in the rain","duration_seconds":5}`)

// ---------------------------------------------------------------------------
// CreateTask
// ---------------------------------------------------------------------------

func TestCreateTask(t *testing.T) {
	f := newFixture(t)
	user := f.user(100)

	task, err := f.svc.CreateTask(context.Background(), user, models.JobTypeClip, validClipPayload)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if task.Status != models.TaskStatusPending {
		t.Errorf("status: got %q, want pending", task.Status)
	}
	if task.CreditsCost != 10 {
		t.Errorf("credits_cost: got %d, want 10", task.CreditsCost)
	}

	// Exactly one reservation, referencing the task.
	if f.ledger.deductCount() != 1 {
		t.Fatalf("deducts: got %d, want 1", f.ledger.deductCount())
	}
	d := f.ledger.deducts[0]
	if d.amount != 10 || d.taskID == nil || *d.taskID != task.ID {
		t.Errorf("deduct should reserve 10 against the task, got %+v", d)
	}

	// Task row and background job were created in the committed transaction.
	if f.tasks.get(task.ID) == nil {
		t.Error("task row should exist")
	}
	if len(f.jobs) != 1 || f.jobs[0].TaskID != task.ID {
		t.Errorf("expected one enqueued job for the task, got %+v", f.jobs)
	}
	if len(f.pool.txs) != 1 || !f.pool.txs[0].committed {
		t.Error("create transaction should commit")
	}
}

func TestCreateTaskInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	user := f.user(5) // cost is 10

	_, err := f.svc.CreateTask(context.Background(), user, models.JobTypeClip, validClipPayload)
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got: %v", err)
	}
	if f.ledger.deductCount() != 0 {
		t.Error("no deduction should happen when the pre-check fails")
	}
	if len(f.jobs) != 0 {
		t.Error("no job should be enqueued")
	}
}

func TestCreateTaskDeductRace(t *testing.T) {
	// The pre-check passes but the conditional deduct refuses: the whole
	// transaction must fold with no task and no job.
	f := newFixture(t)
	user := f.user(100)
	f.ledger.deductErr = ledger.ErrInsufficientCredits

	_, err := f.svc.CreateTask(context.Background(), user, models.JobTypeClip, validClipPayload)
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got: %v", err)
	}
	if len(f.jobs) != 0 {
		t.Error("no job should be enqueued when deduct refuses")
	}
	if len(f.pool.txs) != 1 || f.pool.txs[0].committed {
		t.Error("transaction must not commit when deduct refuses")
	}
}

func TestCreateTaskAdmissionRefused(t *testing.T) {
	f := newFixture(t)
	user := f.user(100)
	f.admit.err = admission.ErrTooManyTasks

	_, err := f.svc.CreateTask(context.Background(), user, models.JobTypeClip, validClipPayload)
	if !errors.Is(err, admission.ErrTooManyTasks) {
		t.Fatalf("expected ErrTooManyTasks, got: %v", err)
	}
	// Refusal happens before any money moves.
	if f.ledger.deductCount() != 0 {
		t.Error("admission refusal must not deduct credits")
	}
}

func TestCreateTaskValidationBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	user := f.user(100)

	cases := []struct {
		name    string
		jobType models.JobType
		payload string
	}{
		{"unknown job type", models.JobType("hologram"), `{}`},
		{"missing prompt", models.JobTypeClip, `{"duration_seconds":5}`},
		{"bad duration", models.JobTypeClip, `{"prompt":"x","duration_seconds":7}`},
		{"extra field", models.JobTypeClip, `{"prompt":"x","duration_seconds":5,"watermark":false}`},
		{"not json", models.JobTypeClip, `{{`},
	}
	for _, tc := range cases {
		_, err := f.svc.CreateTask(context.Background(), user, tc.jobType, json.RawMessage(tc.payload))
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got: %v", tc.name, err)
		}
	}
	if f.ledger.deductCount() != 0 || len(f.jobs) != 0 {
		t.Error("validation failures must not touch credits or the queue")
	}
}

// ---------------------------------------------------------------------------
// GetTask / DeleteTask ownership
// ---------------------------------------------------------------------------

func TestGetTaskScopedToOwner(t *testing.T) {
	f := newFixture(t)
	owner := f.user(100)
	stranger := f.user(100)

	task, err := f.svc.CreateTask(context.Background(), owner, models.JobTypeClip, validClipPayload)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := f.svc.GetTask(context.Background(), owner, task.ID); err != nil {
		t.Errorf("owner should see the task: %v", err)
	}
	if _, err := f.svc.GetTask(context.Background(), stranger, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("stranger should get not-found, got: %v", err)
	}
	if _, err := f.svc.GetTask(context.Background(), owner, uuid.New()); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("missing task should be not-found, got: %v", err)
	}
}

func TestDeleteTaskRefusesActive(t *testing.T) {
	f := newFixture(t)
	owner := f.user(100)

	task, err := f.svc.CreateTask(context.Background(), owner, models.JobTypeClip, validClipPayload)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := f.svc.DeleteTask(context.Background(), owner, task.ID); !errors.Is(err, ErrTaskActive) {
		t.Errorf("deleting a pending task should refuse, got: %v", err)
	}

	// Terminal tasks can go.
	done := f.tasks.get(task.ID)
	done.Status = models.TaskStatusCompleted
	if err := f.tasks.Update(context.Background(), done); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteTask(context.Background(), owner, task.ID); err != nil {
		t.Errorf("deleting a completed task: %v", err)
	}
	if f.tasks.get(task.ID) != nil {
		t.Error("task row should be gone")
	}
}
