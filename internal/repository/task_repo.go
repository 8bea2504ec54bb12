package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, user_id, job_type, status, credits_cost, input_payload, external_task_id, result_urls, result_text, error_message, duration_seconds, created_at, updated_at`

// CreateTx inserts the task inside the given transaction so the row and its
// matching credit reservation commit together.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.GenerationTask) error {
	return tx.QueryRow(ctx, `
		INSERT INTO generation_tasks (id, user_id, job_type, status, credits_cost, input_payload, external_task_id, result_urls, result_text, error_message, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.JobType, t.Status, t.CreditsCost, t.InputPayload, t.ExternalTaskID, t.ResultURLs, t.ResultText, t.ErrorMessage, t.DurationSeconds).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	var t models.GenerationTask
	err := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM generation_tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.JobType, &t.Status, &t.CreditsCost, &t.InputPayload, &t.ExternalTaskID, &t.ResultURLs, &t.ResultText, &t.ErrorMessage, &t.DurationSeconds, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) Update(ctx context.Context, t *models.GenerationTask) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_tasks SET status = $2, credits_cost = $3, external_task_id = $4, result_urls = $5, result_text = $6, error_message = $7, duration_seconds = $8, updated_at = now()
		WHERE id = $1
	`, t.ID, t.Status, t.CreditsCost, t.ExternalTaskID, t.ResultURLs, t.ResultText, t.ErrorMessage, t.DurationSeconds)
	return err
}

func (r *TaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM generation_tasks WHERE id = $1", id)
	return err
}

func (r *TaskRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.GenerationTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM generation_tasks WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationTask
	for rows.Next() {
		var t models.GenerationTask
		if err := rows.Scan(&t.ID, &t.UserID, &t.JobType, &t.Status, &t.CreditsCost, &t.InputPayload, &t.ExternalTaskID, &t.ResultURLs, &t.ResultText, &t.ErrorMessage, &t.DurationSeconds, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// CountActive counts tasks that currently occupy an admission slot
// (pending or processing), across all job types.
func (r *TaskRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM generation_tasks WHERE status IN ($1, $2)
	`, models.TaskStatusPending, models.TaskStatusProcessing).Scan(&n)
	return n, err
}
