package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

type AssetRepo struct {
	pool *pgxpool.Pool
}

func NewAssetRepo(pool *pgxpool.Pool) *AssetRepo {
	return &AssetRepo{pool: pool}
}

func (r *AssetRepo) Create(ctx context.Context, a *models.Asset) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO assets (id, user_id, type, source, url, file_path, file_size, mime_type, task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, a.ID, a.UserID, a.Type, a.Source, a.URL, a.FilePath, a.FileSize, a.MimeType, a.TaskID).Scan(&a.CreatedAt)
}

func (r *AssetRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var a models.Asset
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, type, source, url, file_path, file_size, mime_type, task_id, created_at
		FROM assets WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.Type, &a.Source, &a.URL, &a.FilePath, &a.FileSize, &a.MimeType, &a.TaskID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AssetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM assets WHERE id = $1", id)
	return err
}

func (r *AssetRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Asset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, type, source, url, file_path, file_size, mime_type, task_id, created_at
		FROM assets WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Source, &a.URL, &a.FilePath, &a.FileSize, &a.MimeType, &a.TaskID, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}
