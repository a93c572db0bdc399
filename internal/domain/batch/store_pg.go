package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/extraction/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) Save(ctx context.Context, job *Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	_, err = db.QuerierFrom(ctx, s.pool).Exec(ctx, `
		INSERT INTO batch_jobs (id, workspace_id, created_by, status, total_files,
			completed_files, failed_files, created_at, completed_at, job)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_files = EXCLUDED.completed_files,
			failed_files = EXCLUDED.failed_files,
			completed_at = EXCLUDED.completed_at,
			job = EXCLUDED.job`,
		job.ID, job.WorkspaceID, job.CreatedBy, string(job.Status), job.TotalFiles,
		job.Progress.Completed, job.Progress.Failed, job.CreatedAt, job.CompletedAt, doc)
	if err != nil {
		return fmt.Errorf("upsert batch %s: %w", job.ID, err)
	}
	return nil
}

func decodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &job, nil
}

func (s *storePG) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var raw []byte
	err := db.QuerierFrom(ctx, s.pool).QueryRow(ctx, `SELECT job FROM batch_jobs WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(raw)
}

func (s *storePG) List(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*Job, error) {
	rows, err := db.QuerierFrom(ctx, s.pool).Query(ctx, `
		SELECT job FROM batch_jobs WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		job, err := decodeJob(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
