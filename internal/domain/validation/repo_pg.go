package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/extraction/internal/domain/extraction"
	"github.com/ehr/extraction/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*extraction.Record, error) {
	rec, err := extraction.ScanRecord(db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+extraction.RecordCols+` FROM extraction_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, extraction.ErrNotFound
	}
	return rec, err
}

func (r *repoPG) list(ctx context.Context, where, order string, args []any, limit, offset int) ([]*extraction.Record, int, error) {
	q := db.QuerierFrom(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM extraction_records `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM extraction_records %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		extraction.RecordCols, where, order, n+1, n+2), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*extraction.Record
	for rows.Next() {
		rec, err := extraction.ScanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Queue(ctx context.Context, workspaceID uuid.UUID, pendingOnly bool, limit, offset int) ([]*extraction.Record, int, error) {
	return r.list(ctx, `WHERE workspace_id = $1 AND (NOT $2 OR validated = false)`,
		`created_at ASC`, []any{workspaceID, pendingOnly}, limit, offset)
}

func (r *repoPG) History(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*extraction.Record, int, error) {
	return r.list(ctx, `WHERE workspace_id = $1 AND validated = true`,
		`validated_at DESC NULLS LAST`, []any{workspaceID}, limit, offset)
}

func (r *repoPG) Decide(ctx context.Context, d Decision) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	q := db.QuerierFrom(ctx, r.pool)
	if d.Approved {
		payload, perr := json.Marshal(d.StructuredExtraction)
		if perr != nil {
			return fmt.Errorf("encode structured_extraction: %w", perr)
		}
		var changes []byte
		if len(d.Changes) > 0 {
			if changes, perr = json.Marshal(d.Changes); perr != nil {
				return fmt.Errorf("encode validation_changes: %w", perr)
			}
		}
		tag, err = q.Exec(ctx, `
			UPDATE extraction_records SET
				structured_extraction = $2, validation_changes = $3, validation_notes = $4,
				validated = true, validated_by = $5, validated_at = $6
			WHERE id = $1 AND validated = false`,
			d.ExtractionID, payload, changes, d.Notes, d.ValidatedBy, d.ValidatedAt)
	} else {
		tag, err = q.Exec(ctx, `
			UPDATE extraction_records SET
				extraction_status = 'rejected', rejection_reason = $2,
				validated = true, validated_by = $3, validated_at = $4
			WHERE id = $1 AND validated = false`,
			d.ExtractionID, d.RejectionReason, d.ValidatedBy, d.ValidatedAt)
	}
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyValidated
	}
	return nil
}

func (r *repoPG) Stats(ctx context.Context, workspaceID uuid.UUID) (*Stats, error) {
	q := db.QuerierFrom(ctx, r.pool)
	s := &Stats{AverageConfidence: map[string]float64{}}

	err := q.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE NOT validated),
			COUNT(*) FILTER (WHERE validated AND extraction_status <> 'rejected'),
			COUNT(*) FILTER (WHERE validated AND extraction_status = 'rejected')
		FROM extraction_records WHERE workspace_id = $1`, workspaceID).
		Scan(&s.Total, &s.Pending, &s.Approved, &s.Rejected)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT kv.key, AVG(kv.value::float8)
		FROM extraction_records er, jsonb_each_text(er.confidence_scores) AS kv
		WHERE er.workspace_id = $1
			AND jsonb_typeof(er.confidence_scores) = 'object'
			AND kv.value ~ '^-?[0-9]+(\.[0-9]+)?$'
		GROUP BY kv.key`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("average confidence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			section string
			avg     float64
		)
		if err := rows.Scan(&section, &avg); err != nil {
			return nil, err
		}
		s.AverageConfidence[section] = avg
	}
	return s, rows.Err()
}
