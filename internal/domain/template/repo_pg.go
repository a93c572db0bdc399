package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const templateCols = `id, workspace_id, name, document_type, description, is_active, is_default,
	created_by, created_at, updated_at`

const mappingCols = `id, template_id, source_section, source_field, source_field_path,
	target_table, target_field, field_type, transformation_type, transformation_config,
	is_required, default_value, processing_order`

func (r *repoPG) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.BeginFrom(ctx, r.pool)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *repoPG) Create(ctx context.Context, t *Template) error {
	return r.inTx(ctx, func(tx pgx.Tx) error { return insertTemplate(ctx, tx, t) })
}

func (r *repoPG) Supersede(ctx context.Context, oldID uuid.UUID, t *Template) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE extraction_templates SET is_active = false, is_default = false, updated_at = now()
			WHERE id = $1 AND is_active`, oldID)
		if err != nil {
			return fmt.Errorf("deactivate %s: %w", oldID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInactive
		}
		return insertTemplate(ctx, tx, t)
	})
}

func insertTemplate(ctx context.Context, tx pgx.Tx, t *Template) error {
	if t.IsDefault {
		if _, err := tx.Exec(ctx, `
			UPDATE extraction_templates SET is_default = false, updated_at = now()
			WHERE workspace_id = $1 AND document_type = $2 AND is_default`,
			t.WorkspaceID, t.DocumentType); err != nil {
			return fmt.Errorf("clear previous default: %w", err)
		}
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO extraction_templates (id, workspace_id, name, document_type, description,
			is_active, is_default, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		t.ID, t.WorkspaceID, t.Name, t.DocumentType, t.Description,
		t.IsActive, t.IsDefault, t.CreatedBy).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range t.FieldMappings {
		cfg, err := json.Marshal(m.TransformationConfig)
		if err != nil {
			return fmt.Errorf("encode transformation_config: %w", err)
		}
		def, err := json.Marshal(m.DefaultValue)
		if err != nil {
			return fmt.Errorf("encode default_value: %w", err)
		}
		batch.Queue(`
			INSERT INTO field_mappings (`+mappingCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			m.ID, t.ID, m.SourceSection, m.SourceField, m.SourceFieldPath,
			m.TargetTable, m.TargetField, string(m.FieldType), string(m.TransformationType), cfg,
			m.IsRequired, def, m.ProcessingOrder)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert field mappings: %w", err)
	}
	return nil
}

func (r *repoPG) scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.DocumentType, &t.Description,
		&t.IsActive, &t.IsDefault, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *repoPG) loadMappings(ctx context.Context, t *Template) error {
	rows, err := db.QuerierFrom(ctx, r.pool).Query(ctx, `
		SELECT `+mappingCols+` FROM field_mappings
		WHERE template_id = $1 ORDER BY processing_order, id`, t.ID)
	if err != nil {
		return fmt.Errorf("load field mappings: %w", err)
	}
	defer rows.Close()

	t.FieldMappings = t.FieldMappings[:0]
	for rows.Next() {
		var (
			m        mapping.FieldMapping
			ft, kind string
			cfg, def []byte
		)
		if err := rows.Scan(&m.ID, &m.TemplateID, &m.SourceSection, &m.SourceField, &m.SourceFieldPath,
			&m.TargetTable, &m.TargetField, &ft, &kind, &cfg,
			&m.IsRequired, &def, &m.ProcessingOrder); err != nil {
			return err
		}
		m.FieldType = mapping.FieldType(ft)
		m.TransformationType = mapping.Kind(kind)
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &m.TransformationConfig); err != nil {
				return fmt.Errorf("decode transformation_config of %s: %w", m.ID, err)
			}
		}
		if len(def) > 0 {
			if err := json.Unmarshal(def, &m.DefaultValue); err != nil {
				return fmt.Errorf("decode default_value of %s: %w", m.ID, err)
			}
		}
		t.FieldMappings = append(t.FieldMappings, m)
	}
	return rows.Err()
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := r.scanTemplate(db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+templateCols+` FROM extraction_templates WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return t, r.loadMappings(ctx, t)
}

func (r *repoPG) GetDefault(ctx context.Context, workspaceID uuid.UUID, documentType string) (*Template, error) {
	t, err := r.scanTemplate(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT `+templateCols+` FROM extraction_templates
		WHERE workspace_id = $1 AND document_type = $2 AND is_active AND is_default
		ORDER BY updated_at DESC LIMIT 1`, workspaceID, documentType))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoDefault
	}
	if err != nil {
		return nil, err
	}
	return t, r.loadMappings(ctx, t)
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Template, int, error) {
	q := db.QuerierFrom(ctx, r.pool)
	where := `WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR workspace_id = $1)
		AND ($2 = '' OR document_type = $2)
		AND (NOT $3 OR is_active)`

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM extraction_templates `+where,
		f.WorkspaceID, f.DocumentType, f.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx, `SELECT `+templateCols+` FROM extraction_templates `+where+`
		ORDER BY document_type, created_at DESC LIMIT $4 OFFSET $5`,
		f.WorkspaceID, f.DocumentType, f.ActiveOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Template
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := db.QuerierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE extraction_templates SET is_active = false, is_default = false, updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
