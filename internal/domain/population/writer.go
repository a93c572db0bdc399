package population

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/extraction/internal/platform/db"
)

var (
	ErrUnknownTable = errors.New("unknown target table")
	ErrNoColumns    = errors.New("record has no mappable columns")
)

// Owner carries the identifiers stamped onto every populated row.
type Owner struct {
	WorkspaceID  uuid.UUID
	CreatedBy    string
	PatientID    uuid.UUID
	EncounterID  *uuid.UUID
	ExtractionID uuid.UUID
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Writer inserts transformed rows into clinical tables. Each call is its own
// statement; there is no transaction spanning rows or tables.
type Writer struct {
	conn   func(ctx context.Context) execer
	logger zerolog.Logger
	now    func() time.Time
}

func NewWriter(pool *pgxpool.Pool, logger zerolog.Logger) *Writer {
	return &Writer{
		conn:   func(ctx context.Context) execer { return db.QuerierFrom(ctx, pool) },
		logger: logger.With().Str("component", "population").Logger(),
		now:    time.Now,
	}
}

// Populate stamps ownership columns onto record and inserts it into table.
// A failed write is logged and returned; callers carry on with the
// remaining rows.
func (w *Writer) Populate(ctx context.Context, table string, record map[string]any, owner Owner) (uuid.UUID, error) {
	id, err := w.insert(ctx, table, record, owner)
	if err != nil {
		w.logger.Error().Err(err).
			Str("table", table).
			Str("extraction_id", owner.ExtractionID.String()).
			Msg("auto-population write failed")
		return uuid.Nil, err
	}
	return id, nil
}

func (w *Writer) insert(ctx context.Context, table string, record map[string]any, owner Owner) (uuid.UUID, error) {
	spec, ok := tables[table]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	names := make([]string, 0, len(record))
	for col := range record {
		if !spec.columns[col] {
			w.logger.Warn().Str("table", table).Str("column", col).Msg("dropping unknown column")
			continue
		}
		names = append(names, col)
	}
	if len(names) == 0 {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNoColumns, table)
	}
	sort.Strings(names)

	id := uuid.New()
	now := w.now().UTC()
	columns := []string{"id", "workspace_id", "created_by", "patient_id", "encounter_id", "source_extraction_id", "created_at"}
	args := []any{id, owner.WorkspaceID, owner.CreatedBy, owner.PatientID, owner.EncounterID, owner.ExtractionID, now}
	if spec.tracksUpdates {
		columns = append(columns, "updated_at")
		args = append(args, now)
	}
	for _, col := range names {
		columns = append(columns, col)
		args = append(args, record[col])
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pgx.Identifier{col}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	if _, err := w.conn(ctx).Exec(ctx, sql, args...); err != nil {
		return uuid.Nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return id, nil
}
