package terminology

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/internal/platform/db"
)

// Reference lists are shared by every tenant.
var tables = map[string]string{
	mapping.CodeSetICD10:      "shared.reference_icd10",
	mapping.CodeSetMedication: "shared.reference_medication",
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func tableFor(codeSet string) (string, error) {
	t, ok := tables[codeSet]
	if !ok {
		return "", fmt.Errorf("unknown code set %q", codeSet)
	}
	return t, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches query literally anywhere in a column.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

const codeCols = `code, description, COALESCE(short_description,''), COALESCE(category,'')`

func (r *repoPG) All(ctx context.Context, codeSet string) ([]*Code, error) {
	table, err := tableFor(codeSet)
	if err != nil {
		return nil, err
	}
	rows, err := db.QuerierFrom(ctx, r.pool).Query(ctx,
		`SELECT `+codeCols+` FROM `+table+` ORDER BY sort_order, code`)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", codeSet, err)
	}
	return scanCodes(rows)
}

func (r *repoPG) Search(ctx context.Context, codeSet, query string, limit int) ([]*Code, error) {
	table, err := tableFor(codeSet)
	if err != nil {
		return nil, err
	}
	pattern := containsPattern(query)
	rows, err := db.QuerierFrom(ctx, r.pool).Query(ctx,
		`SELECT `+codeCols+` FROM `+table+`
		 WHERE code ILIKE $1 ESCAPE '\' OR description ILIKE $1 ESCAPE '\'
		    OR short_description ILIKE $1 ESCAPE '\'
		 ORDER BY sort_order, code LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", codeSet, err)
	}
	return scanCodes(rows)
}

func scanCodes(rows pgx.Rows) ([]*Code, error) {
	defer rows.Close()
	var out []*Code
	for rows.Next() {
		var c Code
		if err := rows.Scan(&c.Code, &c.Description, &c.ShortDescription, &c.Category); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
