package mapping

import (
	"errors"
	"fmt"
	"sort"
)

var ErrRequiredMissing = errors.New("required value missing")

// Row is one record destined for a target table.
type Row struct {
	Table  string         `json:"table"`
	Values map[string]any `json:"values"`
}

// Result carries every row the mappings produced plus the non-fatal notes
// gathered on the way.
type Result struct {
	Rows   []Row    `json:"rows"`
	Errors []string `json:"errors"`
}

// Engine applies field mappings to extraction payloads. It is pure: all it
// reads besides its inputs are the in-memory code sets.
type Engine struct {
	codes *CodeSets
}

func NewEngine(codes *CodeSets) *Engine {
	if codes == nil {
		codes = NewCodeSets()
	}
	return &Engine{codes: codes}
}

// Transform normalizes one resolved value. A nil value yields the mapping's
// default, or ErrRequiredMissing for required mappings. Any other error is
// advisory and the returned value is still usable.
func (e *Engine) Transform(v any, m FieldMapping) (any, error) {
	t, err := ParseTransformation(m.TransformationType, m.TransformationConfig)
	if err != nil {
		return nil, err
	}
	return e.transform(t, v, m)
}

func (e *Engine) transform(t Transformation, v any, m FieldMapping) (any, error) {
	if v == nil {
		if m.IsRequired {
			return nil, fmt.Errorf("%w: %s", ErrRequiredMissing, sourceName(m))
		}
		return m.DefaultValue, nil
	}
	return t.apply(e.codes, v, m.FieldType)
}

func sourceName(m FieldMapping) string {
	if m.SourceFieldPath != "" {
		return m.SourceFieldPath
	}
	if m.SourceSection != "" {
		return m.SourceSection + "." + m.SourceField
	}
	return m.SourceField
}

// SortMappings returns mappings ordered by processing_order, keeping the
// given order for ties.
func SortMappings(mappings []FieldMapping) []FieldMapping {
	sorted := make([]FieldMapping, len(mappings))
	copy(sorted, mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ProcessingOrder < sorted[j].ProcessingOrder
	})
	return sorted
}

type boundMapping struct {
	m      FieldMapping
	t      Transformation
	scalar any
	list   []any
	multi  bool
}

// Apply runs every mapping over data. Mappings are grouped by target table
// in processing order. A list-valued source turns into one row per item;
// scalar sources repeat on each of those rows.
func (e *Engine) Apply(mappings []FieldMapping, data map[string]any) Result {
	res := Result{Rows: []Row{}, Errors: []string{}}

	var tables []string
	groups := make(map[string][]boundMapping)
	for _, m := range SortMappings(mappings) {
		t, err := ParseTransformation(m.TransformationType, m.TransformationConfig)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s.%s: %v", m.TargetTable, m.TargetField, err))
			continue
		}
		b := boundMapping{m: m, t: t}
		raw := Resolve(data, m)
		if list, ok := raw.([]any); ok && m.FieldType != FieldJSON {
			b.list, b.multi = list, true
		} else {
			b.scalar = raw
		}
		if _, seen := groups[m.TargetTable]; !seen {
			tables = append(tables, m.TargetTable)
		}
		groups[m.TargetTable] = append(groups[m.TargetTable], b)
	}

	for _, table := range tables {
		e.buildRows(table, groups[table], &res)
	}
	return res
}

func (e *Engine) buildRows(table string, bound []boundMapping, res *Result) {
	n, anyMulti := 0, false
	for _, b := range bound {
		if b.multi {
			anyMulti = true
			if len(b.list) > n {
				n = len(b.list)
			}
		}
	}
	if !anyMulti {
		n = 1
	}

	for i := 0; i < n; i++ {
		label := table
		if anyMulti {
			label = fmt.Sprintf("%s[%d]", table, i)
		}

		values := make(map[string]any, len(bound))
		skip := false
		for _, b := range bound {
			v := b.scalar
			if b.multi {
				v = nil
				if i < len(b.list) {
					v = b.list[i]
				}
			}
			out, err := e.transform(b.t, v, b.m)
			if errors.Is(err, ErrRequiredMissing) {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: skipped, %v", label, err))
				skip = true
				break
			}
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s.%s: %v", label, b.m.TargetField, err))
			}
			values[b.m.TargetField] = out
		}
		if skip || allNil(values) {
			continue
		}
		res.Rows = append(res.Rows, Row{Table: table, Values: values})
	}
}

func allNil(values map[string]any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}
