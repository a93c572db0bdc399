package mapping

import (
	"strconv"
	"strings"
)

// Resolve locates the raw value a mapping points at. A dotted
// source_field_path wins over section/field. A section holding a list of
// objects yields a []any of the field across items, nil where an item lacks
// it. Anything that does not fit the expected shape resolves to nil.
func Resolve(data map[string]any, m FieldMapping) any {
	if data == nil {
		return nil
	}
	if m.SourceFieldPath != "" {
		return walkPath(data, m.SourceFieldPath)
	}

	if m.SourceSection != "" {
		if section, ok := data[m.SourceSection]; ok {
			switch s := section.(type) {
			case []any:
				out := make([]any, len(s))
				for i, item := range s {
					if obj, ok := item.(map[string]any); ok {
						out[i] = obj[m.SourceField]
					}
				}
				return out
			case map[string]any:
				return s[m.SourceField]
			}
		}
	}

	return data[m.SourceField]
}

func walkPath(data map[string]any, path string) any {
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			if !isDigits(seg) {
				return nil
			}
			idx, err := strconv.Atoi(seg)
			if err != nil || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
