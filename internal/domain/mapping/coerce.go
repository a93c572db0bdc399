package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrCoercion   = errors.New("coercion failed")
	ErrLookupMiss = errors.New("no reference code matched")
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

var dateLayouts = []string{
	"2006-1-2",
	"2/1/2006",
	"2-1-2006",
	"2006/1/2",
}

var truthy = map[string]bool{"true": true, "yes": true, "1": true, "y": true}

// stringify renders scalars the way a reviewer would type them: floats
// without exponent or trailing zeros, containers as JSON.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// Coerce converts v to the column type. On failure it returns v unchanged
// together with an ErrCoercion so the caller can record it and carry on.
func Coerce(v any, ft FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ft {
	case FieldText:
		return stringify(v), nil
	case FieldNumber:
		return toNumber(v)
	case FieldDate:
		return toDate(v)
	case FieldBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return truthy[strings.ToLower(strings.TrimSpace(stringify(v)))], nil
	default:
		// datetime and json are stored as given.
		return v, nil
	}
}

func toNumber(v any) (any, error) {
	match := numberPattern.FindString(stringify(v))
	if match == "" {
		return v, fmt.Errorf("%w: %q is not numeric", ErrCoercion, stringify(v))
	}
	if !strings.Contains(match, ".") {
		if n, err := strconv.Atoi(match); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return v, fmt.Errorf("%w: %q is not numeric", ErrCoercion, match)
	}
	return f, nil
}

func toDate(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t.Format("2006-01-02"), nil
	}
	s := strings.TrimSpace(stringify(v))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return v, fmt.Errorf("%w: %q matches no known date format", ErrCoercion, s)
}
