package mapping

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		ft      FieldType
		want    any
		wantErr bool
	}{
		{"text from string", "BCG", FieldText, "BCG", false},
		{"text from float", 120.0, FieldText, "120", false},
		{"text from decimal", 36.6, FieldText, "36.6", false},
		{"text from bool", true, FieldText, "true", false},
		{"number int", "120 mmHg", FieldNumber, 120, false},
		{"number negative", "temp -2 C", FieldNumber, -2, false},
		{"number float", "36.6C", FieldNumber, 36.6, false},
		{"number from float64", 72.0, FieldNumber, 72, false},
		{"number no digits passthrough", "unknown", FieldNumber, "unknown", true},
		{"date iso", "2024-03-09", FieldDate, "2024-03-09", false},
		{"date dmy slash", "09/03/2024", FieldDate, "2024-03-09", false},
		{"date dmy dash", "09-03-2024", FieldDate, "2024-03-09", false},
		{"date ymd slash", "2024/03/09", FieldDate, "2024-03-09", false},
		{"date dmy slash unpadded", "5/3/2020", FieldDate, "2020-03-05", false},
		{"date dmy dash unpadded", "5-3-2020", FieldDate, "2020-03-05", false},
		{"date iso unpadded", "2020-1-5", FieldDate, "2020-01-05", false},
		{"date ymd slash unpadded", "2020/3/5", FieldDate, "2020-03-05", false},
		{"date trimmed", " 2024-03-09 ", FieldDate, "2024-03-09", false},
		{"date time value", time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC), FieldDate, "2024-03-09", false},
		{"date unparseable passthrough", "March 9th", FieldDate, "March 9th", true},
		{"datetime passthrough", "2024-03-09T08:00:00Z", FieldDateTime, "2024-03-09T08:00:00Z", false},
		{"boolean yes", "Yes", FieldBoolean, true, false},
		{"boolean y", "y", FieldBoolean, true, false},
		{"boolean one", 1.0, FieldBoolean, true, false},
		{"boolean TRUE", "TRUE", FieldBoolean, true, false},
		{"boolean no", "no", FieldBoolean, false, false},
		{"boolean native", false, FieldBoolean, false, false},
		{"json passthrough", map[string]any{"a": 1.0}, FieldJSON, map[string]any{"a": 1.0}, false},
		{"nil stays nil", nil, FieldNumber, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.ft)
			if tt.wantErr {
				if !errors.Is(err, ErrCoercion) {
					t.Errorf("expected ErrCoercion, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Coerce(%#v, %s) = %#v, want %#v", tt.in, tt.ft, got, tt.want)
			}
		})
	}
}

func TestCoerce_NumberWithoutDigitsNeverPanics(t *testing.T) {
	for _, in := range []any{"", "abc", "-", ".", "N/A", []any{"x"}, map[string]any{}} {
		got, err := Coerce(in, FieldNumber)
		if err == nil {
			t.Errorf("expected coercion error for %#v", in)
		}
		if !reflect.DeepEqual(got, in) {
			t.Errorf("expected original value %#v back, got %#v", in, got)
		}
	}
}
