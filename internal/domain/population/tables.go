package population

// tableSpec lists the columns a template may target in one clinical table.
// Ownership columns are stamped by the writer and are never mappable.
type tableSpec struct {
	columns       map[string]bool
	tracksUpdates bool
}

func cols(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var tables = map[string]tableSpec{
	"immunizations": {
		columns: cols("vaccine_name", "vaccine_code", "dose_number", "administered_date",
			"lot_number", "site", "route", "administered_by", "notes"),
		tracksUpdates: true,
	},
	"conditions": {
		columns: cols("condition_name", "icd10_code", "onset_date", "resolved_date",
			"clinical_status", "severity", "notes"),
		tracksUpdates: true,
	},
	"medications": {
		columns: cols("medication_name", "medication_code", "dosage", "frequency", "route",
			"start_date", "end_date", "status", "prescriber", "notes"),
		tracksUpdates: true,
	},
	"allergies": {
		columns: cols("allergen", "allergen_type", "reaction", "severity", "onset_date", "notes"),
		tracksUpdates: true,
	},
	"vital_signs": {
		columns: cols("recorded_at", "systolic", "diastolic", "heart_rate", "temperature",
			"respiratory_rate", "oxygen_saturation", "weight_kg", "height_cm", "bmi"),
	},
	"lab_results": {
		columns: cols("test_name", "test_code", "result_value", "unit", "reference_range",
			"abnormal_flag", "result_date"),
	},
}

// Tables returns the names of every populatable table.
func Tables() []string {
	out := make([]string, 0, len(tables))
	for name := range tables {
		out = append(out, name)
	}
	return out
}

// KnownColumn reports whether a mapping may target table.column.
func KnownColumn(table, column string) bool {
	spec, ok := tables[table]
	return ok && spec.columns[column]
}

// KnownTable reports whether table is in the registry.
func KnownTable(table string) bool {
	_, ok := tables[table]
	return ok
}
