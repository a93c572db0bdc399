package mapping

import "strings"

// Lay terms and abbreviations seen on handwritten records, mapped to the
// wording used in reference descriptions. Checked in order.
var synonyms = []struct{ from, to string }{
	{"high blood pressure", "hypertension"},
	{"low blood pressure", "hypotension"},
	{"high blood sugar", "diabetes"},
	{"high sugar", "diabetes"},
	{"sugar", "diabetes"},
	{"heart attack", "myocardial infarction"},
	{"high cholesterol", "hyperlipidemia"},
	{"stroke", "cerebral infarction"},
	{"flu", "influenza"},
	{"tb", "tuberculosis"},
	{"htn", "hypertension"},
	{"dm", "diabetes"},
	{"copd", "chronic obstructive pulmonary disease"},
	{"uti", "urinary tract infection"},
}

var brandToGeneric = map[string]string{
	"glucophage": "metformin",
	"lipitor":    "atorvastatin",
	"norvasc":    "amlodipine",
	"tylenol":    "acetaminophen",
	"panadol":    "paracetamol",
	"augmentin":  "amoxicillin",
	"zithromax":  "azithromycin",
	"ventolin":   "salbutamol",
	"lasix":      "furosemide",
	"zantac":     "ranitidine",
	"brufen":     "ibuprofen",
	"advil":      "ibuprofen",
}

var dosageFormPrefixes = []string{
	"tab. ", "tab ", "tablet ",
	"cap. ", "cap ", "capsule ",
	"inj. ", "inj ",
	"syp ", "syrup ",
}

// Match behaves exactly like Lookup when Lookup finds a code. Only on a
// miss does it rewrite the term (synonyms, dosage-form prefix, brand name)
// and look up the rewritten term.
func (c *CodeSets) Match(name, term string) (string, bool) {
	if code, ok := c.Lookup(name, term); ok {
		return code, true
	}
	for _, candidate := range rewrites(term) {
		if code, ok := c.Lookup(name, candidate); ok {
			return code, true
		}
	}
	return "", false
}

func rewrites(term string) []string {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return nil
	}

	var out []string
	for _, s := range synonyms {
		if replaced, ok := replaceWord(t, s.from, s.to); ok {
			out = append(out, replaced)
			break
		}
	}

	stripped := t
	for _, p := range dosageFormPrefixes {
		if strings.HasPrefix(stripped, p) {
			stripped = strings.TrimSpace(stripped[len(p):])
			out = append(out, stripped)
			break
		}
	}

	words := strings.Fields(stripped)
	if len(words) > 0 {
		if generic, ok := brandToGeneric[words[0]]; ok {
			words[0] = generic
			out = append(out, generic, strings.Join(words, " "))
		}
	}
	return out
}

// replaceWord substitutes from with to when from appears in t on word
// boundaries, so "tb" does not fire inside "tablet".
func replaceWord(t, from, to string) (string, bool) {
	words := strings.Fields(t)
	fromWords := strings.Fields(from)
	for i := 0; i+len(fromWords) <= len(words); i++ {
		match := true
		for j, fw := range fromWords {
			if words[i+j] != fw {
				match = false
				break
			}
		}
		if match {
			out := append([]string{}, words[:i]...)
			out = append(out, to)
			out = append(out, words[i+len(fromWords):]...)
			return strings.Join(out, " "), true
		}
	}
	return "", false
}
