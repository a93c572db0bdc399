package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Transformation is the parsed form of a mapping's transformation_type and
// transformation_config. The unexported method keeps the set of variants
// closed to this package.
type Transformation interface {
	Kind() Kind
	apply(codes *CodeSets, v any, ft FieldType) (any, error)
}

type DirectTransform struct{}

type SplitTransform struct {
	Delimiter string `json:"delimiter"`
	Index     int    `json:"index"`
}

type ConcatTransform struct {
	Fields    []string `json:"fields"`
	Separator string   `json:"separator"`
}

type LookupTransform struct {
	CodeSet string `json:"code_set"`
}

type AIMatchTransform struct {
	CodeSet string `json:"code_set"`
}

// CalculationTransform is reserved; values pass through untouched.
type CalculationTransform struct {
	Expression string `json:"expression"`
}

func (DirectTransform) Kind() Kind      { return KindDirect }
func (SplitTransform) Kind() Kind       { return KindSplit }
func (ConcatTransform) Kind() Kind      { return KindConcatenation }
func (LookupTransform) Kind() Kind      { return KindLookup }
func (AIMatchTransform) Kind() Kind     { return KindAIMatch }
func (CalculationTransform) Kind() Kind { return KindCalculation }

func (DirectTransform) apply(_ *CodeSets, v any, ft FieldType) (any, error) {
	return Coerce(v, ft)
}

var digitRun = regexp.MustCompile(`\d+(?:\.\d+)?`)

func (t SplitTransform) apply(_ *CodeSets, v any, ft FieldType) (any, error) {
	parts := strings.Split(stringify(v), t.Delimiter)
	if t.Index >= len(parts) {
		return nil, fmt.Errorf("%w: %q has no segment %d after splitting on %q", ErrCoercion, stringify(v), t.Index, t.Delimiter)
	}
	seg := strings.TrimSpace(parts[t.Index])
	if run := digitRun.FindString(seg); run != "" {
		seg = run
	}
	return Coerce(seg, ft)
}

func (t ConcatTransform) apply(_ *CodeSets, v any, ft FieldType) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return v, fmt.Errorf("%w: concatenation needs an object, got %T", ErrCoercion, v)
	}
	var parts []string
	for _, f := range t.Fields {
		if s := strings.TrimSpace(stringify(obj[f])); s != "" {
			parts = append(parts, s)
		}
	}
	return Coerce(strings.Join(parts, t.Separator), ft)
}

func (t LookupTransform) apply(codes *CodeSets, v any, _ FieldType) (any, error) {
	term := stringify(v)
	if code, ok := codes.Lookup(t.CodeSet, term); ok {
		return code, nil
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrLookupMiss, term, t.CodeSet)
}

func (t AIMatchTransform) apply(codes *CodeSets, v any, _ FieldType) (any, error) {
	term := stringify(v)
	if code, ok := codes.Match(t.CodeSet, term); ok {
		return code, nil
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrLookupMiss, term, t.CodeSet)
}

func (CalculationTransform) apply(_ *CodeSets, v any, _ FieldType) (any, error) {
	return v, nil
}

const codeSetSchema = `{
	"type": "object",
	"properties": {"code_set": {"enum": ["icd10", "medication"]}},
	"additionalProperties": false
}`

var configSchemas = map[Kind]string{
	KindDirect: `{"type": "object"}`,
	KindSplit: `{
		"type": "object",
		"properties": {
			"delimiter": {"type": "string", "minLength": 1},
			"index": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`,
	KindConcatenation: `{
		"type": "object",
		"required": ["fields"],
		"properties": {
			"fields": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
			"separator": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	KindLookup:  codeSetSchema,
	KindAIMatch: codeSetSchema,
	KindCalculation: `{
		"type": "object",
		"properties": {"expression": {"type": "string"}},
		"additionalProperties": false
	}`,
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[Kind]*jsonschema.Schema {
	out := make(map[Kind]*jsonschema.Schema, len(configSchemas))
	for kind, src := range configSchemas {
		url := "transformation_" + string(kind) + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", url, err))
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", url, err))
		}
		out[kind] = schema
	}
	return out
}

// ParseTransformation validates config against the kind's schema and
// returns the matching variant with defaults applied. An empty kind means
// direct.
func ParseTransformation(kind Kind, config map[string]any) (Transformation, error) {
	if kind == "" {
		kind = KindDirect
	}
	schema, ok := compiledSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transformation_type %q", ErrInvalidMapping, kind)
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: transformation_config: %v", ErrInvalidMapping, err)
	}
	if config == nil {
		raw = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: transformation_config: %v", ErrInvalidMapping, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s config: %v", ErrInvalidMapping, kind, err)
	}

	switch kind {
	case KindDirect:
		return DirectTransform{}, nil
	case KindSplit:
		return decodeInto(raw, SplitTransform{Delimiter: "/"})
	case KindConcatenation:
		return decodeInto(raw, ConcatTransform{Separator: " "})
	case KindLookup:
		return decodeInto(raw, LookupTransform{CodeSet: CodeSetICD10})
	case KindAIMatch:
		return decodeInto(raw, AIMatchTransform{CodeSet: CodeSetICD10})
	case KindCalculation:
		return decodeInto(raw, CalculationTransform{})
	}
	return nil, fmt.Errorf("%w: unknown transformation_type %q", ErrInvalidMapping, kind)
}

// decodeInto overlays raw onto the defaults held in t.
func decodeInto[T Transformation](raw []byte, t T) (Transformation, error) {
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	return t, nil
}
