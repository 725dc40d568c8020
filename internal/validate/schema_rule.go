package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"marketlake/internal/frame"
	schemapkg "marketlake/internal/schema"
)

// SchemaRule validates each row as a JSON object against a compiled
// JSON Schema. Violations are critical: a row that fails the declared
// shape must not reach the lake.
type SchemaRule struct {
	RuleName string
	compiled *jsonschema.Schema
}

// NewSchemaRule compiles a JSON Schema document.
func NewSchemaRule(name, schemaJSON string) (*SchemaRule, error) {
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &SchemaRule{RuleName: name, compiled: compiled}, nil
}

// MustSchemaRule panics on a malformed schema document. Schema
// documents ship with the binary, so a failure here is a programming
// error caught at startup.
func MustSchemaRule(name, schemaJSON string) *SchemaRule {
	r, err := NewSchemaRule(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *SchemaRule) Name() string { return r.RuleName }

// Applies is always true: the schema document itself determines which
// properties it constrains.
func (r *SchemaRule) Applies(schemapkg.Schema) bool { return true }

func (r *SchemaRule) Open(Config) Check {
	return func(row frame.Row, idx int) []Detail {
		v, err := jsonValue(row)
		if err != nil {
			return violation(idx, "", r.RuleName, err.Error(), Critical)
		}
		err = r.compiled.Validate(v)
		if err == nil {
			return nil
		}
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return violation(idx, "", r.RuleName, err.Error(), Critical)
		}
		var out []Detail
		for _, leaf := range leafCauses(ve) {
			out = append(out, Detail{
				RowIndex: idx,
				Field:    strings.TrimPrefix(leaf.InstanceLocation, "/"),
				Message:  leaf.Message,
				Rule:     r.RuleName,
				Severity: Critical,
			})
		}
		return out
	}
}

var _ Rule = (*SchemaRule)(nil)

// jsonValue round-trips the row through encoding/json so the validator
// sees plain JSON types. int64 cells become float64, which is what the
// schema's integer checks expect.
func jsonValue(row frame.Row) (any, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return v, nil
}

// leafCauses flattens a validation error tree into its leaves, the
// messages that actually name the violated constraint.
func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}

// EnvelopeSchemaJSON is the JSON Schema enforced over the shared event
// envelope of every normalized dataset.
const EnvelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_id", "event_time", "ingest_time", "source", "schema_version", "entity_id"],
  "properties": {
    "event_id": {"type": "string", "minLength": 36, "maxLength": 36},
    "event_time": {"type": "integer", "minimum": 0},
    "ingest_time": {"type": "integer", "minimum": 0},
    "source": {"type": "string", "minLength": 1},
    "schema_version": {"type": "string", "minLength": 1},
    "entity_id": {"type": "string", "minLength": 1}
  }
}`

// EnvelopeRule returns the schema rule for the shared envelope.
func EnvelopeRule() *SchemaRule {
	return MustSchemaRule("envelope", EnvelopeSchemaJSON)
}
