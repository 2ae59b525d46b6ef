package ingest

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// defaultSchema is the built-in telemetry event contract, used when no
// schema file is configured.
const defaultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["metric", "value"],
  "properties": {
    "event_time": {"type": "number", "minimum": 0},
    "metric": {"type": "string", "minLength": 1},
    "value": {"type": "number"},
    "unit": {"type": "string"},
    "tags": {"type": "object"}
  }
}`

// Validator checks raw telemetry payloads against a JSON schema.
type Validator struct {
	schema *jsonschema.Schema
}

// DefaultValidator compiles the built-in event schema.
func DefaultValidator() *Validator {
	v, err := NewValidatorFromString("telemetry_event.json", defaultSchema)
	if err != nil {
		panic(err) // the built-in schema is a compile-time constant
	}
	return v
}

// NewValidator compiles a schema file (HB_TELEMETRY_SCHEMA).
func NewValidator(path string) (*Validator, error) {
	schema, err := jsonschema.Compile(path)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindConfig, "compile telemetry schema", err)
	}
	return &Validator{schema: schema}, nil
}

// NewValidatorFromString compiles an inline schema document.
func NewValidatorFromString(name, doc string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(doc))); err != nil {
		return nil, contracts.WrapError(contracts.KindConfig, "load telemetry schema", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindConfig, "compile telemetry schema", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidateBytes checks one raw JSON payload.
func (v *Validator) ValidateBytes(data []byte) error {
	// UseNumber keeps numerics as json.Number so schema numeric bounds are
	// checked without float64 round-off.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return contracts.WrapError(contracts.KindParse, "decode event", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return contracts.WrapError(contracts.KindSchema, "validate event", err)
	}
	return nil
}
