package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

const resourceURL = "schema.json"

// Field is one required entry of a QuerySchema.
type Field struct {
	Name string
	Type FieldType
}

// QuerySchema is the caller-declared response shape. When Array is set the
// response is a list of objects, each with every field.
type QuerySchema struct {
	Fields []Field
	Array  bool

	compiled *jsonschema.Schema
}

// BuildResponseSchema builds a schema with one required field per name.
// Same inputs always produce equivalent schemas.
func BuildResponseSchema(names, types []string) (*QuerySchema, error) {
	if len(names) != len(types) {
		return nil, vesselerrors.Schema("got %d field names but %d types", len(names), len(types))
	}
	if len(names) == 0 {
		return nil, vesselerrors.Schema("schema declares no fields")
	}

	fields := make([]Field, 0, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, vesselerrors.Schema("field %d has an empty name", i+1)
		}
		if seen[name] {
			return nil, vesselerrors.Schema("field %q declared twice", name)
		}
		seen[name] = true

		t, err := ParseType(types[i])
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: name, Type: t})
	}
	return newQuerySchema(fields, false)
}

func newQuerySchema(fields []Field, array bool) (*QuerySchema, error) {
	s := &QuerySchema{Fields: fields, Array: array}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QuerySchema) compile() error {
	raw, err := json.Marshal(s.document())
	if err != nil {
		return vesselerrors.Wrap(vesselerrors.ErrorTypeSchema, "encode schema", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return vesselerrors.Wrap(vesselerrors.ErrorTypeSchema, "add schema resource", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return vesselerrors.Wrap(vesselerrors.ErrorTypeSchema, "compile schema", err)
	}
	s.compiled = compiled
	return nil
}

func (s *QuerySchema) objectSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = f.Type.jsonSchema()
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// document is the JSON Schema for a whole response: one object, or an array
// of them.
func (s *QuerySchema) document() map[string]any {
	doc := s.objectSchema()
	if s.Array {
		doc = map[string]any{"type": "array", "items": doc}
	}
	doc["$schema"] = "https://json-schema.org/draft/2020-12/schema"
	return doc
}

// Names returns the field names in declaration order.
func (s *QuerySchema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Target renders the schema back into the caller's target notation,
// preserving field order, e.g. {"total": "int"}.
func (s *QuerySchema) Target() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		name, _ := json.Marshal(f.Name)
		b.Write(name)
		b.WriteString(": ")
		fmt.Fprintf(&b, "%q", f.Type.String())
	}
	b.WriteByte('}')
	if s.Array {
		return "[" + b.String() + "]"
	}
	return b.String()
}

// Instruction is the schema-constrained prompt for this schema.
func (s *QuerySchema) Instruction() string {
	return Instruction(s.Names(), s.Target())
}

// Partition splits the schema into form (scalar) and table (list) fields.
// Either result is nil when it would have no fields.
func (s *QuerySchema) Partition() (form, table *QuerySchema) {
	var formFields, tableFields []Field
	for _, f := range s.Fields {
		if f.Type.IsList() {
			tableFields = append(tableFields, f)
		} else {
			formFields = append(formFields, f)
		}
	}
	if len(formFields) > 0 {
		form, _ = newQuerySchema(formFields, s.Array)
	}
	if len(tableFields) > 0 {
		table, _ = newQuerySchema(tableFields, s.Array)
	}
	return form, table
}
