package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

// MismatchKind classifies a field-level validation failure.
type MismatchKind string

const (
	MismatchMissing MismatchKind = "missing"
	MismatchType    MismatchKind = "type"
)

// Mismatch describes one field that does not satisfy the schema.
type Mismatch struct {
	Field    string       `json:"field"`
	Kind     MismatchKind `json:"kind"`
	Expected string       `json:"expected"`
	Got      string       `json:"got,omitempty"`
}

func (m Mismatch) String() string {
	if m.Kind == MismatchMissing {
		return fmt.Sprintf("%s: missing, expected %s", m.Field, m.Expected)
	}
	return fmt.Sprintf("%s: expected %s, got %s", m.Field, m.Expected, m.Got)
}

// Report is the outcome of validating one model response.
type Report struct {
	Valid      bool       `json:"valid"`
	ParseError string     `json:"parse_error,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Err returns nil for a valid report, otherwise a typed error describing it.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	if r.ParseError != "" {
		return vesselerrors.Newf(vesselerrors.ErrorTypeMalformedModelOutput, "response is not JSON: %s", r.ParseError)
	}
	parts := make([]string, len(r.Mismatches))
	for i, m := range r.Mismatches {
		parts[i] = m.String()
	}
	return vesselerrors.Newf(vesselerrors.ErrorTypeMalformedModelOutput, "response does not match schema: %s", strings.Join(parts, "; "))
}

// Validate parses raw and checks it against s. A surrounding markdown code
// fence is ignored.
func Validate(raw []byte, s *QuerySchema) Report {
	var v any
	if err := json.Unmarshal(TrimFence(raw), &v); err != nil {
		return Report{ParseError: err.Error()}
	}
	return s.Check(v)
}

// TrimFence strips a surrounding markdown code fence, which chat models add
// around JSON answers.
func TrimFence(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = raw[3:]
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	}
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}

// Check validates an already decoded value with the compiled JSON Schema and
// turns its failures into one Mismatch per offending field.
func (s *QuerySchema) Check(v any) Report {
	if s.compiled == nil {
		return Report{Mismatches: []Mismatch{{Field: "$", Kind: MismatchType, Expected: "compiled schema", Got: "none"}}}
	}
	err := s.compiled.Validate(v)
	if err == nil {
		return Report{Valid: true}
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return Report{Mismatches: []Mismatch{{Field: "$", Kind: MismatchType, Expected: s.rootKind(), Got: err.Error()}}}
	}
	mismatches := s.mismatches(v, leafViolations(verr, nil))
	if len(mismatches) == 0 {
		mismatches = []Mismatch{{Field: "$", Kind: MismatchType, Expected: s.rootKind(), Got: verr.Error()}}
	}
	return Report{Mismatches: mismatches}
}

func (s *QuerySchema) rootKind() string {
	if s.Array {
		return "array"
	}
	return "object"
}

// violation is one leaf of a validation error tree.
type violation struct {
	keyword  string   // last keyword of the failing schema path, e.g. "type"
	instance []string // path of the failing value
}

func leafViolations(e *jsonschema.ValidationError, out []violation) []violation {
	if len(e.Causes) == 0 {
		kw := e.KeywordLocation
		if i := strings.LastIndexByte(kw, '/'); i >= 0 {
			kw = kw[i+1:]
		}
		return append(out, violation{keyword: kw, instance: splitPointer(e.InstanceLocation)})
	}
	for _, c := range e.Causes {
		out = leafViolations(c, out)
	}
	return out
}

// splitPointer decodes a JSON pointer into its reference tokens.
func splitPointer(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return nil
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		parts[i] = strings.NewReplacer("~1", "/", "~0", "~").Replace(p)
	}
	return parts
}

// resolve follows path through a decoded JSON value.
func resolve(v any, path []string) any {
	for _, p := range path {
		switch x := v.(type) {
		case map[string]any:
			v = x[p]
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(x) {
				return nil
			}
			v = x[i]
		default:
			return nil
		}
	}
	return v
}

// mismatchKey orders mismatches by item, then field declaration order. Item
// is -1 outside arrays and field is -1 for the unit itself.
type mismatchKey struct {
	item, field int
}

func (s *QuerySchema) mismatches(v any, violations []violation) []Mismatch {
	found := make(map[mismatchKey]Mismatch)
	add := func(k mismatchKey, m Mismatch) {
		if _, ok := found[k]; !ok {
			found[k] = m
		}
	}

	for _, vi := range violations {
		item, rest := -1, vi.instance
		if s.Array {
			if len(rest) == 0 {
				add(mismatchKey{-1, -1}, Mismatch{Field: "$", Kind: MismatchType, Expected: "array", Got: jsonKind(v)})
				continue
			}
			i, err := strconv.Atoi(rest[0])
			if err != nil {
				continue
			}
			item, rest = i, rest[1:]
		}
		prefix, unit := s.unitPath(item)
		obj := resolve(v, vi.instance[:len(vi.instance)-len(rest)])

		switch {
		case len(rest) == 0 && vi.keyword == "required":
			m, _ := obj.(map[string]any)
			for fi, f := range s.Fields {
				if _, present := m[f.Name]; !present {
					add(mismatchKey{item, fi}, Mismatch{Field: prefix + f.Name, Kind: MismatchMissing, Expected: f.Type.String()})
				}
			}
		case len(rest) == 0:
			add(mismatchKey{item, -1}, Mismatch{Field: unit, Kind: MismatchType, Expected: "object", Got: jsonKind(obj)})
		default:
			fi := s.fieldIndex(rest[0])
			if fi < 0 {
				continue
			}
			f := s.Fields[fi]
			add(mismatchKey{item, fi}, Mismatch{
				Field:    prefix + f.Name,
				Kind:     MismatchType,
				Expected: f.Type.String(),
				Got:      jsonKind(resolve(v, vi.instance)),
			})
		}
	}

	keys := make([]mismatchKey, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].item != keys[j].item {
			return keys[i].item < keys[j].item
		}
		return keys[i].field < keys[j].field
	})
	out := make([]Mismatch, len(keys))
	for i, k := range keys {
		out[i] = found[k]
	}
	return out
}

// unitPath names an item's fields ("[2].") and the item itself ("[2]").
func (s *QuerySchema) unitPath(item int) (prefix, unit string) {
	if item < 0 {
		return "", "$"
	}
	unit = fmt.Sprintf("[%d]", item)
	return unit + ".", unit
}

func (s *QuerySchema) fieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}
