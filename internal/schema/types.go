package schema

import (
	"math"
	"strings"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

// Kind is the tag of a FieldType variant.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindList
)

// FieldType is a closed variant: String, Integer, Float or ListOf(FieldType).
type FieldType struct {
	Kind Kind
	Elem *FieldType // set only for KindList
}

var (
	String  = FieldType{Kind: KindString}
	Integer = FieldType{Kind: KindInteger}
	Float   = FieldType{Kind: KindFloat}
)

// ListOf returns the list variant with the given element type.
func ListOf(elem FieldType) FieldType {
	return FieldType{Kind: KindList, Elem: &elem}
}

// primitives is the whole scalar vocabulary. Nothing outside it is accepted.
var primitives = map[string]FieldType{
	"str":   String,
	"int":   Integer,
	"float": Float,
}

// ParseType maps a type hint such as "int" or "List[str]" to a FieldType.
// "Array" is a synonym for "List". Tokens are case-sensitive.
func ParseType(token string) (FieldType, error) {
	t, err := parseType(strings.TrimSpace(token))
	if err != nil {
		if token != err.token {
			return FieldType{}, vesselerrors.Schema("unrecognized field type %q in %q", err.token, token)
		}
		return FieldType{}, vesselerrors.Schema("unrecognized field type %q", token)
	}
	return t, nil
}

type typeError struct{ token string }

func parseType(s string) (FieldType, *typeError) {
	if t, ok := primitives[s]; ok {
		return t, nil
	}
	for _, prefix := range []string{"List[", "Array["} {
		if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, "]") {
			inner := strings.TrimSpace(s[len(prefix) : len(s)-1])
			elem, err := parseType(inner)
			if err != nil {
				return FieldType{}, err
			}
			return ListOf(elem), nil
		}
	}
	return FieldType{}, &typeError{token: s}
}

// IsList reports whether values of this type are table-shaped.
func (t FieldType) IsList() bool {
	return t.Kind == KindList
}

// String renders the canonical type hint.
func (t FieldType) String() string {
	switch t.Kind {
	case KindString:
		return "str"
	case KindInteger:
		return "int"
	case KindFloat:
		return "float"
	case KindList:
		if t.Elem == nil {
			return "List"
		}
		return "List[" + t.Elem.String() + "]"
	default:
		return "unknown"
	}
}

func (t FieldType) jsonSchema() map[string]any {
	switch t.Kind {
	case KindString:
		return map[string]any{"type": "string"}
	case KindInteger:
		return map[string]any{"type": "integer"}
	case KindFloat:
		return map[string]any{"type": "number"}
	case KindList:
		return map[string]any{"type": "array", "items": t.Elem.jsonSchema()}
	default:
		return map[string]any{}
	}
}

// jsonKind names the JSON type of a value decoded by encoding/json.
func jsonKind(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
