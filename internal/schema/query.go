package schema

import (
	"encoding/json"
	"io"
	"strings"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

// QueryAll is the target that requests every field the model can find.
const QueryAll = "*"

// GenericInstruction is sent when no schema constrains the output.
const GenericInstruction = "retrieve all data. return response in JSON format"

const instructionTail = ". return response in JSON format, by strictly following this JSON schema: "

// Query is a parsed extraction target.
type Query struct {
	Target      string
	Generic     bool
	Keys        []string
	Instruction string
	Schema      *QuerySchema // nil for generic queries
}

// BuildQuery turns a caller target into the instruction sent to the backend.
// The target is either "*" or a JSON object (or array of objects) mapping
// field names to type hints.
func BuildQuery(target string) (*Query, error) {
	target = strings.TrimSpace(target)
	if target == QueryAll {
		return &Query{Target: target, Generic: true, Instruction: GenericInstruction}, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(target), &decoded); err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeQuery, "invalid query, please provide a valid JSON query", err)
	}

	var objects []map[string]any
	array := false
	switch v := decoded.(type) {
	case map[string]any:
		objects = append(objects, v)
	case []any:
		array = true
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, vesselerrors.Query("query array must contain only objects")
			}
			objects = append(objects, obj)
		}
	default:
		return nil, vesselerrors.Query("query must be a JSON object or an array of objects")
	}

	keys, hints, err := collectFields(target, objects, array)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, vesselerrors.Query("query declares no fields")
	}

	s, err := BuildResponseSchema(keys, hints)
	if err != nil {
		return nil, err
	}
	s.Array = array

	return &Query{
		Target:      target,
		Keys:        keys,
		Instruction: Instruction(keys, target),
		Schema:      s,
	}, nil
}

// Instruction renders the schema-constrained prompt for keys and the schema text.
func Instruction(keys []string, schemaText string) string {
	return "retrieve " + strings.Join(keys, ", ") + instructionTail + schemaText
}

// collectFields returns keys in first-seen order with their type hints.
// encoding/json drops key order, so keys are recovered with a token scan.
func collectFields(target string, objects []map[string]any, array bool) ([]string, []string, error) {
	keys, err := orderedKeys(target, array)
	if err != nil {
		return nil, nil, vesselerrors.Wrap(vesselerrors.ErrorTypeQuery, "invalid query", err)
	}

	declared := make(map[string]string, len(keys))
	for _, obj := range objects {
		for k, v := range obj {
			hint, ok := v.(string)
			if !ok {
				return nil, nil, vesselerrors.Schema("field %q: type hint must be a string", k)
			}
			if prev, dup := declared[k]; dup && prev != hint {
				return nil, nil, vesselerrors.Schema("field %q declared as both %q and %q", k, prev, hint)
			}
			declared[k] = hint
		}
	}

	hints := make([]string, len(keys))
	for i, k := range keys {
		hints[i] = declared[k]
	}
	return keys, hints, nil
}

type frame struct {
	object  bool
	wantKey bool
}

// orderedKeys returns the top-level object keys (or the keys of the objects in
// a top-level array) in document order, deduplicated.
func orderedKeys(target string, array bool) ([]string, error) {
	fieldDepth := 1
	if array {
		fieldDepth = 2
	}

	dec := json.NewDecoder(strings.NewReader(target))
	var (
		keys  []string
		stack []frame
	)
	seen := make(map[string]bool)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}

		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			stack = stack[:len(stack)-1]
			valueDone(stack)
			continue
		}
		if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].wantKey {
			key, _ := tok.(string)
			if n == fieldDepth && !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
			stack[n-1].wantKey = false
			continue
		}
		if d, ok := tok.(json.Delim); ok {
			stack = append(stack, frame{object: d == '{', wantKey: d == '{'})
			continue
		}
		valueDone(stack)
	}
}

func valueDone(stack []frame) {
	if n := len(stack); n > 0 && stack[n-1].object {
		stack[n-1].wantKey = true
	}
}
