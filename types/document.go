package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is an opaque structured JSON value with path-based accessors.
// Decision values, step outputs, and rule configurations are carried as
// Documents so callers never reach into raw maps.
type Document map[string]any

// ParseDocument decodes raw JSON into a Document.
func ParseDocument(raw []byte) (Document, error) {
	if len(raw) == 0 {
		return Document{}, nil
	}
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, NewError(ErrValidation, "invalid document payload").WithCause(err)
	}
	return d, nil
}

// JSON encodes the document as canonical JSON bytes.
func (d Document) JSON() []byte {
	if d == nil {
		return []byte("{}")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

// Get returns the value at a dot-separated path, e.g. "budget.amount".
func (d Document) Get(path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString returns the string value at path.
func (d Document) GetString(path string) (string, bool) {
	v, ok := d.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetNumber returns the numeric value at path. JSON numbers decode as
// float64; numeric strings are accepted as well.
func (d Document) GetNumber(path string) (float64, bool) {
	v, ok := d.Get(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Equal reports whether two documents encode the same JSON value.
func (d Document) Equal(other Document) bool {
	return string(d.JSON()) == string(other.JSON())
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out, err := ParseDocument(d.JSON())
	if err != nil {
		return Document{}
	}
	return out
}

// String implements fmt.Stringer for log output.
func (d Document) String() string {
	return string(d.JSON())
}

// CompareOperator is a rule comparison operator over document fields.
type CompareOperator string

const (
	OpGreaterThan  CompareOperator = ">"
	OpLessThan     CompareOperator = "<"
	OpGreaterEqual CompareOperator = ">="
	OpLessEqual    CompareOperator = "<="
	OpEqual        CompareOperator = "=="
	OpNotEqual     CompareOperator = "!="
)

// Compare evaluates `doc[path] <op> value`. Ordering operators compare
// numerically; equality operators compare as strings when either side is
// not numeric. A missing field never matches.
func (d Document) Compare(path string, op CompareOperator, value string) (bool, error) {
	raw, ok := d.Get(path)
	if !ok {
		return false, nil
	}

	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		left, lok := d.GetNumber(path)
		right, err := strconv.ParseFloat(value, 64)
		if !lok || err != nil {
			return false, nil
		}
		switch op {
		case OpGreaterThan:
			return left > right, nil
		case OpLessThan:
			return left < right, nil
		case OpGreaterEqual:
			return left >= right, nil
		default:
			return left <= right, nil
		}

	case OpEqual, OpNotEqual:
		left, lok := d.GetNumber(path)
		right, err := strconv.ParseFloat(value, 64)
		if lok && err == nil {
			if op == OpEqual {
				return left == right, nil
			}
			return left != right, nil
		}
		eq := fmt.Sprintf("%v", raw) == value
		if op == OpEqual {
			return eq, nil
		}
		return !eq, nil
	}

	return false, NewErrorf(ErrValidation, "unsupported operator %q", op)
}
