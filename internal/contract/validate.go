package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alexanderramin/defectlens/internal/domain"
)

// Fields is a validated, normalized completion. Values are bool, string,
// float64, []string, map[string]*string, Fields, or nil for null enums and
// absent objects.
type Fields map[string]any

// Validate extracts the first JSON object from raw and checks it against
// schema.
func Validate(raw string, schema Schema) (Fields, error) {
	obj, ok := ExtractObject(raw)
	if !ok {
		return nil, newError(MalformedJSON, "", "no JSON object in %s output", schema.Name)
	}
	return ValidateObject(obj, schema)
}

// ValidateObject checks an already decoded object against schema.
func ValidateObject(obj map[string]any, schema Schema) (Fields, error) {
	out := make(Fields, len(schema.Fields))
	for _, f := range schema.Fields {
		raw, present := lookup(obj, f.Name)
		if f.Required && (!present || raw == nil) {
			return nil, newError(MissingRequiredField, f.Name, "required by %s", schema.Name)
		}
		v, err := coerce(f, raw)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

// lookup matches keys case-insensitively after an exact-match attempt.
func lookup(obj map[string]any, name string) (any, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for k, v := range obj {
		if domain.NormalizeToken(k) == name {
			return v, true
		}
	}
	return nil, false
}

func coerce(f Field, raw any) (any, error) {
	switch f.Kind {
	case KindBool:
		return coerceBool(f, raw)
	case KindString:
		return coerceString(raw), nil
	case KindNumber:
		return coerceNumber(f, raw)
	case KindEnum:
		return coerceEnum(f, raw), nil
	case KindStringList:
		return coerceList(f, raw)
	case KindStringMap:
		return coerceMap(f, raw)
	case KindObject:
		return coerceObject(f, raw)
	default:
		return nil, fmt.Errorf("contract: field %q has unsupported kind %s", f.Name, f.Kind)
	}
}

func coerceBool(f Field, raw any) (bool, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
	case json.Number:
		switch v.String() {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
	case float64:
		if v == 1 || v == 0 {
			return v == 1, nil
		}
	}
	return false, newError(InvalidField, f.Name, "expected boolean, got %v", raw)
}

func coerceString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func coerceNumber(f Field, raw any) (float64, error) {
	var n float64
	var err error
	switch v := raw.(type) {
	case nil:
		n = 0
	case json.Number:
		n, err = v.Float64()
	case float64:
		n = v
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, newError(InvalidField, f.Name, "expected number, got %v", raw)
	}
	if f.Min != nil && n < *f.Min {
		n = *f.Min
	}
	if f.Max != nil && n > *f.Max {
		n = *f.Max
	}
	return n, nil
}

func coerceEnum(f Field, raw any) any {
	if raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return f.Fallback
	}
	tok := domain.NormalizeToken(s)
	for _, e := range f.Enum {
		if e == tok {
			return e
		}
	}
	return f.Fallback
}

func coerceList(f Field, raw any) ([]string, error) {
	var items []string
	switch v := raw.(type) {
	case nil:
	case []any:
		for _, el := range v {
			if el == nil {
				continue
			}
			if s := coerceString(el); s != "" {
				items = append(items, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			items = append(items, s)
		}
	default:
		return nil, newError(InvalidField, f.Name, "expected list of strings, got %T", raw)
	}
	if len(items) < f.MinItems {
		return nil, newError(IncompleteChain, f.Name, "need at least %d entries, got %d", f.MinItems, len(items))
	}
	if f.MaxItems > 0 && len(items) > f.MaxItems {
		items = items[:f.MaxItems]
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}

func coerceMap(f Field, raw any) (map[string]*string, error) {
	out := make(map[string]*string, len(f.Keys))
	for _, k := range f.Keys {
		out[k] = nil
	}
	if raw == nil {
		return out, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, newError(InvalidField, f.Name, "expected object, got %T", raw)
	}
	for k, v := range obj {
		key := domain.NormalizeToken(k)
		if _, declared := out[key]; !declared || v == nil {
			continue
		}
		if s := coerceString(v); s != "" {
			out[key] = &s
		}
	}
	return out, nil
}

func coerceObject(f Field, raw any) (any, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		if f.Required {
			return nil, newError(InvalidField, f.Name, "expected object, got %T", raw)
		}
		return nil, nil
	}
	nested, err := ValidateObject(obj, Schema{Name: f.Name, Fields: f.Fields})
	if err != nil {
		if f.Required {
			return nil, err
		}
		return nil, nil
	}
	return nested, nil
}

// Bool returns a bool field, false when absent.
func (fs Fields) Bool(name string) bool {
	v, _ := fs[name].(bool)
	return v
}

// String returns a string field, "" when absent.
func (fs Fields) String(name string) string {
	v, _ := fs[name].(string)
	return v
}

// Number returns a number field, 0 when absent.
func (fs Fields) Number(name string) float64 {
	v, _ := fs[name].(float64)
	return v
}

// Enum returns the canonical token of an enum field, or nil for null.
func (fs Fields) Enum(name string) *string {
	v, ok := fs[name].(string)
	if !ok {
		return nil
	}
	return &v
}

// StringList returns a list field, never nil.
func (fs Fields) StringList(name string) []string {
	v, _ := fs[name].([]string)
	if v == nil {
		return []string{}
	}
	return v
}

// StringMap returns a keyed map field.
func (fs Fields) StringMap(name string) map[string]*string {
	v, _ := fs[name].(map[string]*string)
	return v
}

// Object returns a nested object field, or nil.
func (fs Fields) Object(name string) Fields {
	v, _ := fs[name].(Fields)
	return v
}
