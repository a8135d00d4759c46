// Package contract validates and normalizes raw model completions against a
// declared output schema. Validation is pure and idempotent: feeding the
// JSON encoding of a validated field set back through Validate yields the
// same field set.
package contract

type FieldKind int

const (
	KindBool FieldKind = iota
	KindString
	KindNumber
	KindEnum
	KindStringList
	KindStringMap
	KindObject
)

func (k FieldKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindEnum:
		return "enum"
	case KindStringList:
		return "string_list"
	case KindStringMap:
		return "string_map"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Field declares one expected key of a completion.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool

	// Enum lists canonical tokens; unmatched values become Fallback.
	Enum     []string
	Fallback string

	// Min and Max clamp number fields when set.
	Min *float64
	Max *float64

	// MinItems below which a list is an IncompleteChain; MaxItems truncates.
	MinItems int
	MaxItems int

	// Keys restricts a string map to a fixed key set, all always present.
	Keys []string

	// Fields describes the members of an object field. Optional objects
	// that fail validation are dropped rather than failing the contract.
	Fields []Field
}

// Schema is the ordered field set expected from one stage.
type Schema struct {
	Name   string
	Fields []Field
}

func bound(v float64) *float64 { return &v }
