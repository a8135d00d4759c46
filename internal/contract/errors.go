package contract

import (
	"errors"
	"fmt"
)

// ErrContract is wrapped by every ContractError.
var ErrContract = errors.New("model output violates contract")

type Kind string

const (
	// MalformedJSON means no JSON object could be extracted at all.
	MalformedJSON Kind = "malformed_json"
	// MissingRequiredField means a required field was absent or null.
	MissingRequiredField Kind = "missing_required_field"
	// IncompleteChain means a list came back with fewer entries than allowed.
	IncompleteChain Kind = "incomplete_chain"
	// InvalidField means a value could not be coerced to its declared type.
	InvalidField Kind = "invalid_field"
)

// ContractError reports why a completion failed validation.
type ContractError struct {
	Kind   Kind
	Field  string
	Detail string
}

func (e *ContractError) Error() string {
	msg := "contract: " + string(e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ContractError) Unwrap() error { return ErrContract }

// KindOf returns the contract error kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func newError(kind Kind, field, format string, args ...any) *ContractError {
	return &ContractError{Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}
