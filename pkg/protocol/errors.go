// Defines the typed protocol errors the server may return to a client.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a client-attributable rejection. These are expected
// conditions reported back to the sender, distinct from infrastructure
// faults (storage failures and the like), which are passed through as
// plain errors.
type Kind string

const (
	KindMalformedInput   Kind = "malformed_input"
	KindSignatureInvalid Kind = "signature_invalid"
	KindSchemaViolation  Kind = "schema_violation"
	KindStaleMutation    Kind = "stale_mutation"
	KindDuplicateGroup   Kind = "duplicate_group"
	KindUnknownGroup     Kind = "unknown_group"
	KindForbidden        Kind = "forbidden"
	KindInvalidField     Kind = "invalid_field"
)

// Error is a protocol-level rejection. Field names the offending envelope
// or profile field when one can be identified.
type Error struct {
	Kind   Kind
	Field  string
	Detail string
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Detail)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

// Errf builds an Error with a formatted detail message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// FieldErr builds an Error pinned to a named field.
func FieldErr(kind Kind, field, detail string) *Error {
	return &Error{Kind: kind, Field: field, Detail: detail}
}

// KindOf extracts the protocol kind from err; ok is false for
// infrastructure errors.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// HTTPStatus maps the error kind onto an HTTP status for the profile and
// group endpoints.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindForbidden, KindSignatureInvalid:
		return http.StatusForbidden
	case KindUnknownGroup:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
