package compiler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies compilation failures
type ErrorKind string

const (
	// KindInvalidFilterValue means a filter value could not be coerced to the
	// field's declared type.
	KindInvalidFilterValue ErrorKind = "invalid_filter_value"
	// KindUnresolvedRelation means a joined field has no relation target in
	// the schema. It points at a schema mismatch rather than bad input.
	KindUnresolvedRelation ErrorKind = "unresolved_relation"
	// KindInvalidPagination means page or limit is not a usable integer.
	KindInvalidPagination ErrorKind = "invalid_pagination"
)

// Error is returned by Compile when a step fails
type Error struct {
	Kind  ErrorKind
	Field string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Field != "" {
		prefix = fmt.Sprintf("%s %q", e.Kind, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, field, msg string, cause error) *Error {
	return &Error{Kind: kind, Field: field, Msg: msg, Cause: cause}
}

// KindOf returns the kind of a compilation error, or "" if err is not one
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsInvalidFilterValue(err error) bool { return KindOf(err) == KindInvalidFilterValue }
func IsUnresolvedRelation(err error) bool { return KindOf(err) == KindUnresolvedRelation }
func IsInvalidPagination(err error) bool  { return KindOf(err) == KindInvalidPagination }
