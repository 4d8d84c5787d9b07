package plan

import (
	"errors"
	"fmt"
)

// ParseError reports a plan that could not be decoded. Field names the
// offending location, e.g. "attacks[1].attack_type".
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse plan: %v", e.Err)
	}
	return fmt.Sprintf("parse plan: %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

var (
	errMissing  = errors.New("required field missing")
	errNotInt   = errors.New("must be an integer")
	errBelowOne = errors.New("must be >= 1")
	errMismatch = errors.New("parallelism does not match parameters")
)

func parseErr(field string, err error) *ParseError {
	return &ParseError{Field: field, Err: err}
}
