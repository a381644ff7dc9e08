package policy

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPolicy       = errors.New("at least one policy field is required")
	ErrURLExpireRequired = errors.New("url_expire is required")
	ErrInvalidAllowIP    = errors.New("allow_ip must be an IP address or CIDR prefix")
	ErrInvalidUTF8       = errors.New("input is not valid UTF-8")
	ErrMalformedToken    = errors.New("malformed token")
)

// ValidationError reports a policy that cannot be signed as supplied.
// It is permanent: retrying with the same input fails the same way.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("policy validation failed [%s]: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("policy validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EncodingError reports text that could not be turned into bytes, or a
// token that could not be turned back.
type EncodingError struct {
	Input string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding %s: %v", e.Input, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

func newValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// NewEncodingError wraps err as an EncodingError for the named input.
func NewEncodingError(input string, err error) *EncodingError {
	return &EncodingError{Input: input, Err: err}
}
