package query

import (
	"errors"
	"fmt"
	"regexp"
)

// ValidationError rejects a call before any query text reaches a store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var mapKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateKey gates every dynamic property or score key. The rejected key is
// not echoed in the error.
func ValidateKey(field, key string) error {
	if !mapKeyPattern.MatchString(key) {
		return invalid(field, "key must match %s", mapKeyPattern.String())
	}
	return nil
}
