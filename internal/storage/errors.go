package storage

import (
	"errors"
	"fmt"

	"github.com/helicone/requestquery/pkg/types"
)

// StoreError is a failed store round trip. No rows accompany it.
type StoreError struct {
	Dialect types.Dialect
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: failed to %s: %v", e.Dialect, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(d types.Dialect, op string, err error) *StoreError {
	return &StoreError{Dialect: d, Op: op, Err: err}
}

// IsStore reports whether err is, or wraps, a *StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// ParseLocation parses a persisted storage location, failing the read on
// anything outside the closed set.
func ParseLocation(d types.Dialect, raw string) (types.StorageLocation, error) {
	loc, err := types.ParseStorageLocation(raw)
	if err != nil {
		return "", NewStoreError(d, "decode storage location", err)
	}
	return loc, nil
}

// PlaceholderBody is what row stores return in place of body text they never hold.
func PlaceholderBody(loc types.StorageLocation) string {
	if loc == types.StorageOmittedDueToLimit {
		return types.BodyOmittedDueToLimit
	}
	return types.BodyPendingSignedURL
}
