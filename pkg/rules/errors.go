package rules

import (
	"errors"
	"fmt"
	"io/fs"
)

const (
	ErrorInvalidRule     = "invalid_rule"
	ErrorIndexOutOfRange = "index_out_of_range"
	ErrorStoreMissing    = "store_missing"
	ErrorMalformedStore  = "malformed_store"
	ErrorPersistence     = "persistence"
)

// Error represents a stable, categorized rule store failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// NewError creates a categorized rule error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	var persist *PersistError
	if errors.As(err, &persist) {
		return ErrorPersistence
	}

	if errors.Is(err, fs.ErrNotExist) {
		return ErrorStoreMissing
	}

	return ErrorPersistence
}

// PersistError reports that an in-memory mutation succeeded but writing the
// backing store failed. The in-memory rule set stays authoritative.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist rules: %v", e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistError reports whether err only signals a failed write.
func IsPersistError(err error) bool {
	var persist *PersistError
	return errors.As(err, &persist)
}
