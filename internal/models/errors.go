package models

import (
	"errors"
	"fmt"
)

// ErrBlobNotFound is returned by blob backends for a missing key
var ErrBlobNotFound = errors.New("blob not found")

// InsufficientDataError means there are not enough eligible records to
// build the windows or the train/validation split
type InsufficientDataError struct {
	Required int
	Actual   int
	What     string
}

func (e *InsufficientDataError) Error() string {
	what := e.What
	if what == "" {
		what = "salaries"
	}
	return fmt.Sprintf("not enough %s: required [%d], got [%d]", what, e.Required, e.Actual)
}

// NotFoundError means no model is persisted for the user
type NotFoundError struct {
	User string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no trained model for user %s at %s", e.User, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrBlobNotFound
}

// ShapeMismatchError means a prediction window has the wrong length
type ShapeMismatchError struct {
	Expected int
	Actual   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("window shape mismatch: expected %d values, got %d", e.Expected, e.Actual)
}

// UpstreamError wraps a failure of the income API or the blob storage
type UpstreamError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
