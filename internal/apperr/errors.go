// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidObservation = errors.New("invalid observation")
	ErrInvalidPath        = errors.New("invalid path")
)
