package repository

import "errors"

// Errors shared by every store implementation.
var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record version conflict")
)
