package repository

import "errors"

var (
	// ErrNotFound is returned when a requested document or blob doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a key or document fails validation
	ErrInvalidInput = errors.New("invalid input")
)
