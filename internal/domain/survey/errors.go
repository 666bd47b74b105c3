package survey

import "errors"

var (
	// ErrSessionNotFound indicates no ledger exists for the session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidInput indicates a malformed session id, filename or batch.
	ErrInvalidInput = errors.New("invalid survey input")
)
