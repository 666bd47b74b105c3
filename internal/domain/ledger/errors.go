package ledger

import "errors"

var (
	// ErrNotFound indicates the filename is not recorded in the ledger.
	ErrNotFound = errors.New("file not found in ledger")
	// ErrCorruptLedger indicates a persisted ledger failed to parse.
	ErrCorruptLedger = errors.New("corrupt ledger")
	// ErrInvalidClass indicates a label outside the closed class set.
	ErrInvalidClass = errors.New("invalid image class")
)
