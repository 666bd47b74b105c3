package activity

import "errors"

// ErrInvalidInput indicates an entry without a session or type.
var ErrInvalidInput = errors.New("invalid activity input")
