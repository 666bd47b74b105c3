package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(data)
}

// MapError maps domain errors to MCP error codes. Unknown errors map to INTERNAL.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, survey.ErrSessionNotFound):
		return &APIError{Code: "SESSION_NOT_FOUND", Message: "session not found", RecoveryHint: "Check the session id; expired sessions are purged"}
	case errors.Is(err, ledger.ErrNotFound):
		return &APIError{Code: "FILE_NOT_FOUND", Message: err.Error(), RecoveryHint: "Call list_session_files for valid names"}
	case errors.Is(err, ledger.ErrInvalidClass):
		return &APIError{Code: "INVALID_CLASS", Message: "image class must be feeding or resting"}
	case errors.Is(err, survey.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error()}
	case errors.Is(err, ledger.ErrCorruptLedger):
		return &APIError{Code: "CORRUPT_LEDGER", Message: "session ledger is unreadable", RecoveryHint: "Enable best effort recovery or purge the session"}
	default:
		return &APIError{Code: "INTERNAL", Message: "internal error"}
	}
}
