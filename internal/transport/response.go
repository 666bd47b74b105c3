package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
	"github.com/rpggio/dugongwatch/internal/export"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeCorrupt      = "corrupt_ledger"
	CodeInference    = "inference_failure"
	CodeInternal     = "internal_error"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ValidationError is a request rejected before it reaches the survey service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError && code == CodeInternal {
		resp.Error = "internal error"
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if id, ok := RequestIDFromContext(r.Context()); ok {
		resp.RequestID = id
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, survey.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidClass):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, survey.ErrSessionNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, export.ErrNoFiles):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ledger.ErrCorruptLedger):
		return http.StatusInternalServerError, CodeCorrupt
	case errors.Is(err, detection.ErrInferenceFailure):
		return http.StatusBadGateway, CodeInference
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
