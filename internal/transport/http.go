package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
	"github.com/rpggio/dugongwatch/internal/export"
)

// SurveyService is the set of session operations exposed over HTTP.
// *survey.Service satisfies it.
type SurveyService interface {
	Upload(ctx context.Context, sessionID string, images []detection.Image) (*survey.UploadResult, error)
	Backfill(ctx context.Context, sessionID string) (*survey.BackfillResult, error)
	Reclassify(ctx context.Context, sessionID, filename, newClass string) (*ledger.FileRecord, error)
	Get(ctx context.Context, sessionID string) (*ledger.Ledger, error)
	Status(ctx context.Context, sessionID string) (*survey.StatusResult, error)
	Export(ctx context.Context, sessionID string, w io.Writer) error
	Activity(ctx context.Context, sessionID string, limit int) ([]activity.ActivityEntry, error)
	Purge(ctx context.Context, sessionID string) (*survey.PurgeResult, error)
}

// Options configures the router. Zero values disable the optional parts.
type Options struct {
	AuthToken string
	Upload    UploadLimits
	// MCP is mounted at /mcp when set.
	MCP http.Handler
	// Events serves /api/sessions/{sessionID}/events when set.
	Events *Hub
	Logger *slog.Logger
}

// Server wires HTTP handlers.
type Server struct {
	svc    SurveyService
	limits UploadLimits
	logger *slog.Logger
}

// NewServer creates an HTTP server router with middleware.
func NewServer(svc SurveyService, opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limits := opts.Upload
	if limits.MaxFileSize == 0 && len(limits.AllowedExtensions) == 0 {
		limits = DefaultUploadLimits()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	srv := &Server{svc: svc, limits: limits, logger: logger}

	r.Get("/health", srv.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.AuthToken))

		if opts.MCP != nil {
			r.Handle("/mcp", opts.MCP)
		}

		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/uploads", srv.handleUpload)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", srv.handleGet)
				r.Delete("/", srv.handlePurge)
				r.Post("/uploads", srv.handleUpload)
				r.Post("/backfill", srv.handleBackfill)
				r.Post("/reclassify", srv.handleReclassify)
				r.Get("/status", srv.handleStatus)
				r.Get("/activity", srv.handleActivity)
				r.Get("/export.csv", srv.handleExport)
				if opts.Events != nil {
					r.Get("/events", opts.Events.ServeHTTP)
				}
			})
		})
	})

	return r
}

type uploadResponse struct {
	SessionID string              `json:"sessionId"`
	FileCount int                 `json:"fileCount"`
	Files     []ledger.FileRecord `json:"files"`
	Skipped   []string            `json:"skipped,omitempty"`
}

type backfillResponse struct {
	SessionID string              `json:"sessionId"`
	Processed int                 `json:"processed"`
	Files     []ledger.FileRecord `json:"files"`
}

type statusResponse struct {
	SessionID        string              `json:"sessionId"`
	LastActivity     time.Time           `json:"lastActivity"`
	RemainingSeconds int                 `json:"remainingSeconds"`
	IsExpired        bool                `json:"isExpired"`
	FileCount        int                 `json:"fileCount"`
	Files            []ledger.FileRecord `json:"files"`
}

// reclassifyRequest names the class the record should end up with. An
// omitted newClass flips the current label. Unknown fields, including the
// older targetClass, are rejected.
type reclassifyRequest struct {
	ImageName string `json:"imageName" validate:"required,max=512"`
	NewClass  string `json:"newClass" validate:"omitempty,imageclass"`
}

type purgeResponse struct {
	SessionID     string `json:"sessionId"`
	LedgerDeleted bool   `json:"ledgerDeleted"`
	BlobsDeleted  int    `json:"blobsDeleted"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	images, err := parseUpload(w, r, s.limits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		sessionID = r.FormValue(sessionIDField)
	}

	result, err := s.svc.Upload(r.Context(), sessionID, images)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		SessionID: result.SessionID,
		FileCount: result.Ledger.FileCount,
		Files:     result.Files,
		Skipped:   result.Skipped,
	})
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Backfill(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backfillResponse{
		SessionID: result.SessionID,
		Processed: result.Processed,
		Files:     result.Files,
	})
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[reclassifyRequest](r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.svc.Reclassify(r.Context(), chi.URLParam(r, "sessionID"), req.ImageName, req.NewClass)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	l, err := s.svc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := ledger.Encode(l)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:        st.SessionID,
		LastActivity:     st.LastActivity,
		RemainingSeconds: st.Liveness.RemainingSeconds,
		IsExpired:        st.Liveness.IsExpired,
		FileCount:        st.FileCount,
		Files:            st.Files,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, r, &ValidationError{Field: "limit", Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries, err := s.svc.Activity(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	// Buffer so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := s.svc.Export(r.Context(), sessionID, &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(sessionID)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Purge(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{
		SessionID:     result.SessionID,
		LedgerDeleted: result.LedgerDeleted,
		BlobsDeleted:  result.BlobsDeleted,
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	id, _ := RequestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err, "request_id", id)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "code", code, "error", err, "request_id", id)
	}
	writeError(w, r, err)
}
