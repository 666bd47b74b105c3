package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
)

// SurveyService defines survey operations needed by MCP. *survey.Service satisfies it.
type SurveyService interface {
	Get(ctx context.Context, sessionID string) (*ledger.Ledger, error)
	Status(ctx context.Context, sessionID string) (*survey.StatusResult, error)
	Reclassify(ctx context.Context, sessionID, filename, newClass string) (*ledger.FileRecord, error)
	Purge(ctx context.Context, sessionID string) (*survey.PurgeResult, error)
	Activity(ctx context.Context, sessionID string, limit int) ([]activity.ActivityEntry, error)
}

// Config contains server configuration.
type Config struct {
	Survey SurveyService
	// AuthToken enables bearer token checks in http mode.
	AuthToken     string
	TransportMode string // "stdio" or "http"
	Version       string
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "dugongwatch",
		Version: version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio is local only; headers do not exist there.
	if cfg.TransportMode != "stdio" && cfg.AuthToken != "" {
		server.AddReceivingMiddleware(authMiddleware(cfg.AuthToken))
	}
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Survey)

	return server
}
