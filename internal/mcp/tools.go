package mcp

import (
	"context"
	"encoding/json"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
)

// SessionParams identifies a survey session.
type SessionParams struct {
	SessionID string `json:"session_id" jsonschema:"survey session id"`
}

// ReclassifyParams names the image to relabel.
type ReclassifyParams struct {
	SessionID string `json:"session_id" jsonschema:"survey session id"`
	ImageName string `json:"image_name" jsonschema:"filename of the image in the ledger"`
	NewClass  string `json:"new_class,omitempty" jsonschema:"feeding or resting; omit to flip the current label"`
}

// ActivityParams selects a session's activity log.
type ActivityParams struct {
	SessionID string `json:"session_id" jsonschema:"survey session id"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of entries, newest first"`
}

// SessionStatus is the session_status result.
type SessionStatus struct {
	SessionID        string    `json:"session_id"`
	LastActivity     time.Time `json:"last_activity"`
	RemainingSeconds int       `json:"remaining_seconds"`
	IsExpired        bool      `json:"is_expired"`
	FileCount        int       `json:"file_count"`
}

// SessionFiles is the list_session_files result.
type SessionFiles struct {
	SessionID string              `json:"session_id"`
	FileCount int                 `json:"file_count"`
	Files     []ledger.FileRecord `json:"files"`
}

// PurgeSummary is the purge_session result.
type PurgeSummary struct {
	SessionID     string `json:"session_id"`
	LedgerDeleted bool   `json:"ledger_deleted"`
	BlobsDeleted  int    `json:"blobs_deleted"`
}

// ActivityList is the session_activity result.
type ActivityList struct {
	SessionID string                   `json:"session_id"`
	Activity  []activity.ActivityEntry `json:"activity"`
}

func registerTools(server *sdkmcp.Server, svc SurveyService) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "session_status",
		Description: "Report whether a survey session is still live, seconds until it expires and how many images it holds",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in SessionParams) (*sdkmcp.CallToolResult, any, error) {
		st, err := svc.Status(ctx, in.SessionID)
		if err != nil {
			return toolError(err)
		}
		return toolResult(SessionStatus{
			SessionID:        st.SessionID,
			LastActivity:     st.LastActivity,
			RemainingSeconds: st.Liveness.RemainingSeconds,
			IsExpired:        st.Liveness.IsExpired,
			FileCount:        st.FileCount,
		})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_session_files",
		Description: "List every image record in a session ledger with its counts and scene class, ordered by filename",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in SessionParams) (*sdkmcp.CallToolResult, any, error) {
		l, err := svc.Get(ctx, in.SessionID)
		if err != nil {
			return toolError(err)
		}
		return toolResult(SessionFiles{
			SessionID: l.SessionID,
			FileCount: l.FileCount,
			Files:     l.SortedFiles(),
		})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "reclassify_image",
		Description: "Correct the scene class of one image and move its raw file to the false positive folder",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in ReclassifyParams) (*sdkmcp.CallToolResult, any, error) {
		rec, err := svc.Reclassify(ctx, in.SessionID, in.ImageName, in.NewClass)
		if err != nil {
			return toolError(err)
		}
		return toolResult(rec)
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "purge_session",
		Description: "Delete a session ledger and every stored image. Cannot be undone",
		Annotations: &sdkmcp.ToolAnnotations{DestructiveHint: ptr(true)},
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in SessionParams) (*sdkmcp.CallToolResult, any, error) {
		res, err := svc.Purge(ctx, in.SessionID)
		if err != nil {
			return toolError(err)
		}
		return toolResult(PurgeSummary{
			SessionID:     res.SessionID,
			LedgerDeleted: res.LedgerDeleted,
			BlobsDeleted:  res.BlobsDeleted,
		})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "session_activity",
		Description: "List recent uploads, reclassifications and purges for a session, newest first",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in ActivityParams) (*sdkmcp.CallToolResult, any, error) {
		entries, err := svc.Activity(ctx, in.SessionID, in.Limit)
		if err != nil {
			return toolError(err)
		}
		return toolResult(ActivityList{SessionID: in.SessionID, Activity: entries})
	})
}

func toolResult(v any) (*sdkmcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func toolError(err error) (*sdkmcp.CallToolResult, any, error) {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: MapError(err).Error()}},
		IsError: true,
	}, nil, nil
}

func ptr[T any](v T) *T {
	return &v
}
