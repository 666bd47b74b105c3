package activity

import "time"

// ActivityType represents the type of activity event
type ActivityType string

const (
	TypeImagesProcessed ActivityType = "images_processed"
	TypeBackfill        ActivityType = "backfill"
	TypeReclassified    ActivityType = "reclassified"
	TypeSessionPurged   ActivityType = "session_purged"
	TypeSessionExpired  ActivityType = "session_expired"
)

// ActivityEntry represents an event in a survey session's activity log
type ActivityEntry struct {
	ID           int64        `json:"id"`
	SessionID    string       `json:"sessionId"`
	ActivityType ActivityType `json:"type"`
	Summary      string       `json:"summary"`
	Details      string       `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time    `json:"createdAt"`
}
