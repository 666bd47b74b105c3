package survey

import (
	"context"

	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/detection"
)

// Processor runs the detection pipeline over a batch. *detection.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, images []detection.Image) ([]detection.Result, error)
}

// ActivityLog records and lists session activity. *activity.Service satisfies it.
type ActivityLog interface {
	Record(ctx context.Context, sessionID string, typ activity.ActivityType, summary string, details any)
	GetRecentActivity(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error)
}

// EventPublisher fans ledger changes out to live subscribers.
type EventPublisher interface {
	Publish(evt Event)
}
