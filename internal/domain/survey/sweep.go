package survey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/repository"
)

// SweepExpired purges every session whose liveness has run out and returns
// the purged ids. Sessions that cannot be read are skipped and logged.
func (s *Service) SweepExpired(ctx context.Context) ([]string, error) {
	ids, err := s.ledgers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	purged := []string{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		result, err := s.purgeIfExpired(ctx, id)
		if err != nil {
			s.logger.Warn("skipping session in sweep", "session_id", id, "error", err)
			continue
		}
		if result == nil {
			continue
		}
		purged = append(purged, id)
		s.logger.Info("expired session purged", "session_id", id, "blobs", result.BlobsDeleted)
		s.record(ctx, id, activity.TypeSessionExpired,
			fmt.Sprintf("expired, purged %d files", result.BlobsDeleted), nil)
		s.publish(Event{Type: EventExpired, SessionID: id, At: s.now()})
	}
	return purged, nil
}

// purgeIfExpired checks liveness and purges under one hold of the session
// lock, so an upload that refreshes lastActivity is either seen or runs after
// the purge. It returns nil when the session is live or gone.
func (s *Service) purgeIfExpired(ctx context.Context, sessionID string) (*PurgeResult, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	doc, err := s.ledgers.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// Expiry only needs lastActivity, so salvage damaged documents.
	l, err := ledger.DecodeBestEffort(doc)
	if l == nil {
		return nil, err
	}
	if !ledger.Status(l, s.ttl, s.now()).IsExpired {
		return nil, nil
	}

	result, err := s.purgeLocked(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("purging: %w", err)
	}
	return result, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("session sweep failed", "error", err)
				continue
			}
			if len(purged) > 0 {
				s.logger.Info("session sweep finished", "purged", len(purged))
			}
		}
	}
}
