package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/repository"
)

// DefaultActivityCap bounds the entries kept per session.
const DefaultActivityCap = 500

// ActivityRepository implements activity.Repository with one capped list per session.
type ActivityRepository struct {
	src    ConnSource
	prefix string
	ttl    time.Duration
	cap    int
}

// NewActivityRepository creates a repository whose lists expire alongside the ledger.
func NewActivityRepository(src ConnSource, prefix string, ttl time.Duration) *ActivityRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &ActivityRepository{src: src, prefix: prefix + "activity:", ttl: ttl, cap: DefaultActivityCap}
}

func (r *ActivityRepository) key(sessionID string) string {
	return r.prefix + sessionID
}

// Log prepends the entry and trims the list.
func (r *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	conn, err := r.src.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	key := r.key(entry.SessionID)
	n, err := redis.Int64(conn.Do("INCR", key+":seq"))
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	entry.ID = n

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}

	if _, err := conn.Do("LPUSH", key, raw); err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	if _, err := conn.Do("LTRIM", key, 0, r.cap-1); err != nil {
		return fmt.Errorf("failed to trim activity: %w", err)
	}
	for _, k := range []string{key, key + ":seq"} {
		if _, err := conn.Do("EXPIRE", k, seconds(r.ttl)); err != nil {
			return fmt.Errorf("failed to expire activity: %w", err)
		}
	}
	return nil
}

// List returns a session's entries newest first. A session id is required.
func (r *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	if opts.SessionID == "" {
		return nil, repository.ErrInvalidInput
	}
	conn, err := r.src.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	raws, err := redis.ByteSlices(conn.Do("LRANGE", r.key(opts.SessionID), 0, -1))
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}

	entries := []activity.ActivityEntry{}
	skipped := 0
	for _, raw := range raws {
		var entry activity.ActivityEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode activity: %w", err)
		}
		if opts.ActivityType != nil && entry.ActivityType != *opts.ActivityType {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		entries = append(entries, entry)
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
	}
	return entries, nil
}
