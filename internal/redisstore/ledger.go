package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rpggio/dugongwatch/internal/repository"
)

// LedgerRepository implements repository.LedgerRepository on Redis strings.
// Every Put refreshes the key expiry.
type LedgerRepository struct {
	src    ConnSource
	prefix string
	ttl    time.Duration
}

// NewLedgerRepository creates a repository whose keys expire ttl after the last write.
func NewLedgerRepository(src ConnSource, prefix string, ttl time.Duration) *LedgerRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &LedgerRepository{src: src, prefix: prefix + "ledger:", ttl: ttl}
}

func (r *LedgerRepository) key(sessionID string) string {
	return r.prefix + sessionID
}

// Get returns the stored document for a session.
func (r *LedgerRepository) Get(ctx context.Context, sessionID string) ([]byte, error) {
	conn, err := r.src.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	doc, err := redis.Bytes(conn.Do("GET", r.key(sessionID)))
	if errors.Is(err, redis.ErrNil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return doc, nil
}

// Put stores the document with SETEX.
func (r *LedgerRepository) Put(ctx context.Context, sessionID string, doc []byte) error {
	if sessionID == "" {
		return repository.ErrInvalidInput
	}
	conn, err := r.src.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("SETEX", r.key(sessionID), seconds(r.ttl), doc); err != nil {
		return fmt.Errorf("failed to put ledger: %w", err)
	}
	return nil
}

// Delete removes the document for a session.
func (r *LedgerRepository) Delete(ctx context.Context, sessionID string) error {
	conn, err := r.src.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	n, err := redis.Int(conn.Do("DEL", r.key(sessionID)))
	if err != nil {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List walks the keyspace with SCAN and returns session ids.
func (r *LedgerRepository) List(ctx context.Context) ([]string, error) {
	conn, err := r.src.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	ids := []string{}
	cursor := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", r.prefix+"*", "COUNT", 100))
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledgers: %w", err)
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("failed to scan ledgers: unexpected reply of %d elements", len(values))
		}
		cursor, err = redis.Int(values[0], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledgers: %w", err)
		}
		keys, err := redis.Strings(values[1], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledgers: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, r.prefix))
		}
		if cursor == 0 {
			return ids, nil
		}
	}
}
