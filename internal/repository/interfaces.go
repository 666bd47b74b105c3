package repository

import "context"

// LedgerRepository persists serialized session ledgers keyed by session id.
// Documents are opaque to the store; decoding and integrity checks belong to
// the caller so a damaged document can still be read back.
type LedgerRepository interface {
	Get(ctx context.Context, sessionID string) ([]byte, error)
	Put(ctx context.Context, sessionID string, doc []byte) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
}

// BlobStore persists session artifacts under slash separated keys such as
// "{sessionId}/images/{name}".
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
