package domain

import (
	"context"
	"time"
)

// ChainStatusCache caches best-effort on-chain loan state for the status
// endpoint so dashboard polling stays off the RPC endpoint. Misses return
// ErrNotFound.
type ChainStatusCache interface {
	Set(ctx context.Context, loanID string, status LoanChainStatus) error
	Get(ctx context.Context, loanID string) (LoanChainStatus, error)
	Invalidate(ctx context.Context, loanID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. The liquidation paths use it to
// keep at most one in-flight submission per loan id.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
