package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/domalend/liquidator/internal/domain"
	"github.com/redis/go-redis/v9"
)

// chainStatusTTL bounds how stale the status endpoint's view of on-chain
// loan state may be. Dashboard polling is far more frequent than 30s, so
// the cache keeps it off the RPC endpoint.
const chainStatusTTL = 30 * time.Second

// ChainStatusCache implements domain.ChainStatusCache using Redis strings
// with JSON-serialized chain state.
//
// Key schema:
//
//	loan:chainstatus:{loanID} - JSON of domain.LoanChainStatus
type ChainStatusCache struct {
	rdb *redis.Client
}

// NewChainStatusCache creates a ChainStatusCache backed by the given Client.
func NewChainStatusCache(c *Client) *ChainStatusCache {
	return &ChainStatusCache{rdb: c.Underlying()}
}

func chainStatusKey(loanID string) string {
	return "loan:chainstatus:" + loanID
}

// Set stores the on-chain status of a loan with a 30-second TTL.
func (cc *ChainStatusCache) Set(ctx context.Context, loanID string, status domain.LoanChainStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: marshal chain status %s: %w", loanID, err)
	}
	if err := cc.rdb.Set(ctx, chainStatusKey(loanID), data, chainStatusTTL).Err(); err != nil {
		return fmt.Errorf("redis: set chain status %s: %w", loanID, err)
	}
	return nil
}

// Get retrieves the cached on-chain status of a loan.
// It returns domain.ErrNotFound when the key does not exist or has expired.
func (cc *ChainStatusCache) Get(ctx context.Context, loanID string) (domain.LoanChainStatus, error) {
	data, err := cc.rdb.Get(ctx, chainStatusKey(loanID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.LoanChainStatus{}, domain.ErrNotFound
		}
		return domain.LoanChainStatus{}, fmt.Errorf("redis: get chain status %s: %w", loanID, err)
	}

	var status domain.LoanChainStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return domain.LoanChainStatus{}, fmt.Errorf("redis: unmarshal chain status %s: %w", loanID, err)
	}
	return status, nil
}

// Invalidate drops the cached status, forcing the next read to hit the
// ledger. Called after a liquidation changes the loan's state.
func (cc *ChainStatusCache) Invalidate(ctx context.Context, loanID string) error {
	if err := cc.rdb.Del(ctx, chainStatusKey(loanID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate chain status %s: %w", loanID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ChainStatusCache = (*ChainStatusCache)(nil)
