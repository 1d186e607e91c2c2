package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// LoanTrackingStore persists tracking records. Records are never deleted;
// terminal states are permanent audit history.
type LoanTrackingStore interface {
	Create(ctx context.Context, rec TrackingRecord) error
	Update(ctx context.Context, rec TrackingRecord) error
	GetByLoanID(ctx context.Context, loanID string) (TrackingRecord, error)
	ExistsByEventID(ctx context.Context, ponderEventID string) (bool, error)

	// ListEligible returns pending records whose due date has passed,
	// oldest-overdue first, capped at limit to bound per-tick RPC load.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]TrackingRecord, error)
	ListByStatus(ctx context.Context, status LoanStatus, limit int) ([]TrackingRecord, error)
	CountByStatus(ctx context.Context) (map[LoanStatus]int64, error)

	// LatestCreatedAt seeds the ingestion watermark after a restart. A cold
	// store returns the zero time.
	LatestCreatedAt(ctx context.Context) (time.Time, error)

	// ListTerminalBefore feeds the cold-storage archiver: terminal records
	// last touched before the cutoff.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]TrackingRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Actor     string // "scheduler" or "api"
	Action    string
	LoanID    string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of liquidation outcomes and
// manual operator actions.
type AuditStore interface {
	Log(ctx context.Context, actor, action, loanID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
}
