package domain

import "time"

// LoanStatus is the liquidation-supervision state of a tracked loan.
type LoanStatus string

const (
	LoanPending    LoanStatus = "pending"
	LoanLiquidated LoanStatus = "liquidated"
	LoanFailed     LoanStatus = "failed"
	LoanExpired    LoanStatus = "expired"
	LoanRepaid     LoanStatus = "repaid"
)

// Terminal reports whether the status is permanent. Terminal records are
// audit history and are never mutated or deleted.
func (s LoanStatus) Terminal() bool {
	switch s {
	case LoanLiquidated, LoanFailed, LoanExpired, LoanRepaid:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanPending, LoanLiquidated, LoanFailed, LoanExpired, LoanRepaid:
		return true
	}
	return false
}

// TrackingRecord is the durable row describing one loan's liquidation
// supervision. Keyed by LoanID (ledger-native decimal uint256, never
// re-used across loans). On-chain amounts are decimal strings, never
// floats.
type TrackingRecord struct {
	LoanID string

	// Set once at creation from the indexer event.
	Borrower        string
	DomainTokenID   string
	DomainName      *string
	PrincipalAmount string
	TotalOwed       string
	InterestRate    *string
	PoolID          *string
	RequestID       *string
	PonderEventID   *string // unique, guards against duplicate ingestion

	// Scheduling and state.
	DueDate             time.Time // immutable after creation
	Status              LoanStatus
	LiquidationAttempts int
	LastCheckTimestamp  *time.Time
	LiquidationTxHash   *string
	AuctionID           *string
	ErrorMessage        *string // last failure reason, cleared on success
	IsDefault           bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Statistics aggregates tracking records by status.
type Statistics struct {
	TotalTracked int64
	Pending      int64
	Liquidated   int64
	Failed       int64
	Expired      int64
	Repaid       int64
}

// TriggerResult is the outcome of a manual liquidation trigger. Success is
// false both for rejections (nothing to do) and failures; Message tells the
// operator which.
type TriggerResult struct {
	Success bool
	Message string
	Data    *TriggerData
}

// TriggerData carries the transaction identifiers of a successful manual
// liquidation.
type TriggerData struct {
	TxHash    string
	AuctionID *string
}

// LoanStatusView combines the tracking record with best-effort chain truth
// for the status endpoint. BlockchainStatus is nil when the ledger could
// not be reached.
type LoanStatusView struct {
	Found            bool
	Loan             *TrackingRecord
	BlockchainStatus *LoanChainStatus
}
