package domain

import (
	"context"
	"math/big"
	"time"
)

// LoanDetails is the authoritative on-chain view of a loan, decoded from
// the lending contract's loans() tuple.
type LoanDetails struct {
	DomainTokenID   *big.Int
	Borrower        string
	PrincipalAmount *big.Int
	InterestRate    *big.Int
	StartTime       time.Time
	Duration        time.Duration
	TotalOwed       *big.Int
	AmountRepaid    *big.Int
	PoolID          *big.Int
	RequestID       *big.Int
	IsActive        bool
	IsLiquidated    bool
	PoolCreator     string
}

// LiquidationReceipt is the confirmed result of a liquidation submission.
// AuctionID is nil when the ledger did not emit an outcome event; that is
// still a successful liquidation.
type LiquidationReceipt struct {
	TxHash      string
	AuctionID   *string
	GasUsed     uint64
	BlockNumber uint64
}

// LoanChainStatus is the subset of on-chain loan state surfaced to
// operators alongside a tracking record.
type LoanChainStatus struct {
	IsDefaulted  bool
	IsActive     bool
	IsLiquidated bool
	TotalOwed    string
	AmountRepaid string
}

// LedgerGateway wraps read/write access to the external ledger.
//
// CheckDefault and GetLoanDetails are read-only. Liquidate re-confirms
// default status, estimates gas, submits with a buffered gas limit, waits
// for one confirmation and extracts the auction id from the receipt logs.
// The telemetry reads return documented fallbacks instead of errors: zero
// balance, the configured wallet address, the zero time.
type LedgerGateway interface {
	CheckDefault(ctx context.Context, loanID string) (bool, error)
	GetLoanDetails(ctx context.Context, loanID string) (*LoanDetails, error)
	Liquidate(ctx context.Context, loanID string) (*LiquidationReceipt, error)
	GetBalance(ctx context.Context) *big.Int
	GetWalletAddress() string
	GetBlockTimestamp(ctx context.Context) time.Time
}
