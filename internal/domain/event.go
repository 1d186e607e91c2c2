package domain

import "time"

// LoanEvent is a loan lifecycle event as returned by the Ponder indexer.
// On-chain amounts stay decimal strings; RepaymentDeadline keeps the
// indexer's raw epoch-millisecond encoding so ingestion can reject a
// malformed value per event instead of failing the whole fetch.
type LoanEvent struct {
	ID                string // opaque indexer event id, becomes PonderEventID
	EventType         string
	LoanID            string
	BorrowerAddress   string
	DomainTokenID     string
	DomainName        string
	LoanAmount        string
	InterestRate      string
	PoolID            string
	RequestID         string
	RepaymentDeadline string
	EventTimestamp    time.Time
	TransactionHash   string
	BlockNumber       int64
}
