package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/domalend/liquidator/internal/domain"
)

// trackingColumns is the column list shared by every SELECT on loan_tracking.
const trackingColumns = `
	loan_id, borrower, domain_token_id, domain_name, principal_amount,
	total_owed, interest_rate, pool_id, request_id, ponder_event_id,
	due_date, status, liquidation_attempts, last_check_timestamp,
	liquidation_tx_hash, auction_id, error_message, is_default,
	created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for duplicate-key inserts.
const uniqueViolation = "23505"

// LoanTrackingStore implements domain.LoanTrackingStore using PostgreSQL.
type LoanTrackingStore struct {
	pool *pgxpool.Pool
}

// NewLoanTrackingStore creates a new LoanTrackingStore.
func NewLoanTrackingStore(pool *pgxpool.Pool) *LoanTrackingStore {
	return &LoanTrackingStore{pool: pool}
}

// Create inserts a new tracking record. A duplicate loan_id or
// ponder_event_id surfaces as domain.ErrAlreadyExists so ingestion can
// treat re-delivery as a no-op.
func (s *LoanTrackingStore) Create(ctx context.Context, rec domain.TrackingRecord) error {
	const query = `
		INSERT INTO loan_tracking (
			loan_id, borrower, domain_token_id, domain_name, principal_amount,
			total_owed, interest_rate, pool_id, request_id, ponder_event_id,
			due_date, status, liquidation_attempts, last_check_timestamp,
			liquidation_tx_hash, auction_id, error_message, is_default
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := s.pool.Exec(ctx, query,
		rec.LoanID, rec.Borrower, rec.DomainTokenID, rec.DomainName, rec.PrincipalAmount,
		rec.TotalOwed, rec.InterestRate, rec.PoolID, rec.RequestID, rec.PonderEventID,
		rec.DueDate, string(rec.Status), rec.LiquidationAttempts, rec.LastCheckTimestamp,
		rec.LiquidationTxHash, rec.AuctionID, rec.ErrorMessage, rec.IsDefault,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create loan_tracking %s: %w", rec.LoanID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create loan_tracking %s: %w", rec.LoanID, err)
	}
	return nil
}

// Update persists every mutable field of an existing record and bumps
// updated_at. Identity and descriptive columns are deliberately left out;
// they are set once at creation.
func (s *LoanTrackingStore) Update(ctx context.Context, rec domain.TrackingRecord) error {
	const query = `
		UPDATE loan_tracking SET
			status = $2,
			liquidation_attempts = $3,
			last_check_timestamp = $4,
			liquidation_tx_hash = $5,
			auction_id = $6,
			error_message = $7,
			is_default = $8,
			updated_at = NOW()
		WHERE loan_id = $1`
	tag, err := s.pool.Exec(ctx, query,
		rec.LoanID, string(rec.Status), rec.LiquidationAttempts, rec.LastCheckTimestamp,
		rec.LiquidationTxHash, rec.AuctionID, rec.ErrorMessage, rec.IsDefault,
	)
	if err != nil {
		return fmt.Errorf("postgres: update loan_tracking %s: %w", rec.LoanID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update loan_tracking %s: %w", rec.LoanID, domain.ErrNotFound)
	}
	return nil
}

// GetByLoanID returns the record for one loan, or domain.ErrNotFound.
func (s *LoanTrackingStore) GetByLoanID(ctx context.Context, loanID string) (domain.TrackingRecord, error) {
	query := `SELECT ` + trackingColumns + ` FROM loan_tracking WHERE loan_id = $1`

	rec, err := s.scanOne(s.pool.QueryRow(ctx, query, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrackingRecord{}, fmt.Errorf("postgres: get loan_tracking %s: %w", loanID, domain.ErrNotFound)
		}
		return domain.TrackingRecord{}, fmt.Errorf("postgres: get loan_tracking %s: %w", loanID, err)
	}
	return rec, nil
}

// ExistsByEventID reports whether an event id has already been ingested.
func (s *LoanTrackingStore) ExistsByEventID(ctx context.Context, ponderEventID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM loan_tracking WHERE ponder_event_id = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, ponderEventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: exists by event id %s: %w", ponderEventID, err)
	}
	return exists, nil
}

// ListEligible returns pending records whose due date has passed, oldest
// overdue first, capped at limit.
func (s *LoanTrackingStore) ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.TrackingRecord, error) {
	query := `SELECT ` + trackingColumns + `
		FROM loan_tracking
		WHERE status = 'pending' AND due_date < $1
		ORDER BY due_date ASC
		LIMIT $2`
	return s.queryRecords(ctx, query, now, limit)
}

// ListByStatus returns records in one status. Pending records come oldest
// due first; terminal records come most recently updated first.
func (s *LoanTrackingStore) ListByStatus(ctx context.Context, status domain.LoanStatus, limit int) ([]domain.TrackingRecord, error) {
	order := "updated_at DESC"
	if status == domain.LoanPending {
		order = "due_date ASC"
	}
	query := `SELECT ` + trackingColumns + `
		FROM loan_tracking
		WHERE status = $1
		ORDER BY ` + order + `
		LIMIT $2`
	return s.queryRecords(ctx, query, string(status), limit)
}

// CountByStatus aggregates tracked loans per status.
func (s *LoanTrackingStore) CountByStatus(ctx context.Context) (map[domain.LoanStatus]int64, error) {
	const query = `SELECT status, COUNT(*) FROM loan_tracking GROUP BY status`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: count loan_tracking by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.LoanStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan status count: %w", err)
		}
		counts[domain.LoanStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count loan_tracking rows: %w", err)
	}
	return counts, nil
}

// LatestCreatedAt returns the most recent created_at, or the zero time when
// the table is empty. It seeds the ingestion watermark after a restart.
func (s *LoanTrackingStore) LatestCreatedAt(ctx context.Context) (time.Time, error) {
	const query = `SELECT COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM loan_tracking`
	var latest time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("postgres: latest created_at: %w", err)
	}
	if latest.Unix() <= 0 {
		return time.Time{}, nil
	}
	return latest.UTC(), nil
}

// ListTerminalBefore returns terminal records last touched before the
// cutoff, oldest first. Feeds the cold-storage archiver.
func (s *LoanTrackingStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TrackingRecord, error) {
	query := `SELECT ` + trackingColumns + `
		FROM loan_tracking
		WHERE status IN ('liquidated', 'repaid', 'failed', 'expired')
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`
	return s.queryRecords(ctx, query, cutoff, limit)
}

// ---------------------------------------------------------------------------
// scan helpers
// ---------------------------------------------------------------------------

func (s *LoanTrackingStore) queryRecords(ctx context.Context, query string, args ...any) ([]domain.TrackingRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query loan_tracking: %w", err)
	}
	defer rows.Close()

	var list []domain.TrackingRecord
	for rows.Next() {
		rec, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan loan_tracking: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func (s *LoanTrackingStore) scanOne(row pgx.Row) (domain.TrackingRecord, error) {
	var rec domain.TrackingRecord
	var status string
	err := row.Scan(
		&rec.LoanID, &rec.Borrower, &rec.DomainTokenID, &rec.DomainName, &rec.PrincipalAmount,
		&rec.TotalOwed, &rec.InterestRate, &rec.PoolID, &rec.RequestID, &rec.PonderEventID,
		&rec.DueDate, &status, &rec.LiquidationAttempts, &rec.LastCheckTimestamp,
		&rec.LiquidationTxHash, &rec.AuctionID, &rec.ErrorMessage, &rec.IsDefault,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.TrackingRecord{}, err
	}
	rec.Status = domain.LoanStatus(status)
	return rec, nil
}

// Compile-time interface check.
var _ domain.LoanTrackingStore = (*LoanTrackingStore)(nil)
