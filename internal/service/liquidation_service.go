package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/domalend/liquidator/internal/chain"
	"github.com/domalend/liquidator/internal/domain"
	"github.com/domalend/liquidator/internal/notify"
)

// Audit actors. The scheduler and the HTTP facade run the same protocol;
// the audit log records which path touched a loan.
const (
	ActorScheduler = "scheduler"
	ActorAPI       = "api"
)

// Bus channel for confirmed liquidation outcomes, consumed by the WebSocket
// hub and any other dashboard subscriber.
const liquidationsChannel = "liquidations"

// chainStatusTTL bounds how long the status endpoint may serve cached chain
// state; it is enforced by the ChainStatusCache implementation.

// LiquidationConfig holds orchestrator cadence and retry parameters.
type LiquidationConfig struct {
	Enabled           bool
	CheckInterval     time.Duration
	BatchSize         int
	MaxAttempts       int
	RecordDelay       time.Duration
	LockTTL           time.Duration
	TriggerRateLimit  int
	TriggerRateWindow time.Duration
}

// LiquidationService is the reconciliation engine: on a fixed cadence it
// selects overdue pending records, re-verifies default status against the
// ledger, and drives liquidation submissions through to confirmation. The
// same per-loan protocol backs the synchronous manual trigger.
type LiquidationService struct {
	store    domain.LoanTrackingStore
	gateway  domain.LedgerGateway
	locks    domain.LockManager
	limiter  domain.RateLimiter
	audit    domain.AuditStore
	cache    domain.ChainStatusCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	cfg      LiquidationConfig
	logger   *slog.Logger
}

// NewLiquidationService creates a LiquidationService. locks, limiter, audit,
// cache, bus, and notifier are optional; a nil value disables that concern.
func NewLiquidationService(
	store domain.LoanTrackingStore,
	gateway domain.LedgerGateway,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	audit domain.AuditStore,
	cache domain.ChainStatusCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	cfg LiquidationConfig,
	logger *slog.Logger,
) *LiquidationService {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &LiquidationService{
		store:    store,
		gateway:  gateway,
		locks:    locks,
		limiter:  limiter,
		audit:    audit,
		cache:    cache,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "liquidation_service")),
	}
}

// Run executes the orchestrator loop until the context is cancelled. Call in
// a goroutine. A tick that fails (store unreachable) is logged and abandoned;
// the next tick retries.
func (s *LiquidationService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "liquidation orchestrator started",
		slog.Bool("enabled", s.cfg.Enabled),
		slog.Duration("check_interval", s.cfg.CheckInterval),
		slog.Int("batch_size", s.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("liquidation orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
			if !s.cfg.Enabled {
				s.logger.DebugContext(ctx, "liquidation checking disabled, skipping tick")
				continue
			}
			if err := s.ProcessTick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "liquidation tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ProcessTick runs one orchestrator pass: fetch eligible records and process
// them strictly sequentially, oldest overdue first, with a fixed delay
// between records to rate-limit the ledger RPC endpoint.
func (s *LiquidationService) ProcessTick(ctx context.Context) error {
	records, err := s.store.ListEligible(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("service: list eligible loans: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	s.logger.InfoContext(ctx, "processing eligible loans", slog.Int("count", len(records)))

	for i, rec := range records {
		if i > 0 && s.cfg.RecordDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RecordDelay):
			}
		}
		s.superviseLoan(ctx, rec)
	}
	return nil
}

// superviseLoan runs the per-loan protocol under the per-loan lock. Any
// error escaping the protocol is contained here: logged and best-effort
// persisted so one malformed record never aborts the batch.
func (s *LiquidationService) superviseLoan(ctx context.Context, rec domain.TrackingRecord) {
	unlock, err := s.acquireLoanLock(ctx, rec.LoanID)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			// Another path (manual trigger) is mid-flight on this loan.
			s.logger.DebugContext(ctx, "loan locked, skipping this tick", slog.String("loan_id", rec.LoanID))
			return
		}
		s.logger.ErrorContext(ctx, "loan lock acquire failed",
			slog.String("loan_id", rec.LoanID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	if _, err := s.runProtocol(ctx, &rec, ActorScheduler); err != nil {
		s.logger.ErrorContext(ctx, "loan protocol failed",
			slog.String("loan_id", rec.LoanID),
			slog.String("error", err.Error()),
		)
		s.persistBoundaryFailure(ctx, rec, err)
	}
}

// persistBoundaryFailure records an escaped error on the tracking record:
// attempt counted, error message and check time stamped, status untouched.
func (s *LiquidationService) persistBoundaryFailure(ctx context.Context, rec domain.TrackingRecord, cause error) {
	now := time.Now().UTC()
	msg := chain.Classify(cause)
	rec.LastCheckTimestamp = &now
	rec.LiquidationAttempts++
	rec.ErrorMessage = &msg
	if rec.LiquidationAttempts >= s.cfg.MaxAttempts && rec.Status == domain.LoanPending {
		rec.Status = domain.LoanFailed
	}
	if err := s.store.Update(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "best-effort persist failed",
			slog.String("loan_id", rec.LoanID),
			slog.String("error", err.Error()),
		)
	}
}

// protocolOutcome summarises what one pass of the per-loan protocol did.
type protocolOutcome int

const (
	outcomeCheckFailed protocolOutcome = iota // default check errored, still pending
	outcomeGracePeriod                        // not defaulted, loan still active
	outcomeReconciledLiquidated               // ledger says liquidated outside this path
	outcomeReconciledRepaid                   // ledger says no longer active, repaid
	outcomeLiquidated                         // submission confirmed
	outcomeAttemptFailed                      // submission failed, below the ceiling
	outcomeExhausted                          // submission failed at the ceiling
)

// runProtocol executes steps 1-4 of the per-loan protocol, mutating and
// persisting rec. The returned error covers only failures that escape the
// protocol's own handling (GetLoanDetails, persistence); the caller contains
// those at the record boundary.
func (s *LiquidationService) runProtocol(ctx context.Context, rec *domain.TrackingRecord, actor string) (protocolOutcome, error) {
	now := time.Now().UTC()
	rec.LastCheckTimestamp = &now

	defaulted, err := s.gateway.CheckDefault(ctx, rec.LoanID)
	if err != nil {
		// Read failure, not a submission failure: no attempt counted.
		msg := chain.Classify(err)
		rec.ErrorMessage = &msg
		s.logger.WarnContext(ctx, "default check failed",
			slog.String("loan_id", rec.LoanID),
			slog.String("error", err.Error()),
		)
		if err := s.store.Update(ctx, *rec); err != nil {
			return outcomeCheckFailed, err
		}
		return outcomeCheckFailed, nil
	}

	if !defaulted {
		details, err := s.gateway.GetLoanDetails(ctx, rec.LoanID)
		if err != nil {
			return outcomeCheckFailed, fmt.Errorf("service: loan details for %s: %w", rec.LoanID, err)
		}

		if !details.IsActive {
			// The loan was closed outside this orchestrator (manual trigger,
			// another operator, or direct repayment). Reconcile.
			outcome := outcomeReconciledRepaid
			rec.Status = domain.LoanRepaid
			if details.IsLiquidated {
				outcome = outcomeReconciledLiquidated
				rec.Status = domain.LoanLiquidated
			}
			s.logger.InfoContext(ctx, "loan reconciled from chain state",
				slog.String("loan_id", rec.LoanID),
				slog.String("status", string(rec.Status)),
			)
			if err := s.store.Update(ctx, *rec); err != nil {
				return outcome, err
			}
			s.invalidateChainStatus(ctx, rec.LoanID)
			return outcome, nil
		}

		// Past due off-chain but the ledger has not flagged default yet:
		// still within the contract's grace period.
		if err := s.store.Update(ctx, *rec); err != nil {
			return outcomeGracePeriod, err
		}
		return outcomeGracePeriod, nil
	}

	rec.IsDefault = true

	receipt, err := s.gateway.Liquidate(ctx, rec.LoanID)
	if err != nil {
		return s.recordFailedAttempt(ctx, rec, actor, err)
	}

	rec.Status = domain.LoanLiquidated
	rec.LiquidationTxHash = &receipt.TxHash
	rec.AuctionID = receipt.AuctionID
	rec.ErrorMessage = nil

	if err := s.store.Update(ctx, *rec); err != nil {
		return outcomeLiquidated, err
	}
	s.invalidateChainStatus(ctx, rec.LoanID)

	s.logger.InfoContext(ctx, "loan liquidated",
		slog.String("loan_id", rec.LoanID),
		slog.String("tx_hash", receipt.TxHash),
		slog.String("actor", actor),
	)
	s.auditLog(ctx, actor, "liquidation_success", rec.LoanID, map[string]any{
		"tx_hash":    receipt.TxHash,
		"auction_id": receipt.AuctionID,
		"attempts":   rec.LiquidationAttempts,
	})
	s.publishLiquidation(ctx, *rec)
	s.notify(ctx, "liquidation_success", "Loan liquidated",
		fmt.Sprintf("Loan %s liquidated in tx %s", rec.LoanID, receipt.TxHash))

	return outcomeLiquidated, nil
}

// recordFailedAttempt counts one failed submission, stores the classified
// message, and moves the record to failed when the ceiling is reached.
func (s *LiquidationService) recordFailedAttempt(ctx context.Context, rec *domain.TrackingRecord, actor string, cause error) (protocolOutcome, error) {
	rec.LiquidationAttempts++
	msg := chain.Classify(cause)
	rec.ErrorMessage = &msg

	outcome := outcomeAttemptFailed
	if rec.LiquidationAttempts >= s.cfg.MaxAttempts {
		outcome = outcomeExhausted
		rec.Status = domain.LoanFailed
	}

	s.logger.WarnContext(ctx, "liquidation attempt failed",
		slog.String("loan_id", rec.LoanID),
		slog.Int("attempts", rec.LiquidationAttempts),
		slog.Int("max_attempts", s.cfg.MaxAttempts),
		slog.String("error", cause.Error()),
	)

	if err := s.store.Update(ctx, *rec); err != nil {
		return outcome, err
	}

	s.auditLog(ctx, actor, "liquidation_failed", rec.LoanID, map[string]any{
		"attempts": rec.LiquidationAttempts,
		"error":    msg,
		"terminal": outcome == outcomeExhausted,
	})
	if outcome == outcomeExhausted {
		s.notify(ctx, "attempts_exhausted", "Liquidation attempts exhausted",
			fmt.Sprintf("Loan %s failed %d liquidation attempts: %s", rec.LoanID, rec.LiquidationAttempts, msg))
	}
	return outcome, nil
}

// ---------------------------------------------------------------------------
// Manual trigger
// ---------------------------------------------------------------------------

// TriggerLiquidation runs the per-loan protocol synchronously for one loan.
// Preconditions are stricter than the scheduled path: the record must exist
// and be pending, the per-loan trigger rate limit must allow it, and no
// other liquidation may be in flight. Rejections return success=false with a
// descriptive message and zero mutations.
func (s *LiquidationService) TriggerLiquidation(ctx context.Context, loanID string) (domain.TriggerResult, error) {
	rec, err := s.store.GetByLoanID(ctx, loanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TriggerResult{Success: false, Message: "Loan not found"}, nil
		}
		return domain.TriggerResult{}, fmt.Errorf("service: trigger lookup %s: %w", loanID, err)
	}
	if rec.Status != domain.LoanPending {
		return domain.TriggerResult{Success: false, Message: "Loan is not in pending status"}, nil
	}

	if s.limiter != nil && s.cfg.TriggerRateLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "trigger:loan:"+loanID, s.cfg.TriggerRateLimit, s.cfg.TriggerRateWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "trigger rate limiter unavailable, failing open",
				slog.String("loan_id", loanID),
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			return domain.TriggerResult{Success: false, Message: "Trigger rate limit exceeded for this loan"}, nil
		}
	}

	unlock, err := s.acquireLoanLock(ctx, loanID)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.TriggerResult{Success: false, Message: "Liquidation already in progress for this loan"}, nil
		}
		return domain.TriggerResult{}, fmt.Errorf("service: trigger lock %s: %w", loanID, err)
	}
	defer unlock()

	// Re-read under the lock: the scheduled path may have resolved the loan
	// between the precondition check and lock acquisition.
	rec, err = s.store.GetByLoanID(ctx, loanID)
	if err != nil {
		return domain.TriggerResult{}, fmt.Errorf("service: trigger re-read %s: %w", loanID, err)
	}
	if rec.Status != domain.LoanPending {
		return domain.TriggerResult{Success: false, Message: "Loan is not in pending status"}, nil
	}

	s.auditLog(ctx, ActorAPI, "manual_trigger", loanID, nil)

	outcome, err := s.runProtocol(ctx, &rec, ActorAPI)
	if err != nil {
		s.persistBoundaryFailure(ctx, rec, err)
		return domain.TriggerResult{Success: false, Message: chain.Classify(err)}, nil
	}

	switch outcome {
	case outcomeLiquidated:
		return domain.TriggerResult{
			Success: true,
			Message: "Liquidation successful",
			Data: &domain.TriggerData{
				TxHash:    derefOr(rec.LiquidationTxHash, ""),
				AuctionID: rec.AuctionID,
			},
		}, nil
	case outcomeGracePeriod:
		return domain.TriggerResult{Success: false, Message: "Loan is not yet defaulted"}, nil
	case outcomeReconciledLiquidated:
		return domain.TriggerResult{Success: false, Message: "Loan was already liquidated on-chain"}, nil
	case outcomeReconciledRepaid:
		return domain.TriggerResult{Success: false, Message: "Loan is no longer active (repaid)"}, nil
	case outcomeCheckFailed, outcomeAttemptFailed, outcomeExhausted:
		return domain.TriggerResult{Success: false, Message: derefOr(rec.ErrorMessage, "Liquidation failed")}, nil
	default:
		return domain.TriggerResult{Success: false, Message: "Liquidation failed"}, nil
	}
}

// ---------------------------------------------------------------------------
// Query facade
// ---------------------------------------------------------------------------

// pendingListLimit caps the pending-loans listing for the dashboard.
const pendingListLimit = 100

// GetPendingLoans returns pending records, oldest due date first.
func (s *LiquidationService) GetPendingLoans(ctx context.Context) ([]domain.TrackingRecord, error) {
	return s.store.ListByStatus(ctx, domain.LoanPending, pendingListLimit)
}

// GetRecentLiquidations returns liquidated records, most recent first.
func (s *LiquidationService) GetRecentLiquidations(ctx context.Context, limit int) ([]domain.TrackingRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListByStatus(ctx, domain.LoanLiquidated, limit)
}

// GetStatistics aggregates tracking records per status.
func (s *LiquidationService) GetStatistics(ctx context.Context) (domain.Statistics, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("service: statistics: %w", err)
	}

	stats := domain.Statistics{
		Pending:    counts[domain.LoanPending],
		Liquidated: counts[domain.LoanLiquidated],
		Failed:     counts[domain.LoanFailed],
		Expired:    counts[domain.LoanExpired],
		Repaid:     counts[domain.LoanRepaid],
	}
	for _, c := range counts {
		stats.TotalTracked += c
	}
	return stats, nil
}

// GetLoanStatus combines the tracking record with best-effort chain truth.
// Chain read failures leave BlockchainStatus nil; the tracking record is
// still returned.
func (s *LiquidationService) GetLoanStatus(ctx context.Context, loanID string) (domain.LoanStatusView, error) {
	rec, err := s.store.GetByLoanID(ctx, loanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.LoanStatusView{Found: false}, nil
		}
		return domain.LoanStatusView{}, fmt.Errorf("service: loan status %s: %w", loanID, err)
	}

	view := domain.LoanStatusView{Found: true, Loan: &rec}
	view.BlockchainStatus = s.chainStatus(ctx, loanID)
	return view, nil
}

// chainStatus reads on-chain loan state, serving from the short-lived cache
// when possible. Best effort: any failure returns nil.
func (s *LiquidationService) chainStatus(ctx context.Context, loanID string) *domain.LoanChainStatus {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, loanID); err == nil {
			return &cached
		}
	}
	if s.gateway == nil {
		return nil
	}

	defaulted, err := s.gateway.CheckDefault(ctx, loanID)
	if err != nil {
		return nil
	}
	details, err := s.gateway.GetLoanDetails(ctx, loanID)
	if err != nil {
		return nil
	}

	status := domain.LoanChainStatus{
		IsDefaulted:  defaulted,
		IsActive:     details.IsActive,
		IsLiquidated: details.IsLiquidated,
		TotalOwed:    details.TotalOwed.String(),
		AmountRepaid: details.AmountRepaid.String(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, loanID, status); err != nil {
			s.logger.DebugContext(ctx, "chain status cache set failed",
				slog.String("loan_id", loanID),
				slog.String("error", err.Error()),
			)
		}
	}
	return &status
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// acquireLoanLock takes the per-loan lock that keeps at most one in-flight
// liquidation submission per loan id. Without a lock manager (single-path
// deployments, tests) locking is disabled.
func (s *LiquidationService) acquireLoanLock(ctx context.Context, loanID string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	return s.locks.Acquire(ctx, "liquidation:loan:"+loanID, s.cfg.LockTTL)
}

func (s *LiquidationService) auditLog(ctx context.Context, actor, action, loanID string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, actor, action, loanID, detail); err != nil {
		s.logger.ErrorContext(ctx, "audit log write failed",
			slog.String("action", action),
			slog.String("loan_id", loanID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LiquidationService) publishLiquidation(ctx context.Context, rec domain.TrackingRecord) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":      "liquidation",
		"loan_id":    rec.LoanID,
		"tx_hash":    rec.LiquidationTxHash,
		"auction_id": rec.AuctionID,
		"attempts":   rec.LiquidationAttempts,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, liquidationsChannel, payload); err != nil {
		s.logger.DebugContext(ctx, "liquidation publish failed", slog.String("error", err.Error()))
	}
}

func (s *LiquidationService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.DebugContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LiquidationService) invalidateChainStatus(ctx context.Context, loanID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, loanID)
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
