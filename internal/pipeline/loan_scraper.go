package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/domalend/liquidator/internal/domain"
	"github.com/domalend/liquidator/internal/notify"
)

// loansCreatedChannel carries newly tracked loans to the WebSocket hub.
const loansCreatedChannel = "loans:created"

// EventFetcher retrieves loan lifecycle events from the indexer.
type EventFetcher interface {
	FetchLoanCreatedEvents(ctx context.Context, limit int) ([]domain.LoanEvent, error)
}

// LoanScraper ingests loan-creation events from the Ponder indexer and turns
// them into pending tracking records. Ingestion is idempotent: the event id
// is checked before insert and the insert itself is guarded by a unique
// constraint, so re-delivered events are no-ops.
type LoanScraper struct {
	fetcher  EventFetcher
	store    domain.LoanTrackingStore
	bus      domain.SignalBus
	notifier *notify.Notifier

	pollInterval time.Duration
	pageSize     int

	// lastProcessed is the ingestion watermark: only events newer than it
	// are considered. Seeded from the store on startup, advanced after each
	// successful batch.
	lastProcessed time.Time

	logger *slog.Logger
}

// NewLoanScraper creates a LoanScraper. bus and notifier are optional.
func NewLoanScraper(
	fetcher EventFetcher,
	store domain.LoanTrackingStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	pollInterval time.Duration,
	pageSize int,
	logger *slog.Logger,
) *LoanScraper {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &LoanScraper{
		fetcher:      fetcher,
		store:        store,
		bus:          bus,
		notifier:     notifier,
		pollInterval: pollInterval,
		pageSize:     pageSize,
		logger:       logger.With(slog.String("component", "loan_scraper")),
	}
}

// Run polls the indexer until the context is cancelled. The watermark is
// seeded from the newest stored record so a restart does not re-scan the
// full event history; the unique event id still guards whatever overlap
// remains.
func (s *LoanScraper) Run(ctx context.Context) error {
	latest, err := s.store.LatestCreatedAt(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: seed ingestion watermark: %w", err)
	}
	s.lastProcessed = latest

	s.logger.InfoContext(ctx, "loan ingestion started",
		slog.Duration("poll_interval", s.pollInterval),
		slog.Time("watermark", s.lastProcessed),
	)

	// First pass immediately, then on the ticker.
	s.runOnce(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("loan ingestion stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce wraps one ingestion pass with error containment: a failed pass is
// logged and abandoned without advancing the watermark, so the next tick
// retries the same window.
func (s *LoanScraper) runOnce(ctx context.Context) {
	if err := s.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.ErrorContext(ctx, "ingestion pass failed", slog.String("error", err.Error()))
	}
}

// ProcessOnce runs a single ingestion pass: fetch, filter by watermark,
// insert new tracking records, then advance the watermark. An unreachable
// indexer counts as "no new events", not an error; the liquidator keeps
// supervising already-tracked loans while the indexer is down.
func (s *LoanScraper) ProcessOnce(ctx context.Context) error {
	events, err := s.fetcher.FetchLoanCreatedEvents(ctx, s.pageSize)
	if err != nil {
		if isUnreachable(err) {
			s.logger.InfoContext(ctx, "indexer unreachable, skipping pass")
			return nil
		}
		return fmt.Errorf("pipeline: fetch loan events: %w", err)
	}

	created := 0
	for _, event := range events {
		if !event.EventTimestamp.After(s.lastProcessed) {
			continue
		}

		ok, err := s.ingestEvent(ctx, event)
		if err != nil {
			// Store failure: abandon the pass so the watermark stays put and
			// the next tick retries this window.
			return err
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		s.logger.InfoContext(ctx, "new loans tracked",
			slog.Int("count", created),
			slog.Int("fetched", len(events)),
		)
	}

	s.lastProcessed = time.Now().UTC()
	return nil
}

// ingestEvent converts one event into a pending tracking record. Returns
// true when a new record was created. A malformed event is logged and
// skipped; only store errors abort the pass.
func (s *LoanScraper) ingestEvent(ctx context.Context, event domain.LoanEvent) (bool, error) {
	exists, err := s.store.ExistsByEventID(ctx, event.ID)
	if err != nil {
		return false, fmt.Errorf("pipeline: check event %s: %w", event.ID, err)
	}
	if exists {
		return false, nil
	}

	rec, err := recordFromEvent(event)
	if err != nil {
		s.logger.WarnContext(ctx, "skipping malformed loan event",
			slog.String("event_id", event.ID),
			slog.String("loan_id", event.LoanID),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost the race with a concurrent ingester; the record is there.
			return false, nil
		}
		return false, fmt.Errorf("pipeline: create tracking record %s: %w", rec.LoanID, err)
	}

	s.logger.InfoContext(ctx, "loan tracked",
		slog.String("loan_id", rec.LoanID),
		slog.String("borrower", rec.Borrower),
		slog.Time("due_date", rec.DueDate),
	)
	s.publishCreated(ctx, rec)
	s.notifyDetected(ctx, rec)
	return true, nil
}

// recordFromEvent builds the pending tracking record for a loan-creation
// event. The repayment deadline arrives as epoch milliseconds; a value that
// does not parse makes the event malformed.
func recordFromEvent(event domain.LoanEvent) (domain.TrackingRecord, error) {
	deadlineMs, err := strconv.ParseInt(event.RepaymentDeadline, 10, 64)
	if err != nil {
		return domain.TrackingRecord{}, fmt.Errorf("parse repayment deadline %q: %w", event.RepaymentDeadline, err)
	}
	if deadlineMs <= 0 {
		return domain.TrackingRecord{}, fmt.Errorf("non-positive repayment deadline %q", event.RepaymentDeadline)
	}

	rec := domain.TrackingRecord{
		LoanID:          event.LoanID,
		Borrower:        event.BorrowerAddress,
		DomainTokenID:   event.DomainTokenID,
		PrincipalAmount: event.LoanAmount,
		TotalOwed:       event.LoanAmount,
		DueDate:         time.UnixMilli(deadlineMs).UTC(),
		Status:          domain.LoanPending,
	}
	rec.PonderEventID = optional(event.ID)
	rec.DomainName = optional(event.DomainName)
	rec.InterestRate = optional(event.InterestRate)
	rec.PoolID = optional(event.PoolID)
	rec.RequestID = optional(event.RequestID)
	return rec, nil
}

func (s *LoanScraper) publishCreated(ctx context.Context, rec domain.TrackingRecord) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     "loan_created",
		"loan_id":   rec.LoanID,
		"borrower":  rec.Borrower,
		"amount":    rec.PrincipalAmount,
		"due_date":  rec.DueDate,
		"domain":    rec.DomainName,
		"pool_id":   rec.PoolID,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, loansCreatedChannel, payload); err != nil {
		s.logger.DebugContext(ctx, "loan created publish failed", slog.String("error", err.Error()))
	}
}

func (s *LoanScraper) notifyDetected(ctx context.Context, rec domain.TrackingRecord) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Now tracking loan %s for borrower %s, due %s",
		rec.LoanID, rec.Borrower, rec.DueDate.Format(time.RFC3339))
	if err := s.notifier.Notify(ctx, "loan_detected", "New loan tracked", msg); err != nil {
		s.logger.DebugContext(ctx, "loan detected notification failed", slog.String("error", err.Error()))
	}
}

// isUnreachable reports whether the fetch failed because the indexer itself
// is down, as opposed to a protocol or data error.
func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
