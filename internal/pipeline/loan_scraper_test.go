package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/domalend/liquidator/internal/domain"
	"github.com/domalend/liquidator/internal/pipeline"
)

type stubFetcher struct {
	events []domain.LoanEvent
	err    error
	calls  int
}

func (f *stubFetcher) FetchLoanCreatedEvents(context.Context, int) ([]domain.LoanEvent, error) {
	f.calls++
	return f.events, f.err
}

// memStore is the minimal in-memory LoanTrackingStore the scraper needs.
type memStore struct {
	mu      sync.Mutex
	records map[string]domain.TrackingRecord
	latest  time.Time
	creates int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.TrackingRecord)}
}

func (s *memStore) Create(_ context.Context, rec domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.LoanID]; ok {
		return domain.ErrAlreadyExists
	}
	s.records[rec.LoanID] = rec
	s.creates++
	return nil
}

func (s *memStore) Update(context.Context, domain.TrackingRecord) error { return nil }

func (s *memStore) GetByLoanID(_ context.Context, loanID string) (domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[loanID]
	if !ok {
		return domain.TrackingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) ExistsByEventID(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.PonderEventID != nil && *r.PonderEventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListEligible(context.Context, time.Time, int) ([]domain.TrackingRecord, error) {
	return nil, nil
}

func (s *memStore) ListByStatus(context.Context, domain.LoanStatus, int) ([]domain.TrackingRecord, error) {
	return nil, nil
}

func (s *memStore) CountByStatus(context.Context) (map[domain.LoanStatus]int64, error) {
	return nil, nil
}

func (s *memStore) LatestCreatedAt(context.Context) (time.Time, error) {
	return s.latest, nil
}

func (s *memStore) ListTerminalBefore(context.Context, time.Time, int) ([]domain.TrackingRecord, error) {
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loanEvent(id, loanID string, ts time.Time) domain.LoanEvent {
	deadline := ts.Add(30 * 24 * time.Hour)
	return domain.LoanEvent{
		ID:                id,
		EventType:         "created_instant",
		LoanID:            loanID,
		BorrowerAddress:   "0xborrower",
		DomainTokenID:     "55",
		DomainName:        "example.eth",
		LoanAmount:        "2000000000000000000",
		InterestRate:      "500",
		RepaymentDeadline: strconv.FormatInt(deadline.UnixMilli(), 10),
		EventTimestamp:    ts,
		TransactionHash:   "0xtx",
		BlockNumber:       100,
	}
}

func TestProcessOnceCreatesPendingRecords(t *testing.T) {
	now := time.Now().UTC()
	fetcher := &stubFetcher{events: []domain.LoanEvent{
		loanEvent("evt-1", "201", now.Add(-time.Minute)),
		loanEvent("evt-2", "202", now.Add(-30*time.Second)),
	}}
	store := newMemStore()
	scraper := pipeline.NewLoanScraper(fetcher, store, nil, nil, time.Second, 100, discardLogger())

	if err := scraper.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if store.creates != 2 {
		t.Fatalf("created %d records, want 2", store.creates)
	}

	rec, err := store.GetByLoanID(context.Background(), "201")
	if err != nil {
		t.Fatalf("record 201 missing: %v", err)
	}
	if rec.Status != domain.LoanPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}
	if rec.PonderEventID == nil || *rec.PonderEventID != "evt-1" {
		t.Errorf("event id = %v, want evt-1", rec.PonderEventID)
	}
	if rec.TotalOwed != rec.PrincipalAmount {
		t.Errorf("total owed = %s, want principal %s at creation", rec.TotalOwed, rec.PrincipalAmount)
	}
	wantDue := time.UnixMilli(mustParseInt(t, loanEvent("evt-1", "201", now.Add(-time.Minute)).RepaymentDeadline)).UTC()
	if !rec.DueDate.Equal(wantDue) {
		t.Errorf("due date = %v, want %v", rec.DueDate, wantDue)
	}
}

func TestProcessOnceIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	fetcher := &stubFetcher{events: []domain.LoanEvent{loanEvent("evt-1", "203", now.Add(-time.Minute))}}
	store := newMemStore()
	scraper := pipeline.NewLoanScraper(fetcher, store, nil, nil, time.Second, 100, discardLogger())

	if err := scraper.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// Same event re-delivered.
	if err := scraper.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if store.creates != 1 {
		t.Fatalf("created %d records across re-delivery, want 1", store.creates)
	}
}

func TestProcessOnceSkipsMalformedDeadline(t *testing.T) {
	now := time.Now().UTC()
	bad := loanEvent("evt-bad", "204", now.Add(-time.Minute))
	bad.RepaymentDeadline = "not-a-number"
	good := loanEvent("evt-good", "205", now.Add(-30*time.Second))

	fetcher := &stubFetcher{events: []domain.LoanEvent{bad, good}}
	store := newMemStore()
	scraper := pipeline.NewLoanScraper(fetcher, store, nil, nil, time.Second, 100, discardLogger())

	if err := scraper.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if store.creates != 1 {
		t.Fatalf("created %d records, want 1 (malformed event skipped)", store.creates)
	}
	if _, err := store.GetByLoanID(context.Background(), "204"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("malformed event produced a record")
	}
}

func TestProcessOnceFiltersByWatermark(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.latest = now.Add(-time.Minute)

	fetcher := &stubFetcher{events: []domain.LoanEvent{
		loanEvent("evt-old", "206", now.Add(-time.Hour)),
		loanEvent("evt-new", "207", now.Add(-10*time.Second)),
	}}
	scraper := pipeline.NewLoanScraper(fetcher, store, nil, nil, time.Second, 100, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scraper.Run(ctx) }()

	// Wait for the immediate first pass, then stop the loop.
	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		n := store.creates
		store.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("first ingestion pass never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if store.creates != 1 {
		t.Fatalf("created %d records, want 1 (stale event filtered by watermark)", store.creates)
	}
	if _, err := store.GetByLoanID(context.Background(), "206"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("event older than the watermark was ingested")
	}
}

func TestProcessOnceUnreachableIndexerIsNotAnError(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("dial tcp 127.0.0.1:42069: connect: connection refused")}
	scraper := pipeline.NewLoanScraper(fetcher, newMemStore(), nil, nil, time.Second, 100, discardLogger())

	if err := scraper.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce = %v, want nil for unreachable indexer", err)
	}
}

func TestProcessOnceOtherFetchErrorsPropagate(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("graphql error: unknown field loanEvents")}
	scraper := pipeline.NewLoanScraper(fetcher, newMemStore(), nil, nil, time.Second, 100, discardLogger())

	if err := scraper.ProcessOnce(context.Background()); err == nil {
		t.Fatal("ProcessOnce = nil, want error for protocol failure")
	}
}

func mustParseInt(t *testing.T, s string) int64 {
	t.Helper()
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}
