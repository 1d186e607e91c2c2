package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/domalend/liquidator/internal/chain"
	"github.com/domalend/liquidator/internal/domain"
	"github.com/domalend/liquidator/internal/service"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.TrackingRecord
	updates int
}

func newFakeStore(recs ...domain.TrackingRecord) *fakeStore {
	s := &fakeStore{records: make(map[string]domain.TrackingRecord)}
	for _, r := range recs {
		s.records[r.LoanID] = r
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, rec domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.LoanID]; ok {
		return domain.ErrAlreadyExists
	}
	s.records[rec.LoanID] = rec
	return nil
}

func (s *fakeStore) Update(_ context.Context, rec domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.LoanID]; !ok {
		return domain.ErrNotFound
	}
	s.records[rec.LoanID] = rec
	s.updates++
	return nil
}

func (s *fakeStore) GetByLoanID(_ context.Context, loanID string) (domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[loanID]
	if !ok {
		return domain.TrackingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) ExistsByEventID(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.PonderEventID != nil && *r.PonderEventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ListEligible(_ context.Context, now time.Time, limit int) ([]domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TrackingRecord
	for _, r := range s.records {
		if r.Status == domain.LoanPending && r.DueDate.Before(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ListByStatus(_ context.Context, status domain.LoanStatus, limit int) ([]domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TrackingRecord
	for _, r := range s.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CountByStatus(_ context.Context) (map[domain.LoanStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.LoanStatus]int64)
	for _, r := range s.records {
		counts[r.Status]++
	}
	return counts, nil
}

func (s *fakeStore) LatestCreatedAt(_ context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (s *fakeStore) ListTerminalBefore(_ context.Context, _ time.Time, _ int) ([]domain.TrackingRecord, error) {
	return nil, nil
}

func (s *fakeStore) get(t *testing.T, loanID string) domain.TrackingRecord {
	t.Helper()
	rec, err := s.GetByLoanID(context.Background(), loanID)
	if err != nil {
		t.Fatalf("get %s: %v", loanID, err)
	}
	return rec
}

type fakeGateway struct {
	checkDefault func(loanID string) (bool, error)
	getDetails   func(loanID string) (*domain.LoanDetails, error)
	liquidate    func(loanID string) (*domain.LiquidationReceipt, error)

	mu             sync.Mutex
	liquidateCalls int
}

func (g *fakeGateway) CheckDefault(_ context.Context, loanID string) (bool, error) {
	if g.checkDefault == nil {
		return false, nil
	}
	return g.checkDefault(loanID)
}

func (g *fakeGateway) GetLoanDetails(_ context.Context, loanID string) (*domain.LoanDetails, error) {
	if g.getDetails == nil {
		return &domain.LoanDetails{IsActive: true, TotalOwed: big.NewInt(0), AmountRepaid: big.NewInt(0)}, nil
	}
	return g.getDetails(loanID)
}

func (g *fakeGateway) Liquidate(_ context.Context, loanID string) (*domain.LiquidationReceipt, error) {
	g.mu.Lock()
	g.liquidateCalls++
	g.mu.Unlock()
	if g.liquidate == nil {
		return nil, errors.New("liquidate not configured")
	}
	return g.liquidate(loanID)
}

func (g *fakeGateway) GetBalance(context.Context) *big.Int        { return big.NewInt(0) }
func (g *fakeGateway) GetWalletAddress() string                   { return "0xwallet" }
func (g *fakeGateway) GetBlockTimestamp(context.Context) time.Time { return time.Time{} }

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: make(map[string]bool)} }

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type fakeLimiter struct{ allow bool }

func (l *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}
func (l *fakeLimiter) Wait(context.Context, string) error { return nil }

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, actor, action, loanID string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Actor: actor, Action: action, LoanID: loanID, Detail: detail})
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingRecord(loanID string, overdueBy time.Duration) domain.TrackingRecord {
	return domain.TrackingRecord{
		LoanID:          loanID,
		Borrower:        "0xborrower",
		DomainTokenID:   "42",
		PrincipalAmount: "1000000000000000000",
		TotalOwed:       "1100000000000000000",
		DueDate:         time.Now().UTC().Add(-overdueBy),
		Status:          domain.LoanPending,
	}
}

func newService(store *fakeStore, gw *fakeGateway, opts ...func(*serviceDeps)) (*service.LiquidationService, *serviceDeps) {
	deps := &serviceDeps{
		locks:   newFakeLocks(),
		limiter: &fakeLimiter{allow: true},
		audit:   &fakeAudit{},
		cfg: service.LiquidationConfig{
			Enabled:           true,
			CheckInterval:     time.Second,
			BatchSize:         20,
			MaxAttempts:       5,
			LockTTL:           time.Minute,
			TriggerRateLimit:  3,
			TriggerRateWindow: time.Minute,
		},
	}
	for _, o := range opts {
		o(deps)
	}
	svc := service.NewLiquidationService(
		store, gw, deps.locks, deps.limiter, deps.audit, nil, nil, nil, deps.cfg, testLogger(),
	)
	return svc, deps
}

type serviceDeps struct {
	locks   *fakeLocks
	limiter *fakeLimiter
	audit   *fakeAudit
	cfg     service.LiquidationConfig
}

// ---------------------------------------------------------------------------
// scheduled path
// ---------------------------------------------------------------------------

func TestProcessTickLiquidatesDefaultedLoan(t *testing.T) {
	store := newFakeStore(pendingRecord("101", time.Hour))
	auction := "7"
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return true, nil },
		liquidate: func(string) (*domain.LiquidationReceipt, error) {
			return &domain.LiquidationReceipt{TxHash: "0xabc", AuctionID: &auction}, nil
		},
	}
	svc, deps := newService(store, gw)

	if err := svc.ProcessTick(context.Background()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	rec := store.get(t, "101")
	if rec.Status != domain.LoanLiquidated {
		t.Fatalf("status = %s, want liquidated", rec.Status)
	}
	if rec.LiquidationTxHash == nil || *rec.LiquidationTxHash != "0xabc" {
		t.Errorf("tx hash = %v, want 0xabc", rec.LiquidationTxHash)
	}
	if rec.AuctionID == nil || *rec.AuctionID != "7" {
		t.Errorf("auction id = %v, want 7", rec.AuctionID)
	}
	if rec.LiquidationAttempts != 0 {
		t.Errorf("attempts = %d, want 0 (success does not count an attempt)", rec.LiquidationAttempts)
	}
	if rec.ErrorMessage != nil {
		t.Errorf("error message = %q, want cleared", *rec.ErrorMessage)
	}
	if !rec.IsDefault {
		t.Error("is_default not recorded")
	}
	if got := deps.audit.actions(); len(got) != 1 || got[0] != "liquidation_success" {
		t.Errorf("audit actions = %v, want [liquidation_success]", got)
	}
}

func TestProcessTickGracePeriod(t *testing.T) {
	store := newFakeStore(pendingRecord("102", time.Minute))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return false, nil },
		getDetails: func(string) (*domain.LoanDetails, error) {
			return &domain.LoanDetails{IsActive: true, TotalOwed: big.NewInt(1), AmountRepaid: big.NewInt(0)}, nil
		},
	}
	svc, _ := newService(store, gw)

	if err := svc.ProcessTick(context.Background()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	rec := store.get(t, "102")
	if rec.Status != domain.LoanPending {
		t.Fatalf("status = %s, want pending (grace period)", rec.Status)
	}
	if rec.LiquidationAttempts != 0 {
		t.Errorf("attempts = %d, want 0", rec.LiquidationAttempts)
	}
	if rec.LastCheckTimestamp == nil {
		t.Error("last check timestamp not stamped")
	}
	if gw.liquidateCalls != 0 {
		t.Errorf("liquidate called %d times, want 0", gw.liquidateCalls)
	}
}

func TestProcessTickReconciliation(t *testing.T) {
	cases := []struct {
		name         string
		isLiquidated bool
		want         domain.LoanStatus
	}{
		{"liquidated elsewhere", true, domain.LoanLiquidated},
		{"repaid", false, domain.LoanRepaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore(pendingRecord("103", time.Hour))
			gw := &fakeGateway{
				checkDefault: func(string) (bool, error) { return false, nil },
				getDetails: func(string) (*domain.LoanDetails, error) {
					return &domain.LoanDetails{
						IsActive:     false,
						IsLiquidated: tc.isLiquidated,
						TotalOwed:    big.NewInt(1),
						AmountRepaid: big.NewInt(1),
					}, nil
				},
			}
			svc, _ := newService(store, gw)

			if err := svc.ProcessTick(context.Background()); err != nil {
				t.Fatalf("ProcessTick: %v", err)
			}

			rec := store.get(t, "103")
			if rec.Status != tc.want {
				t.Fatalf("status = %s, want %s", rec.Status, tc.want)
			}
			if rec.LiquidationTxHash != nil {
				t.Error("tx hash set on reconciled record")
			}
			if gw.liquidateCalls != 0 {
				t.Errorf("liquidate called %d times, want 0", gw.liquidateCalls)
			}
		})
	}
}

func TestProcessTickCheckFailureDoesNotCountAttempt(t *testing.T) {
	store := newFakeStore(pendingRecord("104", time.Hour))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) {
			return false, errors.New("dial tcp: connection refused")
		},
	}
	svc, _ := newService(store, gw)

	if err := svc.ProcessTick(context.Background()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	rec := store.get(t, "104")
	if rec.Status != domain.LoanPending {
		t.Fatalf("status = %s, want pending", rec.Status)
	}
	if rec.LiquidationAttempts != 0 {
		t.Errorf("attempts = %d, want 0 (read failures are not attempts)", rec.LiquidationAttempts)
	}
	if rec.ErrorMessage == nil || *rec.ErrorMessage != chain.MsgRPCUnreachable {
		t.Errorf("error message = %v, want %q", rec.ErrorMessage, chain.MsgRPCUnreachable)
	}
}

func TestProcessTickFailedAttemptsReachCeiling(t *testing.T) {
	store := newFakeStore(pendingRecord("105", time.Hour))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return true, nil },
		liquidate: func(string) (*domain.LiquidationReceipt, error) {
			return nil, errors.New("insufficient funds for gas * price + value")
		},
	}
	svc, deps := newService(store, gw)

	for i := 1; i <= 5; i++ {
		if err := svc.ProcessTick(context.Background()); err != nil {
			t.Fatalf("ProcessTick %d: %v", i, err)
		}
		rec := store.get(t, "105")
		if rec.LiquidationAttempts != i {
			t.Fatalf("after tick %d: attempts = %d, want %d", i, rec.LiquidationAttempts, i)
		}
		wantStatus := domain.LoanPending
		if i == 5 {
			wantStatus = domain.LoanFailed
		}
		if rec.Status != wantStatus {
			t.Fatalf("after tick %d: status = %s, want %s", i, rec.Status, wantStatus)
		}
		if rec.ErrorMessage == nil || *rec.ErrorMessage != chain.MsgInsufficientFunds {
			t.Fatalf("after tick %d: error message = %v, want %q", i, rec.ErrorMessage, chain.MsgInsufficientFunds)
		}
	}

	// Terminal records never come back into rotation.
	if err := svc.ProcessTick(context.Background()); err != nil {
		t.Fatalf("ProcessTick after terminal: %v", err)
	}
	rec := store.get(t, "105")
	if rec.LiquidationAttempts != 5 || rec.Status != domain.LoanFailed {
		t.Fatalf("terminal record mutated: attempts=%d status=%s", rec.LiquidationAttempts, rec.Status)
	}
	if gw.liquidateCalls != 5 {
		t.Errorf("liquidate called %d times, want 5", gw.liquidateCalls)
	}

	actions := deps.audit.actions()
	if len(actions) != 5 {
		t.Fatalf("audit entries = %v, want 5 liquidation_failed rows", actions)
	}
	for _, a := range actions {
		if a != "liquidation_failed" {
			t.Fatalf("unexpected audit action %q", a)
		}
	}
}

func TestProcessTickSkipsLockedLoan(t *testing.T) {
	store := newFakeStore(pendingRecord("106", time.Hour))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return true, nil },
	}
	svc, deps := newService(store, gw)

	unlock, err := deps.locks.Acquire(context.Background(), "liquidation:loan:106", time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	defer unlock()

	if err := svc.ProcessTick(context.Background()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	rec := store.get(t, "106")
	if rec.LastCheckTimestamp != nil || gw.liquidateCalls != 0 {
		t.Error("locked loan was processed")
	}
}

// ---------------------------------------------------------------------------
// manual trigger
// ---------------------------------------------------------------------------

func TestTriggerLiquidationUnknownLoan(t *testing.T) {
	svc, _ := newService(newFakeStore(), &fakeGateway{})

	res, err := svc.TriggerLiquidation(context.Background(), "999")
	if err != nil {
		t.Fatalf("TriggerLiquidation: %v", err)
	}
	if res.Success || res.Message != "Loan not found" {
		t.Fatalf("result = %+v, want rejection 'Loan not found'", res)
	}
}

func TestTriggerLiquidationRejectsNonPending(t *testing.T) {
	rec := pendingRecord("107", time.Hour)
	rec.Status = domain.LoanLiquidated
	store := newFakeStore(rec)
	gw := &fakeGateway{}
	svc, _ := newService(store, gw)

	res, err := svc.TriggerLiquidation(context.Background(), "107")
	if err != nil {
		t.Fatalf("TriggerLiquidation: %v", err)
	}
	if res.Success || res.Message != "Loan is not in pending status" {
		t.Fatalf("result = %+v, want pending-status rejection", res)
	}
	if store.updates != 0 || gw.liquidateCalls != 0 {
		t.Error("rejected trigger mutated state")
	}
}

func TestTriggerLiquidationRateLimited(t *testing.T) {
	store := newFakeStore(pendingRecord("108", time.Hour))
	svc, _ := newService(store, &fakeGateway{}, func(d *serviceDeps) {
		d.limiter = &fakeLimiter{allow: false}
	})

	res, err := svc.TriggerLiquidation(context.Background(), "108")
	if err != nil {
		t.Fatalf("TriggerLiquidation: %v", err)
	}
	if res.Success || res.Message != "Trigger rate limit exceeded for this loan" {
		t.Fatalf("result = %+v, want rate-limit rejection", res)
	}
	if store.updates != 0 {
		t.Error("rate-limited trigger mutated state")
	}
}

func TestTriggerLiquidationLockHeld(t *testing.T) {
	store := newFakeStore(pendingRecord("109", time.Hour))
	svc, deps := newService(store, &fakeGateway{})

	unlock, err := deps.locks.Acquire(context.Background(), "liquidation:loan:109", time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	defer unlock()

	res, err := svc.TriggerLiquidation(context.Background(), "109")
	if err != nil {
		t.Fatalf("TriggerLiquidation: %v", err)
	}
	if res.Success || res.Message != "Liquidation already in progress for this loan" {
		t.Fatalf("result = %+v, want in-progress rejection", res)
	}
	if store.updates != 0 {
		t.Error("blocked trigger mutated state")
	}
}

func TestTriggerLiquidationSuccess(t *testing.T) {
	store := newFakeStore(pendingRecord("110", time.Hour))
	auction := "12"
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return true, nil },
		liquidate: func(string) (*domain.LiquidationReceipt, error) {
			return &domain.LiquidationReceipt{TxHash: "0xdef", AuctionID: &auction}, nil
		},
	}
	svc, deps := newService(store, gw)

	res, err := svc.TriggerLiquidation(context.Background(), "110")
	if err != nil {
		t.Fatalf("TriggerLiquidation: %v", err)
	}
	if !res.Success || res.Message != "Liquidation successful" {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Data == nil || res.Data.TxHash != "0xdef" {
		t.Fatalf("data = %+v, want tx hash 0xdef", res.Data)
	}
	if res.Data.AuctionID == nil || *res.Data.AuctionID != "12" {
		t.Fatalf("auction id = %v, want 12", res.Data.AuctionID)
	}

	rec := store.get(t, "110")
	if rec.Status != domain.LoanLiquidated {
		t.Fatalf("status = %s, want liquidated", rec.Status)
	}

	actions := deps.audit.actions()
	if len(actions) != 2 || actions[0] != "manual_trigger" || actions[1] != "liquidation_success" {
		t.Fatalf("audit actions = %v, want [manual_trigger liquidation_success]", actions)
	}
	if deps.audit.entries[0].Actor != service.ActorAPI {
		t.Errorf("trigger actor = %s, want %s", deps.audit.entries[0].Actor, service.ActorAPI)
	}
}

func TestTriggerLiquidationNotYetDefaulted(t *testing.T) {
	store := newFakeStore(pendingRecord("111", time.Minute))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return false, nil },
		getDetails: func(string) (*domain.LoanDetails, error) {
			return &domain.LoanDetails{IsActive: true, TotalOwed: big.NewInt(1), AmountRepaid: big.NewInt(0)}, nil
		},
	}
	svc, _ := newService(store, gw)

	res, err := svc.TriggerLiquidation(context.Background(), "111")
	if err != nil {
		t.Fatalf("TriggerLiquidation: %v", err)
	}
	if res.Success || res.Message != "Loan is not yet defaulted" {
		t.Fatalf("result = %+v, want not-yet-defaulted rejection", res)
	}
	if rec := store.get(t, "111"); rec.Status != domain.LoanPending {
		t.Fatalf("status = %s, want pending", rec.Status)
	}
}

func TestTriggerLiquidationFailureReturnsClassifiedMessage(t *testing.T) {
	store := newFakeStore(pendingRecord("112", time.Hour))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return true, nil },
		liquidate: func(string) (*domain.LiquidationReceipt, error) {
			return nil, errors.New("execution reverted: Auction house not set")
		},
	}
	svc, _ := newService(store, gw)

	res, err := svc.TriggerLiquidation(context.Background(), "112")
	if err != nil {
		t.Fatalf("TriggerLiquidation: %v", err)
	}
	if res.Success || res.Message != chain.MsgAuctionNotSet {
		t.Fatalf("result = %+v, want %q", res, chain.MsgAuctionNotSet)
	}
	if rec := store.get(t, "112"); rec.LiquidationAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", rec.LiquidationAttempts)
	}
}

// ---------------------------------------------------------------------------
// query facade
// ---------------------------------------------------------------------------

func TestGetStatistics(t *testing.T) {
	recs := []domain.TrackingRecord{
		pendingRecord("1", time.Hour),
		pendingRecord("2", time.Hour),
		pendingRecord("3", time.Hour),
		pendingRecord("4", time.Hour),
	}
	recs[1].Status = domain.LoanLiquidated
	recs[2].Status = domain.LoanFailed
	recs[3].Status = domain.LoanRepaid
	svc, _ := newService(newFakeStore(recs...), &fakeGateway{})

	stats, err := svc.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	want := domain.Statistics{TotalTracked: 4, Pending: 1, Liquidated: 1, Failed: 1, Repaid: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestGetLoanStatusNotFound(t *testing.T) {
	svc, _ := newService(newFakeStore(), &fakeGateway{})

	view, err := svc.GetLoanStatus(context.Background(), "404")
	if err != nil {
		t.Fatalf("GetLoanStatus: %v", err)
	}
	if view.Found || view.Loan != nil {
		t.Fatalf("view = %+v, want not found", view)
	}
}

func TestGetLoanStatusChainUnreachable(t *testing.T) {
	store := newFakeStore(pendingRecord("113", time.Hour))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return false, errors.New("connection refused") },
	}
	svc, _ := newService(store, gw)

	view, err := svc.GetLoanStatus(context.Background(), "113")
	if err != nil {
		t.Fatalf("GetLoanStatus: %v", err)
	}
	if !view.Found || view.Loan == nil {
		t.Fatal("tracking record missing from view")
	}
	if view.BlockchainStatus != nil {
		t.Error("chain status present despite RPC failure")
	}
}

func TestGetLoanStatusWithChainState(t *testing.T) {
	store := newFakeStore(pendingRecord("114", time.Hour))
	gw := &fakeGateway{
		checkDefault: func(string) (bool, error) { return true, nil },
		getDetails: func(string) (*domain.LoanDetails, error) {
			return &domain.LoanDetails{
				IsActive:     true,
				TotalOwed:    big.NewInt(1100),
				AmountRepaid: big.NewInt(100),
			}, nil
		},
	}
	svc, _ := newService(store, gw)

	view, err := svc.GetLoanStatus(context.Background(), "114")
	if err != nil {
		t.Fatalf("GetLoanStatus: %v", err)
	}
	cs := view.BlockchainStatus
	if cs == nil {
		t.Fatal("chain status missing")
	}
	if !cs.IsDefaulted || !cs.IsActive || cs.TotalOwed != "1100" || cs.AmountRepaid != "100" {
		t.Fatalf("chain status = %+v", cs)
	}
}
