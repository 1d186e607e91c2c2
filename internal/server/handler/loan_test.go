package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/domalend/liquidator/internal/domain"
	"github.com/domalend/liquidator/internal/server/handler"
)

type stubLoanService struct {
	pending      []domain.TrackingRecord
	liquidations []domain.TrackingRecord
	stats        domain.Statistics
	view         domain.LoanStatusView
	trigger      domain.TriggerResult

	gotLimit  int
	gotLoanID string
}

func (s *stubLoanService) GetPendingLoans(context.Context) ([]domain.TrackingRecord, error) {
	return s.pending, nil
}

func (s *stubLoanService) GetRecentLiquidations(_ context.Context, limit int) ([]domain.TrackingRecord, error) {
	s.gotLimit = limit
	return s.liquidations, nil
}

func (s *stubLoanService) GetStatistics(context.Context) (domain.Statistics, error) {
	return s.stats, nil
}

func (s *stubLoanService) GetLoanStatus(_ context.Context, loanID string) (domain.LoanStatusView, error) {
	s.gotLoanID = loanID
	return s.view, nil
}

func (s *stubLoanService) TriggerLiquidation(_ context.Context, loanID string) (domain.TriggerResult, error) {
	s.gotLoanID = loanID
	return s.trigger, nil
}

func newTestMux(svc handler.LoanService) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewLoanHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/loans/pending", h.ListPending)
	mux.HandleFunc("GET /api/loans/liquidations", h.ListLiquidations)
	mux.HandleFunc("GET /api/loans/stats", h.GetStats)
	mux.HandleFunc("GET /api/loans/{loanId}", h.GetLoan)
	mux.HandleFunc("POST /api/loans/{loanId}/liquidate", h.TriggerLiquidation)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var body map[string]any
	if len(rr.Body.Bytes()) > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, body
}

func sampleRecord(loanID string) domain.TrackingRecord {
	return domain.TrackingRecord{
		LoanID:          loanID,
		Borrower:        "0xborrower",
		DomainTokenID:   "42",
		PrincipalAmount: "1000",
		TotalOwed:       "1100",
		DueDate:         time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Status:          domain.LoanPending,
	}
}

func TestListPending(t *testing.T) {
	svc := &stubLoanService{pending: []domain.TrackingRecord{sampleRecord("1"), sampleRecord("2")}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodGet, "/api/loans/pending")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
	loans := body["loans"].([]any)
	first := loans[0].(map[string]any)
	if first["loan_id"] != "1" || first["status"] != "pending" {
		t.Errorf("first loan = %v", first)
	}
	if first["principal_amount"] != "1000" {
		t.Errorf("principal_amount = %v, want decimal string", first["principal_amount"])
	}
}

func TestListLiquidationsPassesLimit(t *testing.T) {
	svc := &stubLoanService{}
	mux := newTestMux(svc)

	rr, _ := doRequest(t, mux, http.MethodGet, "/api/loans/liquidations?limit=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if svc.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", svc.gotLimit)
	}
}

func TestGetStats(t *testing.T) {
	svc := &stubLoanService{stats: domain.Statistics{TotalTracked: 10, Pending: 4, Liquidated: 3, Repaid: 3}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodGet, "/api/loans/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["total_tracked"].(float64) != 10 || body["repaid"].(float64) != 3 {
		t.Errorf("stats body = %v", body)
	}
}

func TestGetLoanNotFound(t *testing.T) {
	svc := &stubLoanService{view: domain.LoanStatusView{Found: false}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodGet, "/api/loans/999")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if body["error"] == nil {
		t.Error("missing error body")
	}
	if svc.gotLoanID != "999" {
		t.Errorf("loan id = %q, want 999", svc.gotLoanID)
	}
}

func TestGetLoanWithChainStatus(t *testing.T) {
	rec := sampleRecord("7")
	svc := &stubLoanService{view: domain.LoanStatusView{
		Found: true,
		Loan:  &rec,
		BlockchainStatus: &domain.LoanChainStatus{
			IsDefaulted: true,
			IsActive:    true,
			TotalOwed:   "1100",
		},
	}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodGet, "/api/loans/7")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	cs := body["blockchain_status"].(map[string]any)
	if cs["is_defaulted"] != true || cs["total_owed"] != "1100" {
		t.Errorf("blockchain_status = %v", cs)
	}
}

func TestGetLoanChainStatusNullWhenUnreachable(t *testing.T) {
	rec := sampleRecord("8")
	svc := &stubLoanService{view: domain.LoanStatusView{Found: true, Loan: &rec}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodGet, "/api/loans/8")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if v, present := body["blockchain_status"]; !present || v != nil {
		t.Errorf("blockchain_status = %v, want explicit null", v)
	}
}

func TestTriggerLiquidationSuccess(t *testing.T) {
	auction := "12"
	svc := &stubLoanService{trigger: domain.TriggerResult{
		Success: true,
		Message: "Liquidation successful",
		Data:    &domain.TriggerData{TxHash: "0xdef", AuctionID: &auction},
	}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodPost, "/api/loans/7/liquidate")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	data := body["data"].(map[string]any)
	if data["tx_hash"] != "0xdef" || data["auction_id"] != "12" {
		t.Errorf("data = %v", data)
	}
}

func TestTriggerLiquidationRejectionIs200(t *testing.T) {
	svc := &stubLoanService{trigger: domain.TriggerResult{
		Success: false,
		Message: "Loan is not in pending status",
	}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodPost, "/api/loans/7/liquidate")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a rejection", rr.Code)
	}
	if body["success"] != false || body["message"] != "Loan is not in pending status" {
		t.Errorf("body = %v", body)
	}
}

func TestTriggerLiquidationUnknownLoanIs404(t *testing.T) {
	svc := &stubLoanService{trigger: domain.TriggerResult{
		Success: false,
		Message: "Loan not found",
	}}
	mux := newTestMux(svc)

	rr, body := doRequest(t, mux, http.MethodPost, "/api/loans/999/liquidate")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
}
