package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/domalend/liquidator/internal/domain"
)

// LoanService is the facade the loan endpoints need. Implemented by
// service.LiquidationService.
type LoanService interface {
	GetPendingLoans(ctx context.Context) ([]domain.TrackingRecord, error)
	GetRecentLiquidations(ctx context.Context, limit int) ([]domain.TrackingRecord, error)
	GetStatistics(ctx context.Context) (domain.Statistics, error)
	GetLoanStatus(ctx context.Context, loanID string) (domain.LoanStatusView, error)
	TriggerLiquidation(ctx context.Context, loanID string) (domain.TriggerResult, error)
}

// LoanHandler serves the loan tracking and liquidation endpoints.
type LoanHandler struct {
	svc    LoanService
	logger *slog.Logger
}

// NewLoanHandler creates a LoanHandler.
func NewLoanHandler(svc LoanService, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{svc: svc, logger: logHandler(logger, "loan")}
}

// ListPending responds with pending tracking records, oldest due first.
// GET /api/loans/pending
func (h *LoanHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	loans, err := h.svc.GetPendingLoans(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list pending loans failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list pending loans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loans": loanRecords(loans),
		"count": len(loans),
	})
}

// ListLiquidations responds with recently liquidated loans.
// GET /api/loans/liquidations?limit=N
func (h *LoanHandler) ListLiquidations(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	loans, err := h.svc.GetRecentLiquidations(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list liquidations failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list liquidations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"liquidations": loanRecords(loans),
		"count":        len(loans),
	})
}

// GetStats responds with per-status counts of tracked loans.
// GET /api/loans/stats
func (h *LoanHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStatistics(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "loan stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_tracked": stats.TotalTracked,
		"pending":       stats.Pending,
		"liquidated":    stats.Liquidated,
		"failed":        stats.Failed,
		"expired":       stats.Expired,
		"repaid":        stats.Repaid,
	})
}

// GetLoan responds with the tracking record plus best-effort on-chain state.
// The on-chain block is null when the ledger is unreachable.
// GET /api/loans/{loanId}
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID := pathParam(r, "loanId")

	view, err := h.svc.GetLoanStatus(r.Context(), loanID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "loan status failed",
			slog.String("loan_id", loanID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load loan")
		return
	}
	if !view.Found {
		writeError(w, http.StatusNotFound, "loan not found")
		return
	}

	resp := map[string]any{
		"loan": loanRecordJSON(*view.Loan),
	}
	if cs := view.BlockchainStatus; cs != nil {
		resp["blockchain_status"] = map[string]any{
			"is_defaulted":  cs.IsDefaulted,
			"is_active":     cs.IsActive,
			"is_liquidated": cs.IsLiquidated,
			"total_owed":    cs.TotalOwed,
			"amount_repaid": cs.AmountRepaid,
		}
	} else {
		resp["blockchain_status"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerLiquidation runs the liquidation protocol synchronously for one
// loan. Rejections (not pending, rate limited, already in flight, not yet
// defaulted) are 200 responses with success=false; only an unknown loan is
// a 404.
// POST /api/loans/{loanId}/liquidate
func (h *LoanHandler) TriggerLiquidation(w http.ResponseWriter, r *http.Request) {
	loanID := pathParam(r, "loanId")

	result, err := h.svc.TriggerLiquidation(r.Context(), loanID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual trigger failed",
			slog.String("loan_id", loanID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to trigger liquidation")
		return
	}

	status := http.StatusOK
	if !result.Success && result.Message == "Loan not found" {
		status = http.StatusNotFound
	}

	resp := map[string]any{
		"success": result.Success,
		"message": result.Message,
	}
	if result.Data != nil {
		resp["data"] = map[string]any{
			"tx_hash":    result.Data.TxHash,
			"auction_id": result.Data.AuctionID,
		}
	}
	writeJSON(w, status, resp)
}

// ---------------------------------------------------------------------------
// JSON views
// ---------------------------------------------------------------------------

// loanRecordView is the wire shape of a tracking record. Amount fields stay
// decimal strings.
type loanRecordView struct {
	LoanID              string     `json:"loan_id"`
	Borrower            string     `json:"borrower"`
	DomainTokenID       string     `json:"domain_token_id"`
	DomainName          *string    `json:"domain_name,omitempty"`
	PrincipalAmount     string     `json:"principal_amount"`
	TotalOwed           string     `json:"total_owed"`
	InterestRate        *string    `json:"interest_rate,omitempty"`
	PoolID              *string    `json:"pool_id,omitempty"`
	RequestID           *string    `json:"request_id,omitempty"`
	DueDate             time.Time  `json:"due_date"`
	Status              string     `json:"status"`
	LiquidationAttempts int        `json:"liquidation_attempts"`
	LastCheckTimestamp  *time.Time `json:"last_check_timestamp,omitempty"`
	LiquidationTxHash   *string    `json:"liquidation_tx_hash,omitempty"`
	AuctionID           *string    `json:"auction_id,omitempty"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	IsDefault           bool       `json:"is_default"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func loanRecordJSON(rec domain.TrackingRecord) loanRecordView {
	return loanRecordView{
		LoanID:              rec.LoanID,
		Borrower:            rec.Borrower,
		DomainTokenID:       rec.DomainTokenID,
		DomainName:          rec.DomainName,
		PrincipalAmount:     rec.PrincipalAmount,
		TotalOwed:           rec.TotalOwed,
		InterestRate:        rec.InterestRate,
		PoolID:              rec.PoolID,
		RequestID:           rec.RequestID,
		DueDate:             rec.DueDate,
		Status:              string(rec.Status),
		LiquidationAttempts: rec.LiquidationAttempts,
		LastCheckTimestamp:  rec.LastCheckTimestamp,
		LiquidationTxHash:   rec.LiquidationTxHash,
		AuctionID:           rec.AuctionID,
		ErrorMessage:        rec.ErrorMessage,
		IsDefault:           rec.IsDefault,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}

func loanRecords(recs []domain.TrackingRecord) []loanRecordView {
	out := make([]loanRecordView, len(recs))
	for i, r := range recs {
		out[i] = loanRecordJSON(r)
	}
	return out
}
