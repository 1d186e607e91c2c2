package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/domalend/liquidator/internal/domain"
)

// IndexerProber reports whether the event indexer is reachable and how far
// it has indexed. Implemented by the Ponder client.
type IndexerProber interface {
	ProbeIndexer(ctx context.Context) (ready bool, block int64, err error)
}

// StatusHandler serves operational status for the dashboard: run mode,
// liquidation toggle, wallet telemetry, and indexer reachability.
type StatusHandler struct {
	mode    string
	enabled bool
	gateway domain.LedgerGateway // nil in ingest-only deployments
	indexer IndexerProber        // nil when no indexer is configured
}

// NewStatusHandler creates a StatusHandler. gateway and indexer are optional.
func NewStatusHandler(mode string, enabled bool, gateway domain.LedgerGateway, indexer IndexerProber) *StatusHandler {
	return &StatusHandler{
		mode:    mode,
		enabled: enabled,
		gateway: gateway,
		indexer: indexer,
	}
}

// GetStatus responds with the current operational state. Telemetry reads are
// best effort: an unreachable ledger yields the documented fallbacks (zero
// balance, zero time) rather than an error response.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]any{
		"status":              "ok",
		"mode":                h.mode,
		"liquidation_enabled": h.enabled,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}

	if h.gateway != nil {
		resp["wallet_address"] = h.gateway.GetWalletAddress()
		resp["wallet_balance_wei"] = h.gateway.GetBalance(ctx).String()

		blockTime := h.gateway.GetBlockTimestamp(ctx)
		if blockTime.IsZero() {
			resp["block_timestamp"] = nil
		} else {
			resp["block_timestamp"] = blockTime.UTC().Format(time.RFC3339)
		}
	}

	if h.indexer != nil {
		ready, block, err := h.indexer.ProbeIndexer(ctx)
		indexer := map[string]any{
			"reachable": err == nil,
		}
		if err == nil {
			indexer["ready"] = ready
			indexer["block"] = block
		}
		resp["indexer"] = indexer
	}

	writeJSON(w, http.StatusOK, resp)
}
