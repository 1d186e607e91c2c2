package chain

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"github.com/domalend/liquidator/internal/domain"
)

// Operator-facing messages for the tracking record's error column. Revert
// reasons coming out of gas estimation are contract-specific strings, so the
// mapping works on substrings of the wrapped error chain.
const (
	MsgNotEligible       = "Loan is not yet eligible for liquidation"
	MsgAuctionNotSet     = "Auction contract not configured"
	MsgInsufficientFunds = "Insufficient gas funds in liquidator wallet"
	MsgRPCUnreachable    = "Ledger RPC unreachable"
	MsgTxReverted        = "Liquidation transaction reverted on-chain"
)

// Classify translates a gateway error into the human-readable message stored
// in TrackingRecord.ErrorMessage and shown to operators. Unknown errors are
// passed through with a generic prefix so nothing is silently swallowed.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, domain.ErrNotDefaulted):
		return MsgNotEligible
	case errors.Is(err, domain.ErrTxReverted):
		return MsgTxReverted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ECONNREFUSED):
		return MsgRPCUnreachable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "auction house not set"),
		strings.Contains(msg, "auction not configured"):
		return MsgAuctionNotSet
	case strings.Contains(msg, "not in default"),
		strings.Contains(msg, "not defaulted"):
		return MsgNotEligible
	case strings.Contains(msg, "insufficient funds"):
		return MsgInsufficientFunds
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return MsgRPCUnreachable
	case strings.Contains(msg, "execution reverted"):
		if reason := revertReason(err.Error()); reason != "" {
			return "Liquidation would revert: " + reason
		}
		return "Liquidation would revert"
	}

	return "Liquidation failed: " + err.Error()
}

// revertReason extracts the contract's revert string from an
// "execution reverted: <reason>" error, if the node included one.
func revertReason(msg string) string {
	const marker = "execution reverted"
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(msg[idx+len(marker):])
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimSpace(rest)
}
