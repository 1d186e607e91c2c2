package chain_test

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/domalend/liquidator/internal/chain"
	"github.com/domalend/liquidator/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
		{
			name: "not defaulted sentinel",
			err:  fmt.Errorf("chain: loan 42: %w", domain.ErrNotDefaulted),
			want: chain.MsgNotEligible,
		},
		{
			name: "revert reason not in default",
			err:  errors.New("execution reverted: Loan not in default"),
			want: chain.MsgNotEligible,
		},
		{
			name: "auction house not set",
			err:  errors.New("execution reverted: auction house not set"),
			want: chain.MsgAuctionNotSet,
		},
		{
			name: "insufficient funds",
			err:  errors.New("insufficient funds for gas * price + value"),
			want: chain.MsgInsufficientFunds,
		},
		{
			name: "deadline exceeded",
			err:  fmt.Errorf("chain: check default: %w", context.DeadlineExceeded),
			want: chain.MsgRPCUnreachable,
		},
		{
			name: "connection refused syscall",
			err:  fmt.Errorf("dial tcp 127.0.0.1:8545: %w", syscall.ECONNREFUSED),
			want: chain.MsgRPCUnreachable,
		},
		{
			name: "receipt status zero",
			err:  fmt.Errorf("chain: liquidation tx 0xdead: %w", domain.ErrTxReverted),
			want: chain.MsgTxReverted,
		},
		{
			name: "generic revert with reason",
			err:  errors.New("execution reverted: domain token locked"),
			want: "Liquidation would revert: domain token locked",
		},
		{
			name: "generic revert without reason",
			err:  errors.New("execution reverted"),
			want: "Liquidation would revert",
		},
		{
			name: "unknown error passes through",
			err:  errors.New("nonce too low"),
			want: "Liquidation failed: nonce too low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chain.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
