package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/domalend/liquidator/internal/domain"
)

// gasBufferPercent is added on top of the node's gas estimate so a
// liquidation does not run out of gas on minor state drift between
// estimation and inclusion.
const gasBufferPercent = 10

// Gateway implements domain.LedgerGateway against the lending contract.
type Gateway struct {
	client   *Client
	contract *LoanManager
	key      *ecdsa.PrivateKey
	wallet   common.Address
	signer   types.Signer
	logger   *slog.Logger
}

// NewGateway derives the liquidator wallet from the private key and binds
// the gateway to the lending contract.
func NewGateway(client *Client, contract *LoanManager, privateKeyHex string, logger *slog.Logger) (*Gateway, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse private key: %w", err)
	}

	return &Gateway{
		client:   client,
		contract: contract,
		key:      key,
		wallet:   ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(client.ChainID()),
		logger:   logger.With(slog.String("component", "ledger_gateway")),
	}, nil
}

// parseLoanID converts a ledger-native decimal loan id into a uint256.
func parseLoanID(loanID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(loanID), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("chain: invalid loan id %q", loanID)
	}
	return id, nil
}

// CheckDefault asks the contract whether the loan is in default. Read-only;
// every failure is returned as an error value for the caller's retry policy.
func (g *Gateway) CheckDefault(ctx context.Context, loanID string) (bool, error) {
	id, err := parseLoanID(loanID)
	if err != nil {
		return false, err
	}

	callCtx, cancel := g.client.callCtx(ctx)
	defer cancel()

	defaulted, err := g.contract.IsLoanDefaulted(callCtx, id)
	if err != nil {
		return false, fmt.Errorf("chain: check default for loan %s: %w", loanID, err)
	}
	return defaulted, nil
}

// GetLoanDetails reads the authoritative loan tuple. Errors propagate;
// callers only invoke this after confirming the loan should exist.
func (g *Gateway) GetLoanDetails(ctx context.Context, loanID string) (*domain.LoanDetails, error) {
	id, err := parseLoanID(loanID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := g.client.callCtx(ctx)
	defer cancel()

	loan, err := g.contract.GetLoan(callCtx, id)
	if err != nil {
		return nil, fmt.Errorf("chain: get loan %s: %w", loanID, err)
	}

	return &domain.LoanDetails{
		DomainTokenID:   loan.DomainTokenId,
		Borrower:        loan.Borrower.Hex(),
		PrincipalAmount: loan.PrincipalAmount,
		InterestRate:    loan.InterestRate,
		StartTime:       time.Unix(loan.StartTime.Int64(), 0).UTC(),
		Duration:        time.Duration(loan.Duration.Int64()) * time.Second,
		TotalOwed:       loan.TotalOwed,
		AmountRepaid:    loan.AmountRepaid,
		PoolID:          loan.PoolId,
		RequestID:       loan.RequestId,
		IsActive:        loan.IsActive,
		IsLiquidated:    loan.IsLiquidated,
		PoolCreator:     loan.PoolCreator.Hex(),
	}, nil
}

// Liquidate drives one liquidation submission through to confirmation:
// re-confirm default, estimate gas, submit with a buffered gas limit, wait
// one confirmation, then extract the auction id from the receipt logs.
// A missing outcome event is not a failure.
func (g *Gateway) Liquidate(ctx context.Context, loanID string) (*domain.LiquidationReceipt, error) {
	id, err := parseLoanID(loanID)
	if err != nil {
		return nil, err
	}

	// Re-confirm on-chain default status; a stale caller-side flag is never
	// trusted with a state-mutating call.
	checkCtx, cancelCheck := g.client.callCtx(ctx)
	defaulted, err := g.contract.IsLoanDefaulted(checkCtx, id)
	cancelCheck()
	if err != nil {
		return nil, fmt.Errorf("chain: re-confirm default for loan %s: %w", loanID, err)
	}
	if !defaulted {
		return nil, fmt.Errorf("chain: loan %s: %w", loanID, domain.ErrNotDefaulted)
	}

	estCtx, cancelEst := g.client.callCtx(ctx)
	estimate, err := g.contract.EstimateLiquidateGas(estCtx, g.wallet, id)
	cancelEst()
	if err != nil {
		return nil, fmt.Errorf("chain: estimate liquidation gas for loan %s: %w", loanID, err)
	}
	gasLimit := estimate + estimate*gasBufferPercent/100

	nonce, err := g.client.PendingNonceAt(ctx, g.wallet)
	if err != nil {
		return nil, err
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	data, err := g.contract.PackLiquidate(id)
	if err != nil {
		return nil, fmt.Errorf("chain: pack liquidation call for loan %s: %w", loanID, err)
	}

	contractAddr := g.contract.Address()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contractAddr,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, g.signer, g.key)
	if err != nil {
		return nil, fmt.Errorf("chain: sign liquidation for loan %s: %w", loanID, domain.ErrSigningFailed)
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "liquidation submitted",
		slog.String("loan_id", loanID),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("gas_limit", gasLimit),
	)

	receipt, err := g.client.WaitMined(ctx, signed)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("chain: liquidation tx %s: %w", signed.Hash().Hex(), domain.ErrTxReverted)
	}

	result := &domain.LiquidationReceipt{
		TxHash:      signed.Hash().Hex(),
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}

	// The auction id rides on the CollateralLiquidated log when the ledger
	// starts a recovery auction. Its absence does not fail the liquidation.
	topic := g.contract.CollateralLiquidatedTopic()
	for _, lg := range receipt.Logs {
		if lg.Address != contractAddr || len(lg.Topics) == 0 || lg.Topics[0] != topic {
			continue
		}
		ev, err := g.contract.ParseCollateralLiquidated(*lg)
		if err != nil || ev.AuctionID == nil {
			continue
		}
		auctionID := ev.AuctionID.String()
		result.AuctionID = &auctionID
		break
	}

	g.logger.InfoContext(ctx, "liquidation confirmed",
		slog.String("loan_id", loanID),
		slog.String("tx_hash", result.TxHash),
		slog.Uint64("block", result.BlockNumber),
		slog.Any("auction_id", result.AuctionID),
	)

	return result, nil
}

// GetBalance returns the liquidator wallet balance, or zero when the read
// fails. Telemetry only; not a control input.
func (g *Gateway) GetBalance(ctx context.Context) *big.Int {
	bal, err := g.client.BalanceAt(ctx, g.wallet)
	if err != nil {
		g.logger.WarnContext(ctx, "balance read failed, reporting zero",
			slog.String("error", err.Error()),
		)
		return big.NewInt(0)
	}
	return bal
}

// GetWalletAddress returns the liquidator wallet address.
func (g *Gateway) GetWalletAddress() string {
	return g.wallet.Hex()
}

// GetBlockTimestamp returns the latest block's timestamp, or the zero time
// when the read fails.
func (g *Gateway) GetBlockTimestamp(ctx context.Context) time.Time {
	header, err := g.client.LatestHeader(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "block timestamp read failed, reporting zero time",
			slog.String("error", err.Error()),
		)
		return time.Time{}
	}
	return time.Unix(int64(header.Time), 0).UTC()
}

// Compile-time interface check.
var _ domain.LedgerGateway = (*Gateway)(nil)
