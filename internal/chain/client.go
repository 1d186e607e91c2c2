// Package chain implements the ledger gateway: JSON-RPC access to the
// lending contract, liquidation submission, and the telemetry reads.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ClientConfig holds connection parameters for the ledger RPC endpoint.
type ClientConfig struct {
	RPCURL      string
	ChainID     int64
	CallTimeout time.Duration
}

// Client wraps an ethclient connection. Every read/write helper bounds the
// call with the configured timeout so no gateway operation can block past
// its deadline.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	timeout time.Duration
}

// New dials the RPC endpoint and verifies it serves the configured chain id.
// A mismatch aborts startup rather than letting the bot sign transactions
// for the wrong network.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	got, err := eth.ChainID(dialCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: query chain id: %w", err)
	}
	if got.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: endpoint serves chain %d, config expects %d", got.Int64(), cfg.ChainID)
	}

	return &Client{
		eth:     eth,
		chainID: got,
		timeout: cfg.CallTimeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the verified chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Backend exposes the raw ethclient for ABI bindings.
func (c *Client) Backend() *ethclient.Client {
	return c.eth
}

// callCtx derives a timeout-bounded context for a single RPC round-trip.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// BalanceAt returns the current balance of the given account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	bal, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance of %s: %w", account.Hex(), err)
	}
	return bal, nil
}

// LatestHeader returns the most recent block header.
func (c *Client) LatestHeader(ctx context.Context) (*types.Header, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %w", err)
	}
	return header, nil
}

// PendingNonceAt returns the next nonce for the given account, including
// pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce of %s: %w", account.Hex(), err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	return price, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chain: send transaction %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// WaitMined blocks until the transaction has one confirmation. Receipt
// polling gets a longer deadline than a single call: three call timeouts.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*c.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("chain: wait mined %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}
