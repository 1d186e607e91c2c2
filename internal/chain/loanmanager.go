package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LoanManagerABI covers the slice of the lending contract the liquidator
// touches:
//
//	function isLoanDefaulted(uint256 loanId) external view returns (bool);
//	function loans(uint256 loanId) external view returns (...loan fields...);
//	function liquidateCollateral(uint256 loanId) external returns (uint256 auctionId);
//	event CollateralLiquidated(uint256 indexed loanId, uint256 auctionId, address liquidator);
const LoanManagerABI = `[
	{
		"type": "function",
		"name": "isLoanDefaulted",
		"inputs": [
			{"name": "loanId", "type": "uint256"}
		],
		"outputs": [
			{"name": "defaulted", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "loans",
		"inputs": [
			{"name": "loanId", "type": "uint256"}
		],
		"outputs": [
			{"name": "domainTokenId", "type": "uint256"},
			{"name": "borrower", "type": "address"},
			{"name": "principalAmount", "type": "uint256"},
			{"name": "interestRate", "type": "uint256"},
			{"name": "startTime", "type": "uint256"},
			{"name": "duration", "type": "uint256"},
			{"name": "totalOwed", "type": "uint256"},
			{"name": "amountRepaid", "type": "uint256"},
			{"name": "poolId", "type": "uint256"},
			{"name": "requestId", "type": "uint256"},
			{"name": "isActive", "type": "bool"},
			{"name": "isLiquidated", "type": "bool"},
			{"name": "poolCreator", "type": "address"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "liquidateCollateral",
		"inputs": [
			{"name": "loanId", "type": "uint256"}
		],
		"outputs": [
			{"name": "auctionId", "type": "uint256"}
		],
		"stateMutability": "nonpayable"
	},
	{
		"type": "event",
		"name": "CollateralLiquidated",
		"inputs": [
			{"name": "loanId", "type": "uint256", "indexed": true},
			{"name": "auctionId", "type": "uint256", "indexed": false},
			{"name": "liquidator", "type": "address", "indexed": false}
		]
	}
]`

// Loan mirrors the flattened loans() getter tuple. Field names follow the
// ABI output names so UnpackIntoInterface can match them.
type Loan struct {
	DomainTokenId   *big.Int
	Borrower        common.Address
	PrincipalAmount *big.Int
	InterestRate    *big.Int
	StartTime       *big.Int
	Duration        *big.Int
	TotalOwed       *big.Int
	AmountRepaid    *big.Int
	PoolId          *big.Int
	RequestId       *big.Int
	IsActive        bool
	IsLiquidated    bool
	PoolCreator     common.Address
}

// CollateralLiquidatedEvent is the decoded liquidation-outcome log.
type CollateralLiquidatedEvent struct {
	LoanID     *big.Int
	AuctionID  *big.Int
	Liquidator common.Address
	Raw        types.Log
}

// LoanManager provides typed access to the lending contract.
type LoanManager struct {
	address common.Address
	abi     abi.ABI
	backend bind.ContractBackend
}

// NewLoanManager parses the ABI once and binds it to the contract address.
func NewLoanManager(address common.Address, backend bind.ContractBackend) (*LoanManager, error) {
	parsed, err := abi.JSON(strings.NewReader(LoanManagerABI))
	if err != nil {
		return nil, err
	}

	return &LoanManager{
		address: address,
		abi:     parsed,
		backend: backend,
	}, nil
}

// Address returns the contract address.
func (c *LoanManager) Address() common.Address {
	return c.address
}

// IsLoanDefaulted queries the contract's authoritative default flag.
func (c *LoanManager) IsLoanDefaulted(ctx context.Context, loanID *big.Int) (bool, error) {
	data, err := c.abi.Pack("isLoanDefaulted", loanID)
	if err != nil {
		return false, err
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}

	result, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return false, err
	}

	var defaulted bool
	if err := c.abi.UnpackIntoInterface(&defaulted, "isLoanDefaulted", result); err != nil {
		return false, err
	}

	return defaulted, nil
}

// GetLoan reads the full loan tuple.
func (c *LoanManager) GetLoan(ctx context.Context, loanID *big.Int) (*Loan, error) {
	data, err := c.abi.Pack("loans", loanID)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}

	result, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	var loan Loan
	if err := c.abi.UnpackIntoInterface(&loan, "loans", result); err != nil {
		return nil, err
	}

	return &loan, nil
}

// PackLiquidate packs the liquidateCollateral call data.
func (c *LoanManager) PackLiquidate(loanID *big.Int) ([]byte, error) {
	return c.abi.Pack("liquidateCollateral", loanID)
}

// EstimateLiquidateGas simulates liquidateCollateral and returns the gas
// estimate. A revert surfaces here as an error before any gas is spent.
func (c *LoanManager) EstimateLiquidateGas(ctx context.Context, from common.Address, loanID *big.Int) (uint64, error) {
	data, err := c.PackLiquidate(loanID)
	if err != nil {
		return 0, err
	}

	msg := ethereum.CallMsg{
		From: from,
		To:   &c.address,
		Data: data,
	}

	return c.backend.EstimateGas(ctx, msg)
}

// ParseCollateralLiquidated decodes a CollateralLiquidated log. The loan id
// is indexed; auction id and liquidator live in the data segment.
func (c *LoanManager) ParseCollateralLiquidated(log types.Log) (*CollateralLiquidatedEvent, error) {
	if len(log.Topics) < 2 {
		return nil, errors.New("not enough topics for CollateralLiquidated event")
	}

	ev := &CollateralLiquidatedEvent{Raw: log}
	ev.LoanID = new(big.Int).SetBytes(log.Topics[1].Bytes())

	if len(log.Data) >= 64 {
		ev.AuctionID = new(big.Int).SetBytes(log.Data[:32])
		ev.Liquidator = common.BytesToAddress(log.Data[32:64])
	}

	return ev, nil
}

// CollateralLiquidatedTopic returns the topic hash for the liquidation
// outcome event.
func (c *LoanManager) CollateralLiquidatedTopic() common.Hash {
	return c.abi.Events["CollateralLiquidated"].ID
}
