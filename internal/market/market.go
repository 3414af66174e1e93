package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Action identifies a pausable market operation.
type Action int

const (
	ActionMint Action = iota
	ActionBorrow
	ActionRedeem
	ActionRepay
)

func (a Action) String() string {
	switch a {
	case ActionMint:
		return "mint"
	case ActionBorrow:
		return "borrow"
	case ActionRedeem:
		return "redeem"
	case ActionRepay:
		return "repay"
	}
	return "unknown"
}

// PoolID identifies a lending pool a market can be listed under. A market
// listed under a single pool is the one-element case; nothing downstream
// distinguishes "core" from "isolated" beyond the length of the enumeration.
type PoolID uint64

// Factors is a collateral-factor / liquidation-threshold pair, 1e18 scale.
type Factors struct {
	CollateralFactor     *big.Int
	LiquidationThreshold *big.Int
}

// Liquidity is the aggregate account liquidity report. Amounts are USD
// values at 1e18 scale; at most one of the two is nonzero.
type Liquidity struct {
	Liquidity *big.Int
	Shortfall *big.Int
}

// FlashLoanReceiver is the callback side of a flash loan. The originator
// passes its own address as caller; receivers must verify it before acting.
type FlashLoanReceiver interface {
	Address() common.Address
	ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator, onBehalf common.Address, data []byte) ([]*big.Int, error)
}

// TokenLedger moves and reports underlying token balances.
type TokenLedger interface {
	BalanceOf(token, holder common.Address) *big.Int
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// PriceOracle reports prices in the 1e(36-decimals) fixed-point scale.
type PriceOracle interface {
	GetPrice(asset common.Address) (*big.Int, error)
	GetUnderlyingPrice(market common.Address) (*big.Int, error)
}

// Governance is the market-parameter surface used by safety interventions.
type Governance interface {
	SetActionPaused(ctx context.Context, market common.Address, action Action, paused bool) error
	ActionPaused(market common.Address, action Action) bool
	SetCollateralFactor(ctx context.Context, pool PoolID, market common.Address, factors Factors) error
	CollateralFactor(pool PoolID, market common.Address) (Factors, error)
	PoolsForMarket(market common.Address) []PoolID
	SetMarketBorrowCap(ctx context.Context, market common.Address, cap *big.Int) error
	SetMarketSupplyCap(ctx context.Context, market common.Address, cap *big.Int) error
	UnlistMarket(ctx context.Context, market common.Address) error
}

// Service is the lending-market surface the periphery composes. Success is a
// nil error; every failure names the step that failed.
type Service interface {
	Governance

	// Atomic runs fn against staged state: on error every mutation made
	// inside fn is discarded.
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error

	IsListed(market common.Address) bool
	IsNativeMarket(market common.Address) bool
	Underlying(market common.Address) (common.Address, error)
	UnderlyingDecimals(market common.Address) (uint8, error)

	AccrueInterest(ctx context.Context, market common.Address) error
	MintBehalf(ctx context.Context, payer, minter, market common.Address, amount *big.Int) error
	BorrowBehalf(ctx context.Context, borrower, receiver, market common.Address, amount *big.Int) error
	RepayBorrowBehalf(ctx context.Context, payer, borrower, market common.Address, amount *big.Int) error
	RedeemUnderlyingBehalf(ctx context.Context, redeemer, receiver, market common.Address, amount *big.Int) error

	BorrowBalanceCurrent(ctx context.Context, market, account common.Address) (*big.Int, error)
	BalanceOfUnderlying(ctx context.Context, market, account common.Address) (*big.Int, error)
	GetAccountLiquidity(ctx context.Context, account common.Address) (Liquidity, error)

	ApproveDelegate(account, delegate common.Address, approved bool)
	ApprovedDelegate(account, delegate common.Address) bool

	FlashLoanOriginator() common.Address
	FlashLoanPremiumBps() uint64
	ExecuteFlashLoan(ctx context.Context, caller, onBehalf common.Address, receiver FlashLoanReceiver, markets []common.Address, amounts []*big.Int, data []byte) error
}
