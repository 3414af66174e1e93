// Package leverage implements the strategies manager: atomic flash-loan
// backed entry and exit of leveraged lending positions. Every public
// operation validates inputs, runs inside one staged market transaction, and
// either completes with a zero-shortfall account and no retained dust or
// unwinds entirely.
package leverage

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"lev-periphery/internal/market"
	"lev-periphery/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Converter is the token-converter surface the manager depends on. Success
// is judged by balance deltas, never by the call's return value alone.
type Converter interface {
	Address() common.Address
	Multicall(ctx context.Context, caller common.Address, instructions []byte) error
}

// Manager orchestrates leveraged positions on behalf of initiators.
type Manager struct {
	svc       market.Service
	tokens    market.TokenLedger
	converter Converter
	log       *zap.Logger
	metrics   *metrics.Metrics

	self     common.Address
	treasury common.Address

	// opMu serializes top-level operations: the execution model is strictly
	// single-threaded per call, with the flash-loan callback re-entering on
	// the same call stack.
	opMu sync.Mutex
	inOp scopeHolder
}

func NewManager(svc market.Service, tokens market.TokenLedger, converter Converter, self, treasury common.Address, log *zap.Logger, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		svc:       svc,
		tokens:    tokens,
		converter: converter,
		log:       log,
		metrics:   m,
		self:      self,
		treasury:  treasury,
	}
}

// Address is the manager's identity as a flash-loan receiver.
func (m *Manager) Address() common.Address {
	return m.self
}

// EnterParams parameterizes a two-market entry seeded in the collateral
// asset.
type EnterParams struct {
	Initiator              common.Address
	CollateralMarket       common.Address
	CollateralSeed         *big.Int
	BorrowMarket           common.Address
	FlashLoanAmount        *big.Int
	MinCollateralAfterSwap *big.Int
	SwapInstructions       []byte
}

// EnterFromBorrowParams parameterizes a two-market entry seeded in the
// borrowed asset, combined with the flash loan before conversion.
type EnterFromBorrowParams struct {
	Initiator              common.Address
	CollateralMarket       common.Address
	BorrowMarket           common.Address
	BorrowedSeed           *big.Int
	FlashLoanAmount        *big.Int
	MinCollateralAfterSwap *big.Int
	SwapInstructions       []byte
}

// ExitParams parameterizes a two-market exit.
type ExitParams struct {
	Initiator              common.Address
	CollateralMarket       common.Address
	CollateralRedeemAmount *big.Int
	BorrowMarket           common.Address
	RepayFlashLoanAmount   *big.Int
	MinBorrowedAfterSwap   *big.Int
	SwapInstructions       []byte
}

// EnterSingleAssetLeverage flash-borrows the market's own underlying,
// combines it with the initiator's seed, mints the total as collateral and
// borrows the flash repayment on the initiator's behalf.
func (m *Manager) EnterSingleAssetLeverage(ctx context.Context, caller, initiator, mkt common.Address, seed, flashLoanAmount *big.Int) error {
	if err := m.validateSingleAsset(mkt, flashLoanAmount); err != nil {
		return err
	}
	if err := m.authorize(caller, initiator); err != nil {
		return err
	}
	return m.run(ctx, "enter_single_asset_leverage", func(ctx context.Context) error {
		if err := m.svc.AccrueInterest(ctx, mkt); err != nil {
			return err
		}
		underlying, err := m.svc.Underlying(mkt)
		if err != nil {
			return err
		}
		if err := m.pullSeed(ctx, underlying, initiator, seed); err != nil {
			return err
		}
		m.inOp.set(&opScope{
			kind:             opEnterSingleAsset,
			initiator:        initiator,
			collateralMarket: mkt,
			seedOrRedeem:     seed,
		})
		defer m.inOp.clear()
		if err := m.flashLoan(ctx, mkt, flashLoanAmount); err != nil {
			return err
		}
		if err := m.checkSolvency(ctx, initiator); err != nil {
			return err
		}
		return m.sweep(ctx, underlying, initiator)
	})
}

// EnterLeverage flash-borrows the borrow market's underlying, converts it
// into the collateral asset, mints it with the initiator's seed and borrows
// the flash repayment on the borrow market.
func (m *Manager) EnterLeverage(ctx context.Context, caller common.Address, p EnterParams) error {
	if err := m.validatePair(p.CollateralMarket, p.BorrowMarket, p.FlashLoanAmount); err != nil {
		return err
	}
	if err := m.authorize(caller, p.Initiator); err != nil {
		return err
	}
	return m.run(ctx, "enter_leverage", func(ctx context.Context) error {
		collateralAsset, borrowAsset, err := m.accruePair(ctx, p.CollateralMarket, p.BorrowMarket)
		if err != nil {
			return err
		}
		if err := m.pullSeed(ctx, collateralAsset, p.Initiator, p.CollateralSeed); err != nil {
			return err
		}
		m.inOp.set(&opScope{
			kind:             opEnter,
			initiator:        p.Initiator,
			collateralMarket: p.CollateralMarket,
			borrowMarket:     p.BorrowMarket,
			seedOrRedeem:     p.CollateralSeed,
			minAmountOut:     p.MinCollateralAfterSwap,
			swapInstructions: p.SwapInstructions,
		})
		defer m.inOp.clear()
		if err := m.flashLoan(ctx, p.BorrowMarket, p.FlashLoanAmount); err != nil {
			return err
		}
		if err := m.checkSolvency(ctx, p.Initiator); err != nil {
			return err
		}
		if err := m.sweep(ctx, collateralAsset, p.Initiator); err != nil {
			return err
		}
		return m.sweep(ctx, borrowAsset, p.Initiator)
	})
}

// EnterLeverageFromBorrow is the borrowed-asset-seeded variant: the seed is
// pulled in the borrow asset and converted together with the flash loan.
func (m *Manager) EnterLeverageFromBorrow(ctx context.Context, caller common.Address, p EnterFromBorrowParams) error {
	if err := m.validatePair(p.CollateralMarket, p.BorrowMarket, p.FlashLoanAmount); err != nil {
		return err
	}
	if err := m.authorize(caller, p.Initiator); err != nil {
		return err
	}
	return m.run(ctx, "enter_leverage_from_borrow", func(ctx context.Context) error {
		collateralAsset, borrowAsset, err := m.accruePair(ctx, p.CollateralMarket, p.BorrowMarket)
		if err != nil {
			return err
		}
		if err := m.pullSeed(ctx, borrowAsset, p.Initiator, p.BorrowedSeed); err != nil {
			return err
		}
		m.inOp.set(&opScope{
			kind:             opEnterFromBorrow,
			initiator:        p.Initiator,
			collateralMarket: p.CollateralMarket,
			borrowMarket:     p.BorrowMarket,
			seedOrRedeem:     p.BorrowedSeed,
			minAmountOut:     p.MinCollateralAfterSwap,
			swapInstructions: p.SwapInstructions,
		})
		defer m.inOp.clear()
		if err := m.flashLoan(ctx, p.BorrowMarket, p.FlashLoanAmount); err != nil {
			return err
		}
		if err := m.checkSolvency(ctx, p.Initiator); err != nil {
			return err
		}
		if err := m.sweep(ctx, collateralAsset, p.Initiator); err != nil {
			return err
		}
		return m.sweep(ctx, borrowAsset, p.Initiator)
	})
}

// ExitLeverage flash-borrows the borrow asset, repays the initiator's debt
// (capped at the actual debt), redeems collateral, converts it back into the
// borrow asset and repays the flash loan from the proceeds. Borrow-asset
// dust goes to the treasury, collateral-asset dust back to the initiator.
func (m *Manager) ExitLeverage(ctx context.Context, caller common.Address, p ExitParams) error {
	if err := m.validatePair(p.CollateralMarket, p.BorrowMarket, p.RepayFlashLoanAmount); err != nil {
		return err
	}
	if err := m.authorize(caller, p.Initiator); err != nil {
		return err
	}
	return m.run(ctx, "exit_leverage", func(ctx context.Context) error {
		collateralAsset, borrowAsset, err := m.accruePair(ctx, p.CollateralMarket, p.BorrowMarket)
		if err != nil {
			return err
		}
		m.inOp.set(&opScope{
			kind:             opExit,
			initiator:        p.Initiator,
			collateralMarket: p.CollateralMarket,
			borrowMarket:     p.BorrowMarket,
			seedOrRedeem:     p.CollateralRedeemAmount,
			minAmountOut:     p.MinBorrowedAfterSwap,
			swapInstructions: p.SwapInstructions,
		})
		defer m.inOp.clear()
		if err := m.flashLoan(ctx, p.BorrowMarket, p.RepayFlashLoanAmount); err != nil {
			return err
		}
		if err := m.checkSolvency(ctx, p.Initiator); err != nil {
			return err
		}
		if err := m.sweep(ctx, collateralAsset, p.Initiator); err != nil {
			return err
		}
		return m.sweep(ctx, borrowAsset, m.treasury)
	})
}

// ExitSingleAssetLeverage repays the initiator's debt on the market from a
// flash loan and redeems exactly enough collateral to repay it.
func (m *Manager) ExitSingleAssetLeverage(ctx context.Context, caller, initiator, mkt common.Address, flashLoanAmount *big.Int) error {
	if err := m.validateSingleAsset(mkt, flashLoanAmount); err != nil {
		return err
	}
	if err := m.authorize(caller, initiator); err != nil {
		return err
	}
	return m.run(ctx, "exit_single_asset_leverage", func(ctx context.Context) error {
		if err := m.svc.AccrueInterest(ctx, mkt); err != nil {
			return err
		}
		underlying, err := m.svc.Underlying(mkt)
		if err != nil {
			return err
		}
		m.inOp.set(&opScope{
			kind:             opExitSingleAsset,
			initiator:        initiator,
			collateralMarket: mkt,
		})
		defer m.inOp.clear()
		if err := m.flashLoan(ctx, mkt, flashLoanAmount); err != nil {
			return err
		}
		if err := m.checkSolvency(ctx, initiator); err != nil {
			return err
		}
		return m.sweep(ctx, underlying, m.treasury)
	})
}

func (m *Manager) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	err := m.svc.Atomic(ctx, fn)
	if err != nil {
		m.metrics.OperationsFailed.Inc()
		m.log.Warn("leverage operation failed", zap.String("op", op), zap.Error(err))
		return err
	}
	m.metrics.OperationsExecuted.Inc()
	m.log.Info("leverage operation executed", zap.String("op", op))
	return nil
}

func (m *Manager) validateSingleAsset(mkt common.Address, flashLoanAmount *big.Int) error {
	if flashLoanAmount == nil || flashLoanAmount.Sign() == 0 {
		return ErrZeroFlashLoanAmount
	}
	if !m.svc.IsListed(mkt) {
		return ErrMarketNotListed
	}
	if m.svc.IsNativeMarket(mkt) {
		return ErrNativeMarketNotSupported
	}
	return nil
}

func (m *Manager) validatePair(collateralMarket, borrowMarket common.Address, flashLoanAmount *big.Int) error {
	if flashLoanAmount == nil || flashLoanAmount.Sign() == 0 {
		return ErrZeroFlashLoanAmount
	}
	if collateralMarket == borrowMarket {
		return ErrIdenticalMarkets
	}
	if !m.svc.IsListed(collateralMarket) || !m.svc.IsListed(borrowMarket) {
		return ErrMarketNotListed
	}
	return nil
}

func (m *Manager) authorize(caller, initiator common.Address) error {
	if caller == initiator {
		return nil
	}
	if m.svc.ApprovedDelegate(initiator, caller) {
		return nil
	}
	return ErrNotApprovedDelegate
}

// accruePair accrues interest on both markets before any balance is read so
// that liquidity checks never see a stale snapshot.
func (m *Manager) accruePair(ctx context.Context, collateralMarket, borrowMarket common.Address) (collateralAsset, borrowAsset common.Address, err error) {
	if err = m.svc.AccrueInterest(ctx, collateralMarket); err != nil {
		return
	}
	if err = m.svc.AccrueInterest(ctx, borrowMarket); err != nil {
		return
	}
	if collateralAsset, err = m.svc.Underlying(collateralMarket); err != nil {
		return
	}
	borrowAsset, err = m.svc.Underlying(borrowMarket)
	return
}

func (m *Manager) pullSeed(ctx context.Context, asset, initiator common.Address, seed *big.Int) error {
	if seed == nil || seed.Sign() == 0 {
		return nil
	}
	if err := m.tokens.Transfer(ctx, asset, initiator, m.self, seed); err != nil {
		return fmt.Errorf("seed transfer: %w", err)
	}
	return nil
}

func (m *Manager) flashLoan(ctx context.Context, mkt common.Address, amount *big.Int) error {
	return m.svc.ExecuteFlashLoan(ctx, m.self, m.self, m, []common.Address{mkt}, []*big.Int{amount}, nil)
}

func (m *Manager) checkSolvency(ctx context.Context, account common.Address) error {
	liq, err := m.svc.GetAccountLiquidity(ctx, account)
	if err != nil {
		return fmt.Errorf("%w: liquidity query: %v", ErrLeverageCausesLiquidation, err)
	}
	if liq.Shortfall != nil && liq.Shortfall.Sign() != 0 {
		return ErrLeverageCausesLiquidation
	}
	return nil
}

// sweep forwards any residual balance of asset out of the manager's custody.
// A zero balance is a no-op and emits nothing.
func (m *Manager) sweep(ctx context.Context, asset, to common.Address) error {
	balance := m.tokens.BalanceOf(asset, m.self)
	if balance.Sign() == 0 {
		return nil
	}
	if err := m.tokens.Transfer(ctx, asset, m.self, to, balance); err != nil {
		return fmt.Errorf("dust sweep: %w", err)
	}
	m.log.Debug("swept dust",
		zap.String("asset", asset.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", balance.String()),
	)
	return nil
}
