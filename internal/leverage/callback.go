package leverage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ExecuteOperation is the flash-loan callback. Its legitimacy is verified
// from first principles on every invocation: caller identity, recorded
// initiator and on-behalf addresses, triple arity, and the presence of an
// in-flight operation. Only then does it resume the matching continuation.
func (m *Manager) ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator, onBehalf common.Address, data []byte) ([]*big.Int, error) {
	if caller != m.svc.FlashLoanOriginator() {
		return nil, ErrUnauthorizedExecutor
	}
	if initiator != m.self {
		return nil, ErrInitiatorMismatch
	}
	if onBehalf != m.self {
		return nil, ErrOnBehalfMismatch
	}
	if len(assets) != 1 || len(amounts) != 1 || len(premiums) != 1 {
		return nil, ErrFlashLoanAssetMismatch
	}
	sc := m.inOp.get()
	if sc == nil {
		return nil, ErrInvalidExecuteOperation
	}
	amount := amounts[0]
	owed := new(big.Int).Add(amount, premiums[0])

	var err error
	switch sc.kind {
	case opEnterSingleAsset:
		err = m.resumeEnterSingleAsset(ctx, sc, assets[0], owed)
	case opEnter, opEnterFromBorrow:
		err = m.resumeEnter(ctx, sc, assets[0], owed)
	case opExit:
		err = m.resumeExit(ctx, sc, assets[0], amount, owed)
	case opExitSingleAsset:
		err = m.resumeExitSingleAsset(ctx, sc, assets[0], amount, owed)
	default:
		return nil, ErrInvalidExecuteOperation
	}
	if err != nil {
		return nil, err
	}
	return []*big.Int{owed}, nil
}

func (m *Manager) resumeEnterSingleAsset(ctx context.Context, sc *opScope, asset common.Address, owed *big.Int) error {
	underlying, err := m.svc.Underlying(sc.collateralMarket)
	if err != nil {
		return err
	}
	if asset != underlying {
		return ErrFlashLoanAssetMismatch
	}
	// seed and flash principal both sit at the manager now
	total := m.tokens.BalanceOf(asset, m.self)
	if err := m.svc.MintBehalf(ctx, m.self, sc.initiator, sc.collateralMarket, total); err != nil {
		return err
	}
	return m.svc.BorrowBehalf(ctx, sc.initiator, m.self, sc.collateralMarket, owed)
}

func (m *Manager) resumeEnter(ctx context.Context, sc *opScope, asset common.Address, owed *big.Int) error {
	borrowAsset, err := m.svc.Underlying(sc.borrowMarket)
	if err != nil {
		return err
	}
	if asset != borrowAsset {
		return ErrFlashLoanAssetMismatch
	}
	collateralAsset, err := m.svc.Underlying(sc.collateralMarket)
	if err != nil {
		return err
	}
	// for opEnter only the flash principal is borrow-denominated; for
	// opEnterFromBorrow the seed is too, and both convert together
	converted, err := m.convert(ctx, borrowAsset, collateralAsset, sc.swapInstructions)
	if err != nil {
		return err
	}
	mintAmount := m.tokens.BalanceOf(collateralAsset, m.self)
	if sc.minAmountOut != nil && mintAmount.Cmp(sc.minAmountOut) < 0 {
		return fmt.Errorf("%w: got %s, want at least %s", ErrSlippageExceeded, mintAmount, sc.minAmountOut)
	}
	m.log.Debug("converted flash principal",
		zap.String("op", sc.kind.String()),
		zap.String("converted", converted.String()),
		zap.String("mint_amount", mintAmount.String()),
	)
	if err := m.svc.MintBehalf(ctx, m.self, sc.initiator, sc.collateralMarket, mintAmount); err != nil {
		return err
	}
	return m.svc.BorrowBehalf(ctx, sc.initiator, m.self, sc.borrowMarket, owed)
}

func (m *Manager) resumeExit(ctx context.Context, sc *opScope, asset common.Address, amount, owed *big.Int) error {
	borrowAsset, err := m.svc.Underlying(sc.borrowMarket)
	if err != nil {
		return err
	}
	if asset != borrowAsset {
		return ErrFlashLoanAssetMismatch
	}
	collateralAsset, err := m.svc.Underlying(sc.collateralMarket)
	if err != nil {
		return err
	}
	if err := m.repayUpToDebt(ctx, sc.borrowMarket, sc.initiator, amount); err != nil {
		return err
	}
	if err := m.svc.RedeemUnderlyingBehalf(ctx, sc.initiator, m.self, sc.collateralMarket, sc.seedOrRedeem); err != nil {
		return err
	}
	proceeds, err := m.convert(ctx, collateralAsset, borrowAsset, sc.swapInstructions)
	if err != nil {
		return err
	}
	if sc.minAmountOut != nil && proceeds.Cmp(sc.minAmountOut) < 0 {
		return fmt.Errorf("%w: got %s, want at least %s", ErrSlippageExceeded, proceeds, sc.minAmountOut)
	}
	if m.tokens.BalanceOf(borrowAsset, m.self).Cmp(owed) < 0 {
		return ErrInsufficientFlashLoanFunds
	}
	return nil
}

func (m *Manager) resumeExitSingleAsset(ctx context.Context, sc *opScope, asset common.Address, amount, owed *big.Int) error {
	underlying, err := m.svc.Underlying(sc.collateralMarket)
	if err != nil {
		return err
	}
	if asset != underlying {
		return ErrFlashLoanAssetMismatch
	}
	if err := m.repayUpToDebt(ctx, sc.collateralMarket, sc.initiator, amount); err != nil {
		return err
	}
	// redeem exactly what is missing to cover the repayment
	have := m.tokens.BalanceOf(underlying, m.self)
	if have.Cmp(owed) < 0 {
		missing := new(big.Int).Sub(owed, have)
		if err := m.svc.RedeemUnderlyingBehalf(ctx, sc.initiator, m.self, sc.collateralMarket, missing); err != nil {
			return err
		}
	}
	if m.tokens.BalanceOf(underlying, m.self).Cmp(owed) < 0 {
		return ErrInsufficientFlashLoanFunds
	}
	return nil
}

// repayUpToDebt repays the initiator's debt, capped at the outstanding
// amount: any flash-loan excess over real debt is deliberate
// over-provisioning against interest accrual, not an error.
func (m *Manager) repayUpToDebt(ctx context.Context, mkt, initiator common.Address, available *big.Int) error {
	debt, err := m.svc.BorrowBalanceCurrent(ctx, mkt, initiator)
	if err != nil {
		return err
	}
	repay := new(big.Int).Set(available)
	if repay.Cmp(debt) > 0 {
		repay.Set(debt)
	}
	if repay.Sign() == 0 {
		return nil
	}
	return m.svc.RepayBorrowBehalf(ctx, m.self, initiator, mkt, repay)
}

// convert hands the manager's full balance of from to the converter and
// measures the resulting balance delta of to. A failing call or a zero
// delta is a failed swap.
func (m *Manager) convert(ctx context.Context, from, to common.Address, instructions []byte) (*big.Int, error) {
	input := m.tokens.BalanceOf(from, m.self)
	if input.Sign() == 0 {
		return nil, fmt.Errorf("%w: nothing to convert", ErrTokenSwapCallFailed)
	}
	before := m.tokens.BalanceOf(to, m.self)
	if err := m.tokens.Transfer(ctx, from, m.self, m.converter.Address(), input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenSwapCallFailed, err)
	}
	if err := m.converter.Multicall(ctx, m.self, instructions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenSwapCallFailed, err)
	}
	delta := new(big.Int).Sub(m.tokens.BalanceOf(to, m.self), before)
	if delta.Sign() <= 0 {
		return nil, fmt.Errorf("%w: conversion produced no output", ErrTokenSwapCallFailed)
	}
	return delta, nil
}
