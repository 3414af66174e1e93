package ledger

import (
	"context"
	"fmt"
	"math/big"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

// AccrueInterest advances the market's borrow index to the current clock.
func (l *Ledger) AccrueInterest(ctx context.Context, addr common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return err
	}
	l.accrueLocked(st)
	return nil
}

func (l *Ledger) accrueLocked(st *marketState) {
	now := l.now().Unix()
	elapsed := now - st.lastAccrual
	st.lastAccrual = now
	if elapsed <= 0 || st.ratePerSecond.Sign() == 0 || st.totalBorrows.Sign() == 0 {
		return
	}
	// simple interest per accrual window: factor = rate * elapsed
	factor := new(big.Int).Mul(st.ratePerSecond, big.NewInt(elapsed))
	interest := new(big.Int).Mul(st.totalBorrows, factor)
	interest.Div(interest, oneE18)
	st.totalBorrows.Add(st.totalBorrows, interest)
	delta := new(big.Int).Mul(st.borrowIndex, factor)
	delta.Div(delta, oneE18)
	st.borrowIndex.Add(st.borrowIndex, delta)
}

func borrowBalanceLocked(st *marketState, account common.Address) *big.Int {
	snap := st.borrows[account]
	if snap == nil || snap.principal.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(snap.principal, st.borrowIndex)
	return out.Div(out, snap.index)
}

func (l *Ledger) BorrowBalanceCurrent(ctx context.Context, addr, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return nil, err
	}
	l.accrueLocked(st)
	return borrowBalanceLocked(st, account), nil
}

func (l *Ledger) BalanceOfUnderlying(ctx context.Context, addr, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return nil, err
	}
	return cloneOrZero(st.supplies[account]), nil
}

// MintBehalf pulls amount of underlying from payer into the market's cash
// and credits the supply to minter.
func (l *Ledger) MintBehalf(ctx context.Context, payer, minter, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint: amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	if st.paused[market.ActionMint] {
		return fmt.Errorf("mint: %w", ErrActionPaused)
	}
	l.accrueLocked(st)
	if st.supplyCap.Sign() > 0 {
		next := new(big.Int).Add(st.totalSupply, amount)
		if next.Cmp(st.supplyCap) > 0 {
			return fmt.Errorf("mint: %w", ErrSupplyCapExceeded)
		}
	}
	if err := l.transferLocked(st.underlying, payer, addr, amount); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	st.supplies[minter] = new(big.Int).Add(cloneOrZero(st.supplies[minter]), amount)
	st.totalSupply.Add(st.totalSupply, amount)
	return nil
}

// BorrowBehalf records debt against borrower and pays the proceeds to
// receiver from the market's cash.
func (l *Ledger) BorrowBehalf(ctx context.Context, borrower, receiver, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("borrow: amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return fmt.Errorf("borrow: %w", err)
	}
	if st.paused[market.ActionBorrow] {
		return fmt.Errorf("borrow: %w", ErrActionPaused)
	}
	l.accrueLocked(st)
	if st.borrowCap.Sign() > 0 {
		next := new(big.Int).Add(st.totalBorrows, amount)
		if next.Cmp(st.borrowCap) > 0 {
			return fmt.Errorf("borrow: %w", ErrBorrowCapExceeded)
		}
	}
	cash := l.balances(st.underlying)[addr]
	if cash == nil || cash.Cmp(amount) < 0 {
		return fmt.Errorf("borrow: %w", ErrInsufficientCash)
	}
	owed := borrowBalanceLocked(st, borrower)
	owed.Add(owed, amount)
	st.borrows[borrower] = &borrowSnapshot{principal: owed, index: new(big.Int).Set(st.borrowIndex)}
	st.totalBorrows.Add(st.totalBorrows, amount)
	if err := l.transferLocked(st.underlying, addr, receiver, amount); err != nil {
		return fmt.Errorf("borrow: %w", err)
	}
	return nil
}

// RepayBorrowBehalf pays down borrower's debt with payer's tokens. Amounts
// above the outstanding debt are capped at the debt.
func (l *Ledger) RepayBorrowBehalf(ctx context.Context, payer, borrower, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("repay: amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return fmt.Errorf("repay: %w", err)
	}
	if st.paused[market.ActionRepay] {
		return fmt.Errorf("repay: %w", ErrActionPaused)
	}
	l.accrueLocked(st)
	owed := borrowBalanceLocked(st, borrower)
	pay := new(big.Int).Set(amount)
	if pay.Cmp(owed) > 0 {
		pay.Set(owed)
	}
	if pay.Sign() == 0 {
		return nil
	}
	if err := l.transferLocked(st.underlying, payer, addr, pay); err != nil {
		return fmt.Errorf("repay: %w", err)
	}
	remaining := new(big.Int).Sub(owed, pay)
	if remaining.Sign() == 0 {
		delete(st.borrows, borrower)
	} else {
		st.borrows[borrower] = &borrowSnapshot{principal: remaining, index: new(big.Int).Set(st.borrowIndex)}
	}
	if st.totalBorrows.Cmp(pay) < 0 {
		st.totalBorrows.SetInt64(0)
	} else {
		st.totalBorrows.Sub(st.totalBorrows, pay)
	}
	return nil
}

// RedeemUnderlyingBehalf withdraws amount of redeemer's supplied underlying
// and pays it to receiver.
func (l *Ledger) RedeemUnderlyingBehalf(ctx context.Context, redeemer, receiver, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("redeem: amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return fmt.Errorf("redeem: %w", err)
	}
	if st.paused[market.ActionRedeem] {
		return fmt.Errorf("redeem: %w", ErrActionPaused)
	}
	l.accrueLocked(st)
	supplied := cloneOrZero(st.supplies[redeemer])
	if supplied.Cmp(amount) < 0 {
		return fmt.Errorf("redeem: %w", ErrRedeemExceedsBalance)
	}
	if err := l.transferLocked(st.underlying, addr, receiver, amount); err != nil {
		return fmt.Errorf("redeem: %w", err)
	}
	st.supplies[redeemer] = supplied.Sub(supplied, amount)
	st.totalSupply.Sub(st.totalSupply, amount)
	return nil
}

// GetAccountLiquidity aggregates collateral value (weighted by the primary
// pool's collateral factor) against borrow value across all listed markets.
// Values come out at 1e18 USD scale; the 1e(36-decimals) oracle scale makes
// supply*price land on 1e36 regardless of token decimals.
func (l *Ledger) GetAccountLiquidity(ctx context.Context, account common.Address) (market.Liquidity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	collateral := new(big.Int)
	borrowed := new(big.Int)
	for _, st := range l.markets {
		if !st.listed {
			continue
		}
		l.accrueLocked(st)
		price, err := l.oracle.GetPrice(st.underlying)
		if err != nil {
			return market.Liquidity{}, fmt.Errorf("liquidity: %w", err)
		}
		if supplied := st.supplies[account]; supplied != nil && supplied.Sign() > 0 {
			factors := st.factors[st.pools[0]]
			value := new(big.Int).Mul(supplied, price)
			value.Div(value, oneE18)
			value.Mul(value, factors.CollateralFactor)
			value.Div(value, oneE18)
			collateral.Add(collateral, value)
		}
		if debt := borrowBalanceLocked(st, account); debt.Sign() > 0 {
			value := new(big.Int).Mul(debt, price)
			value.Div(value, oneE18)
			borrowed.Add(borrowed, value)
		}
	}
	out := market.Liquidity{Liquidity: new(big.Int), Shortfall: new(big.Int)}
	if collateral.Cmp(borrowed) >= 0 {
		out.Liquidity.Sub(collateral, borrowed)
	} else {
		out.Shortfall.Sub(borrowed, collateral)
	}
	return out, nil
}
