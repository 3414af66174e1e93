package ledger

import (
	"context"
	"fmt"
	"math/big"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

func (l *Ledger) SetActionPaused(ctx context.Context, addr common.Address, action market.Action, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return err
	}
	st.paused[action] = paused
	return nil
}

func (l *Ledger) ActionPaused(addr common.Address, action market.Action) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.markets[addr]
	return ok && st.paused[action]
}

func (l *Ledger) SetCollateralFactor(ctx context.Context, pool market.PoolID, addr common.Address, factors market.Factors) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return err
	}
	if _, ok := st.factors[pool]; !ok {
		return fmt.Errorf("%w: pool %d market %s", ErrPoolNotFound, pool, addr.Hex())
	}
	st.factors[pool] = market.Factors{
		CollateralFactor:     cloneOrZero(factors.CollateralFactor),
		LiquidationThreshold: cloneOrZero(factors.LiquidationThreshold),
	}
	return nil
}

func (l *Ledger) CollateralFactor(pool market.PoolID, addr common.Address) (market.Factors, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return market.Factors{}, err
	}
	factors, ok := st.factors[pool]
	if !ok {
		return market.Factors{}, fmt.Errorf("%w: pool %d market %s", ErrPoolNotFound, pool, addr.Hex())
	}
	return market.Factors{
		CollateralFactor:     new(big.Int).Set(factors.CollateralFactor),
		LiquidationThreshold: new(big.Int).Set(factors.LiquidationThreshold),
	}, nil
}

func (l *Ledger) PoolsForMarket(addr common.Address) []market.PoolID {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.markets[addr]
	if !ok || !st.listed {
		return nil
	}
	return append([]market.PoolID(nil), st.pools...)
}

func (l *Ledger) SetMarketBorrowCap(ctx context.Context, addr common.Address, cap *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return err
	}
	st.borrowCap = cloneOrZero(cap)
	return nil
}

func (l *Ledger) SetMarketSupplyCap(ctx context.Context, addr common.Address, cap *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return err
	}
	st.supplyCap = cloneOrZero(cap)
	return nil
}

func (l *Ledger) UnlistMarket(ctx context.Context, addr common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.marketLocked(addr)
	if err != nil {
		return err
	}
	st.listed = false
	return nil
}
