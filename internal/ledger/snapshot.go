package ledger

import (
	"context"
	"math/big"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

type snapshot struct {
	tokens    map[common.Address]map[common.Address]*big.Int
	markets   map[common.Address]*marketState
	delegates map[common.Address]map[common.Address]bool
}

// Atomic stages every mutation made inside fn and discards all of them if fn
// returns an error. Nested calls compose: an inner failure only unwinds the
// inner scope.
func (l *Ledger) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	snap := l.snapshotLocked()
	l.snapshots = append(l.snapshots, snap)
	l.mu.Unlock()

	err := fn(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = l.snapshots[:len(l.snapshots)-1]
	if err != nil {
		l.restoreLocked(snap)
	}
	return err
}

func (l *Ledger) snapshotLocked() *snapshot {
	snap := &snapshot{
		tokens:    make(map[common.Address]map[common.Address]*big.Int, len(l.tokens)),
		markets:   make(map[common.Address]*marketState, len(l.markets)),
		delegates: make(map[common.Address]map[common.Address]bool, len(l.delegates)),
	}
	for token, balances := range l.tokens {
		copied := make(map[common.Address]*big.Int, len(balances))
		for holder, amount := range balances {
			copied[holder] = new(big.Int).Set(amount)
		}
		snap.tokens[token] = copied
	}
	for addr, st := range l.markets {
		snap.markets[addr] = st.clone()
	}
	for account, set := range l.delegates {
		copied := make(map[common.Address]bool, len(set))
		for delegate, ok := range set {
			copied[delegate] = ok
		}
		snap.delegates[account] = copied
	}
	return snap
}

func (l *Ledger) restoreLocked(snap *snapshot) {
	l.tokens = snap.tokens
	l.markets = snap.markets
	l.delegates = snap.delegates
}

func (st *marketState) clone() *marketState {
	out := &marketState{
		underlying:    st.underlying,
		decimals:      st.decimals,
		native:        st.native,
		listed:        st.listed,
		pools:         append([]market.PoolID(nil), st.pools...),
		factors:       make(map[market.PoolID]market.Factors, len(st.factors)),
		paused:        make(map[market.Action]bool, len(st.paused)),
		borrowCap:     new(big.Int).Set(st.borrowCap),
		supplyCap:     new(big.Int).Set(st.supplyCap),
		ratePerSecond: new(big.Int).Set(st.ratePerSecond),
		borrowIndex:   new(big.Int).Set(st.borrowIndex),
		lastAccrual:   st.lastAccrual,
		totalBorrows:  new(big.Int).Set(st.totalBorrows),
		totalSupply:   new(big.Int).Set(st.totalSupply),
		supplies:      make(map[common.Address]*big.Int, len(st.supplies)),
		borrows:       make(map[common.Address]*borrowSnapshot, len(st.borrows)),
	}
	for pool, factors := range st.factors {
		out.factors[pool] = market.Factors{
			CollateralFactor:     new(big.Int).Set(factors.CollateralFactor),
			LiquidationThreshold: new(big.Int).Set(factors.LiquidationThreshold),
		}
	}
	for action, paused := range st.paused {
		out.paused[action] = paused
	}
	for account, amount := range st.supplies {
		out.supplies[account] = new(big.Int).Set(amount)
	}
	for account, snap := range st.borrows {
		out.borrows[account] = &borrowSnapshot{
			principal: new(big.Int).Set(snap.principal),
			index:     new(big.Int).Set(snap.index),
		}
	}
	return out
}
