package sentinel

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"lev-periphery/internal/market"
	"lev-periphery/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// persist mirrors a market's intervention state into the KV store. While an
// intervention is active the snapshot carries the saved factors; once the
// market is back to normal the snapshot is deleted.
func (s *Sentinel) persist(ctx context.Context, mkt common.Address, machine *StateMachine) error {
	if s.store == nil {
		return nil
	}
	current := machine.Current()
	if current == StateNormal {
		return state.DeleteInterventionSnapshot(ctx, s.store, mkt.Hex())
	}
	snapshot := state.InterventionSnapshot{
		Market:      mkt.Hex(),
		State:       string(current),
		UpdatedAtMS: time.Now().UnixMilli(),
	}
	s.mu.Lock()
	saved := s.saved[mkt]
	s.mu.Unlock()
	if len(saved) > 0 {
		snapshot.Saved = make(map[uint64]state.SavedFactors, len(saved))
		for pool, factors := range saved {
			snapshot.Saved[uint64(pool)] = state.SavedFactors{
				CollateralFactor:     factors.CollateralFactor.String(),
				LiquidationThreshold: factors.LiquidationThreshold.String(),
			}
		}
	}
	return state.SaveInterventionSnapshot(ctx, s.store, snapshot)
}

// RestoreFromStore reloads persisted intervention state for every configured
// market, so a restarted keeper can still reverse interventions it applied
// in a previous run.
func (s *Sentinel) RestoreFromStore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	markets := make([]common.Address, 0, len(s.configs))
	for mkt := range s.configs {
		markets = append(markets, mkt)
	}
	s.mu.Unlock()
	for _, mkt := range markets {
		snapshot, ok, err := state.LoadInterventionSnapshot(ctx, s.store, mkt.Hex())
		if err != nil {
			return fmt.Errorf("load snapshot for %s: %w", mkt.Hex(), err)
		}
		if !ok {
			continue
		}
		saved := make(map[market.PoolID]market.Factors, len(snapshot.Saved))
		for pool, factors := range snapshot.Saved {
			cf, ok := new(big.Int).SetString(factors.CollateralFactor, 10)
			if !ok {
				return fmt.Errorf("snapshot for %s: bad collateral factor %q", mkt.Hex(), factors.CollateralFactor)
			}
			lt, ok := new(big.Int).SetString(factors.LiquidationThreshold, 10)
			if !ok {
				return fmt.Errorf("snapshot for %s: bad liquidation threshold %q", mkt.Hex(), factors.LiquidationThreshold)
			}
			saved[market.PoolID(pool)] = market.Factors{CollateralFactor: cf, LiquidationThreshold: lt}
		}
		s.mu.Lock()
		if len(saved) > 0 {
			s.saved[mkt] = saved
		}
		machine := s.machines[mkt]
		s.mu.Unlock()
		machine.SetState(State(snapshot.State))
	}
	return nil
}
