// Package exec dispatches governance commands with bounded retries and a
// store-backed audit trail, so a keeper restart can tell which interventions
// already landed.
package exec

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"lev-periphery/internal/market"
	"lev-periphery/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	maxAttempts    = 5
	initialBackoff = 200 * time.Millisecond
)

// Dispatcher wraps a Governance target. Mutating calls retry with
// exponential backoff; reads pass straight through.
type Dispatcher struct {
	gov   market.Governance
	store state.Store
	log   *zap.Logger

	mu      sync.Mutex
	applied map[string]string
}

var _ market.Governance = (*Dispatcher)(nil)

func New(gov market.Governance, store state.Store, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		gov:     gov,
		store:   store,
		log:     log,
		applied: make(map[string]string),
	}
}

func (d *Dispatcher) SetActionPaused(ctx context.Context, mkt common.Address, action market.Action, paused bool) error {
	key := fmt.Sprintf("gov:pause:%s:%s", mkt.Hex(), action)
	err := d.retry(ctx, func() error {
		return d.gov.SetActionPaused(ctx, mkt, action, paused)
	})
	if err != nil {
		return err
	}
	d.record(ctx, key, strconv.FormatBool(paused))
	return nil
}

func (d *Dispatcher) ActionPaused(mkt common.Address, action market.Action) bool {
	return d.gov.ActionPaused(mkt, action)
}

func (d *Dispatcher) SetCollateralFactor(ctx context.Context, pool market.PoolID, mkt common.Address, factors market.Factors) error {
	key := fmt.Sprintf("gov:cf:%d:%s", pool, mkt.Hex())
	err := d.retry(ctx, func() error {
		return d.gov.SetCollateralFactor(ctx, pool, mkt, factors)
	})
	if err != nil {
		return err
	}
	d.record(ctx, key, factors.CollateralFactor.String()+"/"+factors.LiquidationThreshold.String())
	return nil
}

func (d *Dispatcher) CollateralFactor(pool market.PoolID, mkt common.Address) (market.Factors, error) {
	return d.gov.CollateralFactor(pool, mkt)
}

func (d *Dispatcher) PoolsForMarket(mkt common.Address) []market.PoolID {
	return d.gov.PoolsForMarket(mkt)
}

func (d *Dispatcher) SetMarketBorrowCap(ctx context.Context, mkt common.Address, cap *big.Int) error {
	key := fmt.Sprintf("gov:borrowcap:%s", mkt.Hex())
	err := d.retry(ctx, func() error {
		return d.gov.SetMarketBorrowCap(ctx, mkt, cap)
	})
	if err != nil {
		return err
	}
	d.record(ctx, key, cap.String())
	return nil
}

func (d *Dispatcher) SetMarketSupplyCap(ctx context.Context, mkt common.Address, cap *big.Int) error {
	key := fmt.Sprintf("gov:supplycap:%s", mkt.Hex())
	err := d.retry(ctx, func() error {
		return d.gov.SetMarketSupplyCap(ctx, mkt, cap)
	})
	if err != nil {
		return err
	}
	d.record(ctx, key, cap.String())
	return nil
}

func (d *Dispatcher) UnlistMarket(ctx context.Context, mkt common.Address) error {
	key := fmt.Sprintf("gov:unlist:%s", mkt.Hex())
	err := d.retry(ctx, func() error {
		return d.gov.UnlistMarket(ctx, mkt)
	})
	if err != nil {
		return err
	}
	d.record(ctx, key, "unlisted")
	return nil
}

// LastApplied returns the most recent recorded value for a command key,
// consulting the in-memory cache first and the store second.
func (d *Dispatcher) LastApplied(ctx context.Context, key string) (string, bool, error) {
	d.mu.Lock()
	if value, ok := d.applied[key]; ok {
		d.mu.Unlock()
		return value, true, nil
	}
	d.mu.Unlock()
	if d.store == nil {
		return "", false, nil
	}
	value, ok, err := d.store.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	d.mu.Lock()
	d.applied[key] = value
	d.mu.Unlock()
	return value, true, nil
}

func (d *Dispatcher) record(ctx context.Context, key, value string) {
	d.mu.Lock()
	d.applied[key] = value
	d.mu.Unlock()
	if d.store == nil {
		return
	}
	if err := d.store.Set(ctx, key, value); err != nil {
		d.log.Warn("failed to persist governance record", zap.String("key", key), zap.Error(err))
	}
}

func (d *Dispatcher) retry(ctx context.Context, fn func() error) error {
	backoff := initialBackoff
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := fn(); err != nil {
			if attempt == maxAttempts-1 {
				return fmt.Errorf("retry failed: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return nil
}
