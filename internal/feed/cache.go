// Package feed supplies DEX pool state to the sentinel, either streamed over
// a websocket, fetched from a gateway, or statically configured.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"lev-periphery/internal/config"
	"lev-periphery/internal/dexprice"

	"github.com/ethereum/go-ethereum/common"
)

var ErrPoolUnknown = errors.New("no state cached for pool")

// Cache holds the latest observed state per pool. It satisfies the sentinel's
// pool source and is safe for concurrent readers and one writer.
type Cache struct {
	mu    sync.RWMutex
	pools map[common.Address]dexprice.PoolState
}

func NewCache() *Cache {
	return &Cache{pools: make(map[common.Address]dexprice.PoolState)}
}

// FromConfig seeds a cache from statically configured pools.
func FromConfig(pools []config.PoolConfig) (*Cache, error) {
	cache := NewCache()
	for i, p := range pools {
		if !common.IsHexAddress(p.Address) {
			return nil, fmt.Errorf("pools[%d]: invalid address %q", i, p.Address)
		}
		kind, err := dexprice.ParseKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
		if !common.IsHexAddress(p.Token0) || !common.IsHexAddress(p.Token1) {
			return nil, fmt.Errorf("pools[%d]: invalid token addresses", i)
		}
		state := dexprice.PoolState{
			Kind:   kind,
			Token0: common.HexToAddress(p.Token0),
			Token1: common.HexToAddress(p.Token1),
		}
		if p.SqrtPriceX96 != "" {
			v, ok := new(big.Int).SetString(p.SqrtPriceX96, 10)
			if !ok {
				return nil, fmt.Errorf("pools[%d]: bad sqrt_price_x96 %q", i, p.SqrtPriceX96)
			}
			state.SqrtPriceX96 = v
		}
		if p.Reserve0 != "" {
			v, ok := new(big.Int).SetString(p.Reserve0, 10)
			if !ok {
				return nil, fmt.Errorf("pools[%d]: bad reserve0 %q", i, p.Reserve0)
			}
			state.Reserve0 = v
		}
		if p.Reserve1 != "" {
			v, ok := new(big.Int).SetString(p.Reserve1, 10)
			if !ok {
				return nil, fmt.Errorf("pools[%d]: bad reserve1 %q", i, p.Reserve1)
			}
			state.Reserve1 = v
		}
		cache.Apply(common.HexToAddress(p.Address), state)
	}
	return cache, nil
}

func (c *Cache) Apply(pool common.Address, state dexprice.PoolState) {
	c.mu.Lock()
	c.pools[pool] = state
	c.mu.Unlock()
}

func (c *Cache) PoolState(ctx context.Context, pool common.Address) (dexprice.PoolState, error) {
	c.mu.RLock()
	state, ok := c.pools[pool]
	c.mu.RUnlock()
	if !ok {
		return dexprice.PoolState{}, fmt.Errorf("%w: %s", ErrPoolUnknown, pool.Hex())
	}
	return state, nil
}

// Source reports current DEX pool state.
type Source interface {
	PoolState(ctx context.Context, pool common.Address) (dexprice.PoolState, error)
}

// Fallback chains pool sources: the first source that returns state wins.
type Fallback struct {
	sources []Source
}

func NewFallback(sources ...Source) *Fallback {
	return &Fallback{sources: sources}
}

func (f *Fallback) PoolState(ctx context.Context, pool common.Address) (dexprice.PoolState, error) {
	var lastErr error
	for _, source := range f.sources {
		state, err := source.PoolState(ctx, pool)
		if err == nil {
			return state, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrPoolUnknown
	}
	return dexprice.PoolState{}, lastErr
}
