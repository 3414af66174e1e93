package convert

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

// ReservePool is a constant-product pool the converter can route through.
// Reserves are the pool address's token balances in the shared token ledger.
type ReservePool struct {
	TokenA common.Address
	TokenB common.Address
}

// PoolConverter swaps through registered constant-product pools, consuming
// whatever balance of the input token sits at its own address.
type PoolConverter struct {
	addr   common.Address
	tokens market.TokenLedger

	mu    sync.RWMutex
	pools map[common.Address]ReservePool
}

func NewPoolConverter(addr common.Address, tokens market.TokenLedger) *PoolConverter {
	return &PoolConverter{
		addr:   addr,
		tokens: tokens,
		pools:  make(map[common.Address]ReservePool),
	}
}

func (c *PoolConverter) Address() common.Address {
	return c.addr
}

func (c *PoolConverter) RegisterPool(addr common.Address, pool ReservePool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[addr] = pool
}

func (c *PoolConverter) Multicall(ctx context.Context, caller common.Address, instructions []byte) error {
	steps, err := DecodeSteps(instructions)
	if err != nil {
		return err
	}
	for i, step := range steps {
		if err := c.swap(ctx, step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (c *PoolConverter) swap(ctx context.Context, step SwapStep) error {
	c.mu.RLock()
	pool, ok := c.pools[step.Pool]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, step.Pool.Hex())
	}
	if !matchesPool(pool, step.TokenIn, step.TokenOut) {
		return ErrPoolTokenMismatch
	}
	amountIn := c.tokens.BalanceOf(step.TokenIn, c.addr)
	if amountIn.Sign() == 0 {
		return ErrZeroSwapInput
	}
	reserveIn := c.tokens.BalanceOf(step.TokenIn, step.Pool)
	reserveOut := c.tokens.BalanceOf(step.TokenOut, step.Pool)
	if reserveOut.Sign() == 0 {
		return ErrDrainedPool
	}
	// x*y=k swap: out = reserveOut * in / (reserveIn + in)
	amountOut := new(big.Int).Mul(reserveOut, amountIn)
	amountOut.Div(amountOut, new(big.Int).Add(reserveIn, amountIn))
	if amountOut.Sign() == 0 {
		return ErrZeroSwapInput
	}
	if err := c.tokens.Transfer(ctx, step.TokenIn, c.addr, step.Pool, amountIn); err != nil {
		return err
	}
	dest := step.Destination
	if dest == (common.Address{}) {
		dest = c.addr
	}
	return c.tokens.Transfer(ctx, step.TokenOut, step.Pool, dest, amountOut)
}

func matchesPool(pool ReservePool, in, out common.Address) bool {
	return (in == pool.TokenA && out == pool.TokenB) || (in == pool.TokenB && out == pool.TokenA)
}
