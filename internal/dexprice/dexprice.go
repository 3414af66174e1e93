// Package dexprice derives USD prices from on-chain pool state, normalized
// to the oracle's 1e(36-decimals) fixed-point scale.
package dexprice

import (
	"errors"
	"fmt"
	"math/big"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidPool    = errors.New("asset matches neither pool token")
	ErrUnsupportedDEX = errors.New("unsupported dex kind")
	ErrEmptyPoolState = errors.New("pool state is missing price data")
)

// Kind identifies the exchange model a pool follows.
type Kind string

const (
	// KindConcentrated covers concentrated-liquidity pools quoting a
	// sqrtPriceX96 ratio (Q64.96 square root of token1-per-token0).
	KindConcentrated Kind = "concentrated"
	// KindStableswap covers constant-sum style pools priced by reserve ratio.
	KindStableswap Kind = "stableswap"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindConcentrated, KindStableswap:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDEX, raw)
}

// PoolState is the observed state of a DEX pool at a point in time.
type PoolState struct {
	Kind         Kind
	Token0       common.Address
	Token1       common.Address
	SqrtPriceX96 *big.Int // concentrated pools
	Reserve0     *big.Int // stableswap pools, raw units
	Reserve1     *big.Int
}

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// USDPrice prices asset off the pool against the oracle price of the pool's
// other token. The result is in asset's 1e(36-decimals) scale. Because both
// oracle prices carry the 36-decimals scale, raw-unit pool ratios compose
// directly and every token-decimal factor cancels.
func USDPrice(asset common.Address, pool PoolState, oracle market.PriceOracle) (*big.Int, error) {
	var reference common.Address
	assetIsToken0 := false
	switch asset {
	case pool.Token0:
		assetIsToken0 = true
		reference = pool.Token1
	case pool.Token1:
		reference = pool.Token0
	default:
		return nil, fmt.Errorf("%w: asset %s pool %s/%s", ErrInvalidPool, asset.Hex(), pool.Token0.Hex(), pool.Token1.Hex())
	}
	referencePrice, err := oracle.GetPrice(reference)
	if err != nil {
		return nil, fmt.Errorf("reference price: %w", err)
	}
	switch pool.Kind {
	case KindConcentrated:
		return priceFromSqrtRatio(pool.SqrtPriceX96, assetIsToken0, referencePrice)
	case KindStableswap:
		return priceFromReserves(pool.Reserve0, pool.Reserve1, assetIsToken0, referencePrice)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDEX, pool.Kind)
}

// priceFromSqrtRatio converts sqrtPriceX96 into the asset's USD price:
// price(token0) = sqrtP^2 * price(token1) / 2^192, and the inverse for
// token1.
func priceFromSqrtRatio(sqrtPriceX96 *big.Int, assetIsToken0 bool, referencePrice *big.Int) (*big.Int, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return nil, ErrEmptyPoolState
	}
	squared := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	if assetIsToken0 {
		out := new(big.Int).Mul(squared, referencePrice)
		return out.Div(out, q192), nil
	}
	out := new(big.Int).Mul(q192, referencePrice)
	return out.Div(out, squared), nil
}

// priceFromReserves prices the asset by the pool's reserve ratio:
// price(asset) = referenceReserve * price(reference) / assetReserve.
func priceFromReserves(reserve0, reserve1 *big.Int, assetIsToken0 bool, referencePrice *big.Int) (*big.Int, error) {
	if reserve0 == nil || reserve1 == nil {
		return nil, ErrEmptyPoolState
	}
	assetReserve, referenceReserve := reserve0, reserve1
	if !assetIsToken0 {
		assetReserve, referenceReserve = reserve1, reserve0
	}
	if assetReserve.Sign() == 0 {
		return nil, ErrEmptyPoolState
	}
	out := new(big.Int).Mul(referenceReserve, referencePrice)
	return out.Div(out, assetReserve), nil
}
