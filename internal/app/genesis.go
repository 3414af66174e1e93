package app

import (
	"fmt"
	"math/big"

	"lev-periphery/internal/config"
	"lev-periphery/internal/ledger"
	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

// buildLedger constructs the embedded market engine from the genesis config:
// listed markets, oracle prices, and market-to-underlying mappings.
func buildLedger(genesis config.GenesisConfig, originator common.Address) (*ledger.Ledger, *ledger.StaticOracle, error) {
	oracle := ledger.NewStaticOracle()
	eng := ledger.New(oracle, originator)
	for i, gm := range genesis.Markets {
		if !common.IsHexAddress(gm.Market) {
			return nil, nil, fmt.Errorf("genesis.markets[%d]: invalid market address %q", i, gm.Market)
		}
		if !common.IsHexAddress(gm.Underlying) {
			return nil, nil, fmt.Errorf("genesis.markets[%d]: invalid underlying address %q", i, gm.Underlying)
		}
		cf, err := parseBig(gm.CollateralFactor, "collateral_factor", i)
		if err != nil {
			return nil, nil, err
		}
		lt, err := parseBig(gm.LiquidationThreshold, "liquidation_threshold", i)
		if err != nil {
			return nil, nil, err
		}
		rate, err := parseBig(gm.RatePerSecond, "rate_per_second", i)
		if err != nil {
			return nil, nil, err
		}
		pools := make([]market.PoolID, 0, len(gm.Pools))
		for _, pool := range gm.Pools {
			pools = append(pools, market.PoolID(pool))
		}
		mkt := common.HexToAddress(gm.Market)
		underlying := common.HexToAddress(gm.Underlying)
		params := ledger.MarketParams{
			Underlying:    underlying,
			Decimals:      gm.Decimals,
			Native:        gm.Native,
			Pools:         pools,
			Factors:       market.Factors{CollateralFactor: cf, LiquidationThreshold: lt},
			RatePerSecond: rate,
		}
		if err := eng.ListMarket(mkt, params); err != nil {
			return nil, nil, fmt.Errorf("genesis.markets[%d]: %w", i, err)
		}
		oracle.MapMarket(mkt, underlying)
	}
	for i, sp := range genesis.Prices {
		if !common.IsHexAddress(sp.Asset) {
			return nil, nil, fmt.Errorf("genesis.prices[%d]: invalid asset address %q", i, sp.Asset)
		}
		price, ok := new(big.Int).SetString(sp.Price, 10)
		if !ok {
			return nil, nil, fmt.Errorf("genesis.prices[%d]: bad price %q", i, sp.Price)
		}
		oracle.SetPrice(common.HexToAddress(sp.Asset), price)
	}
	return eng, oracle, nil
}

func parseBig(raw, field string, index int) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("genesis.markets[%d]: bad %s %q", index, field, raw)
	}
	return v, nil
}
