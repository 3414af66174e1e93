package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lev-periphery/internal/config"
	"lev-periphery/internal/sentinel"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// newTestApp builds a fully wired app against static pool reserves. The
// usdcReserve argument sets the DEX-implied WETH price: 2000e6 is on-oracle.
func newTestApp(t *testing.T, usdcReserve string) *App {
	t.Helper()
	t.Setenv("KEEPER_PRIVATE_KEY", testPrivateKey)
	cfg := &config.Config{
		State:  config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "keeper.db")},
		Keeper: config.KeeperConfig{Interval: time.Second},
		Markets: []config.MarketConfig{
			{
				Name:                "WETH",
				Market:              "0x00000000000000000000000000000000000000B1",
				Asset:               "0x00000000000000000000000000000000000000A1",
				Pool:                "0x00000000000000000000000000000000000000C1",
				DexKind:             "stableswap",
				MaxDeviationPercent: 5,
				Enabled:             true,
			},
		},
		Pools: []config.PoolConfig{
			{
				Address:  "0x00000000000000000000000000000000000000C1",
				Kind:     "stableswap",
				Token0:   "0x00000000000000000000000000000000000000A1",
				Token1:   "0x00000000000000000000000000000000000000A2",
				Reserve0: "1000000000000000000",
				Reserve1: usdcReserve,
			},
		},
		Genesis: config.GenesisConfig{
			Markets: []config.GenesisMarket{
				{
					Market:               "0x00000000000000000000000000000000000000B1",
					Underlying:           "0x00000000000000000000000000000000000000A1",
					Decimals:             18,
					Pools:                []uint64{0},
					CollateralFactor:     "800000000000000000",
					LiquidationThreshold: "850000000000000000",
				},
			},
			Prices: []config.StaticPrice{
				{Asset: "0x00000000000000000000000000000000000000A1", Price: "2000000000000000000000"},
				{Asset: "0x00000000000000000000000000000000000000A2", Price: "1000000000000000000000000000000"},
			},
		},
	}
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.store.Close() })
	return a
}

func TestTickPausesBorrowOnDeviation(t *testing.T) {
	// 2200 USDC per WETH against a 2000 oracle is a 10% deviation
	a := newTestApp(t, "2200000000")
	a.tick(context.Background())

	mkt := common.HexToAddress("0x00000000000000000000000000000000000000B1")
	state, ok := a.sentinel.MarketState(mkt)
	if !ok {
		t.Fatalf("expected market state tracked")
	}
	if state != sentinel.StateBorrowPaused {
		t.Fatalf("expected %s, got %s", sentinel.StateBorrowPaused, state)
	}
}

func TestTickLeavesConvergedMarketAlone(t *testing.T) {
	a := newTestApp(t, "2000000000")
	a.tick(context.Background())

	mkt := common.HexToAddress("0x00000000000000000000000000000000000000B1")
	state, ok := a.sentinel.MarketState(mkt)
	if !ok {
		t.Fatalf("expected market state tracked")
	}
	if state != sentinel.StateNormal {
		t.Fatalf("expected %s, got %s", sentinel.StateNormal, state)
	}
}

func TestTickSkippedWhilePaused(t *testing.T) {
	a := newTestApp(t, "2200000000")
	a.setPaused(true)
	a.tick(context.Background())

	mkt := common.HexToAddress("0x00000000000000000000000000000000000000B1")
	if state, _ := a.sentinel.MarketState(mkt); state != sentinel.StateNormal {
		t.Fatalf("expected paused keeper to leave market at %s, got %s", sentinel.StateNormal, state)
	}
}
