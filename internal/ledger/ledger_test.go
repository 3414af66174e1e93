package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

var (
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	usdc       = common.HexToAddress("0x00000000000000000000000000000000000000A2")
	mWETH      = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	mUSDC      = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	originator = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000AA01")
	bob        = common.HexToAddress("0x000000000000000000000000000000000000AA02")
)

func exp10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func units(v int64, decimals int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), exp10(decimals))
}

func testOracle() *StaticOracle {
	oracle := NewStaticOracle()
	oracle.SetPrice(usdc, exp10(30))
	oracle.SetPrice(weth, units(2000, 18))
	oracle.MapMarket(mWETH, weth)
	oracle.MapMarket(mUSDC, usdc)
	return oracle
}

func listPair(t *testing.T, eng *Ledger, rate *big.Int) {
	t.Helper()
	factors := market.Factors{
		CollateralFactor:     units(8, 17),
		LiquidationThreshold: units(85, 16),
	}
	if err := eng.ListMarket(mWETH, MarketParams{Underlying: weth, Decimals: 18, Factors: factors}); err != nil {
		t.Fatalf("list mWETH: %v", err)
	}
	if err := eng.ListMarket(mUSDC, MarketParams{Underlying: usdc, Decimals: 6, Factors: factors, RatePerSecond: rate}); err != nil {
		t.Fatalf("list mUSDC: %v", err)
	}
	eng.SetBalance(weth, mWETH, units(1000, 18))
	eng.SetBalance(usdc, mUSDC, units(1_000_000, 6))
}

func TestTransferAndBalances(t *testing.T) {
	eng := New(testOracle(), originator)
	ctx := context.Background()
	eng.SetBalance(usdc, alice, units(100, 6))
	if err := eng.Transfer(ctx, usdc, alice, bob, units(40, 6)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := eng.BalanceOf(usdc, alice); got.Cmp(units(60, 6)) != 0 {
		t.Fatalf("expected 60e6, got %s", got)
	}
	if got := eng.BalanceOf(usdc, bob); got.Cmp(units(40, 6)) != 0 {
		t.Fatalf("expected 40e6, got %s", got)
	}
	err := eng.Transfer(ctx, usdc, alice, bob, units(100, 6))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestMintBorrowRepayRedeem(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()
	eng.SetBalance(weth, alice, units(2, 18))

	if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(2, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := eng.BorrowBehalf(ctx, alice, alice, mUSDC, units(1000, 6)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := eng.BalanceOf(usdc, alice); got.Cmp(units(1000, 6)) != 0 {
		t.Fatalf("expected borrow proceeds 1000e6, got %s", got)
	}
	debt, err := eng.BorrowBalanceCurrent(ctx, mUSDC, alice)
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	if debt.Cmp(units(1000, 6)) != 0 {
		t.Fatalf("expected debt 1000e6, got %s", debt)
	}
	// overpaying caps at the outstanding debt
	eng.SetBalance(usdc, alice, units(5000, 6))
	if err := eng.RepayBorrowBehalf(ctx, alice, alice, mUSDC, units(5000, 6)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	debt, _ = eng.BorrowBalanceCurrent(ctx, mUSDC, alice)
	if debt.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", debt)
	}
	if got := eng.BalanceOf(usdc, alice); got.Cmp(units(4000, 6)) != 0 {
		t.Fatalf("expected only the debt pulled, alice holds %s", got)
	}
	if err := eng.RedeemUnderlyingBehalf(ctx, alice, bob, mWETH, units(2, 18)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := eng.BalanceOf(weth, bob); got.Cmp(units(2, 18)) != 0 {
		t.Fatalf("expected redeemed 2e18 at receiver, got %s", got)
	}
	err = eng.RedeemUnderlyingBehalf(ctx, alice, alice, mWETH, big.NewInt(1))
	if !errors.Is(err, ErrRedeemExceedsBalance) {
		t.Fatalf("expected ErrRedeemExceedsBalance, got %v", err)
	}
}

func TestInterestAccrual(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	// 0.1% per second simple interest
	eng := New(testOracle(), originator, WithClock(clock))
	listPair(t, eng, exp10(15))
	ctx := context.Background()
	eng.SetBalance(weth, alice, units(2, 18))
	if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(2, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := eng.BorrowBehalf(ctx, alice, alice, mUSDC, units(1000, 6)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	now = now.Add(100 * time.Second)
	debt, err := eng.BorrowBalanceCurrent(ctx, mUSDC, alice)
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	if debt.Cmp(units(1100, 6)) != 0 {
		t.Fatalf("expected 10%% accrued over 100s, got %s", debt)
	}
	// a second read at the same clock must not accrue again
	debt, _ = eng.BorrowBalanceCurrent(ctx, mUSDC, alice)
	if debt.Cmp(units(1100, 6)) != 0 {
		t.Fatalf("expected idempotent accrual, got %s", debt)
	}
}

func TestBorrowAndSupplyCaps(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()
	eng.SetBalance(weth, alice, units(10, 18))
	if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(5, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := eng.SetMarketBorrowCap(ctx, mUSDC, units(500, 6)); err != nil {
		t.Fatalf("set borrow cap: %v", err)
	}
	err := eng.BorrowBehalf(ctx, alice, alice, mUSDC, units(1000, 6))
	if !errors.Is(err, ErrBorrowCapExceeded) {
		t.Fatalf("expected ErrBorrowCapExceeded, got %v", err)
	}
	if err := eng.BorrowBehalf(ctx, alice, alice, mUSDC, units(400, 6)); err != nil {
		t.Fatalf("borrow under cap: %v", err)
	}

	if err := eng.SetMarketSupplyCap(ctx, mWETH, units(6, 18)); err != nil {
		t.Fatalf("set supply cap: %v", err)
	}
	err = eng.MintBehalf(ctx, alice, alice, mWETH, units(2, 18))
	if !errors.Is(err, ErrSupplyCapExceeded) {
		t.Fatalf("expected ErrSupplyCapExceeded, got %v", err)
	}
	if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(1, 18)); err != nil {
		t.Fatalf("mint under cap: %v", err)
	}
}

func TestActionPause(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()
	eng.SetBalance(weth, alice, units(1, 18))

	if err := eng.SetActionPaused(ctx, mWETH, market.ActionMint, true); err != nil {
		t.Fatalf("pause mint: %v", err)
	}
	if !eng.ActionPaused(mWETH, market.ActionMint) {
		t.Fatalf("expected mint reported paused")
	}
	err := eng.MintBehalf(ctx, alice, alice, mWETH, units(1, 18))
	if !errors.Is(err, ErrActionPaused) {
		t.Fatalf("expected ErrActionPaused, got %v", err)
	}
	if err := eng.SetActionPaused(ctx, mWETH, market.ActionMint, false); err != nil {
		t.Fatalf("unpause mint: %v", err)
	}
	if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(1, 18)); err != nil {
		t.Fatalf("mint after unpause: %v", err)
	}
}

func TestCollateralFactors(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()

	pools := eng.PoolsForMarket(mWETH)
	if len(pools) != 1 || pools[0] != 0 {
		t.Fatalf("expected default pool listing, got %v", pools)
	}
	zero := market.Factors{CollateralFactor: new(big.Int), LiquidationThreshold: new(big.Int)}
	if err := eng.SetCollateralFactor(ctx, 0, mWETH, zero); err != nil {
		t.Fatalf("zero factors: %v", err)
	}
	got, err := eng.CollateralFactor(0, mWETH)
	if err != nil {
		t.Fatalf("read factors: %v", err)
	}
	if got.CollateralFactor.Sign() != 0 || got.LiquidationThreshold.Sign() != 0 {
		t.Fatalf("expected zeroed factors, got %s/%s", got.CollateralFactor, got.LiquidationThreshold)
	}
	if err := eng.SetCollateralFactor(ctx, 7, mWETH, zero); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestAccountLiquidity(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()
	eng.SetBalance(weth, alice, units(2, 18))
	if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(2, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := eng.BorrowBehalf(ctx, alice, alice, mUSDC, units(2000, 6)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	liq, err := eng.GetAccountLiquidity(ctx, alice)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	// 2 WETH * $2000 * 0.8 = $3200 collateral vs $2000 borrowed
	if liq.Liquidity.Cmp(units(1200, 18)) != 0 {
		t.Fatalf("expected liquidity 1200e18, got %s", liq.Liquidity)
	}
	if liq.Shortfall.Sign() != 0 {
		t.Fatalf("expected no shortfall, got %s", liq.Shortfall)
	}

	// zeroing the collateral factor flips the account into shortfall
	zero := market.Factors{CollateralFactor: new(big.Int), LiquidationThreshold: new(big.Int)}
	if err := eng.SetCollateralFactor(ctx, 0, mWETH, zero); err != nil {
		t.Fatalf("zero factors: %v", err)
	}
	liq, _ = eng.GetAccountLiquidity(ctx, alice)
	if liq.Shortfall.Cmp(units(2000, 18)) != 0 {
		t.Fatalf("expected shortfall 2000e18, got %s", liq.Shortfall)
	}
}

func TestAtomicRollback(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()
	eng.SetBalance(weth, alice, units(2, 18))

	failed := errors.New("boom")
	err := eng.Atomic(ctx, func(ctx context.Context) error {
		if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(2, 18)); err != nil {
			return err
		}
		if err := eng.BorrowBehalf(ctx, alice, alice, mUSDC, units(1000, 6)); err != nil {
			return err
		}
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected wrapped inner error, got %v", err)
	}
	if got := eng.BalanceOf(weth, alice); got.Cmp(units(2, 18)) != 0 {
		t.Fatalf("expected balance restored, got %s", got)
	}
	supplied, _ := eng.BalanceOfUnderlying(ctx, mWETH, alice)
	if supplied.Sign() != 0 {
		t.Fatalf("expected supply rolled back, got %s", supplied)
	}
	debt, _ := eng.BorrowBalanceCurrent(ctx, mUSDC, alice)
	if debt.Sign() != 0 {
		t.Fatalf("expected debt rolled back, got %s", debt)
	}
}

func TestAtomicNested(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()
	eng.SetBalance(weth, alice, units(4, 18))

	err := eng.Atomic(ctx, func(ctx context.Context) error {
		if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(1, 18)); err != nil {
			return err
		}
		// the inner failure unwinds only the inner scope
		inner := eng.Atomic(ctx, func(ctx context.Context) error {
			if err := eng.MintBehalf(ctx, alice, alice, mWETH, units(1, 18)); err != nil {
				return err
			}
			return errors.New("inner boom")
		})
		if inner == nil {
			return errors.New("expected inner error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer atomic: %v", err)
	}
	supplied, _ := eng.BalanceOfUnderlying(ctx, mWETH, alice)
	if supplied.Cmp(units(1, 18)) != 0 {
		t.Fatalf("expected only the outer mint to survive, got %s", supplied)
	}
}

func TestUnlistMarket(t *testing.T) {
	eng := New(testOracle(), originator)
	listPair(t, eng, nil)
	ctx := context.Background()
	if err := eng.UnlistMarket(ctx, mWETH); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if eng.IsListed(mWETH) {
		t.Fatalf("expected market unlisted")
	}
	eng.SetBalance(weth, alice, units(1, 18))
	err := eng.MintBehalf(ctx, alice, alice, mWETH, units(1, 18))
	if !errors.Is(err, ErrMarketNotListed) {
		t.Fatalf("expected ErrMarketNotListed, got %v", err)
	}
	if err := eng.ListMarket(mUSDC, MarketParams{Underlying: usdc, Decimals: 6}); !errors.Is(err, ErrMarketAlreadyListed) {
		t.Fatalf("expected ErrMarketAlreadyListed, got %v", err)
	}
}
