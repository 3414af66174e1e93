// Command simulate runs a self-contained leverage round trip against the
// embedded market engine and prints an invariant report: enter a looped
// position, verify solvency and custody, exit it, and verify the account
// unwinds cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"

	"lev-periphery/internal/config"
	"lev-periphery/internal/convert"
	"lev-periphery/internal/ledger"
	"lev-periphery/internal/leverage"
	"lev-periphery/internal/logging"
	"lev-periphery/internal/market"
	"lev-periphery/internal/position"

	"github.com/ethereum/go-ethereum/common"
)

var (
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	usdc       = common.HexToAddress("0x00000000000000000000000000000000000000A2")
	mWETH      = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	mUSDC      = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	pool       = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	converter  = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	managerID  = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	treasury   = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	originator = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000AA01")
)

func main() {
	premiumBps := flag.Uint64("premium-bps", 9, "flash loan premium in basis points")
	logLevel := flag.String("log-level", "warn", "log level for the run")
	flag.Parse()

	log := logging.New(config.LoggingConfig{Level: *logLevel})
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	oracle := ledger.NewStaticOracle()
	// 1e(36-decimals) scale: USDC has 6 decimals, WETH 18
	oracle.SetPrice(usdc, exp10(30))
	oracle.SetPrice(weth, mul(big.NewInt(2000), exp10(18)))
	oracle.MapMarket(mWETH, weth)
	oracle.MapMarket(mUSDC, usdc)

	eng := ledger.New(oracle, originator, ledger.WithPremiumBps(*premiumBps))
	factors := market.Factors{
		CollateralFactor:     mul(big.NewInt(8), exp10(17)),
		LiquidationThreshold: mul(big.NewInt(85), exp10(16)),
	}
	must(eng.ListMarket(mWETH, ledger.MarketParams{Underlying: weth, Decimals: 18, Factors: factors}))
	must(eng.ListMarket(mUSDC, ledger.MarketParams{Underlying: usdc, Decimals: 6, Factors: factors}))

	// market cash, pool reserves at 2000 USDC/WETH, and alice's seed
	eng.SetBalance(weth, mWETH, mul(big.NewInt(1000), exp10(18)))
	eng.SetBalance(usdc, mUSDC, mul(big.NewInt(1_000_000), exp10(6)))
	eng.SetBalance(weth, pool, mul(big.NewInt(500), exp10(18)))
	eng.SetBalance(usdc, pool, mul(big.NewInt(1_000_000), exp10(6)))
	eng.SetBalance(weth, alice, exp10(18))

	swaps := convert.NewPoolConverter(converter, eng)
	swaps.RegisterPool(pool, convert.ReservePool{TokenA: usdc, TokenB: weth})
	mgr := leverage.NewManager(eng, eng, swaps, managerID, treasury, log, nil)
	reader := position.NewReader(eng, oracle)
	markets := []common.Address{mWETH, mUSDC}

	enterSwap, err := convert.EncodeSteps([]convert.SwapStep{{
		TokenIn: usdc, TokenOut: weth, Pool: pool, Destination: managerID,
	}})
	must(err)
	fmt.Println("== enter leverage ==")
	must(mgr.EnterLeverage(ctx, alice, leverage.EnterParams{
		Initiator:              alice,
		CollateralMarket:       mWETH,
		CollateralSeed:         exp10(18),
		BorrowMarket:           mUSDC,
		FlashLoanAmount:        mul(big.NewInt(2000), exp10(6)),
		MinCollateralAfterSwap: mul(big.NewInt(9), exp10(17)),
		SwapInstructions:       enterSwap,
	}))
	report(ctx, reader, markets)
	checkCustody(eng)

	exitSwap, err := convert.EncodeSteps([]convert.SwapStep{{
		TokenIn: weth, TokenOut: usdc, Pool: pool, Destination: managerID,
	}})
	must(err)
	fmt.Println("== exit leverage ==")
	must(mgr.ExitLeverage(ctx, alice, leverage.ExitParams{
		Initiator:              alice,
		CollateralMarket:       mWETH,
		CollateralRedeemAmount: mul(big.NewInt(11), exp10(17)),
		BorrowMarket:           mUSDC,
		RepayFlashLoanAmount:   mul(big.NewInt(2010), exp10(6)),
		MinBorrowedAfterSwap:   mul(big.NewInt(2011), exp10(6)),
		SwapInstructions:       exitSwap,
	}))
	report(ctx, reader, markets)
	checkCustody(eng)

	debt, err := eng.BorrowBalanceCurrent(ctx, mUSDC, alice)
	must(err)
	if debt.Sign() != 0 {
		fatal(fmt.Errorf("round trip left residual debt: %s", debt))
	}
	fmt.Println("round trip complete: no residual debt, no retained custody")
}

func report(ctx context.Context, reader *position.Reader, markets []common.Address) {
	summary, err := reader.Snapshot(ctx, alice, markets)
	must(err)
	for _, view := range summary.Views {
		fmt.Printf("  market=%s supplied=%s borrowed=%s supplied_usd=%s borrowed_usd=%s\n",
			view.Market.Hex(), view.Supplied, view.Borrowed, view.SuppliedUSD, view.BorrowedUSD)
	}
	fmt.Printf("  liquidity_usd=%s shortfall_usd=%s\n", summary.Liquidity.Liquidity, summary.Liquidity.Shortfall)
	if lev := summary.Leverage(); lev != nil {
		fmt.Printf("  leverage_1e18=%s\n", lev)
	}
	if summary.Liquidity.Shortfall.Sign() != 0 {
		fatal(fmt.Errorf("account has shortfall %s", summary.Liquidity.Shortfall))
	}
}

// checkCustody verifies the manager retains no token balance between
// operations.
func checkCustody(eng *ledger.Ledger) {
	for _, token := range []common.Address{weth, usdc} {
		if balance := eng.BalanceOf(token, managerID); balance.Sign() != 0 {
			fatal(fmt.Errorf("manager retained %s of token %s", balance, token.Hex()))
		}
	}
}

func exp10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func mul(a, b *big.Int) *big.Int {
	return new(big.Int).Mul(a, b)
}

func must(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
