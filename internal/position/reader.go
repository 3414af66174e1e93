// Package position reconstructs an account's leveraged position across
// markets, valued in USD at the oracle's 1e18 scale.
package position

import (
	"context"
	"fmt"
	"math/big"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

var oneE18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// View is one market's side of a position.
type View struct {
	Market      common.Address
	Underlying  common.Address
	Supplied    *big.Int
	Borrowed    *big.Int
	SuppliedUSD *big.Int
	BorrowedUSD *big.Int
}

// Summary aggregates an account's views with its liquidity report.
type Summary struct {
	Account   common.Address
	Views     []View
	Liquidity market.Liquidity
}

type Reader struct {
	svc    market.Service
	oracle market.PriceOracle
}

func NewReader(svc market.Service, oracle market.PriceOracle) *Reader {
	return &Reader{svc: svc, oracle: oracle}
}

// Snapshot accrues each market and reads the account's current balances.
func (r *Reader) Snapshot(ctx context.Context, account common.Address, markets []common.Address) (Summary, error) {
	summary := Summary{Account: account}
	for _, mkt := range markets {
		view, err := r.view(ctx, account, mkt)
		if err != nil {
			return Summary{}, err
		}
		summary.Views = append(summary.Views, view)
	}
	liquidity, err := r.svc.GetAccountLiquidity(ctx, account)
	if err != nil {
		return Summary{}, fmt.Errorf("account liquidity: %w", err)
	}
	summary.Liquidity = liquidity
	return summary, nil
}

func (r *Reader) view(ctx context.Context, account, mkt common.Address) (View, error) {
	if err := r.svc.AccrueInterest(ctx, mkt); err != nil {
		return View{}, fmt.Errorf("accrue %s: %w", mkt.Hex(), err)
	}
	underlying, err := r.svc.Underlying(mkt)
	if err != nil {
		return View{}, err
	}
	supplied, err := r.svc.BalanceOfUnderlying(ctx, mkt, account)
	if err != nil {
		return View{}, fmt.Errorf("supplied balance %s: %w", mkt.Hex(), err)
	}
	borrowed, err := r.svc.BorrowBalanceCurrent(ctx, mkt, account)
	if err != nil {
		return View{}, fmt.Errorf("borrow balance %s: %w", mkt.Hex(), err)
	}
	price, err := r.oracle.GetUnderlyingPrice(mkt)
	if err != nil {
		return View{}, fmt.Errorf("price %s: %w", mkt.Hex(), err)
	}
	return View{
		Market:      mkt,
		Underlying:  underlying,
		Supplied:    supplied,
		Borrowed:    borrowed,
		SuppliedUSD: usdValue(supplied, price),
		BorrowedUSD: usdValue(borrowed, price),
	}, nil
}

// usdValue scales an amount by its 1e(36-decimals) price down to 1e18 USD.
func usdValue(amount, price *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, price)
	return out.Div(out, oneE18)
}

// Leverage reports supplied/(supplied-borrowed) in 1e18 scale, the usual
// looped-position figure. Zero equity returns nil.
func (s Summary) Leverage() *big.Int {
	supplied := new(big.Int)
	borrowed := new(big.Int)
	for _, view := range s.Views {
		supplied.Add(supplied, view.SuppliedUSD)
		borrowed.Add(borrowed, view.BorrowedUSD)
	}
	equity := new(big.Int).Sub(supplied, borrowed)
	if equity.Sign() <= 0 {
		return nil
	}
	out := new(big.Int).Mul(supplied, oneE18)
	return out.Div(out, equity)
}
