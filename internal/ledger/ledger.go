// Package ledger is an in-memory lending-market engine implementing
// market.Service. It stands in for the on-chain accounting core: token
// balances, supply/borrow positions with interest indexes, account
// liquidity, flash loans, and governance parameters, with snapshot-based
// all-or-nothing transaction semantics.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMarketNotListed      = errors.New("market is not listed")
	ErrMarketAlreadyListed  = errors.New("market is already listed")
	ErrActionPaused         = errors.New("market action is paused")
	ErrInsufficientBalance  = errors.New("insufficient token balance")
	ErrInsufficientCash     = errors.New("insufficient market cash")
	ErrInsufficientSupply   = errors.New("insufficient supplied balance")
	ErrBorrowCapExceeded    = errors.New("borrow cap exceeded")
	ErrSupplyCapExceeded    = errors.New("supply cap exceeded")
	ErrPoolNotFound         = errors.New("market not listed under pool")
	ErrFlashLoanNotRepaid   = errors.New("flash loan was not repaid")
	ErrFlashLoanArity       = errors.New("flash loan markets and amounts length mismatch")
	ErrRedeemExceedsBalance = errors.New("redeem amount exceeds supplied balance")
)

var oneE18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type borrowSnapshot struct {
	principal *big.Int
	index     *big.Int
}

type marketState struct {
	underlying common.Address
	decimals   uint8
	native     bool
	listed     bool

	pools   []market.PoolID
	factors map[market.PoolID]market.Factors
	paused  map[market.Action]bool

	borrowCap *big.Int // zero means uncapped
	supplyCap *big.Int

	ratePerSecond *big.Int // borrow rate, 1e18 scale per second
	borrowIndex   *big.Int // 1e18 scale
	lastAccrual   int64
	totalBorrows  *big.Int
	totalSupply   *big.Int

	supplies map[common.Address]*big.Int // underlying units
	borrows  map[common.Address]*borrowSnapshot
}

// Ledger implements market.Service and market.TokenLedger.
type Ledger struct {
	mu sync.Mutex

	oracle     market.PriceOracle
	premiumBps uint64
	originator common.Address
	now        func() time.Time

	tokens    map[common.Address]map[common.Address]*big.Int
	markets   map[common.Address]*marketState
	delegates map[common.Address]map[common.Address]bool

	snapshots []*snapshot
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithPremiumBps sets the flash-loan premium in basis points.
func WithPremiumBps(bps uint64) Option {
	return func(l *Ledger) { l.premiumBps = bps }
}

// WithClock overrides the accrual clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(oracle market.PriceOracle, originator common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		oracle:     oracle,
		originator: originator,
		now:        time.Now,
		tokens:     make(map[common.Address]map[common.Address]*big.Int),
		markets:    make(map[common.Address]*marketState),
		delegates:  make(map[common.Address]map[common.Address]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MarketParams describes a market at listing time.
type MarketParams struct {
	Underlying    common.Address
	Decimals      uint8
	Native        bool
	Pools         []market.PoolID
	Factors       market.Factors
	RatePerSecond *big.Int
}

// ListMarket registers a market under every pool in params.Pools with the
// same initial factors.
func (l *Ledger) ListMarket(addr common.Address, params MarketParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.markets[addr]; ok && st.listed {
		return ErrMarketAlreadyListed
	}
	pools := params.Pools
	if len(pools) == 0 {
		pools = []market.PoolID{0}
	}
	factors := make(map[market.PoolID]market.Factors, len(pools))
	for _, pool := range pools {
		factors[pool] = market.Factors{
			CollateralFactor:     cloneOrZero(params.Factors.CollateralFactor),
			LiquidationThreshold: cloneOrZero(params.Factors.LiquidationThreshold),
		}
	}
	rate := cloneOrZero(params.RatePerSecond)
	l.markets[addr] = &marketState{
		underlying:    params.Underlying,
		decimals:      params.Decimals,
		native:        params.Native,
		listed:        true,
		pools:         append([]market.PoolID(nil), pools...),
		factors:       factors,
		paused:        make(map[market.Action]bool),
		borrowCap:     new(big.Int),
		supplyCap:     new(big.Int),
		ratePerSecond: rate,
		borrowIndex:   new(big.Int).Set(oneE18),
		lastAccrual:   l.now().Unix(),
		totalBorrows:  new(big.Int),
		totalSupply:   new(big.Int),
		supplies:      make(map[common.Address]*big.Int),
		borrows:       make(map[common.Address]*borrowSnapshot),
	}
	return nil
}

// SetBalance seeds a raw token balance, replacing any existing amount.
func (l *Ledger) SetBalance(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances(token)[holder] = cloneOrZero(amount)
}

func (l *Ledger) IsListed(addr common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.markets[addr]
	return ok && st.listed
}

func (l *Ledger) IsNativeMarket(addr common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.markets[addr]
	return ok && st.native
}

func (l *Ledger) Underlying(addr common.Address) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.markets[addr]
	if !ok || !st.listed {
		return common.Address{}, ErrMarketNotListed
	}
	return st.underlying, nil
}

func (l *Ledger) UnderlyingDecimals(addr common.Address) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.markets[addr]
	if !ok || !st.listed {
		return 0, ErrMarketNotListed
	}
	return st.decimals, nil
}

func (l *Ledger) ApproveDelegate(account, delegate common.Address, approved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.delegates[account]
	if !ok {
		set = make(map[common.Address]bool)
		l.delegates[account] = set
	}
	if approved {
		set[delegate] = true
	} else {
		delete(set, delegate)
	}
}

func (l *Ledger) ApprovedDelegate(account, delegate common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delegates[account][delegate]
}

// BalanceOf reports a raw token balance. The returned value is a copy.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneOrZero(l.balances(token)[holder])
}

func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("transfer amount is negative: %s", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(token, from, to, amount)
}

func (l *Ledger) transferLocked(token, from, to common.Address, amount *big.Int) error {
	balances := l.balances(token)
	have := balances[from]
	if have == nil || have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s", ErrInsufficientBalance, token.Hex(), from.Hex())
	}
	balances[from] = new(big.Int).Sub(have, amount)
	if existing := balances[to]; existing != nil {
		balances[to] = new(big.Int).Add(existing, amount)
	} else {
		balances[to] = new(big.Int).Set(amount)
	}
	return nil
}

func (l *Ledger) balances(token common.Address) map[common.Address]*big.Int {
	balances, ok := l.tokens[token]
	if !ok {
		balances = make(map[common.Address]*big.Int)
		l.tokens[token] = balances
	}
	return balances
}

func (l *Ledger) marketLocked(addr common.Address) (*marketState, error) {
	st, ok := l.markets[addr]
	if !ok || !st.listed {
		return nil, ErrMarketNotListed
	}
	return st, nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
