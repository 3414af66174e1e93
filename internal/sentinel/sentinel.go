// Package sentinel compares an authoritative oracle price against a
// DEX-derived price for each monitored market and applies defensive market
// interventions when they diverge: pausing borrows when the DEX runs hot,
// zeroing collateral weight when the oracle does, and restoring the exact
// prior parameters once prices converge.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"

	"lev-periphery/internal/dexprice"
	"lev-periphery/internal/market"
	"lev-periphery/internal/metrics"
	"lev-periphery/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrMarketNotConfigured = errors.New("market has no deviation configuration")
	ErrMonitoringDisabled  = errors.New("deviation monitoring is disabled for market")
	ErrUnauthorizedKeeper  = errors.New("keeper is not in the trusted set")
	ErrBadDeviationBound   = errors.New("max deviation percent must be in (0, 100]")
)

// MaxPercent is the deviation reported when the oracle price is zero: an
// oracle failure is treated as maximal divergence, never as a reason to
// skip the check.
var MaxPercent = new(big.Int).SetUint64(math.MaxUint64)

// DeviationConfig keys a monitored market to its DEX reference pool.
type DeviationConfig struct {
	Market              common.Address
	Asset               common.Address
	Pool                common.Address
	Kind                dexprice.Kind
	MaxDeviationPercent uint64
	Enabled             bool
}

// PoolSource reports current DEX pool state.
type PoolSource interface {
	PoolState(ctx context.Context, pool common.Address) (dexprice.PoolState, error)
}

// Deviation is one comparison's result. Prices are in the oracle's
// 1e(36-decimals) scale; Percent is a whole-percent figure.
type Deviation struct {
	HasDeviation bool
	OraclePrice  *big.Int
	DexPrice     *big.Int
	Percent      *big.Int
}

// Action names what HandleDeviation did.
type Action string

const (
	ActionNone              Action = "none"
	ActionPauseBorrow       Action = "pause_borrow"
	ActionZeroCollateral    Action = "zero_collateral"
	ActionRestoreBorrow     Action = "restore_borrow"
	ActionRestoreCollateral Action = "restore_collateral"
)

// Outcome reports a handled deviation for auditing and alerting.
type Outcome struct {
	Market    common.Address
	Action    Action
	From      State
	To        State
	Deviation Deviation
}

type Sentinel struct {
	gov     market.Governance
	oracle  market.PriceOracle
	pools   PoolSource
	store   state.Store
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	keepers  map[common.Address]bool
	configs  map[common.Address]DeviationConfig
	machines map[common.Address]*StateMachine
	saved    map[common.Address]map[market.PoolID]market.Factors
}

func New(gov market.Governance, oracle market.PriceOracle, pools PoolSource, store state.Store, log *zap.Logger, m *metrics.Metrics) *Sentinel {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Sentinel{
		gov:      gov,
		oracle:   oracle,
		pools:    pools,
		store:    store,
		log:      log,
		metrics:  m,
		keepers:  make(map[common.Address]bool),
		configs:  make(map[common.Address]DeviationConfig),
		machines: make(map[common.Address]*StateMachine),
		saved:    make(map[common.Address]map[market.PoolID]market.Factors),
	}
}

func (s *Sentinel) TrustKeeper(keeper common.Address, trusted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trusted {
		s.keepers[keeper] = true
	} else {
		delete(s.keepers, keeper)
	}
}

func (s *Sentinel) Configure(cfg DeviationConfig) error {
	if cfg.MaxDeviationPercent == 0 || cfg.MaxDeviationPercent > 100 {
		return ErrBadDeviationBound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.Market] = cfg
	if _, ok := s.machines[cfg.Market]; !ok {
		s.machines[cfg.Market] = NewStateMachine()
	}
	return nil
}

// MarketState reports a configured market's current intervention state.
func (s *Sentinel) MarketState(mkt common.Address) (State, bool) {
	s.mu.Lock()
	machine, ok := s.machines[mkt]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return machine.Current(), true
}

func (s *Sentinel) config(mkt common.Address) (DeviationConfig, *StateMachine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[mkt]
	if !ok {
		return DeviationConfig{}, nil, ErrMarketNotConfigured
	}
	if !cfg.Enabled {
		return DeviationConfig{}, nil, ErrMonitoringDisabled
	}
	return cfg, s.machines[mkt], nil
}

// CheckPriceDeviation compares the oracle and DEX prices for a market.
func (s *Sentinel) CheckPriceDeviation(ctx context.Context, mkt common.Address) (Deviation, error) {
	cfg, _, err := s.config(mkt)
	if err != nil {
		return Deviation{}, err
	}
	oraclePrice, err := s.oracle.GetUnderlyingPrice(mkt)
	if err != nil {
		return Deviation{}, fmt.Errorf("oracle price: %w", err)
	}
	poolState, err := s.pools.PoolState(ctx, cfg.Pool)
	if err != nil {
		return Deviation{}, fmt.Errorf("pool state: %w", err)
	}
	poolState.Kind = cfg.Kind
	dexPrice, err := dexprice.USDPrice(cfg.Asset, poolState, s.oracle)
	if err != nil {
		return Deviation{}, fmt.Errorf("dex price: %w", err)
	}
	dev := Deviation{OraclePrice: oraclePrice, DexPrice: dexPrice}
	if oraclePrice.Sign() == 0 {
		dev.HasDeviation = true
		dev.Percent = new(big.Int).Set(MaxPercent)
		return dev, nil
	}
	diff := new(big.Int).Sub(dexPrice, oraclePrice)
	diff.Abs(diff)
	percent := diff.Mul(diff, big.NewInt(100))
	percent.Div(percent, oraclePrice)
	dev.Percent = percent
	dev.HasDeviation = percent.Cmp(new(big.Int).SetUint64(cfg.MaxDeviationPercent)) > 0
	return dev, nil
}

// HandleDeviation applies or reverses an intervention depending on the
// current comparison. Repeated calls in the same state are no-ops.
func (s *Sentinel) HandleDeviation(ctx context.Context, keeper, mkt common.Address) (Outcome, error) {
	s.mu.Lock()
	trusted := s.keepers[keeper]
	s.mu.Unlock()
	if !trusted {
		return Outcome{}, ErrUnauthorizedKeeper
	}
	dev, err := s.CheckPriceDeviation(ctx, mkt)
	if err != nil {
		return Outcome{}, err
	}
	_, machine, err := s.config(mkt)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Market: mkt, Action: ActionNone, From: machine.Current(), Deviation: dev}

	if dev.HasDeviation {
		// a hot DEX price makes fresh borrowing the risk; a hot oracle
		// price makes the on-chain collateral valuation the risk
		if dev.DexPrice.Cmp(dev.OraclePrice) > 0 {
			err = s.pauseBorrow(ctx, mkt, machine, &out)
		} else {
			err = s.zeroCollateral(ctx, mkt, machine, &out)
		}
	} else {
		err = s.restore(ctx, mkt, machine, &out)
	}
	if err != nil {
		s.metrics.InterventionsFailed.Inc()
		return Outcome{}, err
	}
	out.To = machine.Current()
	if dev.HasDeviation {
		s.metrics.DeviationsDetected.Inc()
	}
	if out.Action != ActionNone {
		s.logTransition(out)
		if err := s.persist(ctx, mkt, machine); err != nil {
			s.log.Warn("intervention snapshot persist failed", zap.Error(err))
		}
	}
	return out, nil
}

func (s *Sentinel) pauseBorrow(ctx context.Context, mkt common.Address, machine *StateMachine, out *Outcome) error {
	if machine.Current() == StateBorrowPaused {
		return nil
	}
	if machine.Current() == StateCollateralZeroed {
		if err := s.restoreCollateral(ctx, mkt); err != nil {
			return err
		}
	}
	if err := s.gov.SetActionPaused(ctx, mkt, market.ActionBorrow, true); err != nil {
		return fmt.Errorf("pause borrow: %w", err)
	}
	machine.Apply(EventPauseBorrow)
	out.Action = ActionPauseBorrow
	s.metrics.InterventionsApplied.Inc()
	return nil
}

func (s *Sentinel) zeroCollateral(ctx context.Context, mkt common.Address, machine *StateMachine, out *Outcome) error {
	if machine.Current() == StateCollateralZeroed {
		return nil
	}
	if machine.Current() == StateBorrowPaused {
		if err := s.gov.SetActionPaused(ctx, mkt, market.ActionBorrow, false); err != nil {
			return fmt.Errorf("unpause borrow: %w", err)
		}
	}
	pools := s.gov.PoolsForMarket(mkt)
	if len(pools) == 0 {
		return fmt.Errorf("zero collateral: no pools for market %s", mkt.Hex())
	}
	saved := make(map[market.PoolID]market.Factors, len(pools))
	for _, pool := range pools {
		factors, err := s.gov.CollateralFactor(pool, mkt)
		if err != nil {
			return fmt.Errorf("snapshot pool %d: %w", pool, err)
		}
		saved[pool] = factors
		zero := market.Factors{CollateralFactor: new(big.Int), LiquidationThreshold: new(big.Int)}
		if err := s.gov.SetCollateralFactor(ctx, pool, mkt, zero); err != nil {
			return fmt.Errorf("zero pool %d: %w", pool, err)
		}
	}
	s.mu.Lock()
	s.saved[mkt] = saved
	s.mu.Unlock()
	machine.Apply(EventZeroCollateral)
	out.Action = ActionZeroCollateral
	s.metrics.InterventionsApplied.Inc()
	return nil
}

func (s *Sentinel) restore(ctx context.Context, mkt common.Address, machine *StateMachine, out *Outcome) error {
	switch machine.Current() {
	case StateBorrowPaused:
		if err := s.gov.SetActionPaused(ctx, mkt, market.ActionBorrow, false); err != nil {
			return fmt.Errorf("restore borrow: %w", err)
		}
		out.Action = ActionRestoreBorrow
	case StateCollateralZeroed:
		if err := s.restoreCollateral(ctx, mkt); err != nil {
			return err
		}
		out.Action = ActionRestoreCollateral
	default:
		return nil
	}
	machine.Apply(EventRestore)
	s.metrics.InterventionsRestored.Inc()
	return nil
}

// restoreCollateral writes back the exact factors captured at intervention
// time and clears the snapshot.
func (s *Sentinel) restoreCollateral(ctx context.Context, mkt common.Address) error {
	s.mu.Lock()
	saved := s.saved[mkt]
	s.mu.Unlock()
	pools := make([]market.PoolID, 0, len(saved))
	for pool := range saved {
		pools = append(pools, pool)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i] < pools[j] })
	for _, pool := range pools {
		if err := s.gov.SetCollateralFactor(ctx, pool, mkt, saved[pool]); err != nil {
			return fmt.Errorf("restore pool %d: %w", pool, err)
		}
	}
	s.mu.Lock()
	delete(s.saved, mkt)
	s.mu.Unlock()
	return nil
}

func (s *Sentinel) logTransition(out Outcome) {
	s.log.Info("deviation intervention",
		zap.String("market", out.Market.Hex()),
		zap.String("action", string(out.Action)),
		zap.String("from", string(out.From)),
		zap.String("to", string(out.To)),
		zap.String("oracle_price", out.Deviation.OraclePrice.String()),
		zap.String("dex_price", out.Deviation.DexPrice.String()),
		zap.String("deviation_percent", out.Deviation.Percent.String()),
	)
}
