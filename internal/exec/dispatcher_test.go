package exec

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

var mWETH = common.HexToAddress("0x00000000000000000000000000000000000000B1")

// flakyGov fails the first failures mutating calls, then succeeds.
type flakyGov struct {
	failures int
	calls    int
	paused   map[market.Action]bool
	factors  market.Factors
}

func newFlakyGov(failures int) *flakyGov {
	return &flakyGov{failures: failures, paused: make(map[market.Action]bool)}
}

func (g *flakyGov) step() error {
	g.calls++
	if g.calls <= g.failures {
		return errors.New("transient failure")
	}
	return nil
}

func (g *flakyGov) SetActionPaused(ctx context.Context, mkt common.Address, action market.Action, paused bool) error {
	if err := g.step(); err != nil {
		return err
	}
	g.paused[action] = paused
	return nil
}

func (g *flakyGov) ActionPaused(mkt common.Address, action market.Action) bool {
	return g.paused[action]
}

func (g *flakyGov) SetCollateralFactor(ctx context.Context, pool market.PoolID, mkt common.Address, factors market.Factors) error {
	if err := g.step(); err != nil {
		return err
	}
	g.factors = factors
	return nil
}

func (g *flakyGov) CollateralFactor(pool market.PoolID, mkt common.Address) (market.Factors, error) {
	return g.factors, nil
}

func (g *flakyGov) PoolsForMarket(mkt common.Address) []market.PoolID {
	return []market.PoolID{0}
}

func (g *flakyGov) SetMarketBorrowCap(ctx context.Context, mkt common.Address, cap *big.Int) error {
	return g.step()
}

func (g *flakyGov) SetMarketSupplyCap(ctx context.Context, mkt common.Address, cap *big.Int) error {
	return g.step()
}

func (g *flakyGov) UnlistMarket(ctx context.Context, mkt common.Address) error {
	return g.step()
}

type memStore struct {
	mu sync.Mutex
	kv map[string]string
}

func newMemStore() *memStore { return &memStore{kv: make(map[string]string)} }

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	gov := newFlakyGov(2)
	d := New(gov, nil, nil)
	if err := d.SetActionPaused(context.Background(), mWETH, market.ActionBorrow, true); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if gov.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", gov.calls)
	}
	if !d.ActionPaused(mWETH, market.ActionBorrow) {
		t.Fatalf("expected pause applied after retries")
	}
}

func TestDispatcherStopsOnCancelledContext(t *testing.T) {
	gov := newFlakyGov(100)
	d := New(gov, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.SetActionPaused(ctx, mWETH, market.ActionBorrow, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestDispatcherRecordsAppliedCommands(t *testing.T) {
	gov := newFlakyGov(0)
	store := newMemStore()
	d := New(gov, store, nil)
	ctx := context.Background()

	if err := d.SetActionPaused(ctx, mWETH, market.ActionBorrow, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	key := "gov:pause:" + mWETH.Hex() + ":borrow"
	value, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected audit record at %q", key)
	}
	if value != "true" {
		t.Fatalf("expected recorded value true, got %q", value)
	}

	factors := market.Factors{CollateralFactor: big.NewInt(0), LiquidationThreshold: big.NewInt(0)}
	if err := d.SetCollateralFactor(ctx, 0, mWETH, factors); err != nil {
		t.Fatalf("set factors: %v", err)
	}
	value, ok, err = d.LastApplied(ctx, "gov:cf:0:"+mWETH.Hex())
	if err != nil || !ok {
		t.Fatalf("expected cf record, got ok=%t err=%v", ok, err)
	}
	if value != "0/0" {
		t.Fatalf("expected recorded factors 0/0, got %q", value)
	}
}

func TestLastAppliedFallsBackToStore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	key := "gov:unlist:" + mWETH.Hex()
	if err := store.Set(ctx, key, "unlisted"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	// a fresh dispatcher has an empty cache and reads through
	d := New(newFlakyGov(0), store, nil)
	value, ok, err := d.LastApplied(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected store fallback, got ok=%t err=%v", ok, err)
	}
	if value != "unlisted" {
		t.Fatalf("expected unlisted, got %q", value)
	}
}
