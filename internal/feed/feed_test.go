package feed

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lev-periphery/internal/config"
	"lev-periphery/internal/dexprice"

	"github.com/ethereum/go-ethereum/common"
)

var (
	weth    = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	usdc    = common.HexToAddress("0x00000000000000000000000000000000000000A2")
	dexPool = common.HexToAddress("0x00000000000000000000000000000000000000C1")
)

func TestCacheApplyAndLookup(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()
	if _, err := cache.PoolState(ctx, dexPool); !errors.Is(err, ErrPoolUnknown) {
		t.Fatalf("expected ErrPoolUnknown, got %v", err)
	}
	state := dexprice.PoolState{
		Kind:     dexprice.KindStableswap,
		Token0:   weth,
		Token1:   usdc,
		Reserve0: big.NewInt(1),
		Reserve1: big.NewInt(2000),
	}
	cache.Apply(dexPool, state)
	got, err := cache.PoolState(ctx, dexPool)
	if err != nil {
		t.Fatalf("pool state: %v", err)
	}
	if got.Reserve1.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected cached reserve, got %s", got.Reserve1)
	}
}

func TestFromConfig(t *testing.T) {
	cache, err := FromConfig([]config.PoolConfig{{
		Address:      dexPool.Hex(),
		Kind:         "concentrated",
		Token0:       weth.Hex(),
		Token1:       usdc.Hex(),
		SqrtPriceX96: "79228162514264337593543950336",
	}})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	state, err := cache.PoolState(context.Background(), dexPool)
	if err != nil {
		t.Fatalf("pool state: %v", err)
	}
	if state.Kind != dexprice.KindConcentrated {
		t.Fatalf("expected concentrated, got %s", state.Kind)
	}
	if state.SqrtPriceX96 == nil || state.SqrtPriceX96.Sign() == 0 {
		t.Fatalf("expected parsed sqrt price")
	}
}

func TestFromConfigRejectsBadInput(t *testing.T) {
	if _, err := FromConfig([]config.PoolConfig{{Address: "nope"}}); err == nil {
		t.Fatalf("expected error for bad address")
	}
	if _, err := FromConfig([]config.PoolConfig{{
		Address: dexPool.Hex(), Kind: "orderbook", Token0: weth.Hex(), Token1: usdc.Hex(),
	}}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := FromConfig([]config.PoolConfig{{
		Address: dexPool.Hex(), Kind: "stableswap", Token0: weth.Hex(), Token1: usdc.Hex(), Reserve0: "abc",
	}}); err == nil {
		t.Fatalf("expected error for bad reserve")
	}
}

func TestParsePoolUpdate(t *testing.T) {
	update := PoolUpdate{
		Pool:     dexPool.Hex(),
		Kind:     "stableswap",
		Token0:   weth.Hex(),
		Token1:   usdc.Hex(),
		Reserve0: "1000000000000000000",
		Reserve1: "2000000000",
	}
	pool, state, err := ParsePoolUpdate(update)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pool != dexPool {
		t.Fatalf("expected pool %s, got %s", dexPool.Hex(), pool.Hex())
	}
	if state.Reserve0.String() != "1000000000000000000" {
		t.Fatalf("expected parsed reserve0, got %s", state.Reserve0)
	}

	bad := update
	bad.Kind = "orderbook"
	if _, _, err := ParsePoolUpdate(bad); err == nil {
		t.Fatalf("expected error for bad kind")
	}
	bad = update
	bad.Reserve0 = "xyz"
	if _, _, err := ParsePoolUpdate(bad); err == nil {
		t.Fatalf("expected error for bad reserve")
	}
	bad = update
	bad.Pool = "not-an-address"
	if _, _, err := ParsePoolUpdate(bad); err == nil {
		t.Fatalf("expected error for bad pool address")
	}
}

func TestHandleMessageUpdatesCache(t *testing.T) {
	client := NewClient("ws://unused", time.Second, time.Second, nil)
	cache := NewCache()
	msg := []byte(`{"channel":"poolState","data":{` +
		`"pool":"` + dexPool.Hex() + `","kind":"stableswap",` +
		`"token0":"` + weth.Hex() + `","token1":"` + usdc.Hex() + `",` +
		`"reserve0":"1","reserve1":"2000"}}`)
	client.handleMessage(msg, cache)
	state, err := cache.PoolState(context.Background(), dexPool)
	if err != nil {
		t.Fatalf("expected cached state, got %v", err)
	}
	if state.Reserve1.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected reserve1 2000, got %s", state.Reserve1)
	}

	// other channels and malformed frames are ignored
	client.handleMessage([]byte(`{"channel":"trades","data":{}}`), cache)
	client.handleMessage([]byte(`not json`), cache)
}

func TestFallbackChainsSources(t *testing.T) {
	cold := NewCache()
	warm := NewCache()
	state := dexprice.PoolState{
		Kind: dexprice.KindStableswap, Token0: weth, Token1: usdc,
		Reserve0: big.NewInt(1), Reserve1: big.NewInt(2000),
	}
	warm.Apply(dexPool, state)

	fallback := NewFallback(cold, warm)
	got, err := fallback.PoolState(context.Background(), dexPool)
	if err != nil {
		t.Fatalf("expected second source to serve, got %v", err)
	}
	if got.Reserve1.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected warm state, got %s", got.Reserve1)
	}

	empty := NewFallback(cold)
	if _, err := empty.PoolState(context.Background(), dexPool); !errors.Is(err, ErrPoolUnknown) {
		t.Fatalf("expected ErrPoolUnknown from exhausted chain, got %v", err)
	}
}

func TestGatewayPoolState(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pool":"` + dexPool.Hex() + `","kind":"stableswap",` +
			`"token0":"` + weth.Hex() + `","token1":"` + usdc.Hex() + `",` +
			`"reserve0":"1","reserve1":"2000"}`))
	}))
	defer server.Close()

	gateway := NewGateway(server.URL, 5*time.Second, nil)
	state, err := gateway.PoolState(context.Background(), dexPool)
	if err != nil {
		t.Fatalf("gateway pool state: %v", err)
	}
	if gotPath != "/info" {
		t.Fatalf("expected POST /info, got %s", gotPath)
	}
	if state.Reserve1.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected reserve1 2000, got %s", state.Reserve1)
	}
}

func TestGatewayPropagatesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	gateway := NewGateway(server.URL, 5*time.Second, nil)
	if _, err := gateway.PoolState(context.Background(), dexPool); err == nil {
		t.Fatalf("expected error for http 502")
	}
}
