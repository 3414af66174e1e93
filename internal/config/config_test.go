package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
markets:
  - name: WETH
    market: "0x00000000000000000000000000000000000000B1"
    asset: "0x00000000000000000000000000000000000000A1"
    pool: "0x00000000000000000000000000000000000000C1"
    dex_kind: stableswap
    max_deviation_percent: 5
    enabled: true
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Log.Level)
	}
	if cfg.State.SQLitePath != "data/lev-periphery.db" {
		t.Fatalf("expected default sqlite path, got %q", cfg.State.SQLitePath)
	}
	if cfg.Keeper.Interval != 30*time.Second {
		t.Fatalf("expected default interval 30s, got %s", cfg.Keeper.Interval)
	}
	if cfg.Feed.ReconnectDelay != 3*time.Second || cfg.Feed.PingInterval != 30*time.Second {
		t.Fatalf("expected default feed timings, got %s/%s", cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval)
	}
	if cfg.Metrics.Listen != ":9464" {
		t.Fatalf("expected default metrics listen, got %q", cfg.Metrics.Listen)
	}
	if cfg.Timescale.Schema != "public" {
		t.Fatalf("expected default timescale schema, got %q", cfg.Timescale.Schema)
	}
}

func TestLoadParsesValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log:
  level: debug
keeper:
  interval: 10s
  trusted_keepers:
    - "0x000000000000000000000000000000000000AA01"
telegram:
  enabled: true
  token: tok
  chat_id: "123"
  operator_enabled: true
`+minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug, got %q", cfg.Log.Level)
	}
	if cfg.Keeper.Interval != 10*time.Second {
		t.Fatalf("expected 10s interval, got %s", cfg.Keeper.Interval)
	}
	if len(cfg.Keeper.TrustedKeepers) != 1 {
		t.Fatalf("expected 1 trusted keeper, got %d", len(cfg.Keeper.TrustedKeepers))
	}
	if !cfg.Telegram.OperatorEnabled {
		t.Fatalf("expected operator enabled")
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Name != "WETH" {
		t.Fatalf("expected WETH market, got %+v", cfg.Markets)
	}
}

func TestLoadRejectsMissingMarkets(t *testing.T) {
	if _, err := Load(writeConfig(t, "log:\n  level: info\n")); err == nil {
		t.Fatalf("expected error for empty markets")
	}
}

func TestLoadRejectsBadAddresses(t *testing.T) {
	if _, err := Load(writeConfig(t, `
markets:
  - name: WETH
    market: "not-an-address"
    asset: "0x00000000000000000000000000000000000000A1"
    pool: "0x00000000000000000000000000000000000000C1"
    dex_kind: stableswap
    max_deviation_percent: 5
`)); err == nil {
		t.Fatalf("expected error for bad market address")
	}
}

func TestLoadRejectsBadDeviationBound(t *testing.T) {
	if _, err := Load(writeConfig(t, `
markets:
  - name: WETH
    market: "0x00000000000000000000000000000000000000B1"
    asset: "0x00000000000000000000000000000000000000A1"
    pool: "0x00000000000000000000000000000000000000C1"
    dex_kind: stableswap
    max_deviation_percent: 150
`)); err == nil {
		t.Fatalf("expected error for deviation bound above 100")
	}
}

func TestLoadRejectsUnknownDexKind(t *testing.T) {
	if _, err := Load(writeConfig(t, `
markets:
  - name: WETH
    market: "0x00000000000000000000000000000000000000B1"
    asset: "0x00000000000000000000000000000000000000A1"
    pool: "0x00000000000000000000000000000000000000C1"
    dex_kind: orderbook
    max_deviation_percent: 5
`)); err == nil {
		t.Fatalf("expected error for unknown dex kind")
	}
}

func TestLoadRequiresTimescaleDSN(t *testing.T) {
	if _, err := Load(writeConfig(t, "timescale:\n  enabled: true\n"+minimalConfig)); err == nil {
		t.Fatalf("expected error for enabled timescale without dsn")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
