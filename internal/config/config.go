package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	State     StateConfig     `yaml:"state"`
	Keeper    KeeperConfig    `yaml:"keeper"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Feed      FeedConfig      `yaml:"feed"`
	Markets   []MarketConfig  `yaml:"markets"`
	Pools     []PoolConfig    `yaml:"pools"`
	Genesis   GenesisConfig   `yaml:"genesis"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type KeeperConfig struct {
	Interval       time.Duration `yaml:"interval"`
	TrustedKeepers []string      `yaml:"trusted_keepers"`
	Treasury       string        `yaml:"treasury"`
}

type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// MarketConfig is one monitored market's deviation configuration.
type MarketConfig struct {
	Name                string `yaml:"name"`
	Market              string `yaml:"market"`
	Asset               string `yaml:"asset"`
	Pool                string `yaml:"pool"`
	DexKind             string `yaml:"dex_kind"`
	MaxDeviationPercent uint64 `yaml:"max_deviation_percent"`
	Enabled             bool   `yaml:"enabled"`
}

// PoolConfig is a statically configured DEX pool, used when no live feed is
// attached.
type PoolConfig struct {
	Address      string `yaml:"address"`
	Kind         string `yaml:"kind"`
	Token0       string `yaml:"token0"`
	Token1       string `yaml:"token1"`
	SqrtPriceX96 string `yaml:"sqrt_price_x96"`
	Reserve0     string `yaml:"reserve0"`
	Reserve1     string `yaml:"reserve1"`
}

// GenesisConfig seeds the embedded market ledger for self-contained runs.
type GenesisConfig struct {
	Markets []GenesisMarket `yaml:"markets"`
	Prices  []StaticPrice   `yaml:"prices"`
}

type GenesisMarket struct {
	Market               string   `yaml:"market"`
	Underlying           string   `yaml:"underlying"`
	Decimals             uint8    `yaml:"decimals"`
	Native               bool     `yaml:"native"`
	Pools                []uint64 `yaml:"pools"`
	CollateralFactor     string   `yaml:"collateral_factor"`
	LiquidationThreshold string   `yaml:"liquidation_threshold"`
	RatePerSecond        string   `yaml:"rate_per_second"`
}

type StaticPrice struct {
	Asset string `yaml:"asset"`
	Price string `yaml:"price"`
}

type TimescaleConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Schema  string `yaml:"schema"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/lev-periphery.db"
	}
	if cfg.Keeper.Interval == 0 {
		cfg.Keeper.Interval = 30 * time.Second
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9464"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Markets) == 0 {
		return errors.New("at least one monitored market is required")
	}
	for i, m := range cfg.Markets {
		if !common.IsHexAddress(m.Market) {
			return fmt.Errorf("markets[%d]: invalid market address %q", i, m.Market)
		}
		if !common.IsHexAddress(m.Asset) {
			return fmt.Errorf("markets[%d]: invalid asset address %q", i, m.Asset)
		}
		if !common.IsHexAddress(m.Pool) {
			return fmt.Errorf("markets[%d]: invalid pool address %q", i, m.Pool)
		}
		if m.MaxDeviationPercent == 0 || m.MaxDeviationPercent > 100 {
			return fmt.Errorf("markets[%d]: max_deviation_percent must be in (0, 100]", i)
		}
		switch m.DexKind {
		case "concentrated", "stableswap":
		default:
			return fmt.Errorf("markets[%d]: unknown dex_kind %q", i, m.DexKind)
		}
	}
	for i, k := range cfg.Keeper.TrustedKeepers {
		if !common.IsHexAddress(k) {
			return fmt.Errorf("keeper.trusted_keepers[%d]: invalid address %q", i, k)
		}
	}
	if cfg.Keeper.Treasury != "" && !common.IsHexAddress(cfg.Keeper.Treasury) {
		return fmt.Errorf("keeper.treasury: invalid address %q", cfg.Keeper.Treasury)
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
