// Package app wires the keeper daemon: the embedded market engine, the
// price-deviation sentinel, the pool-state feed, and the operator surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lev-periphery/internal/alerts"
	"lev-periphery/internal/config"
	"lev-periphery/internal/dexprice"
	"lev-periphery/internal/exec"
	"lev-periphery/internal/feed"
	"lev-periphery/internal/keeper"
	"lev-periphery/internal/ledger"
	"lev-periphery/internal/metrics"
	"lev-periphery/internal/position"
	"lev-periphery/internal/sentinel"
	"lev-periphery/internal/state/sqlite"
	"lev-periphery/internal/timescale"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// flashLoanOriginator is the address the embedded engine uses as its
// flash-loan entry point.
var flashLoanOriginator = common.HexToAddress("0x0000000000000000000000000000000000000001")

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      *sqlite.Store
	ledger     *ledger.Ledger
	oracle     *ledger.StaticOracle
	dispatcher *exec.Dispatcher
	sentinel   *sentinel.Sentinel
	signer     *keeper.Signer
	cache      *feed.Cache
	feed       *feed.Client
	alerts     *alerts.Telegram
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	writer     *timescale.Writer
	reader     *position.Reader
	markets    []common.Address

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
	auditNonce     atomic.Uint64
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	eng, oracle, err := buildLedger(cfg.Genesis, flashLoanOriginator)
	if err != nil {
		return nil, err
	}

	privateKey := strings.TrimSpace(os.Getenv("KEEPER_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("KEEPER_PRIVATE_KEY is required")
	}
	signer, err := keeper.NewSigner(privateKey)
	if err != nil {
		return nil, err
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	cache, err := feed.FromConfig(cfg.Pools)
	if err != nil {
		return nil, err
	}
	var source feed.Source = cache
	if cfg.Gateway.BaseURL != "" {
		gateway := feed.NewGateway(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, log)
		source = feed.NewFallback(cache, gateway)
	}
	var feedClient *feed.Client
	if cfg.Feed.URL != "" {
		feedClient = feed.NewClient(cfg.Feed.URL, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, log)
	}

	dispatcher := exec.New(eng, store, log)
	watch := sentinel.New(dispatcher, oracle, source, store, log, m)
	markets := make([]common.Address, 0, len(cfg.Markets))
	for _, mc := range cfg.Markets {
		kind, err := dexprice.ParseKind(mc.DexKind)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", mc.Name, err)
		}
		mkt := common.HexToAddress(mc.Market)
		if err := watch.Configure(sentinel.DeviationConfig{
			Market:              mkt,
			Asset:               common.HexToAddress(mc.Asset),
			Pool:                common.HexToAddress(mc.Pool),
			Kind:                kind,
			MaxDeviationPercent: mc.MaxDeviationPercent,
			Enabled:             mc.Enabled,
		}); err != nil {
			return nil, fmt.Errorf("market %s: %w", mc.Name, err)
		}
		markets = append(markets, mkt)
	}
	watch.TrustKeeper(signer.Address(), true)
	for _, k := range cfg.Keeper.TrustedKeepers {
		watch.TrustKeeper(common.HexToAddress(k), true)
	}

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		ledger:     eng,
		oracle:     oracle,
		dispatcher: dispatcher,
		sentinel:   watch,
		signer:     signer,
		cache:      cache,
		feed:       feedClient,
		alerts:     alerts.NewTelegram(cfg.Telegram, log),
		metrics:    m,
		prom:       prom,
		writer:     writer,
		reader:     position.NewReader(eng, oracle),
		markets:    markets,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.writer.Close()

	if err := a.sentinel.RestoreFromStore(ctx); err != nil {
		return fmt.Errorf("restore intervention state: %w", err)
	}
	a.writer.Start(ctx)
	a.startMetricsServer(ctx)
	a.startFeed(ctx)
	a.startOperator(ctx)

	a.log.Info("keeper started",
		zap.String("keeper", a.signer.Address().Hex()),
		zap.Int("markets", len(a.markets)),
		zap.Duration("interval", a.cfg.Keeper.Interval),
	)

	ticker := time.NewTicker(a.cfg.Keeper.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *App) tick(ctx context.Context) {
	if a.isPaused() {
		return
	}
	for _, mkt := range a.markets {
		out, err := a.sentinel.HandleDeviation(ctx, a.signer.Address(), mkt)
		if err != nil {
			if errors.Is(err, sentinel.ErrMonitoringDisabled) {
				continue
			}
			a.log.Warn("deviation check failed", zap.String("market", mkt.Hex()), zap.Error(err))
			continue
		}
		a.writer.EnqueueObservation(timescale.Observation{
			Time:             time.Now().UTC(),
			Market:           mkt.Hex(),
			OraclePrice:      out.Deviation.OraclePrice.String(),
			DexPrice:         out.Deviation.DexPrice.String(),
			DeviationPercent: out.Deviation.Percent.String(),
			HasDeviation:     out.Deviation.HasDeviation,
		})
		if out.Action == sentinel.ActionNone {
			continue
		}
		a.recordIntervention(ctx, out)
	}
}

// recordIntervention signs and stores an audit record for an applied
// intervention, archives it, and notifies the alert channel.
func (a *App) recordIntervention(ctx context.Context, out sentinel.Outcome) {
	now := time.Now().UTC()
	record := keeper.AuditRecord{
		Market:           out.Market.Hex(),
		Action:           string(out.Action),
		FromState:        string(out.From),
		ToState:          string(out.To),
		OraclePrice:      out.Deviation.OraclePrice.String(),
		DexPrice:         out.Deviation.DexPrice.String(),
		DeviationPercent: out.Deviation.Percent.String(),
		Nonce:            a.auditNonce.Add(1),
		TimestampMS:      now.UnixMilli(),
	}
	sig, err := a.signer.SignRecord(record)
	if err != nil {
		a.log.Warn("audit record signing failed", zap.Error(err))
	} else if err := a.storeAuditRecord(ctx, record, sig); err != nil {
		a.log.Warn("audit record persist failed", zap.Error(err))
	}
	a.writer.EnqueueIntervention(timescale.Intervention{
		Time:      now,
		Market:    out.Market.Hex(),
		Action:    string(out.Action),
		FromState: string(out.From),
		ToState:   string(out.To),
		Keeper:    a.signer.Address().Hex(),
	})
	message := fmt.Sprintf("intervention %s on %s (%s -> %s), deviation %s%%",
		out.Action, out.Market.Hex(), out.From, out.To, out.Deviation.Percent)
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

func (a *App) storeAuditRecord(ctx context.Context, record keeper.AuditRecord, sig keeper.Signature) error {
	payload, err := keeper.EncodeAuditRecord(record)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("keeper:audit:%d:%d", record.TimestampMS, record.Nonce)
	value := fmt.Sprintf("%x|%s|%s|%d", payload, sig.R, sig.S, sig.V)
	return a.store.Set(ctx, key, value)
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
}

func (a *App) startFeed(ctx context.Context) {
	if a.feed == nil {
		return
	}
	go func() {
		if err := a.feed.Connect(ctx); err != nil {
			a.log.Warn("feed connect failed", zap.Error(err))
		}
		for _, mc := range a.cfg.Markets {
			if err := a.feed.SubscribePool(ctx, common.HexToAddress(mc.Pool)); err != nil {
				a.log.Warn("pool subscribe failed", zap.String("pool", mc.Pool), zap.Error(err))
			}
		}
		if err := a.feed.Run(ctx, a.cache); err != nil && ctx.Err() == nil {
			a.log.Warn("feed stopped", zap.Error(err))
		}
	}()
}
