// Package timescale archives deviation checks and interventions to a
// TimescaleDB instance. Writes are asynchronous and best-effort: a full
// queue drops observations rather than stalling the keeper tick.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"lev-periphery/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	queueSize    = 256
)

// Observation is one deviation check's result. Prices keep their full
// fixed-point precision as decimal strings.
type Observation struct {
	Time             time.Time
	Market           string
	OraclePrice      string
	DexPrice         string
	DeviationPercent string
	HasDeviation     bool
}

// Intervention is one applied or reversed market intervention.
type Intervention struct {
	Time      time.Time
	Market    string
	Action    string
	FromState string
	ToState   string
	Keeper    string
}

type Writer struct {
	db            *sql.DB
	log           *zap.Logger
	schema        string
	observations  chan Observation
	interventions chan Intervention
	started       atomic.Bool
	dropObs       atomic.Uint64
	dropInt       atomic.Uint64
}

// New returns nil when the integration is disabled; a nil Writer is safe to
// use, every method no-ops.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := &Writer{
		db:            db,
		log:           log,
		schema:        schema,
		observations:  make(chan Observation, queueSize),
		interventions: make(chan Intervention, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueObservation(obs Observation) {
	if w == nil {
		return
	}
	select {
	case w.observations <- obs:
		return
	default:
		if w.dropObs.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale observation queue full")
		}
	}
}

func (w *Writer) EnqueueIntervention(event Intervention) {
	if w == nil {
		return
	}
	select {
	case w.interventions <- event:
		return
	default:
		if w.dropInt.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale intervention queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-w.observations:
			w.writeObservation(ctx, obs)
		case event := <-w.interventions:
			w.writeIntervention(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		oracle_price NUMERIC NOT NULL,
		dex_price NUMERIC NOT NULL,
		deviation_percent NUMERIC NOT NULL,
		has_deviation BOOLEAN NOT NULL
	)`, w.table("price_deviations"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		action TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		keeper TEXT NOT NULL
	)`, w.table("interventions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("price_deviations"))); err != nil && w.log != nil {
		w.log.Warn("timescale price_deviations hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("interventions"))); err != nil && w.log != nil {
		w.log.Warn("timescale interventions hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeObservation(ctx context.Context, obs Observation) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, market, oracle_price, dex_price, deviation_percent, has_deviation
	) VALUES ($1,$2,$3,$4,$5,$6)`, w.table("price_deviations"))
	if _, err := w.db.ExecContext(ctx, query,
		obs.Time,
		obs.Market,
		obs.OraclePrice,
		obs.DexPrice,
		obs.DeviationPercent,
		obs.HasDeviation,
	); err != nil && w.log != nil {
		w.log.Warn("timescale observation insert failed", zap.Error(err))
	}
}

func (w *Writer) writeIntervention(ctx context.Context, event Intervention) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, market, action, from_state, to_state, keeper
	) VALUES ($1,$2,$3,$4,$5,$6)`, w.table("interventions"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Market,
		event.Action,
		event.FromState,
		event.ToState,
		event.Keeper,
	); err != nil && w.log != nil {
		w.log.Warn("timescale intervention insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
