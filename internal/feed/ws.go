package feed

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"lev-periphery/internal/dexprice"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client is a reconnecting websocket consumer of pool-state updates.
// Subscriptions are replayed after every reconnect.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []interface{}
}

func NewClient(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

type poolSubscription struct {
	Method string `json:"method"`
	Type   string `json:"type"`
	Pool   string `json:"pool"`
}

// PoolUpdate is the wire form of one pool-state message. Numeric fields are
// decimal strings so precision survives JSON.
type PoolUpdate struct {
	Pool         string `json:"pool"`
	Kind         string `json:"kind"`
	Token0       string `json:"token0"`
	Token1       string `json:"token1"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	Reserve0     string `json:"reserve0,omitempty"`
	Reserve1     string `json:"reserve1,omitempty"`
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) SubscribePool(ctx context.Context, pool common.Address) error {
	sub := poolSubscription{Method: "subscribe", Type: "poolState", Pool: pool.Hex()}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	return writeJSON(ctx, conn, sub)
}

// Run pumps updates into the cache until ctx is cancelled. Read failures
// trigger a reconnect after the configured delay.
func (c *Client) Run(ctx context.Context, cache *Cache) error {
	for {
		if err := c.ensureConnected(ctx); err != nil {
			return err
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx, cache)
		cancel()
		<-pingDone
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logReadLoopError(err)
			c.resetConn()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
			continue
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	subs := append([]interface{}(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, cache *Cache) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handleMessage(data, cache)
	}
}

func (c *Client) handleMessage(data []byte, cache *Cache) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logWarn("ws message decode failed", err)
		return
	}
	if env.Channel != "poolState" {
		return
	}
	var update PoolUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		c.logWarn("pool update decode failed", err)
		return
	}
	pool, state, err := ParsePoolUpdate(update)
	if err != nil {
		c.logWarn("pool update rejected", err)
		return
	}
	cache.Apply(pool, state)
}

// ParsePoolUpdate validates a wire update into cacheable pool state.
func ParsePoolUpdate(update PoolUpdate) (common.Address, dexprice.PoolState, error) {
	if !common.IsHexAddress(update.Pool) {
		return common.Address{}, dexprice.PoolState{}, errors.New("invalid pool address")
	}
	kind, err := dexprice.ParseKind(update.Kind)
	if err != nil {
		return common.Address{}, dexprice.PoolState{}, err
	}
	if !common.IsHexAddress(update.Token0) || !common.IsHexAddress(update.Token1) {
		return common.Address{}, dexprice.PoolState{}, errors.New("invalid token addresses")
	}
	state := dexprice.PoolState{
		Kind:   kind,
		Token0: common.HexToAddress(update.Token0),
		Token1: common.HexToAddress(update.Token1),
	}
	if update.SqrtPriceX96 != "" {
		v, ok := new(big.Int).SetString(update.SqrtPriceX96, 10)
		if !ok {
			return common.Address{}, dexprice.PoolState{}, errors.New("bad sqrt_price_x96")
		}
		state.SqrtPriceX96 = v
	}
	if update.Reserve0 != "" {
		v, ok := new(big.Int).SetString(update.Reserve0, 10)
		if !ok {
			return common.Address{}, dexprice.PoolState{}, errors.New("bad reserve0")
		}
		state.Reserve0 = v
	}
	if update.Reserve1 != "" {
		v, ok := new(big.Int).SetString(update.Reserve1, 10)
		if !ok {
			return common.Address{}, dexprice.PoolState{}, errors.New("bad reserve1")
		}
		state.Reserve1 = v
	}
	return common.HexToAddress(update.Pool), state, nil
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if c.log == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) logWarn(msg string, err error) {
	if c.log == nil {
		return
	}
	c.log.Warn(msg, zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"method": "ping"}
