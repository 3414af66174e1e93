package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lev-periphery/internal/dexprice"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Gateway fetches pool state over HTTP from an indexer. It serves as a
// fallback source when the websocket cache is cold.
type Gateway struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewGateway(baseURL string, timeout time.Duration, log *zap.Logger) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type poolStateRequest struct {
	Type string `json:"type"`
	Pool string `json:"pool"`
}

func (g *Gateway) PoolState(ctx context.Context, pool common.Address) (dexprice.PoolState, error) {
	update, err := g.post(ctx, "/info", poolStateRequest{Type: "poolState", Pool: pool.Hex()})
	if err != nil {
		return dexprice.PoolState{}, err
	}
	_, state, err := ParsePoolUpdate(update)
	if err != nil {
		return dexprice.PoolState{}, fmt.Errorf("gateway pool state: %w", err)
	}
	return state, nil
}

func (g *Gateway) post(ctx context.Context, path string, req interface{}) (PoolUpdate, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return PoolUpdate{}, err
	}
	url := g.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return PoolUpdate{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.http.Do(httpReq)
	if err != nil {
		return PoolUpdate{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return PoolUpdate{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var update PoolUpdate
	if err := json.NewDecoder(resp.Body).Decode(&update); err != nil {
		return PoolUpdate{}, err
	}
	return update, nil
}
