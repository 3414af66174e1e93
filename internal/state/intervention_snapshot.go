package state

import (
	"context"
	"encoding/json"
	"strings"
)

const interventionKeyPrefix = "sentinel:intervention:"

// SavedFactors is one pool's pre-intervention collateral-factor pair,
// serialized as decimal strings at 1e18 scale.
type SavedFactors struct {
	CollateralFactor     string `json:"collateral_factor"`
	LiquidationThreshold string `json:"liquidation_threshold"`
}

// InterventionSnapshot is the persisted form of a market's intervention
// state, so exact restoration survives a keeper restart.
type InterventionSnapshot struct {
	Market      string                  `json:"market"`
	State       string                  `json:"state"`
	Saved       map[uint64]SavedFactors `json:"saved,omitempty"`
	UpdatedAtMS int64                   `json:"updated_at_ms"`
}

func interventionKey(market string) string {
	return interventionKeyPrefix + strings.ToLower(market)
}

func LoadInterventionSnapshot(ctx context.Context, store Store, market string) (InterventionSnapshot, bool, error) {
	if store == nil {
		return InterventionSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, interventionKey(market))
	if err != nil {
		return InterventionSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return InterventionSnapshot{}, false, nil
	}
	var snapshot InterventionSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return InterventionSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveInterventionSnapshot(ctx context.Context, store Store, snapshot InterventionSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, interventionKey(snapshot.Market), string(payload))
}

func DeleteInterventionSnapshot(ctx context.Context, store Store, market string) error {
	if store == nil {
		return nil
	}
	return store.Delete(ctx, interventionKey(market))
}
