package ledger

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrPriceNotSet = errors.New("no price configured for asset")

// StaticOracle serves configured prices in the 1e(36-decimals) scale. It
// backs tests and self-contained keeper deployments.
type StaticOracle struct {
	mu      sync.RWMutex
	prices  map[common.Address]*big.Int
	markets map[common.Address]common.Address // market -> underlying
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		prices:  make(map[common.Address]*big.Int),
		markets: make(map[common.Address]common.Address),
	}
}

func (o *StaticOracle) SetPrice(asset common.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = cloneOrZero(price)
}

// MapMarket points a market address at its underlying so that
// GetUnderlyingPrice can resolve it.
func (o *StaticOracle) MapMarket(market, underlying common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markets[market] = underlying
}

func (o *StaticOracle) GetPrice(asset common.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, ErrPriceNotSet
	}
	return new(big.Int).Set(price), nil
}

func (o *StaticOracle) GetUnderlyingPrice(market common.Address) (*big.Int, error) {
	o.mu.RLock()
	underlying, ok := o.markets[market]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrPriceNotSet
	}
	return o.GetPrice(underlying)
}
