package ledger

import (
	"context"
	"fmt"
	"math/big"

	"lev-periphery/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

func (l *Ledger) FlashLoanOriginator() common.Address {
	return l.originator
}

func (l *Ledger) FlashLoanPremiumBps() uint64 {
	return l.premiumBps
}

// ExecuteFlashLoan lends the requested amounts to the receiver for the
// duration of the callback and pulls back principal plus premium afterwards.
// The caller becomes the callback's initiator; the originator address is the
// callback's authenticated caller.
func (l *Ledger) ExecuteFlashLoan(ctx context.Context, caller, onBehalf common.Address, receiver market.FlashLoanReceiver, markets []common.Address, amounts []*big.Int, data []byte) error {
	if len(markets) == 0 || len(markets) != len(amounts) {
		return ErrFlashLoanArity
	}
	assets := make([]common.Address, len(markets))
	premiums := make([]*big.Int, len(markets))
	owed := make([]*big.Int, len(markets))

	l.mu.Lock()
	for i, addr := range markets {
		st, err := l.marketLocked(addr)
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("flash loan: %w", err)
		}
		amount := amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			l.mu.Unlock()
			return fmt.Errorf("flash loan: amount must be positive")
		}
		assets[i] = st.underlying
		premium := new(big.Int).Mul(amount, new(big.Int).SetUint64(l.premiumBps))
		premium.Div(premium, big.NewInt(10000))
		premiums[i] = premium
		owed[i] = new(big.Int).Add(amount, premium)
		if err := l.transferLocked(st.underlying, addr, receiver.Address(), amount); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("flash loan: %w", ErrInsufficientCash)
		}
	}
	l.mu.Unlock()

	repay, err := receiver.ExecuteOperation(ctx, l.originator, assets, amounts, premiums, caller, onBehalf, data)
	if err != nil {
		return err
	}
	if len(repay) != len(markets) {
		return ErrFlashLoanNotRepaid
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, addr := range markets {
		if repay[i] == nil || repay[i].Cmp(owed[i]) != 0 {
			return fmt.Errorf("%w: market %s", ErrFlashLoanNotRepaid, addr.Hex())
		}
		if err := l.transferLocked(assets[i], receiver.Address(), addr, owed[i]); err != nil {
			return fmt.Errorf("%w: market %s", ErrFlashLoanNotRepaid, addr.Hex())
		}
	}
	return nil
}
