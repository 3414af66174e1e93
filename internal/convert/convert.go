// Package convert models the token-converter service: opaque msgpack-encoded
// swap instructions executed atomically, with success judged by the caller
// observing balance deltas rather than return values.
package convert

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyInstructions = errors.New("swap instructions are empty")
	ErrUnknownPool       = errors.New("unknown swap pool")
	ErrPoolTokenMismatch = errors.New("swap step tokens do not match pool")
	ErrZeroSwapInput     = errors.New("swap input balance is zero")
	ErrDrainedPool       = errors.New("swap pool has no output reserve")
)

// Converter executes pre-encoded conversion instructions. Source tokens must
// already sit at the converter's address when Multicall runs.
type Converter interface {
	Address() common.Address
	Multicall(ctx context.Context, caller common.Address, instructions []byte) error
}

// SwapStep is one hop of a conversion. Output tokens land at Destination.
type SwapStep struct {
	TokenIn     common.Address
	TokenOut    common.Address
	Pool        common.Address
	Destination common.Address
}
