package leverage

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// opKind tags the operation variant an in-flight scope belongs to. The
// callback dispatches on it exhaustively; an unset kind is never dispatched.
type opKind int

const (
	opEnter opKind = iota + 1
	opEnterFromBorrow
	opExit
	opEnterSingleAsset
	opExitSingleAsset
)

func (k opKind) String() string {
	switch k {
	case opEnter:
		return "enter"
	case opEnterFromBorrow:
		return "enter_from_borrow"
	case opExit:
		return "exit"
	case opEnterSingleAsset:
		return "enter_single_asset"
	case opExitSingleAsset:
		return "exit_single_asset"
	}
	return "unknown"
}

// opScope is the transient per-call state the flash-loan callback resumes
// from. One scope exists per top-level operation; it is installed after the
// operation mutex is taken and cleared by defer on every exit path, so no
// other invocation can ever observe it.
type opScope struct {
	kind             opKind
	initiator        common.Address
	collateralMarket common.Address
	borrowMarket     common.Address
	seedOrRedeem     *big.Int // seed for entries, redeem amount for exits
	minAmountOut     *big.Int
	swapInstructions []byte
}

type scopeHolder struct {
	mu    sync.Mutex
	scope *opScope
}

func (h *scopeHolder) set(s *opScope) {
	h.mu.Lock()
	h.scope = s
	h.mu.Unlock()
}

func (h *scopeHolder) get() *opScope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scope
}

func (h *scopeHolder) clear() {
	h.mu.Lock()
	h.scope = nil
	h.mu.Unlock()
}
