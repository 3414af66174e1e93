package leverage

import "errors"

var (
	ErrZeroFlashLoanAmount        = errors.New("flash loan amount is zero")
	ErrMarketNotListed            = errors.New("market is not listed")
	ErrNativeMarketNotSupported   = errors.New("native-asset markets are not supported")
	ErrIdenticalMarkets           = errors.New("collateral and borrow markets are identical")
	ErrNotApprovedDelegate        = errors.New("caller is not the initiator or an approved delegate")
	ErrSlippageExceeded           = errors.New("conversion output below minimum")
	ErrTokenSwapCallFailed        = errors.New("token swap call failed")
	ErrInsufficientFlashLoanFunds = errors.New("insufficient funds to repay flash loan")
	ErrLeverageCausesLiquidation  = errors.New("operation would leave the account in shortfall")

	ErrUnauthorizedExecutor    = errors.New("callback caller is not the flash loan originator")
	ErrInitiatorMismatch       = errors.New("callback initiator is not this contract")
	ErrOnBehalfMismatch        = errors.New("callback on-behalf is not this contract")
	ErrFlashLoanAssetMismatch  = errors.New("flash loan asset, amount, or premium arity mismatch")
	ErrInvalidExecuteOperation = errors.New("no leverage operation is in flight")
)
