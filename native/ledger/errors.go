package ledger

import (
	"errors"

	"poolchain/native/common"
)

const moduleName = "ledger"

var (
	errNilState = errors.New("ledger engine: state not configured")

	ErrInvalidAmount       = common.NewError(moduleName, "INVALID_AMOUNT", "amount must be positive")
	ErrZeroReceiver        = common.NewError(moduleName, "ZERO_RECEIVER", "receiver must not be the null account")
	ErrUnknownAsset        = common.NewError(moduleName, "UNKNOWN_ASSET", "asset not registered")
	ErrStrategyNotAllowed  = common.NewError(moduleName, "STRATEGY_NOT_ALLOWED", "strategy not registered")
	ErrNativeValueMismatch = common.NewError(moduleName, "NATIVE_VALUE_MISMATCH", "attached value must equal amount")
	ErrInsufficientBalance = common.NewError(moduleName, "INSUFFICIENT_BALANCE", "insufficient balance")
	ErrInsufficientAllow   = common.NewError(moduleName, "INSUFFICIENT_ALLOWANCE", "insufficient allowance")
	ErrSharesUnsupported   = common.NewError(moduleName, "SHARES_UNSUPPORTED", "share withdrawal not supported by the no-yield strategy")
	ErrSameStrategy        = common.NewError(moduleName, "SAME_STRATEGY", "source and destination strategy are identical")
	ErrSelfTransfer        = common.NewError(moduleName, "SELF_TRANSFER", "cannot transfer to self")
	ErrInvariantViolated   = common.NewError(moduleName, "INVARIANT_VIOLATED", "ledger shares exceed strategy shares")
)
