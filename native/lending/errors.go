package lending

import (
	"errors"

	"poolchain/native/common"
)

const moduleName = "lending"

var (
	errNilState     = errors.New("lending engine: state not configured")
	errNilLedger    = errors.New("lending engine: ledger not configured")
	errNilPriceFeed = errors.New("lending engine: price feed not configured")
)

// Precondition violations.
var (
	ErrInvalidAmount         = common.NewError(moduleName, "INVALID_AMOUNT", "amount must be positive")
	ErrZeroAddress           = common.NewError(moduleName, "ZERO_ADDRESS", "address must not be the null account")
	ErrInvalidParams         = common.NewError(moduleName, "INVALID_PARAMS", "pool parameters out of bounds")
	ErrNotVerified           = common.NewError(moduleName, "NOT_VERIFIED", "borrower is not a verified user")
	ErrStrategyNotAllowed    = common.NewError(moduleName, "STRATEGY_NOT_ALLOWED", "strategy not registered")
	ErrNoPriceFeed           = common.NewError(moduleName, "NO_PRICE_FEED", "no price feed for asset pair")
	ErrSameAsset             = common.NewError(moduleName, "SAME_ASSET", "borrow and collateral asset must differ")
	ErrUnknownAsset          = common.NewError(moduleName, "UNKNOWN_ASSET", "asset not registered")
	ErrPoolNotFound          = common.NewError(moduleName, "POOL_NOT_FOUND", "pool not found")
	ErrNotBorrower           = common.NewError(moduleName, "NOT_BORROWER", "caller is not the borrower")
	ErrNotLender             = common.NewError(moduleName, "NOT_LENDER", "caller holds no claim tokens")
	ErrBorrowerCannotLend    = common.NewError(moduleName, "BORROWER_CANNOT_LEND", "borrower cannot hold claim tokens")
	ErrWrongStatus           = common.NewError(moduleName, "WRONG_STATUS", "operation not allowed in the current pool status")
	ErrCollectionEnded       = common.NewError(moduleName, "COLLECTION_ENDED", "collection period has ended")
	ErrCollectionNotEnded    = common.NewError(moduleName, "COLLECTION_NOT_ENDED", "collection period has not ended")
	ErrWithdrawalWindow      = common.NewError(moduleName, "WITHDRAWAL_WINDOW_CLOSED", "borrow withdrawal deadline has passed")
	ErrBelowMinBorrow        = common.NewError(moduleName, "BELOW_MIN_BORROW", "lent amount below minimum borrow amount")
	ErrPoolFull              = common.NewError(moduleName, "POOL_FULL", "pool size reached")
	ErrCollateralRatio       = common.NewError(moduleName, "COLLATERAL_RATIO_TOO_LOW", "collateral ratio below ideal ratio")
	ErrCollateralSufficient  = common.NewError(moduleName, "COLLATERAL_SUFFICIENT", "collateral ratio is not below ideal ratio")
	ErrMarginCallActive      = common.NewError(moduleName, "MARGIN_CALL_ACTIVE", "lender is in a margin call")
	ErrNoMarginCall          = common.NewError(moduleName, "NO_MARGIN_CALL", "lender has no open margin call")
	ErrMarginCallEnded       = common.NewError(moduleName, "MARGIN_CALL_ENDED", "margin call window has ended")
	ErrMarginCallNotEnded    = common.NewError(moduleName, "MARGIN_CALL_NOT_ENDED", "margin call window has not ended")
	ErrTokenPaused           = common.NewError(moduleName, "TOKEN_PAUSED", "claim token transfers are paused")
	ErrSelfTransfer          = common.NewError(moduleName, "SELF_TRANSFER", "cannot transfer to self")
	ErrNotDefaulted          = common.NewError(moduleName, "NOT_DEFAULTED", "borrower has not defaulted")
	ErrRepaymentClosed       = common.NewError(moduleName, "REPAYMENT_WINDOW_CLOSED", "grace period has passed")
	ErrInterestOutstanding   = common.NewError(moduleName, "INTEREST_OUTSTANDING", "interest must be repaid before principal")
	ErrRepaymentTooSmall     = common.NewError(moduleName, "REPAYMENT_TOO_SMALL", "repayment does not cover the grace penalty")
	ErrRepaymentExceeds      = common.NewError(moduleName, "REPAYMENT_EXCEEDS_INTEREST", "repayment exceeds the interest left on the loan")
	ErrPenaltyPending        = common.NewError(moduleName, "PENALTY_PENDING", "cancellation penalty has not been liquidated")
	ErrNothingToLiquidate    = common.NewError(moduleName, "NOTHING_TO_LIQUIDATE", "no collateral to liquidate")
	ErrNothingToWithdraw     = common.NewError(moduleName, "NOTHING_TO_WITHDRAW", "nothing to withdraw")
	ErrExtensionPending      = common.NewError(moduleName, "EXTENSION_PENDING", "an extension request is already open")
	ErrNoExtension           = common.NewError(moduleName, "NO_EXTENSION", "no open extension request")
	ErrVotingEnded           = common.NewError(moduleName, "VOTING_ENDED", "extension voting window has ended")
	ErrAlreadyVoted          = common.NewError(moduleName, "ALREADY_VOTED", "lender already voted")
	ErrSharesToNoYield       = common.NewError(moduleName, "SHARES_UNSUPPORTED", "collateral shares cannot be received from the no-yield strategy")
	ErrInsufficientAllowance = common.NewError(moduleName, "INSUFFICIENT_ALLOWANCE", "insufficient claim token allowance")
	ErrInsufficientBalance   = common.NewError(moduleName, "INSUFFICIENT_BALANCE", "insufficient claim token balance")
)

// Double-action violations.
var (
	ErrPoolExists        = common.NewError(moduleName, "POOL_EXISTS", "pool already exists for key")
	ErrAlreadyCancelled  = common.NewError(moduleName, "ALREADY_CANCELLED", "pool already cancelled")
	ErrAlreadyLiquidated = common.NewError(moduleName, "ALREADY_LIQUIDATED", "collateral already liquidated")
	ErrExtensionUsed     = common.NewError(moduleName, "EXTENSION_USED", "the pool already received an extension")
	ErrAlreadyWithdrawn  = common.NewError(moduleName, "ALREADY_WITHDRAWN", "borrowed amount already withdrawn")
	ErrAlreadyTerminated = common.NewError(moduleName, "ALREADY_TERMINATED", "pool is in a terminal state")
)
