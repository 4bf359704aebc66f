package lending

import (
	"math/big"
	"strconv"

	"poolchain/core/types"
	"poolchain/crypto"
)

const (
	EventTypePoolCreated         = "lending.pool.created"
	EventTypeLiquiditySupplied   = "lending.liquidity.supplied"
	EventTypeBorrowed            = "lending.borrowed"
	EventTypeCollateralAdded     = "lending.collateral.added"
	EventTypeMarginCallRequested = "lending.margin_call.requested"
	EventTypeMarginCallAdded     = "lending.margin_call.added"
	EventTypeMarginCallLapsed    = "lending.margin_call.lapsed"
	EventTypeLenderLiquidated    = "lending.lender.liquidated"
	EventTypePoolCancelled       = "lending.pool.cancelled"
	EventTypePenaltyLiquidated   = "lending.penalty.liquidated"
	EventTypePoolLiquidated      = "lending.pool.liquidated"
	EventTypeRepaid              = "lending.repaid"
	EventTypePrincipalRepaid     = "lending.principal.repaid"
	EventTypeExtensionRequested  = "lending.extension.requested"
	EventTypeExtensionVoted      = "lending.extension.voted"
	EventTypeExtensionPassed     = "lending.extension.passed"
	EventTypeLoanClosed          = "lending.loan.closed"
	EventTypeLiquidityWithdrawn  = "lending.liquidity.withdrawn"
	EventTypeRepaymentWithdrawn  = "lending.repayment.withdrawn"
	EventTypeTokenTransferred    = "lending.token.transferred"
)

// attrs is a small builder for event attribute maps.
type attrs map[string]string

func (a attrs) addr(k string, v crypto.Address) attrs { a[k] = v.String(); return a }

func (a attrs) amount(k string, v *big.Int) attrs {
	if v == nil {
		a[k] = "0"
	} else {
		a[k] = v.String()
	}
	return a
}

func (a attrs) uint(k string, v uint64) attrs { a[k] = strconv.FormatUint(v, 10); return a }

func (a attrs) str(k, v string) attrs { a[k] = v; return a }

func poolEvent(typ string, pool *Pool) (*types.Event, attrs) {
	a := attrs{"pool": pool.Address.String()}
	return &types.Event{Type: typ, Attributes: a}, a
}

func newPoolCreatedEvent(pool *Pool) *types.Event {
	evt, a := poolEvent(EventTypePoolCreated, pool)
	a.addr("borrower", pool.Borrower).
		str("borrowAsset", pool.BorrowAsset).
		str("collateralAsset", pool.CollateralAsset).
		addr("strategy", pool.Strategy).
		amount("poolSize", pool.PoolSize).
		amount("collateralShares", pool.BaseLiquidityShares).
		uint("loanStartTime", pool.LoanStartTime)
	return evt
}

func newLiquiditySuppliedEvent(pool *Pool, lender crypto.Address, amount *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeLiquiditySupplied, pool)
	a.addr("lender", lender).amount("amount", amount).amount("totalSupply", pool.TotalSupply)
	return evt
}

func newBorrowedEvent(pool *Pool, paid, fee *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeBorrowed, pool)
	a.addr("borrower", pool.Borrower).amount("amount", paid).amount("protocolFee", fee)
	return evt
}

func newCollateralAddedEvent(pool *Pool, amount, shares *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeCollateralAdded, pool)
	a.amount("amount", amount).amount("shares", shares)
	return evt
}

func newMarginCallRequestedEvent(pool *Pool, lender crypto.Address, end uint64) *types.Event {
	evt, a := poolEvent(EventTypeMarginCallRequested, pool)
	a.addr("lender", lender).uint("endTime", end)
	return evt
}

func newMarginCallAddedEvent(pool *Pool, lender crypto.Address, amount, shares *big.Int, resolved bool) *types.Event {
	evt, a := poolEvent(EventTypeMarginCallAdded, pool)
	a.addr("lender", lender).amount("amount", amount).amount("shares", shares).str("resolved", strconv.FormatBool(resolved))
	return evt
}

func newMarginCallLapsedEvent(pool *Pool, lender crypto.Address, end uint64) *types.Event {
	evt, a := poolEvent(EventTypeMarginCallLapsed, pool)
	a.addr("lender", lender).uint("endTime", end)
	return evt
}

func newLenderLiquidatedEvent(pool *Pool, lender, liquidator crypto.Address, shares, paid *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeLenderLiquidated, pool)
	a.addr("lender", lender).addr("liquidator", liquidator).amount("collateralShares", shares).amount("paid", paid)
	return evt
}

func newPoolCancelledEvent(pool *Pool, caller crypto.Address, penalty *big.Int) *types.Event {
	evt, a := poolEvent(EventTypePoolCancelled, pool)
	a.addr("caller", caller).amount("penaltyShares", penalty)
	return evt
}

func newPenaltyLiquidatedEvent(pool *Pool, liquidator crypto.Address, shares, paid *big.Int) *types.Event {
	evt, a := poolEvent(EventTypePenaltyLiquidated, pool)
	a.addr("liquidator", liquidator).amount("collateralShares", shares).amount("paid", paid)
	return evt
}

func newPoolLiquidatedEvent(pool *Pool, liquidator crypto.Address, shares, paid *big.Int) *types.Event {
	evt, a := poolEvent(EventTypePoolLiquidated, pool)
	a.addr("liquidator", liquidator).amount("collateralShares", shares).amount("paid", paid)
	return evt
}

func newRepaidEvent(pool *Pool, payer crypto.Address, interest, penalty *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeRepaid, pool)
	a.addr("payer", payer).amount("interest", interest).amount("penalty", penalty)
	return evt
}

func newPrincipalRepaidEvent(pool *Pool, payer crypto.Address, amount *big.Int) *types.Event {
	evt, a := poolEvent(EventTypePrincipalRepaid, pool)
	a.addr("payer", payer).amount("amount", amount)
	return evt
}

func newExtensionRequestedEvent(pool *Pool, ext *Extension) *types.Event {
	evt, a := poolEvent(EventTypeExtensionRequested, pool)
	a.uint("round", ext.Round).uint("votingDeadline", ext.VotingDeadline)
	return evt
}

func newExtensionVotedEvent(pool *Pool, lender crypto.Address, weight, total *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeExtensionVoted, pool)
	a.addr("lender", lender).amount("weight", weight).amount("votesFor", total)
	return evt
}

func newExtensionPassedEvent(pool *Pool, deadline uint64) *types.Event {
	evt, a := poolEvent(EventTypeExtensionPassed, pool)
	a.uint("newDeadline", deadline)
	return evt
}

func newLoanClosedEvent(pool *Pool, returned *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeLoanClosed, pool)
	a.addr("borrower", pool.Borrower).amount("collateralShares", returned)
	return evt
}

func newLiquidityWithdrawnEvent(pool *Pool, lender crypto.Address, principal, interest *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeLiquidityWithdrawn, pool)
	a.addr("lender", lender).amount("principal", principal).amount("interest", interest)
	return evt
}

func newRepaymentWithdrawnEvent(pool *Pool, lender crypto.Address, amount *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeRepaymentWithdrawn, pool)
	a.addr("lender", lender).amount("amount", amount)
	return evt
}

func newTokenTransferredEvent(pool *Pool, from, to crypto.Address, amount *big.Int) *types.Event {
	evt, a := poolEvent(EventTypeTokenTransferred, pool)
	a.addr("from", from).addr("to", to).amount("amount", amount)
	return evt
}
