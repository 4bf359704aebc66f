package lending

import (
	"fmt"
	"math/big"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

// Lend supplies up to amount of the borrow asset to a collecting pool on
// behalf of lender and mints the matching claim tokens. Funds are pulled from
// the caller, either as raw balance or, with fromLedger, out of the caller's
// ledger entry in strat (which requires a ledger allowance for the pool).
// The amount actually lent is capped at the space left in the pool.
func (e *Engine) Lend(caller, poolID, lender crypto.Address, amount *big.Int, strat crypto.Address, fromLedger bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if lender.IsZero() {
		return nil, ErrZeroAddress
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(pool, LoanStatusCollecting); err != nil {
		return nil, err
	}
	if e.now() >= pool.LoanStartTime {
		return nil, fmt.Errorf("%w: started at %d", ErrCollectionEnded, pool.LoanStartTime)
	}
	if lender == pool.Borrower {
		return nil, ErrBorrowerCannotLend
	}
	remaining := new(big.Int).Sub(pool.PoolSize, pool.TotalSupply)
	if remaining.Sign() <= 0 {
		return nil, ErrPoolFull
	}
	lent := fixedpoint.Min(amount, remaining)
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return nil, err
	}
	if err := e.pullBorrowAsset(pool, caller, lent, strat, fromLedger); err != nil {
		return nil, err
	}
	if err := mint(pool, position, lent); err != nil {
		return nil, err
	}
	if err := e.storeLender(pool.Address, lender, position); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newLiquiditySuppliedEvent(pool, lender, lent))
	return lent, nil
}

// WithdrawBorrowedAmount pays the collected liquidity to the borrower, minus
// the protocol fee, and activates the loan. Interest accrues from the loan
// start time.
func (e *Engine) WithdrawBorrowedAmount(caller, poolID crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Status == LoanStatusActive {
		return nil, ErrAlreadyWithdrawn
	}
	if err := requireStatus(pool, LoanStatusCollecting); err != nil {
		return nil, err
	}
	if err := e.requireBorrower(pool, caller); err != nil {
		return nil, err
	}
	now := e.now()
	if now < pool.LoanStartTime {
		return nil, fmt.Errorf("%w: starts at %d", ErrCollectionNotEnded, pool.LoanStartTime)
	}
	if now >= pool.LoanWithdrawalDeadline {
		return nil, fmt.Errorf("%w: deadline %d", ErrWithdrawalWindow, pool.LoanWithdrawalDeadline)
	}
	if pool.TotalSupply.Cmp(pool.MinBorrowAmount) < 0 {
		return nil, fmt.Errorf("%w: lent %s, minimum %s", ErrBelowMinBorrow, pool.TotalSupply, pool.MinBorrowAmount)
	}
	ratio, err := e.poolRatio(pool, nil)
	if err != nil {
		return nil, err
	}
	if ratio != nil && ratio.Cmp(pool.IdealCollateralRatio) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrCollateralRatio, fixedpoint.Format(ratio))
	}
	amount := cloneBig(pool.TotalSupply)
	fee, err := fixedpoint.Mul(amount, pool.Terms.ProtocolFeeFraction)
	if err != nil {
		return nil, err
	}
	paid := new(big.Int).Sub(amount, fee)
	if err := e.state.Transfer(pool.Address, pool.Borrower, pool.BorrowAsset, paid); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.state.Transfer(pool.Address, pool.Terms.ProtocolFeeCollector, pool.BorrowAsset, fee); err != nil {
			return nil, err
		}
	}
	pool.BorrowedAmount = amount
	pool.ProtocolFee = fee
	pool.Status = LoanStatusActive
	rep := &Repayment{
		LoanStart: pool.LoanStartTime,
		Principal: cloneBig(amount),
	}
	rep.ensure()
	if err := e.storeRepayment(pool.Address, rep); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newBorrowedEvent(pool, paid, fee))
	e.logger.Info("lending loan activated",
		"pool", pool.Address.String(),
		"principal", amount.String(),
		"protocolFee", fee.String())
	return paid, nil
}

// CancelPool ends a collecting pool. Once the collection period is over
// without reaching the minimum borrow amount anyone may cancel without a
// penalty. Before the withdrawal deadline only the borrower may cancel, and
// after it anyone may; both cases earmark a penalty proportional to the
// liquidity lent. All other collateral returns to the borrower's ledger
// entry.
func (e *Engine) CancelPool(caller, poolID crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(pool, LoanStatusCollecting); err != nil {
		return nil, err
	}
	now := e.now()
	penalised := true
	switch {
	case now >= pool.LoanStartTime && pool.TotalSupply.Cmp(pool.MinBorrowAmount) < 0:
		penalised = false
	case now < pool.LoanWithdrawalDeadline:
		if err := e.requireBorrower(pool, caller); err != nil {
			return nil, err
		}
	}
	penalty := big.NewInt(0)
	if penalised && pool.TotalSupply.Sign() > 0 {
		lentShare, err := fixedpoint.MulDiv(pool.BaseLiquidityShares, pool.TotalSupply, pool.PoolSize)
		if err != nil {
			return nil, err
		}
		if penalty, err = fixedpoint.Mul(lentShare, pool.Terms.PoolCancelPenaltyFraction); err != nil {
			return nil, err
		}
		penalty = fixedpoint.Min(penalty, pool.BaseLiquidityShares)
	}
	returned := new(big.Int).Sub(pool.BaseLiquidityShares, penalty)
	if returned.Sign() > 0 {
		if err := e.ledger.TransferShares(pool.Address, pool.Borrower, pool.CollateralAsset, pool.Strategy, returned); err != nil {
			return nil, err
		}
	}
	pool.BaseLiquidityShares = big.NewInt(0)
	pool.PenaltyLiquidityAmount = penalty
	pool.Status = LoanStatusCancelled
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newPoolCancelledEvent(pool, caller, penalty))
	e.logger.Info("lending pool cancelled",
		"pool", pool.Address.String(),
		"caller", caller.String(),
		"penaltyShares", penalty.String())
	return penalty, nil
}

// LiquidateCancelPenalty sells the collateral earmarked at cancellation to
// the caller. The caller pays its borrow asset value less the liquidator
// reward into the pool for the lenders.
func (e *Engine) LiquidateCancelPenalty(caller, poolID crypto.Address, toLedger, receiveShares bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Status != LoanStatusCancelled {
		return nil, fmt.Errorf("%w: pool is %s", ErrWrongStatus, pool.Status)
	}
	if pool.PenaltyLiquidated {
		return nil, ErrAlreadyLiquidated
	}
	if pool.PenaltyLiquidityAmount.Sign() == 0 {
		return nil, ErrNothingToLiquidate
	}
	shares := cloneBig(pool.PenaltyLiquidityAmount)
	paid, err := e.liquidate(pool, caller, shares, pool.Address, toLedger, receiveShares)
	if err != nil {
		return nil, err
	}
	pool.PenaltyLiquidated = true
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newPenaltyLiquidatedEvent(pool, caller, shares, paid))
	return paid, nil
}

// liquidate prices collateral shares in the borrow asset, collects the value
// less the liquidator reward from the caller into beneficiary and hands the
// shares to the caller.
func (e *Engine) liquidate(pool *Pool, caller crypto.Address, shares *big.Int, beneficiary crypto.Address, toLedger, receiveShares bool) (*big.Int, error) {
	value, err := e.sharesValue(pool, shares)
	if err != nil {
		return nil, err
	}
	paid, err := afterReward(pool, value)
	if err != nil {
		return nil, err
	}
	if err := e.releaseCollateral(pool, caller, shares, toLedger, receiveShares); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(caller, beneficiary, pool.BorrowAsset, paid); err != nil {
		return nil, err
	}
	return paid, nil
}

// DepositCollateral tops up the pool's base collateral.
func (e *Engine) DepositCollateral(caller, poolID crypto.Address, amount *big.Int, fromLedger bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Status != LoanStatusCollecting && pool.Status != LoanStatusActive {
		return nil, requireStatus(pool, LoanStatusActive)
	}
	if err := e.requireBorrower(pool, caller); err != nil {
		return nil, err
	}
	shares, err := e.pullCollateral(pool, caller, amount, fromLedger)
	if err != nil {
		return nil, err
	}
	pool.BaseLiquidityShares.Add(pool.BaseLiquidityShares, shares)
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newCollateralAddedEvent(pool, amount, shares))
	return shares, nil
}

// LiquidatePool sells all remaining collateral of a defaulted loan to the
// caller and moves the pool to DEFAULTED.
func (e *Engine) LiquidatePool(caller, poolID crypto.Address, toLedger, receiveShares bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return nil, err
	}
	s, err := e.schedule(pool)
	if err != nil {
		return nil, err
	}
	if !s.defaulted(e.now()) {
		return nil, fmt.Errorf("%w: deadline %d, grace %d", ErrNotDefaulted, s.deadline(), s.gracePeriod())
	}
	shares := new(big.Int).Add(pool.BaseLiquidityShares, pool.TotalExtraShares)
	paid := big.NewInt(0)
	if shares.Sign() > 0 {
		if paid, err = e.liquidate(pool, caller, shares, pool.Address, toLedger, receiveShares); err != nil {
			return nil, err
		}
	}
	if err := e.clearEarmarks(pool); err != nil {
		return nil, err
	}
	pool.BaseLiquidityShares = big.NewInt(0)
	pool.TotalExtraShares = big.NewInt(0)
	pool.Status = LoanStatusDefaulted
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newPoolLiquidatedEvent(pool, caller, shares, paid))
	e.logger.Info("lending pool liquidated",
		"pool", pool.Address.String(),
		"liquidator", caller.String(),
		"paid", paid.String())
	return paid, nil
}

// WithdrawLiquidity redeems all of the lender's claim tokens once the pool
// has ended. The lender receives its pro rata share of the pool's borrow
// asset holdings plus interest not yet withdrawn.
func (e *Engine) WithdrawLiquidity(lender, poolID crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if !pool.Status.Terminal() {
		return nil, fmt.Errorf("%w: pool is %s", ErrWrongStatus, pool.Status)
	}
	if pool.Status == LoanStatusCancelled && pool.PenaltyLiquidityAmount.Sign() > 0 && !pool.PenaltyLiquidated {
		return nil, ErrPenaltyPending
	}
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return nil, err
	}
	if err := settle(pool, position); err != nil {
		return nil, err
	}
	balance := cloneBig(position.Balance)
	if balance.Sign() == 0 && position.InterestCredit.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	principal := big.NewInt(0)
	if balance.Sign() > 0 {
		held, err := e.state.Balance(pool.Address, pool.BorrowAsset)
		if err != nil {
			return nil, err
		}
		pot := new(big.Int).Sub(held, pool.UnclaimedInterest)
		if pot.Sign() > 0 {
			if principal, err = fixedpoint.MulDiv(balance, pot, pool.TotalSupply); err != nil {
				return nil, err
			}
		}
	}
	interest := claimInterest(pool, position)
	if err := burn(pool, position, balance); err != nil {
		return nil, err
	}
	total := new(big.Int).Add(principal, interest)
	if err := e.state.Transfer(pool.Address, lender, pool.BorrowAsset, total); err != nil {
		return nil, err
	}
	if err := e.storeLender(pool.Address, lender, position); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newLiquidityWithdrawnEvent(pool, lender, principal, interest))
	return total, nil
}

// WithdrawRepayment pays out the interest the lender has accrued so far
// without touching its claim tokens.
func (e *Engine) WithdrawRepayment(lender, poolID crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return nil, err
	}
	if err := settle(pool, position); err != nil {
		return nil, err
	}
	interest := claimInterest(pool, position)
	if interest.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	if err := e.state.Transfer(pool.Address, lender, pool.BorrowAsset, interest); err != nil {
		return nil, err
	}
	if err := e.storeLender(pool.Address, lender, position); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emit(newRepaymentWithdrawnEvent(pool, lender, interest))
	return interest, nil
}

// poolDebt is the claim token supply plus, for active loans, interest accrued
// and unpaid.
func (e *Engine) poolDebt(pool *Pool) (*big.Int, error) {
	debt := cloneBig(pool.TotalSupply)
	if pool.Status != LoanStatusActive {
		return debt, nil
	}
	s, err := e.schedule(pool)
	if err != nil {
		return nil, err
	}
	due, err := s.interestDue(e.now())
	if err != nil {
		return nil, err
	}
	return debt.Add(debt, due), nil
}

// poolRatio values shares (all pool collateral when nil) against the pool
// debt. A nil ratio means there is no debt.
func (e *Engine) poolRatio(pool *Pool, shares *big.Int) (*big.Int, error) {
	if shares == nil {
		shares = new(big.Int).Add(pool.BaseLiquidityShares, pool.TotalExtraShares)
	}
	debt, err := e.poolDebt(pool)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return nil, nil
	}
	value, err := e.sharesValue(pool, shares)
	if err != nil {
		return nil, err
	}
	return ratio(value, debt)
}

// CurrentCollateralRatio returns the value of all pool collateral over the
// outstanding debt at the 10^30 scale. It returns nil when nothing is owed.
func (e *Engine) CurrentCollateralRatio(poolID crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if e.feed == nil {
		return nil, errNilPriceFeed
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	return e.poolRatio(pool, nil)
}
