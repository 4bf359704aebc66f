package lending

import (
	"fmt"
	"math/big"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

// lenderShares is the collateral backing one lender: its pro rata part of
// the base collateral plus collateral earmarked for it in margin calls.
func lenderShares(pool *Pool, lender *Lender) (*big.Int, *big.Int, error) {
	base := big.NewInt(0)
	if pool.TotalSupply.Sign() > 0 && lender.Balance.Sign() > 0 {
		var err error
		if base, err = fixedpoint.MulDiv(pool.BaseLiquidityShares, lender.Balance, pool.TotalSupply); err != nil {
			return nil, nil, err
		}
	}
	return base, new(big.Int).Add(base, lender.ExtraLiquidityShares), nil
}

// lenderRatio values the lender's collateral against its share of the debt.
// A nil ratio means the lender is owed nothing.
func (e *Engine) lenderRatio(pool *Pool, lender *Lender) (*big.Int, error) {
	if lender.Balance.Sign() == 0 {
		return nil, nil
	}
	debt, err := e.poolDebt(pool)
	if err != nil {
		return nil, err
	}
	owed, err := fixedpoint.MulDiv(debt, lender.Balance, pool.TotalSupply)
	if err != nil {
		return nil, err
	}
	if owed.Sign() == 0 {
		return nil, nil
	}
	_, shares, err := lenderShares(pool, lender)
	if err != nil {
		return nil, err
	}
	value, err := e.sharesValue(pool, shares)
	if err != nil {
		return nil, err
	}
	return ratio(value, owed)
}

func below(r, ideal *big.Int) bool { return r != nil && r.Cmp(ideal) < 0 }

// LenderCollateralRatio returns the ratio of the collateral backing lender to
// what it is owed, at the 10^30 scale. It returns nil when nothing is owed.
func (e *Engine) LenderCollateralRatio(poolID, lender crypto.Address) (*big.Int, error) {
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
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return nil, err
	}
	return e.lenderRatio(pool, position)
}

// MarginCallEndTime returns when the lender's open margin call expires, or
// zero when there is none.
func (e *Engine) MarginCallEndTime(poolID, lender crypto.Address) (uint64, error) {
	position, err := e.Lender(poolID, lender)
	if err != nil {
		return 0, err
	}
	return position.MarginCallEndTime, nil
}

// RequestMarginCall flags the lender's position when its collateral ratio has
// fallen below the pool's ideal ratio. The borrower then has the margin call
// duration to add collateral earmarked for this lender.
func (e *Engine) RequestMarginCall(lender, poolID crypto.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return 0, err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return 0, err
	}
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return 0, err
	}
	if position.Balance.Sign() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotLender, lender)
	}
	if position.InMarginCall(e.now()) {
		return 0, ErrMarginCallActive
	}
	r, err := e.lenderRatio(pool, position)
	if err != nil {
		return 0, err
	}
	if !below(r, pool.IdealCollateralRatio) {
		return 0, ErrCollateralSufficient
	}
	end := e.now() + pool.Terms.MarginCallDuration
	position.MarginCallEndTime = end
	if err := e.storeLender(pool.Address, lender, position); err != nil {
		return 0, err
	}
	e.emit(newMarginCallRequestedEvent(pool, lender, end))
	e.logger.Info("lending margin call requested",
		"pool", pool.Address.String(),
		"lender", lender.String(),
		"ratio", fixedpoint.Format(r),
		"endTime", end)
	return end, nil
}

// AddCollateralInMarginCall lets the borrower add collateral earmarked for a
// margin-called lender. The call is resolved once the lender's ratio is back
// at the ideal ratio.
func (e *Engine) AddCollateralInMarginCall(caller, poolID, lender crypto.Address, amount *big.Int, fromLedger bool) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return false, err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return false, err
	}
	if err := e.requireBorrower(pool, caller); err != nil {
		return false, err
	}
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return false, err
	}
	if position.MarginCallEndTime == 0 {
		return false, ErrNoMarginCall
	}
	if e.now() > position.MarginCallEndTime {
		return false, fmt.Errorf("%w: ended at %d", ErrMarginCallEnded, position.MarginCallEndTime)
	}
	shares, err := e.pullCollateral(pool, caller, amount, fromLedger)
	if err != nil {
		return false, err
	}
	position.ExtraLiquidityShares.Add(position.ExtraLiquidityShares, shares)
	pool.TotalExtraShares.Add(pool.TotalExtraShares, shares)
	r, err := e.lenderRatio(pool, position)
	if err != nil {
		return false, err
	}
	resolved := !below(r, pool.IdealCollateralRatio)
	if resolved {
		position.MarginCallEndTime = 0
	}
	if err := e.storeLender(pool.Address, lender, position); err != nil {
		return false, err
	}
	if err := e.storePool(pool); err != nil {
		return false, err
	}
	e.emit(newMarginCallAddedEvent(pool, lender, amount, shares, resolved))
	return resolved, nil
}

// LiquidateForLender settles a margin-called lender whose window expired with
// the ratio still below the ideal. The caller pays the lender the borrow
// asset value of the lender's collateral less the liquidator reward and
// receives that collateral; the lender's claim tokens are retired and the
// principal shrinks accordingly. If the ratio has recovered by then the call
// lapses and zero is returned.
func (e *Engine) LiquidateForLender(caller, poolID, lender crypto.Address, toLedger, receiveShares bool) (*big.Int, error) {
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
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return nil, err
	}
	if position.MarginCallEndTime == 0 {
		return nil, ErrNoMarginCall
	}
	if position.InMarginCall(e.now()) {
		return nil, fmt.Errorf("%w: ends at %d", ErrMarginCallNotEnded, position.MarginCallEndTime)
	}
	r, err := e.lenderRatio(pool, position)
	if err != nil {
		return nil, err
	}
	if !below(r, pool.IdealCollateralRatio) {
		ended := position.MarginCallEndTime
		position.MarginCallEndTime = 0
		if err := e.storeLender(pool.Address, lender, position); err != nil {
			return nil, err
		}
		e.emit(newMarginCallLapsedEvent(pool, lender, ended))
		e.logger.Info("lending margin call lapsed",
			"pool", pool.Address.String(),
			"lender", lender.String(),
			"ratio", fixedpoint.Format(r))
		return big.NewInt(0), nil
	}
	baseShare, shares, err := lenderShares(pool, position)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, ErrNothingToLiquidate
	}
	paid, err := e.liquidate(pool, caller, shares, lender, toLedger, receiveShares)
	if err != nil {
		return nil, err
	}
	if err := settle(pool, position); err != nil {
		return nil, err
	}
	interest := claimInterest(pool, position)
	if err := e.state.Transfer(pool.Address, lender, pool.BorrowAsset, interest); err != nil {
		return nil, err
	}
	balance := cloneBig(position.Balance)
	if err := e.moveVotes(pool, lender, crypto.ZeroAddress, balance); err != nil {
		return nil, err
	}
	if err := burn(pool, position, balance); err != nil {
		return nil, err
	}
	pool.BaseLiquidityShares.Sub(pool.BaseLiquidityShares, baseShare)
	pool.TotalExtraShares.Sub(pool.TotalExtraShares, position.ExtraLiquidityShares)
	position.ExtraLiquidityShares = big.NewInt(0)
	position.MarginCallEndTime = 0

	rep, err := e.loadRepayment(pool.Address)
	if err != nil {
		return nil, err
	}
	rep.Principal = fixedpoint.Min(rep.Principal, pool.TotalSupply)
	if err := e.storeRepayment(pool.Address, rep); err != nil {
		return nil, err
	}
	if err := e.storeLender(pool.Address, lender, position); err != nil {
		return nil, err
	}
	e.emit(newLenderLiquidatedEvent(pool, lender, caller, shares, paid))
	e.logger.Info("lending lender liquidated",
		"pool", pool.Address.String(),
		"lender", lender.String(),
		"liquidator", caller.String(),
		"paid", paid.String())
	if pool.TotalSupply.Sign() == 0 {
		return paid, e.closeLoan(pool)
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	return paid, nil
}

// clearEarmarks drops every lender's earmarked collateral and margin call
// once the pool's collateral has left the pool as a whole.
func (e *Engine) clearEarmarks(pool *Pool) error {
	lenders, err := e.Lenders(pool.Address)
	if err != nil {
		return err
	}
	for _, addr := range lenders {
		position, err := e.loadLender(pool.Address, addr)
		if err != nil {
			return err
		}
		if position.ExtraLiquidityShares.Sign() == 0 && position.MarginCallEndTime == 0 {
			continue
		}
		position.ExtraLiquidityShares = big.NewInt(0)
		position.MarginCallEndTime = 0
		if err := e.storeLender(pool.Address, addr, position); err != nil {
			return err
		}
	}
	return nil
}
