package lending

import (
	"fmt"
	"math/big"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

// Every pool carries its own fungible claim token. Balances live on the
// Lender record so that interest accounting, margin call collateral and
// extension votes move together with the tokens.

func tokenAllowanceKey(pool, owner, spender crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/allowance/%x/%x/%x", pool[:], owner[:], spender[:]))
}

// settle credits the lender with interest distributed since its last
// checkpoint. It must run before any change to the lender's balance.
func settle(pool *Pool, lender *Lender) error {
	delta := new(big.Int).Sub(pool.InterestPerToken, lender.InterestCheckpoint)
	if delta.Sign() > 0 && lender.Balance.Sign() > 0 {
		owed, err := fixedpoint.MulDiv(lender.Balance, delta, fixedpoint.Scale)
		if err != nil {
			return err
		}
		lender.InterestCredit.Add(lender.InterestCredit, owed)
	}
	lender.InterestCheckpoint = cloneBig(pool.InterestPerToken)
	return nil
}

// distributeInterest spreads amount across the current claim token supply.
func distributeInterest(pool *Pool, amount *big.Int) error {
	if amount.Sign() == 0 || pool.TotalSupply.Sign() == 0 {
		return nil
	}
	perToken, err := fixedpoint.MulDiv(amount, fixedpoint.Scale, pool.TotalSupply)
	if err != nil {
		return err
	}
	pool.InterestPerToken.Add(pool.InterestPerToken, perToken)
	pool.UnclaimedInterest.Add(pool.UnclaimedInterest, amount)
	return nil
}

// claimInterest zeroes the lender's credit and returns the amount to pay.
func claimInterest(pool *Pool, lender *Lender) *big.Int {
	owed := cloneBig(lender.InterestCredit)
	if owed.Cmp(pool.UnclaimedInterest) > 0 {
		owed = cloneBig(pool.UnclaimedInterest)
	}
	lender.InterestCredit = big.NewInt(0)
	pool.UnclaimedInterest.Sub(pool.UnclaimedInterest, owed)
	return owed
}

func mint(pool *Pool, lender *Lender, amount *big.Int) error {
	if err := settle(pool, lender); err != nil {
		return err
	}
	lender.Balance.Add(lender.Balance, amount)
	pool.TotalSupply.Add(pool.TotalSupply, amount)
	return nil
}

func burn(pool *Pool, lender *Lender, amount *big.Int) error {
	if err := settle(pool, lender); err != nil {
		return err
	}
	if lender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, burn %s", ErrInsufficientBalance, lender.Balance, amount)
	}
	lender.Balance.Sub(lender.Balance, amount)
	pool.TotalSupply.Sub(pool.TotalSupply, amount)
	return nil
}

// BalanceOf returns the claim token balance of holder in pool.
func (e *Engine) BalanceOf(poolID, holder crypto.Address) (*big.Int, error) {
	lender, err := e.Lender(poolID, holder)
	if err != nil {
		return nil, err
	}
	return lender.Balance, nil
}

// TotalSupply returns the outstanding claim tokens of pool.
func (e *Engine) TotalSupply(poolID crypto.Address) (*big.Int, error) {
	pool, err := e.Pool(poolID)
	if err != nil {
		return nil, err
	}
	return pool.TotalSupply, nil
}

// Allowance returns how many of owner's claim tokens spender may move.
func (e *Engine) Allowance(poolID, owner, spender crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	out := new(big.Int)
	ok, err := e.state.KVGet(tokenAllowanceKey(poolID, owner, spender), out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return out, nil
}

// Approve sets spender's allowance over owner's claim tokens.
func (e *Engine) Approve(owner, poolID, spender crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender.IsZero() {
		return ErrZeroAddress
	}
	if _, err := e.loadPool(poolID); err != nil {
		return err
	}
	return e.state.KVPut(tokenAllowanceKey(poolID, owner, spender), amount)
}

// Transfer moves claim tokens between holders.
func (e *Engine) Transfer(from, poolID, to crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.transferClaim(poolID, from, to, amount)
}

// TransferFrom moves claim tokens on behalf of from, spending the caller's
// allowance.
func (e *Engine) TransferFrom(spender, poolID, from, to crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		allowed, err := e.Allowance(poolID, from, spender)
		if err != nil {
			return err
		}
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%w: allowed %s, requested %s", ErrInsufficientAllowance, allowed, amount)
		}
		if err := e.transferClaim(poolID, from, to, amount); err != nil {
			return err
		}
		return e.state.KVPut(tokenAllowanceKey(poolID, from, spender), new(big.Int).Sub(allowed, amount))
	}
	return e.transferClaim(poolID, from, to, amount)
}

func (e *Engine) transferClaim(poolID, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if from == to {
		return ErrSelfTransfer
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if pool.Status != LoanStatusCollecting && pool.Status != LoanStatusActive {
		return fmt.Errorf("%w: pool is %s", ErrTokenPaused, pool.Status)
	}
	if to == pool.Borrower {
		return ErrBorrowerCannotLend
	}
	src, err := e.loadLender(pool.Address, from)
	if err != nil {
		return err
	}
	dst, err := e.loadLender(pool.Address, to)
	if err != nil {
		return err
	}
	now := e.now()
	if src.InMarginCall(now) || dst.InMarginCall(now) {
		return ErrMarginCallActive
	}
	if src.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, transfer %s", ErrInsufficientBalance, src.Balance, amount)
	}
	if err := settle(pool, src); err != nil {
		return err
	}
	if err := settle(pool, dst); err != nil {
		return err
	}
	// Earmarked margin call collateral follows the tokens pro rata.
	if src.ExtraLiquidityShares.Sign() > 0 {
		moved, err := fixedpoint.MulDiv(src.ExtraLiquidityShares, amount, src.Balance)
		if err != nil {
			return err
		}
		src.ExtraLiquidityShares.Sub(src.ExtraLiquidityShares, moved)
		dst.ExtraLiquidityShares.Add(dst.ExtraLiquidityShares, moved)
	}
	if err := e.moveVotes(pool, from, to, amount); err != nil {
		return err
	}
	src.Balance.Sub(src.Balance, amount)
	dst.Balance.Add(dst.Balance, amount)
	if err := e.storeLender(pool.Address, from, src); err != nil {
		return err
	}
	if err := e.storeLender(pool.Address, to, dst); err != nil {
		return err
	}
	e.emit(newTokenTransferredEvent(pool, from, to, amount))
	return nil
}
