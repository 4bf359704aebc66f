package lending

import (
	"testing"

	"poolchain/native/fixedpoint"
)

func TestMarginCallRequiresUndercollateralisedLender(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)

	_, err := f.engine.RequestMarginCall(f.lenderA, pool.Address)
	expectErr(t, err, ErrCollateralSufficient)
	_, err = f.engine.RequestMarginCall(f.outsider, pool.Address)
	expectErr(t, err, ErrNotLender)

	r, err := f.engine.LenderCollateralRatio(pool.Address, f.outsider)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if r != nil {
		t.Fatalf("expected no ratio for a non-lender, got %s", r)
	}
	r, err = f.engine.LenderCollateralRatio(pool.Address, f.lenderA)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	expectAmount(t, "lender ratio", r, fixedpoint.MustParse("2"))
}

func TestMarginCallResolvedByTopUp(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	f.setPrice(t, "1000")

	end, err := f.engine.RequestMarginCall(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("margin call: %v", err)
	}
	if end != uint64(f.now)+pool.Terms.MarginCallDuration {
		t.Fatalf("unexpected margin call end %d", end)
	}
	if got, _ := f.engine.MarginCallEndTime(pool.Address, f.lenderA); got != end {
		t.Fatalf("margin call end not stored: %d", got)
	}
	_, err = f.engine.RequestMarginCall(f.lenderA, pool.Address)
	expectErr(t, err, ErrMarginCallActive)

	err = f.engine.Transfer(f.lenderA, pool.Address, f.outsider, usdc(1))
	expectErr(t, err, ErrMarginCallActive)
	err = f.engine.Transfer(f.lenderB, pool.Address, f.lenderA, usdc(1))
	expectErr(t, err, ErrMarginCallActive)

	_, err = f.engine.AddCollateralInMarginCall(f.outsider, pool.Address, f.lenderA, eth(2), false)
	expectErr(t, err, ErrNotBorrower)
	_, err = f.engine.AddCollateralInMarginCall(f.borrower, pool.Address, f.lenderB, eth(2), false)
	expectErr(t, err, ErrNoMarginCall)

	resolved, err := f.engine.AddCollateralInMarginCall(f.borrower, pool.Address, f.lenderA, eth(2), false)
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if resolved {
		t.Fatalf("0.8 ETH at 1000 must not cover 600 at 1.5")
	}
	resolved, err = f.engine.AddCollateralInMarginCall(f.borrower, pool.Address, f.lenderA, eth(2), false)
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if !resolved {
		t.Fatalf("expected the margin call to be resolved")
	}

	position, err := f.engine.Lender(pool.Address, f.lenderA)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	expectAmount(t, "earmarked shares", position.ExtraLiquidityShares, eth(4))
	expectAmount(t, "pool extra shares", f.pool(t, pool.Address).TotalExtraShares, eth(4))
	if position.MarginCallEndTime != 0 {
		t.Fatalf("expected margin call cleared")
	}
	if err := f.engine.Transfer(f.lenderA, pool.Address, f.outsider, usdc(300)); err != nil {
		t.Fatalf("transfer after resolution: %v", err)
	}
	moved, err := f.engine.Lender(pool.Address, f.outsider)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	expectAmount(t, "earmark moved with tokens", moved.ExtraLiquidityShares, eth(2))
}

func TestMarginCallLiquidation(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	f.setPrice(t, "1000")
	end, err := f.engine.RequestMarginCall(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("margin call: %v", err)
	}

	_, err = f.engine.LiquidateForLender(f.liquidator, pool.Address, f.lenderA, false, false)
	expectErr(t, err, ErrMarginCallNotEnded)
	_, err = f.engine.LiquidateForLender(f.liquidator, pool.Address, f.lenderB, false, false)
	expectErr(t, err, ErrNoMarginCall)

	f.now = int64(end) + 1
	_, err = f.engine.AddCollateralInMarginCall(f.borrower, pool.Address, f.lenderA, eth(2), false)
	expectErr(t, err, ErrMarginCallEnded)

	paid, err := f.engine.LiquidateForLender(f.liquidator, pool.Address, f.lenderA, false, false)
	if err != nil {
		t.Fatalf("liquidate for lender: %v", err)
	}
	// 0.6 ETH at 1000 less the 5% reward.
	expectAmount(t, "paid", paid, usdc(570))
	expectAmount(t, "liquidator eth", f.balance(t, f.liquidator, "ETH"), eth(6))
	expectAmount(t, "liquidator usdc", f.balance(t, f.liquidator, "USDC"), usdc(10_000-570))
	expectAmount(t, "lender a usdc", f.balance(t, f.lenderA, "USDC"), usdc(10_000-600+570))

	after := f.pool(t, pool.Address)
	if after.Status != LoanStatusActive {
		t.Fatalf("expected pool to stay active, got %s", after.Status)
	}
	expectAmount(t, "supply", after.TotalSupply, usdc(400))
	expectAmount(t, "base shares", after.BaseLiquidityShares, eth(4))
	bal, err := f.engine.BalanceOf(pool.Address, f.lenderA)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	expectAmount(t, "lender a tokens", bal, usdc(0))
	rep, err := f.engine.Repayment(pool.Address)
	if err != nil {
		t.Fatalf("repayment: %v", err)
	}
	expectAmount(t, "principal", rep.Principal, usdc(400))
	if !hasEvent(f.state.PendingEvents(), EventTypeLenderLiquidated) {
		t.Fatalf("expected %s event", EventTypeLenderLiquidated)
	}

	_, err = f.engine.LiquidateForLender(f.liquidator, pool.Address, f.lenderA, false, false)
	expectErr(t, err, ErrNoMarginCall)
}

func TestMarginCallLiquidationOfLastLenderClosesLoan(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool(t, nil)
	f.lend(t, pool, f.lenderA, usdc(500))
	f.now = int64(pool.LoanStartTime)
	if _, err := f.engine.WithdrawBorrowedAmount(f.borrower, pool.Address); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	f.setPrice(t, "500")
	end, err := f.engine.RequestMarginCall(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("margin call: %v", err)
	}
	f.now = int64(end) + 1
	if _, err := f.engine.LiquidateForLender(f.liquidator, pool.Address, f.lenderA, false, false); err != nil {
		t.Fatalf("liquidate for lender: %v", err)
	}
	if got := f.pool(t, pool.Address); got.Status != LoanStatusClosed {
		t.Fatalf("expected CLOSED once every lender is liquidated, got %s", got.Status)
	}
}

func TestMarginCallLapsesAfterRecovery(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	f.setPrice(t, "1000")
	end, err := f.engine.RequestMarginCall(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("margin call: %v", err)
	}

	f.now = int64(end) + 1
	f.setPrice(t, "3000")

	// An expired window no longer freezes the lender's tokens.
	if err := f.engine.Transfer(f.lenderA, pool.Address, f.outsider, usdc(1)); err != nil {
		t.Fatalf("transfer after expiry: %v", err)
	}
	_, err = f.engine.RequestMarginCall(f.lenderA, pool.Address)
	expectErr(t, err, ErrCollateralSufficient)

	paid, err := f.engine.LiquidateForLender(f.liquidator, pool.Address, f.lenderA, false, false)
	if err != nil {
		t.Fatalf("liquidate after recovery: %v", err)
	}
	expectAmount(t, "paid", paid, usdc(0))
	expectAmount(t, "liquidator eth", f.balance(t, f.liquidator, "ETH"), eth(0))
	if got, _ := f.engine.MarginCallEndTime(pool.Address, f.lenderA); got != 0 {
		t.Fatalf("expected lapsed margin call cleared, end still %d", got)
	}
	if !hasEvent(f.state.PendingEvents(), EventTypeMarginCallLapsed) {
		t.Fatalf("expected %s event", EventTypeMarginCallLapsed)
	}
	bal, err := f.engine.BalanceOf(pool.Address, f.lenderA)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	expectAmount(t, "lender a tokens", bal, usdc(599))

	_, err = f.engine.LiquidateForLender(f.liquidator, pool.Address, f.lenderA, false, false)
	expectErr(t, err, ErrNoMarginCall)

	// Once the ratio falls again the lender can open a fresh call.
	f.setPrice(t, "1000")
	next, err := f.engine.RequestMarginCall(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("fresh margin call: %v", err)
	}
	if next != uint64(f.now)+pool.Terms.MarginCallDuration {
		t.Fatalf("unexpected fresh margin call end %d", next)
	}
}
