package lending

import (
	"math/big"
	"testing"

	"poolchain/native/fixedpoint"
)

func (f *fixture) interestDue(t *testing.T, pool *Pool) *big.Int {
	t.Helper()
	due, err := f.engine.InterestDue(pool.Address)
	if err != nil {
		t.Fatalf("interest due: %v", err)
	}
	return due
}

func (f *fixture) dueTillDeadline(t *testing.T, pool *Pool) *big.Int {
	t.Helper()
	due, err := f.engine.InterestDueTillInstalmentDeadline(pool.Address)
	if err != nil {
		t.Fatalf("interest due till deadline: %v", err)
	}
	return due
}

func (f *fixture) deadline(t *testing.T, pool *Pool) uint64 {
	t.Helper()
	d, err := f.engine.NextInstalmentDeadline(pool.Address)
	if err != nil {
		t.Fatalf("next deadline: %v", err)
	}
	return d
}

func (f *fixture) repay(t *testing.T, pool *Pool, amount *big.Int) {
	t.Helper()
	if err := f.engine.Repay(f.borrower, pool.Address, amount); err != nil {
		t.Fatalf("repay %s: %v", amount, err)
	}
}

func TestInterestAccruesMonotonically(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)

	if due := f.interestDue(t, pool); due.Sign() != 0 {
		t.Fatalf("expected no interest at loan start, got %s", due)
	}
	prev := big.NewInt(0)
	end := int64(pool.LoanStartTime + 3*interval)
	for ts := int64(pool.LoanStartTime); ts <= end+day; ts += day + 7 {
		f.now = ts
		due := f.interestDue(t, pool)
		if due.Cmp(prev) < 0 {
			t.Fatalf("interest decreased at %d: %s < %s", ts, due, prev)
		}
		prev = due
	}
	f.now = int64(pool.LoanStartTime) + day
	a := f.interestDue(t, pool)
	f.now += day
	b := f.interestDue(t, pool)
	if b.Cmp(a) <= 0 {
		t.Fatalf("expected strictly increasing interest: %s then %s", a, b)
	}
}

func TestRepayExactInterestClearsDue(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	f.advance(10 * day)

	due := f.interestDue(t, pool)
	if due.Sign() <= 0 {
		t.Fatalf("expected accrued interest")
	}
	f.repay(t, pool, due)
	if after := f.interestDue(t, pool); after.Sign() != 0 {
		t.Fatalf("expected no interest due after exact repayment, got %s", after)
	}

	rep, err := f.engine.Repayment(pool.Address)
	if err != nil {
		t.Fatalf("repayment: %v", err)
	}
	expectAmount(t, "interest repaid", rep.TotalInterestRepaid, due)
	if !hasEvent(f.state.PendingEvents(), EventTypeRepaid) {
		t.Fatalf("expected %s event", EventTypeRepaid)
	}
}

func TestRepayInstalmentAdvancesDeadline(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	first := f.deadline(t, pool)
	if first != pool.LoanStartTime+interval {
		t.Fatalf("unexpected first deadline %d", first)
	}
	instalment := f.dueTillDeadline(t, pool)
	f.repay(t, pool, instalment)

	if got := f.deadline(t, pool); got != pool.LoanStartTime+2*interval {
		t.Fatalf("deadline did not advance: %d", got)
	}
	expectAmount(t, "next instalment", f.dueTillDeadline(t, pool), instalment)

	// A payment of one and a half instalments credits forward into the third.
	half := new(big.Int).Div(instalment, big.NewInt(2))
	f.repay(t, pool, new(big.Int).Add(instalment, half))
	if got := f.deadline(t, pool); got != pool.LoanStartTime+3*interval {
		t.Fatalf("expected forward credit to reach the third instalment, deadline %d", got)
	}
	left := f.dueTillDeadline(t, pool)
	if left.Cmp(instalment) >= 0 || left.Sign() == 0 {
		t.Fatalf("expected a partially paid instalment, %s left of %s", left, instalment)
	}
}

func TestRepayRejectsMoreThanInterestLeft(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	left, err := f.engine.InterestLeft(pool.Address)
	if err != nil {
		t.Fatalf("interest left: %v", err)
	}
	err = f.engine.Repay(f.borrower, pool.Address, new(big.Int).Add(left, big.NewInt(1)))
	expectErr(t, err, ErrRepaymentExceeds)
	err = f.engine.Repay(f.borrower, pool.Address, big.NewInt(0))
	expectErr(t, err, ErrInvalidAmount)
}

func TestGracePeriodBoundary(t *testing.T) {
	t.Run("inside grace window", func(t *testing.T) {
		f := newFixture(t)
		pool := f.activePool(t)
		s := f.schedule(t, pool.Address)
		f.now = int64(s.deadline()+s.gracePeriod()) - 1

		defaulted, err := f.engine.IsDefaulted(pool.Address)
		if err != nil || defaulted {
			t.Fatalf("expected not defaulted, got %v %v", defaulted, err)
		}
		applicable, err := f.engine.IsGracePenaltyApplicable(pool.Address)
		if err != nil || !applicable {
			t.Fatalf("expected grace penalty, got %v %v", applicable, err)
		}
		due := f.dueTillDeadline(t, pool)
		penalty := new(big.Int).Div(new(big.Int).Mul(due, big.NewInt(5)), big.NewInt(100))

		err = f.engine.Repay(f.borrower, pool.Address, new(big.Int).Sub(penalty, big.NewInt(1)))
		expectErr(t, err, ErrRepaymentTooSmall)

		f.repay(t, pool, new(big.Int).Add(due, penalty))
		rep, err := f.engine.Repayment(pool.Address)
		if err != nil {
			t.Fatalf("repayment: %v", err)
		}
		expectAmount(t, "penalty", rep.TotalPenaltiesPaid, penalty)
		expectAmount(t, "interest", rep.TotalInterestRepaid, due)
		if got := f.deadline(t, pool); got != pool.LoanStartTime+2*interval {
			t.Fatalf("deadline did not advance: %d", got)
		}
		if defaulted, _ := f.engine.IsDefaulted(pool.Address); defaulted {
			t.Fatalf("expected healthy loan after late repayment")
		}
		_, err = f.engine.LiquidatePool(f.liquidator, pool.Address, false, false)
		expectErr(t, err, ErrNotDefaulted)
	})

	t.Run("exactly at grace end", func(t *testing.T) {
		f := newFixture(t)
		pool := f.activePool(t)
		s := f.schedule(t, pool.Address)
		f.now = int64(s.deadline() + s.gracePeriod())
		if defaulted, _ := f.engine.IsDefaulted(pool.Address); defaulted {
			t.Fatalf("grace window is inclusive")
		}
	})

	t.Run("after grace window", func(t *testing.T) {
		f := newFixture(t)
		pool := f.activePool(t)
		s := f.schedule(t, pool.Address)
		f.now = int64(s.deadline()+s.gracePeriod()) + 1

		defaulted, err := f.engine.IsDefaulted(pool.Address)
		if err != nil || !defaulted {
			t.Fatalf("expected defaulted, got %v %v", defaulted, err)
		}
		err = f.engine.Repay(f.borrower, pool.Address, f.dueTillDeadline(t, pool))
		expectErr(t, err, ErrRepaymentClosed)
		if _, err := f.engine.LiquidatePool(f.liquidator, pool.Address, false, false); err != nil {
			t.Fatalf("liquidate: %v", err)
		}
	})
}

func TestGracePenaltyChargedOncePerDeadline(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	f.now = int64(f.deadline(t, pool)) + 1

	due := f.dueTillDeadline(t, pool)
	penalty := new(big.Int).Div(new(big.Int).Mul(due, big.NewInt(5)), big.NewInt(100))
	half := new(big.Int).Div(due, big.NewInt(2))
	f.repay(t, pool, new(big.Int).Add(half, penalty))

	applicable, err := f.engine.IsGracePenaltyApplicable(pool.Address)
	if err != nil || applicable {
		t.Fatalf("expected penalty to be charged once, got %v %v", applicable, err)
	}
	f.repay(t, pool, f.dueTillDeadline(t, pool))
	rep, err := f.engine.Repayment(pool.Address)
	if err != nil {
		t.Fatalf("repayment: %v", err)
	}
	expectAmount(t, "penalties", rep.TotalPenaltiesPaid, penalty)
}

func TestMissedGraceLiquidationPaysLendersProRata(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	interest := f.dueTillDeadline(t, pool)
	f.repay(t, pool, interest)

	s := f.schedule(t, pool.Address)
	f.now = int64(s.deadline()+s.gracePeriod()) + 1
	paid, err := f.engine.LiquidatePool(f.liquidator, pool.Address, false, false)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// 1 ETH at 2000 USDC less the 5% liquidator reward.
	expectAmount(t, "liquidation proceeds", paid, usdc(1_900))
	expectAmount(t, "liquidator eth", f.balance(t, f.liquidator, "ETH"), eth(10))
	if got := f.pool(t, pool.Address); got.Status != LoanStatusDefaulted {
		t.Fatalf("expected DEFAULTED, got %s", got.Status)
	}

	a, err := f.engine.WithdrawLiquidity(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("withdraw a: %v", err)
	}
	b, err := f.engine.WithdrawLiquidity(f.lenderB, pool.Address)
	if err != nil {
		t.Fatalf("withdraw b: %v", err)
	}
	checkShare := func(label string, got, principal *big.Int, weight int64) {
		t.Helper()
		share := new(big.Int).Sub(got, principal)
		want := new(big.Int).Div(new(big.Int).Mul(interest, big.NewInt(weight)), big.NewInt(10))
		diff := new(big.Int).Sub(want, share)
		if diff.Sign() < 0 || diff.Cmp(big.NewInt(2)) > 0 {
			t.Fatalf("%s: interest share %s, want about %s", label, share, want)
		}
	}
	checkShare("lender a", a, usdc(1_140), 6)
	checkShare("lender b", b, usdc(760), 4)

	residual := f.balance(t, pool.Address, "USDC")
	if residual.Cmp(big.NewInt(2)) > 0 {
		t.Fatalf("unexpected residual %s", residual)
	}
}

func TestRepayPrincipalClosesLoan(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)

	err := f.engine.RepayPrincipal(f.borrower, pool.Address)
	expectErr(t, err, ErrInterestOutstanding)

	left, err := f.engine.InterestLeft(pool.Address)
	if err != nil {
		t.Fatalf("interest left: %v", err)
	}
	f.advance(5 * day)
	f.repay(t, pool, left)
	if rest, _ := f.engine.InterestLeft(pool.Address); rest.Sign() != 0 {
		t.Fatalf("expected all interest covered, %s left", rest)
	}

	err = f.engine.CloseLoan(f.outsider, pool.Address)
	expectErr(t, err, ErrNotBorrower)
	if err := f.engine.CloseLoan(f.borrower, pool.Address); err != nil {
		t.Fatalf("close loan: %v", err)
	}
	closed := f.pool(t, pool.Address)
	if closed.Status != LoanStatusClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}
	expectAmount(t, "collateral returned", f.ledgerShares(t, f.borrower, "ETH"), eth(10))
	expectAmount(t, "pool collateral", f.ledgerShares(t, pool.Address, "ETH"), big.NewInt(0))

	_, err = f.engine.CancelPool(f.borrower, pool.Address)
	expectErr(t, err, ErrAlreadyTerminated)
	err = f.engine.Repay(f.borrower, pool.Address, big.NewInt(1))
	expectErr(t, err, ErrAlreadyTerminated)

	a, err := f.engine.WithdrawLiquidity(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	minimum := new(big.Int).Add(usdc(600), new(big.Int).Div(new(big.Int).Mul(left, big.NewInt(6)), big.NewInt(10)))
	if a.Cmp(new(big.Int).Sub(minimum, big.NewInt(2))) < 0 {
		t.Fatalf("lender a received %s, want about %s", a, minimum)
	}
}

func TestWithdrawRepaymentWhileActive(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	_, err := f.engine.WithdrawRepayment(f.lenderA, pool.Address)
	expectErr(t, err, ErrNothingToWithdraw)

	f.repay(t, pool, usdc(10))
	got, err := f.engine.WithdrawRepayment(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("withdraw repayment: %v", err)
	}
	expectAmount(t, "lender a interest", got, usdc(6))
	got, err = f.engine.WithdrawRepayment(f.lenderB, pool.Address)
	if err != nil {
		t.Fatalf("withdraw repayment: %v", err)
	}
	expectAmount(t, "lender b interest", got, usdc(4))
	_, err = f.engine.WithdrawRepayment(f.lenderA, pool.Address)
	expectErr(t, err, ErrNothingToWithdraw)
}

func TestGracePeriodScalesInterval(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	grace, err := f.engine.GracePeriod(pool.Address)
	if err != nil {
		t.Fatalf("grace period: %v", err)
	}
	if want := pool.RepaymentInterval / 10; grace != want {
		t.Fatalf("grace period %d, want %d", grace, want)
	}

	cases := []struct {
		fraction string
		want     uint64
	}{
		{"0", 0},
		{"0.25", pool.RepaymentInterval / 4},
		{"1", pool.RepaymentInterval},
	}
	for _, tc := range cases {
		terms := pool.Terms.Clone()
		terms.GracePeriodFraction = fixedpoint.MustParse(tc.fraction)
		p := &Pool{RepaymentInterval: pool.RepaymentInterval, Terms: terms}
		if got := (schedule{pool: p}).gracePeriod(); got != tc.want {
			t.Fatalf("fraction %s: grace %d, want %d", tc.fraction, got, tc.want)
		}
	}

	params := DefaultParams()
	params.GracePeriodFraction = fixedpoint.MustParse("1.5")
	expectErr(t, params.Validate(), ErrInvalidParams)
}
