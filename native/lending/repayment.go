package lending

import (
	"fmt"
	"math/big"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

// scaleSquared converts a duration scaled by 10^30 multiplied by a
// per-second rate scaled by 10^30 back to asset units.
var scaleSquared = new(big.Int).Mul(fixedpoint.Scale, fixedpoint.Scale)

// schedule evaluates the repayment tracker of one pool. All durations are in
// seconds scaled by 10^30 unless noted otherwise.
type schedule struct {
	pool *Pool
	rep  *Repayment
}

func (s schedule) interval() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(s.pool.RepaymentInterval), fixedpoint.Scale)
}

func (s schedule) end() *big.Int {
	return new(big.Int).Mul(s.interval(), new(big.Int).SetUint64(s.pool.NoOfRepaymentIntervals))
}

// perSecond is the interest accrued per second at the 10^30 scale.
func (s schedule) perSecond() (*big.Int, error) {
	return fixedpoint.MulDiv(s.rep.Principal, s.pool.BorrowRate, big.NewInt(secondsPerYear))
}

func (s schedule) interestFor(duration *big.Int) (*big.Int, error) {
	if duration.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	ips, err := s.perSecond()
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(duration, ips, scaleSquared)
}

// durationFor is the loan duration an interest payment pays for, rounded up.
func (s schedule) durationFor(amount *big.Int) (*big.Int, error) {
	ips, err := s.perSecond()
	if err != nil {
		return nil, err
	}
	if ips.Sign() == 0 {
		return s.end(), nil
	}
	return fixedpoint.MulDivUp(amount, scaleSquared, ips)
}

func (s schedule) fullyCovered() bool {
	return s.rep.LoanDurationCovered.Cmp(s.end()) >= 0
}

// instalment is the zero-based index of the instalment currently due.
func (s schedule) instalment() uint64 {
	if s.fullyCovered() {
		return s.pool.NoOfRepaymentIntervals
	}
	return new(big.Int).Quo(s.rep.LoanDurationCovered, s.interval()).Uint64()
}

// boundary is the end of the current instalment, capped at the loan end.
func (s schedule) boundary() *big.Int {
	b := new(big.Int).Mul(s.interval(), new(big.Int).SetUint64(s.instalment()+1))
	return fixedpoint.Min(b, s.end())
}

// deadline is the unix time by which the current instalment must be paid.
func (s schedule) deadline() uint64 {
	idx := s.instalment()
	n := s.pool.NoOfRepaymentIntervals
	step := idx + 1
	if idx >= n {
		step = n
	}
	deadline := s.rep.LoanStart + step*s.pool.RepaymentInterval
	if s.rep.ExtendedInstalment == step {
		deadline += s.pool.RepaymentInterval
	}
	return deadline
}

// gracePeriod is the interval scaled by the grace fraction. Fractions are
// validated to [0, 1], so the result never exceeds the interval.
func (s schedule) gracePeriod() uint64 {
	interval := s.pool.RepaymentInterval
	frac := s.pool.Terms.GracePeriodFraction
	if frac == nil || frac.Sign() <= 0 {
		return 0
	}
	if frac.Cmp(fixedpoint.Scale) >= 0 {
		return interval
	}
	g := new(big.Int).Mul(new(big.Int).SetUint64(interval), frac)
	return g.Quo(g, fixedpoint.Scale).Uint64()
}

func (s schedule) elapsed(now uint64) *big.Int {
	if now <= s.rep.LoanStart {
		return big.NewInt(0)
	}
	d := new(big.Int).Mul(new(big.Int).SetUint64(now-s.rep.LoanStart), fixedpoint.Scale)
	return fixedpoint.Min(d, s.end())
}

func (s schedule) interestDue(now uint64) (*big.Int, error) {
	return s.interestFor(new(big.Int).Sub(s.elapsed(now), s.rep.LoanDurationCovered))
}

func (s schedule) interestDueTillDeadline() (*big.Int, error) {
	return s.interestFor(new(big.Int).Sub(s.boundary(), s.rep.LoanDurationCovered))
}

func (s schedule) interestLeft() (*big.Int, error) {
	return s.interestFor(new(big.Int).Sub(s.end(), s.rep.LoanDurationCovered))
}

func (s schedule) gracePenaltyApplicable(now uint64) bool {
	if s.fullyCovered() {
		return false
	}
	return now > s.deadline() && s.rep.GracePenaltyFor != s.instalment()+1
}

func (s schedule) defaulted(now uint64) bool {
	if s.pool.Status != LoanStatusActive || s.rep.PrincipalRepaid {
		return false
	}
	return now > s.deadline()+s.gracePeriod()
}

// credit advances the covered duration by the time an interest payment pays
// for. Coverage snaps to the instalment boundary or the loan end once the
// interest left before it rounds to zero.
func (s schedule) credit(amount *big.Int) error {
	d, err := s.durationFor(amount)
	if err != nil {
		return err
	}
	covered := new(big.Int).Add(s.rep.LoanDurationCovered, d)
	end := s.end()
	if covered.Cmp(end) > 0 {
		covered = end
	}
	s.rep.LoanDurationCovered = covered
	for _, target := range []*big.Int{s.boundary(), end} {
		if covered.Cmp(target) >= 0 {
			continue
		}
		rest, err := s.interestFor(new(big.Int).Sub(target, covered))
		if err != nil {
			return err
		}
		if rest.Sign() == 0 {
			s.rep.LoanDurationCovered = new(big.Int).Set(target)
			covered = s.rep.LoanDurationCovered
		}
	}
	return nil
}

func (e *Engine) schedule(pool *Pool) (schedule, error) {
	rep, err := e.loadRepayment(pool.Address)
	if err != nil {
		return schedule{}, err
	}
	return schedule{pool: pool, rep: rep}, nil
}

// activeSchedule loads the pool and its tracker for the view functions.
func (e *Engine) activeSchedule(poolID crypto.Address) (schedule, error) {
	if e == nil || e.state == nil {
		return schedule{}, errNilState
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return schedule{}, err
	}
	if pool.Status != LoanStatusActive && pool.Status != LoanStatusClosed && pool.Status != LoanStatusDefaulted {
		return schedule{}, fmt.Errorf("%w: pool is %s", ErrWrongStatus, pool.Status)
	}
	return e.schedule(pool)
}

// InterestDue returns interest accrued up to now that has not been repaid.
func (e *Engine) InterestDue(poolID crypto.Address) (*big.Int, error) {
	s, err := e.activeSchedule(poolID)
	if err != nil {
		return nil, err
	}
	return s.interestDue(e.now())
}

// InterestDueTillInstalmentDeadline returns the interest needed to settle the
// current instalment.
func (e *Engine) InterestDueTillInstalmentDeadline(poolID crypto.Address) (*big.Int, error) {
	s, err := e.activeSchedule(poolID)
	if err != nil {
		return nil, err
	}
	return s.interestDueTillDeadline()
}

// NextInstalmentDeadline returns the unix time the current instalment is due.
func (e *Engine) NextInstalmentDeadline(poolID crypto.Address) (uint64, error) {
	s, err := e.activeSchedule(poolID)
	if err != nil {
		return 0, err
	}
	return s.deadline(), nil
}

// InterestLeft returns the interest outstanding over the rest of the loan.
func (e *Engine) InterestLeft(poolID crypto.Address) (*big.Int, error) {
	s, err := e.activeSchedule(poolID)
	if err != nil {
		return nil, err
	}
	return s.interestLeft()
}

// GracePeriod returns the grace window, in seconds, following each deadline.
func (e *Engine) GracePeriod(poolID crypto.Address) (uint64, error) {
	s, err := e.activeSchedule(poolID)
	if err != nil {
		return 0, err
	}
	return s.gracePeriod(), nil
}

func (e *Engine) IsGracePenaltyApplicable(poolID crypto.Address) (bool, error) {
	s, err := e.activeSchedule(poolID)
	if err != nil {
		return false, err
	}
	return s.gracePenaltyApplicable(e.now()), nil
}

// IsDefaulted reports whether the current instalment's grace window passed
// without repayment.
func (e *Engine) IsDefaulted(poolID crypto.Address) (bool, error) {
	s, err := e.activeSchedule(poolID)
	if err != nil {
		return false, err
	}
	return s.defaulted(e.now()), nil
}

// Repay services interest on an active loan. A payment after a missed
// deadline first covers a one-time grace penalty; the remainder pays for
// loan duration, crediting forward into future instalments. Payments larger
// than the interest left on the loan are rejected. The whole amount is
// distributed to claim token holders.
func (e *Engine) Repay(payer, poolID crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return err
	}
	s, err := e.schedule(pool)
	if err != nil {
		return err
	}
	now := e.now()
	if s.defaulted(now) {
		return fmt.Errorf("%w: deadline %d", ErrRepaymentClosed, s.deadline())
	}
	penalty := big.NewInt(0)
	if s.gracePenaltyApplicable(now) {
		due, err := s.interestDueTillDeadline()
		if err != nil {
			return err
		}
		if penalty, err = fixedpoint.Mul(due, pool.Terms.GracePenaltyRate); err != nil {
			return err
		}
		if amount.Cmp(penalty) < 0 {
			return fmt.Errorf("%w: penalty %s", ErrRepaymentTooSmall, penalty)
		}
		s.rep.GracePenaltyFor = s.instalment() + 1
		s.rep.TotalPenaltiesPaid.Add(s.rep.TotalPenaltiesPaid, penalty)
	}
	interest := new(big.Int).Sub(amount, penalty)
	left, err := s.interestLeft()
	if err != nil {
		return err
	}
	if interest.Cmp(left) > 0 {
		return fmt.Errorf("%w: %s left", ErrRepaymentExceeds, left)
	}
	if interest.Sign() > 0 {
		if err := s.credit(interest); err != nil {
			return err
		}
		s.rep.TotalInterestRepaid.Add(s.rep.TotalInterestRepaid, interest)
	}
	if err := e.state.Transfer(payer, pool.Address, pool.BorrowAsset, amount); err != nil {
		return err
	}
	if err := distributeInterest(pool, amount); err != nil {
		return err
	}
	if err := e.storeRepayment(pool.Address, s.rep); err != nil {
		return err
	}
	if err := e.storePool(pool); err != nil {
		return err
	}
	e.emit(newRepaidEvent(pool, payer, interest, penalty))
	return nil
}

// RepayPrincipal pays back the outstanding principal once every instalment's
// interest is covered and closes the loan.
func (e *Engine) RepayPrincipal(payer, poolID crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return err
	}
	s, err := e.schedule(pool)
	if err != nil {
		return err
	}
	if s.defaulted(e.now()) {
		return fmt.Errorf("%w: deadline %d", ErrRepaymentClosed, s.deadline())
	}
	left, err := s.interestLeft()
	if err != nil {
		return err
	}
	if left.Sign() > 0 {
		return fmt.Errorf("%w: %s left", ErrInterestOutstanding, left)
	}
	s.rep.LoanDurationCovered = s.end()
	principal := cloneBig(s.rep.Principal)
	if err := e.state.Transfer(payer, pool.Address, pool.BorrowAsset, principal); err != nil {
		return err
	}
	s.rep.PrincipalRepaid = true
	if err := e.storeRepayment(pool.Address, s.rep); err != nil {
		return err
	}
	e.emit(newPrincipalRepaidEvent(pool, payer, principal))
	return e.closeLoan(pool)
}

// CloseLoan lets the borrower repay the principal and close the loan in one
// call. Interest for every instalment must already be covered.
func (e *Engine) CloseLoan(caller, poolID crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return err
	}
	if err := e.requireBorrower(pool, caller); err != nil {
		return err
	}
	if pool.TotalSupply.Sign() == 0 {
		return e.closeLoan(pool)
	}
	rep, err := e.loadRepayment(pool.Address)
	if err != nil {
		return err
	}
	if !rep.PrincipalRepaid {
		return e.RepayPrincipal(caller, poolID)
	}
	return e.closeLoan(pool)
}

// closeLoan returns every remaining collateral share to the borrower's
// ledger entry and marks the pool CLOSED.
func (e *Engine) closeLoan(pool *Pool) error {
	returned := new(big.Int).Add(pool.BaseLiquidityShares, pool.TotalExtraShares)
	if returned.Sign() > 0 {
		if err := e.ledger.TransferShares(pool.Address, pool.Borrower, pool.CollateralAsset, pool.Strategy, returned); err != nil {
			return err
		}
	}
	if err := e.clearEarmarks(pool); err != nil {
		return err
	}
	pool.BaseLiquidityShares = big.NewInt(0)
	pool.TotalExtraShares = big.NewInt(0)
	pool.Status = LoanStatusClosed
	if err := e.storePool(pool); err != nil {
		return err
	}
	e.emit(newLoanClosedEvent(pool, returned))
	e.logger.Info("lending loan closed", "pool", pool.Address.String(), "collateralShares", returned.String())
	return nil
}
