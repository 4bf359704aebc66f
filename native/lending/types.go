package lending

import (
	"math/big"

	"poolchain/crypto"
)

// LoanStatus enumerates the lifecycle states of a pool.
type LoanStatus uint8

const (
	// LoanStatusCollecting accepts lender liquidity until the loan start time.
	LoanStatusCollecting LoanStatus = iota
	// LoanStatusActive is entered once the borrower withdraws the lent funds.
	LoanStatusActive
	// LoanStatusClosed marks a loan repaid in full.
	LoanStatusClosed
	// LoanStatusCancelled marks a request that never became a loan.
	LoanStatusCancelled
	// LoanStatusDefaulted marks a loan whose collateral was liquidated after
	// a missed repayment.
	LoanStatusDefaulted
)

// Valid reports whether the status is a recognised lifecycle state.
func (s LoanStatus) Valid() bool { return s <= LoanStatusDefaulted }

// Terminal reports whether no further transitions are possible.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusClosed || s == LoanStatusCancelled || s == LoanStatusDefaulted
}

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusCollecting:
		return "COLLECTING"
	case LoanStatusActive:
		return "ACTIVE"
	case LoanStatusClosed:
		return "CLOSED"
	case LoanStatusCancelled:
		return "CANCELLED"
	case LoanStatusDefaulted:
		return "DEFAULTED"
	default:
		return "UNKNOWN"
	}
}

// Terms is the snapshot of protocol parameters a pool was created under.
// Fractions and rates carry the 10^30 fixed-point scale.
type Terms struct {
	MarginCallDuration        uint64
	ExtensionVotingWindow     uint64
	GracePeriodFraction       *big.Int
	GracePenaltyRate          *big.Int
	LiquidatorRewardFraction  *big.Int
	PoolCancelPenaltyFraction *big.Int
	ProtocolFeeFraction       *big.Int
	ProtocolFeeCollector      crypto.Address
	VotingPassRatio           *big.Int
}

// Pool holds the constants fixed at creation together with the mutable
// lifecycle variables of a single loan request.
type Pool struct {
	Address  crypto.Address
	Borrower crypto.Address
	Salt     []byte

	BorrowAsset            string
	CollateralAsset        string
	Strategy               crypto.Address
	PoolSize               *big.Int
	MinBorrowAmount        *big.Int
	IdealCollateralRatio   *big.Int
	BorrowRate             *big.Int
	RepaymentInterval      uint64
	NoOfRepaymentIntervals uint64
	LoanStartTime          uint64
	LoanWithdrawalDeadline uint64
	CreatedAt              uint64
	Terms                  Terms

	Status                 LoanStatus
	BaseLiquidityShares    *big.Int
	TotalExtraShares       *big.Int
	PenaltyLiquidityAmount *big.Int
	PenaltyLiquidated      bool
	BorrowedAmount         *big.Int
	ProtocolFee            *big.Int

	// Claim token and lender interest accounting.
	TotalSupply       *big.Int
	InterestPerToken  *big.Int
	UnclaimedInterest *big.Int
}

// Lender is the per-pool position of a claim token holder.
type Lender struct {
	Balance              *big.Int
	InterestCheckpoint   *big.Int
	InterestCredit       *big.Int
	ExtraLiquidityShares *big.Int
	MarginCallEndTime    uint64
}

// Repayment tracks interest servicing of an active loan. LoanDurationCovered
// is the span of the loan (seconds, scaled by 10^30) whose interest has been
// paid.
type Repayment struct {
	LoanStart           uint64
	Principal           *big.Int
	LoanDurationCovered *big.Int
	TotalInterestRepaid *big.Int
	TotalPenaltiesPaid  *big.Int
	// GracePenaltyFor is the 1-based instalment whose missed deadline has
	// already been penalised.
	GracePenaltyFor uint64
	// ExtendedInstalment is the 1-based instalment whose deadline was pushed
	// back by an approved extension.
	ExtendedInstalment uint64
	PrincipalRepaid    bool
}

// Extension is a borrower request to postpone the current deadline.
type Extension struct {
	Round          uint64
	Requester      crypto.Address
	RequestedAt    uint64
	VotingDeadline uint64
	VotesFor       *big.Int
	Resolved       bool
	Approved       bool
	Granted        bool
}

// CreatePoolRequest carries the borrower supplied parameters of a new pool.
type CreatePoolRequest struct {
	Borrower               crypto.Address
	PoolSize               *big.Int
	MinBorrowAmount        *big.Int
	IdealCollateralRatio   *big.Int
	BorrowRate             *big.Int
	BorrowAsset            string
	CollateralAsset        string
	Strategy               crypto.Address
	CollateralAmount       *big.Int
	RepaymentInterval      uint64
	NoOfRepaymentIntervals uint64
	Salt                   []byte
	// FromLedger pulls collateral out of the borrower's ledger entry for the
	// same strategy instead of depositing raw assets.
	FromLedger bool
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Clone returns a deep copy of the terms.
func (t Terms) Clone() Terms {
	out := t
	out.GracePeriodFraction = cloneBig(t.GracePeriodFraction)
	out.GracePenaltyRate = cloneBig(t.GracePenaltyRate)
	out.LiquidatorRewardFraction = cloneBig(t.LiquidatorRewardFraction)
	out.PoolCancelPenaltyFraction = cloneBig(t.PoolCancelPenaltyFraction)
	out.ProtocolFeeFraction = cloneBig(t.ProtocolFeeFraction)
	out.VotingPassRatio = cloneBig(t.VotingPassRatio)
	return out
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	out := *p
	out.Salt = append([]byte(nil), p.Salt...)
	out.PoolSize = cloneBig(p.PoolSize)
	out.MinBorrowAmount = cloneBig(p.MinBorrowAmount)
	out.IdealCollateralRatio = cloneBig(p.IdealCollateralRatio)
	out.BorrowRate = cloneBig(p.BorrowRate)
	out.Terms = p.Terms.Clone()
	out.BaseLiquidityShares = cloneBig(p.BaseLiquidityShares)
	out.TotalExtraShares = cloneBig(p.TotalExtraShares)
	out.PenaltyLiquidityAmount = cloneBig(p.PenaltyLiquidityAmount)
	out.BorrowedAmount = cloneBig(p.BorrowedAmount)
	out.ProtocolFee = cloneBig(p.ProtocolFee)
	out.TotalSupply = cloneBig(p.TotalSupply)
	out.InterestPerToken = cloneBig(p.InterestPerToken)
	out.UnclaimedInterest = cloneBig(p.UnclaimedInterest)
	return &out
}

// ensure populates nil big.Int fields after decoding.
func (p *Pool) ensure() {
	for _, f := range []**big.Int{
		&p.PoolSize, &p.MinBorrowAmount, &p.IdealCollateralRatio, &p.BorrowRate,
		&p.BaseLiquidityShares, &p.TotalExtraShares, &p.PenaltyLiquidityAmount,
		&p.BorrowedAmount, &p.ProtocolFee, &p.TotalSupply, &p.InterestPerToken,
		&p.UnclaimedInterest,
		&p.Terms.GracePeriodFraction, &p.Terms.GracePenaltyRate, &p.Terms.LiquidatorRewardFraction,
		&p.Terms.PoolCancelPenaltyFraction, &p.Terms.ProtocolFeeFraction, &p.Terms.VotingPassRatio,
	} {
		if *f == nil {
			*f = big.NewInt(0)
		}
	}
}

func (l *Lender) ensure() {
	for _, f := range []**big.Int{&l.Balance, &l.InterestCheckpoint, &l.InterestCredit, &l.ExtraLiquidityShares} {
		if *f == nil {
			*f = big.NewInt(0)
		}
	}
}

// InMarginCall reports whether the lender's margin call window is still open
// at now. An expired call no longer freezes the position.
func (l *Lender) InMarginCall(now uint64) bool {
	return l != nil && l.MarginCallEndTime != 0 && now <= l.MarginCallEndTime
}

func (r *Repayment) ensure() {
	for _, f := range []**big.Int{&r.Principal, &r.LoanDurationCovered, &r.TotalInterestRepaid, &r.TotalPenaltiesPaid} {
		if *f == nil {
			*f = big.NewInt(0)
		}
	}
}

// Clone returns a deep copy of the extension request.
func (x *Extension) Clone() *Extension {
	if x == nil {
		return nil
	}
	out := *x
	out.VotesFor = cloneBig(x.VotesFor)
	return &out
}

// Open reports whether votes are still accepted at now.
func (x *Extension) Open(now uint64) bool {
	return x != nil && x.Round > 0 && !x.Resolved && now <= x.VotingDeadline
}
