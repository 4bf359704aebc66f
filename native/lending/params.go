package lending

import (
	"fmt"
	"math/big"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

// secondsPerYear is the denominator used to turn annual borrow rates into
// per-second interest.
const secondsPerYear = 31_536_000

// Limits bounds a pool creation parameter. A nil or zero Max leaves the upper
// side open.
type Limits struct {
	Min *big.Int
	Max *big.Int
}

// Contains reports whether v lies within the limits.
func (l Limits) Contains(v *big.Int) bool {
	if v == nil {
		return false
	}
	if l.Min != nil && v.Cmp(l.Min) < 0 {
		return false
	}
	if l.Max != nil && l.Max.Sign() > 0 && v.Cmp(l.Max) > 0 {
		return false
	}
	return true
}

// Params captures the protocol-wide configuration applied to newly created
// pools. Fractions, ratios and rates carry the 10^30 fixed-point scale;
// durations are in seconds.
type Params struct {
	CollectionPeriod       uint64
	LoanWithdrawalDuration uint64
	MarginCallDuration     uint64
	ExtensionVotingWindow  uint64

	MinBorrowFraction         *big.Int
	GracePeriodFraction       *big.Int
	GracePenaltyRate          *big.Int
	LiquidatorRewardFraction  *big.Int
	PoolCancelPenaltyFraction *big.Int
	ProtocolFeeFraction       *big.Int
	ProtocolFeeCollector      crypto.Address
	VotingPassRatio           *big.Int

	PoolSizeLimit               Limits
	CollateralRatioLimit        Limits
	BorrowRateLimit             Limits
	RepaymentIntervalLimit      Limits
	NoOfRepaymentIntervalsLimit Limits
}

// DefaultParams returns conservative defaults: a one week collection window,
// one day to withdraw, 10% grace period with a 5% grace penalty, 5%
// liquidator reward, 10% cancel penalty and a 50% vote to pass an extension.
// No protocol fee is charged until a collector is configured.
func DefaultParams() Params {
	return Params{
		CollectionPeriod:          7 * 24 * 3600,
		LoanWithdrawalDuration:    24 * 3600,
		MarginCallDuration:        3 * 24 * 3600,
		ExtensionVotingWindow:     3 * 24 * 3600,
		MinBorrowFraction:         fixedpoint.MustParse("0.1"),
		GracePeriodFraction:       fixedpoint.MustParse("0.1"),
		GracePenaltyRate:          fixedpoint.MustParse("0.05"),
		LiquidatorRewardFraction:  fixedpoint.MustParse("0.05"),
		PoolCancelPenaltyFraction: fixedpoint.MustParse("0.1"),
		ProtocolFeeFraction:       big.NewInt(0),
		VotingPassRatio:           fixedpoint.MustParse("0.5"),
		PoolSizeLimit:             Limits{Min: big.NewInt(1)},
		CollateralRatioLimit:      Limits{Min: big.NewInt(0), Max: fixedpoint.MustParse("100")},
		BorrowRateLimit:           Limits{Min: big.NewInt(1), Max: fixedpoint.MustParse("1")},
		RepaymentIntervalLimit:    Limits{Min: big.NewInt(3600), Max: big.NewInt(365 * 24 * 3600)},
		NoOfRepaymentIntervalsLimit: Limits{
			Min: big.NewInt(1),
			Max: big.NewInt(120),
		},
	}
}

func fractionAtMostOne(name string, v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(fixedpoint.Scale) > 0 {
		return fmt.Errorf("%w: %s must be within [0, 1]", ErrInvalidParams, name)
	}
	return nil
}

// Validate checks the internal consistency of the parameters.
func (p Params) Validate() error {
	if p.RepaymentIntervalLimit.Min == nil || p.RepaymentIntervalLimit.Min.Sign() <= 0 {
		return fmt.Errorf("%w: repayment interval minimum must be positive", ErrInvalidParams)
	}
	if p.NoOfRepaymentIntervalsLimit.Min == nil || p.NoOfRepaymentIntervalsLimit.Min.Sign() <= 0 {
		return fmt.Errorf("%w: repayment interval count minimum must be positive", ErrInvalidParams)
	}
	checks := []struct {
		name string
		v    *big.Int
	}{
		{"min borrow fraction", p.MinBorrowFraction},
		{"grace period fraction", p.GracePeriodFraction},
		{"grace penalty rate", p.GracePenaltyRate},
		{"liquidator reward fraction", p.LiquidatorRewardFraction},
		{"pool cancel penalty fraction", p.PoolCancelPenaltyFraction},
		{"protocol fee fraction", p.ProtocolFeeFraction},
		{"voting pass ratio", p.VotingPassRatio},
	}
	for _, c := range checks {
		if err := fractionAtMostOne(c.name, c.v); err != nil {
			return err
		}
	}
	if p.VotingPassRatio.Sign() == 0 {
		return fmt.Errorf("%w: voting pass ratio must be positive", ErrInvalidParams)
	}
	if p.ProtocolFeeFraction.Sign() > 0 && p.ProtocolFeeCollector.IsZero() {
		return fmt.Errorf("%w: protocol fee collector required when a fee is charged", ErrInvalidParams)
	}
	return nil
}

func (p Params) terms() Terms {
	return Terms{
		MarginCallDuration:        p.MarginCallDuration,
		ExtensionVotingWindow:     p.ExtensionVotingWindow,
		GracePeriodFraction:       cloneBig(p.GracePeriodFraction),
		GracePenaltyRate:          cloneBig(p.GracePenaltyRate),
		LiquidatorRewardFraction:  cloneBig(p.LiquidatorRewardFraction),
		PoolCancelPenaltyFraction: cloneBig(p.PoolCancelPenaltyFraction),
		ProtocolFeeFraction:       cloneBig(p.ProtocolFeeFraction),
		ProtocolFeeCollector:      p.ProtocolFeeCollector,
		VotingPassRatio:           cloneBig(p.VotingPassRatio),
	}
}
