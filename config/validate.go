package config

import (
	"fmt"
	"math/big"
	"strings"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
	"poolchain/native/lending"
)

// ValidateConfig checks the storage selection and that the lending section
// converts into consistent protocol parameters.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", BackendLevelDB)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Strategy.MaxStrategies < 0 {
		return fmt.Errorf("strategy: max_strategies must not be negative")
	}
	if cfg.Oracle.MaxAgeSeconds < 0 {
		return fmt.Errorf("oracle: max_age_seconds must not be negative")
	}
	if _, err := cfg.Lending.Params(); err != nil {
		return err
	}
	return nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("lending: invalid %s %q", field, value)
	}
	return v, nil
}

func parseFixed(field, value string) (*big.Int, error) {
	v, err := fixedpoint.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("lending: invalid %s: %w", field, err)
	}
	return v, nil
}

// Params converts the lending section into engine parameters.
func (l Lending) Params() (lending.Params, error) {
	p := lending.Params{
		CollectionPeriod:       l.CollectionPeriodSeconds,
		LoanWithdrawalDuration: l.LoanWithdrawalDurationSeconds,
		MarginCallDuration:     l.MarginCallDurationSeconds,
		ExtensionVotingWindow:  l.ExtensionVotingWindowSeconds,
		RepaymentIntervalLimit: lending.Limits{
			Min: new(big.Int).SetUint64(l.MinRepaymentIntervalSeconds),
			Max: new(big.Int).SetUint64(l.MaxRepaymentIntervalSeconds),
		},
		NoOfRepaymentIntervalsLimit: lending.Limits{
			Min: new(big.Int).SetUint64(l.MinRepaymentIntervals),
			Max: new(big.Int).SetUint64(l.MaxRepaymentIntervals),
		},
	}
	if l.CollectionPeriodSeconds == 0 || l.LoanWithdrawalDurationSeconds == 0 {
		return p, fmt.Errorf("lending: collection and withdrawal windows must be positive")
	}
	fixed := []struct {
		field string
		value string
		dst   **big.Int
	}{
		{"min_borrow_fraction", l.MinBorrowFraction, &p.MinBorrowFraction},
		{"grace_period_fraction", l.GracePeriodFraction, &p.GracePeriodFraction},
		{"grace_penalty_rate", l.GracePenaltyRate, &p.GracePenaltyRate},
		{"liquidator_reward_fraction", l.LiquidatorRewardFraction, &p.LiquidatorRewardFraction},
		{"pool_cancel_penalty_fraction", l.PoolCancelPenaltyFraction, &p.PoolCancelPenaltyFraction},
		{"protocol_fee_fraction", l.ProtocolFeeFraction, &p.ProtocolFeeFraction},
		{"voting_pass_ratio", l.VotingPassRatio, &p.VotingPassRatio},
		{"min_collateral_ratio", l.MinCollateralRatio, &p.CollateralRatioLimit.Min},
		{"max_collateral_ratio", l.MaxCollateralRatio, &p.CollateralRatioLimit.Max},
		{"min_borrow_rate", l.MinBorrowRate, &p.BorrowRateLimit.Min},
		{"max_borrow_rate", l.MaxBorrowRate, &p.BorrowRateLimit.Max},
	}
	for _, f := range fixed {
		v, err := parseFixed(f.field, f.value)
		if err != nil {
			return p, err
		}
		*f.dst = v
	}
	if p.BorrowRateLimit.Min.Sign() == 0 {
		return p, fmt.Errorf("lending: min_borrow_rate must be positive")
	}
	var err error
	if p.PoolSizeLimit.Min, err = parseAmount("min_pool_size", l.MinPoolSize); err != nil {
		return p, err
	}
	if p.PoolSizeLimit.Max, err = parseAmount("max_pool_size", l.MaxPoolSize); err != nil {
		return p, err
	}
	if collector := strings.TrimSpace(l.ProtocolFeeCollector); collector != "" {
		addr, err := crypto.DecodeAddress(collector)
		if err != nil {
			return p, fmt.Errorf("lending: protocol_fee_collector: %w", err)
		}
		p.ProtocolFeeCollector = addr
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
