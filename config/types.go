package config

// Storage selects the state backend.
type Storage struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

// Lending carries the protocol parameters applied to new pools. Fractions,
// ratios and rates are decimal strings ("0.05"); amounts are integers in the
// borrow asset's smallest unit; durations are seconds.
type Lending struct {
	CollectionPeriodSeconds       uint64 `toml:"CollectionPeriodSeconds"`
	LoanWithdrawalDurationSeconds uint64 `toml:"LoanWithdrawalDurationSeconds"`
	MarginCallDurationSeconds     uint64 `toml:"MarginCallDurationSeconds"`
	ExtensionVotingWindowSeconds  uint64 `toml:"ExtensionVotingWindowSeconds"`

	MinBorrowFraction         string `toml:"MinBorrowFraction"`
	GracePeriodFraction       string `toml:"GracePeriodFraction"`
	GracePenaltyRate          string `toml:"GracePenaltyRate"`
	LiquidatorRewardFraction  string `toml:"LiquidatorRewardFraction"`
	PoolCancelPenaltyFraction string `toml:"PoolCancelPenaltyFraction"`
	ProtocolFeeFraction       string `toml:"ProtocolFeeFraction"`
	ProtocolFeeCollector      string `toml:"ProtocolFeeCollector"`
	VotingPassRatio           string `toml:"VotingPassRatio"`

	MinPoolSize                 string `toml:"MinPoolSize"`
	MaxPoolSize                 string `toml:"MaxPoolSize"`
	MinCollateralRatio          string `toml:"MinCollateralRatio"`
	MaxCollateralRatio          string `toml:"MaxCollateralRatio"`
	MinBorrowRate               string `toml:"MinBorrowRate"`
	MaxBorrowRate               string `toml:"MaxBorrowRate"`
	MinRepaymentIntervalSeconds uint64 `toml:"MinRepaymentIntervalSeconds"`
	MaxRepaymentIntervalSeconds uint64 `toml:"MaxRepaymentIntervalSeconds"`
	MinRepaymentIntervals       uint64 `toml:"MinRepaymentIntervals"`
	MaxRepaymentIntervals       uint64 `toml:"MaxRepaymentIntervals"`
}

// Strategy bounds the strategy registry.
type Strategy struct {
	MaxStrategies int `toml:"MaxStrategies"`
}

// Oracle configures the price feed.
type Oracle struct {
	MaxAgeSeconds int64 `toml:"MaxAgeSeconds"`
}

// Pauses switches modules off at startup.
type Pauses struct {
	Lending bool `toml:"Lending"`
	Ledger  bool `toml:"Ledger"`
}

// Modules lists the paused module names.
func (p Pauses) Modules() []string {
	var out []string
	if p.Lending {
		out = append(out, "lending")
	}
	if p.Ledger {
		out = append(out, "ledger")
	}
	return out
}
