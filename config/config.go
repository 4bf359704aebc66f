package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
)

type Config struct {
	Environment string   `toml:"Environment"`
	LogLevel    string   `toml:"LogLevel"`
	Storage     Storage  `toml:"storage"`
	Lending     Lending  `toml:"lending"`
	Strategy    Strategy `toml:"strategy"`
	Oracle      Oracle   `toml:"oracle"`
	Pauses      Pauses   `toml:"pauses"`
}

// Default returns the configuration written for a fresh installation.
func Default() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		Storage:     Storage{Backend: BackendLevelDB, Path: "./pool-data"},
		Lending: Lending{
			CollectionPeriodSeconds:       7 * 24 * 3600,
			LoanWithdrawalDurationSeconds: 24 * 3600,
			MarginCallDurationSeconds:     3 * 24 * 3600,
			ExtensionVotingWindowSeconds:  3 * 24 * 3600,
			MinBorrowFraction:             "0.1",
			GracePeriodFraction:           "0.1",
			GracePenaltyRate:              "0.05",
			LiquidatorRewardFraction:      "0.05",
			PoolCancelPenaltyFraction:     "0.1",
			ProtocolFeeFraction:           "0",
			VotingPassRatio:               "0.5",
			MinPoolSize:                   "1",
			MaxCollateralRatio:            "100",
			MinBorrowRate:                 "0.000001",
			MaxBorrowRate:                 "1",
			MinRepaymentIntervalSeconds:   3600,
			MaxRepaymentIntervalSeconds:   365 * 24 * 3600,
			MinRepaymentIntervals:         1,
			MaxRepaymentIntervals:         120,
		},
		Strategy: Strategy{MaxStrategies: 16},
		Oracle:   Oracle{MaxAgeSeconds: 3600},
	}
}

// Load loads the configuration from the given path, writing the defaults
// there first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
