package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != BackendLevelDB {
		t.Fatalf("unexpected default backend %q", cfg.Storage.Backend)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Lending.VotingPassRatio != "0.5" || again.Oracle.MaxAgeSeconds != 3600 {
		t.Fatalf("defaults did not round trip: %+v", again)
	}
}

func TestLoadParsesLendingSection(t *testing.T) {
	collector := crypto.BytesToAddress([]byte{0x42})
	path := writeConfig(t, `Environment = "test"

[storage]
Backend = " MEMORY "

[lending]
GracePenaltyRate = "0.1"
ProtocolFeeFraction = "0.01"
ProtocolFeeCollector = "`+collector.String()+`"
MaxPoolSize = "1000000000"

[pauses]
Lending = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("backend not normalised: %q", cfg.Storage.Backend)
	}
	params, err := cfg.Lending.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.GracePenaltyRate.Cmp(fixedpoint.MustParse("0.1")) != 0 {
		t.Fatalf("unexpected grace penalty %s", params.GracePenaltyRate)
	}
	if params.ProtocolFeeCollector != collector {
		t.Fatalf("unexpected collector %s", params.ProtocolFeeCollector)
	}
	if params.PoolSizeLimit.Max.Int64() != 1_000_000_000 {
		t.Fatalf("unexpected max pool size %s", params.PoolSizeLimit.Max)
	}
	// Unset keys keep their defaults.
	if params.LiquidatorRewardFraction.Cmp(fixedpoint.MustParse("0.05")) != 0 {
		t.Fatalf("unexpected liquidator reward %s", params.LiquidatorRewardFraction)
	}
	if mods := cfg.Pauses.Modules(); len(mods) != 1 || mods[0] != "lending" {
		t.Fatalf("unexpected paused modules %v", mods)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "unknown backend"},
		{"leveldb without path", func(c *Config) { c.Storage.Path = "" }, "path required"},
		{"bad fraction", func(c *Config) { c.Lending.GracePenaltyRate = "abc" }, "grace_penalty_rate"},
		{"fraction above one", func(c *Config) { c.Lending.LiquidatorRewardFraction = "1.5" }, "liquidator reward"},
		{"fee without collector", func(c *Config) { c.Lending.ProtocolFeeFraction = "0.01" }, "collector"},
		{"zero rate floor", func(c *Config) { c.Lending.MinBorrowRate = "0" }, "min_borrow_rate"},
		{"negative pool size", func(c *Config) { c.Lending.MinPoolSize = "-1" }, "min_pool_size"},
		{"bad collector", func(c *Config) { c.Lending.ProtocolFeeCollector = "nope" }, "protocol_fee_collector"},
		{"no collection window", func(c *Config) { c.Lending.CollectionPeriodSeconds = 0 }, "windows"},
		{"negative max age", func(c *Config) { c.Oracle.MaxAgeSeconds = -1 }, "max_age"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := ValidateConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := ValidateConfig(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `[storage]
Backend = "leveldb"
Path = ""
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
