// Command poolsim replays a YAML scenario of lending calls against a fresh or
// persisted runtime and prints a JSON report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"poolchain/config"
	"poolchain/core"
	"poolchain/observability/logging"
	"poolchain/storage"
)

func main() {
	configFile := flag.String("config", "./poolsim.toml", "Path to the configuration file")
	scenarioFile := flag.String("scenario", "", "Path to the YAML scenario to replay")
	flag.Parse()

	if strings.TrimSpace(*scenarioFile) == "" {
		fmt.Fprintln(os.Stderr, "poolsim: -scenario is required")
		os.Exit(2)
	}
	if err := run(*configFile, *scenarioFile); err != nil {
		fmt.Fprintf(os.Stderr, "poolsim: %v\n", err)
		os.Exit(1)
	}
}

func openDatabase(cfg config.Storage) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		return storage.NewLevelDB(cfg.Path)
	default:
		return storage.NewMemDB(), nil
	}
}

func run(configPath, scenarioPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("poolsim", cfg.Environment, logging.Options{
		Output: os.Stderr,
		Level:  logging.ParseLevel(cfg.LogLevel),
	})
	runID := uuid.NewString()
	logger = logger.With(slog.String("run", runID))

	sc, err := LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	logger.Info("poolsim starting",
		slog.String("backend", cfg.Storage.Backend),
		logging.MaskField("path", cfg.Storage.Path),
		slog.String("scenario", sc.Name))

	rt, err := core.NewRuntime(db, cfg, logger)
	if err != nil {
		db.Close()
		return err
	}
	defer rt.Close()

	now := sc.Start
	if now == 0 {
		now = time.Now().Unix()
	}
	rt.SetClock(func() time.Time { return time.Unix(now, 0) })

	report, err := Replay(rt, sc, &now, runID)
	if err != nil {
		logger.Error("poolsim replay failed", slog.Any("error", err))
		return err
	}
	logger.Info("poolsim finished", slog.Int("steps", len(report.Steps)))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
