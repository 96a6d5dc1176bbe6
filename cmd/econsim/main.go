// Command econsim runs the economic cycle engine: a closed economy of
// households, firms, banks and a government, advanced one monthly cycle at a
// time until the scenario's horizon or a signal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talgya/mini-economy/internal/api"
	"github.com/talgya/mini-economy/internal/config"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/entropy"
	"github.com/talgya/mini-economy/internal/persistence"
	"github.com/talgya/mini-economy/internal/report"
	"github.com/talgya/mini-economy/internal/scenario"
	"github.com/talgya/mini-economy/internal/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("econsim failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (non-fatal).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	scn, err := loadScenario(cfg)
	if err != nil {
		return err
	}
	slog.Info("econsim starting", "version", version, "scenario", scn.Name, "seed", scn.Seed, "cycles", scn.Cycles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return err
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()
	recorder, err := telemetry.NewRecorder(telemetry.Meter("econsim"), scn.Name)
	if err != nil {
		return err
	}

	// ── Simulation ────────────────────────────────────────────────────
	sim, err := engine.New(scn)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(sim)
	eng.Budget = cfg.CycleBudget
	eng.Interval = cfg.CycleInterval

	// ── Database ──────────────────────────────────────────────────────
	runID := persistence.NewRunID()
	var db *persistence.DB
	if cfg.DBPath != "" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		scnJSON, err := json.Marshal(scn)
		if err != nil {
			return fmt.Errorf("encode scenario: %w", err)
		}
		if err := db.BeginRun(ctx, persistence.Run{
			ID:        runID,
			Scenario:  scn.Name,
			Seed:      scn.Seed,
			StartedAt: time.Now().UTC(),
			Config:    string(scnJSON),
		}); err != nil {
			return err
		}
		if err := db.SaveMeta("last_run", runID); err != nil {
			slog.Warn("save meta failed", "error", err)
		}
		slog.Info("database opened", "path", cfg.DBPath, "run_id", runID)
	}

	// Wire cycle callbacks: metrics every cycle, a save every year.
	eng.OnCycle = func(s engine.Snapshot) { recorder.Record(ctx, s) }
	eng.OnAbort = func(s engine.Snapshot) { recorder.Record(ctx, s) }
	eng.OnYear = func(cycle uint64) {
		sim.LogYear(cycle)
		if db == nil {
			return
		}
		if err := db.SaveLog(context.WithoutCancel(ctx), runID, sim.Log()); err != nil {
			slog.Error("yearly save failed", "cycle", cycle, "error", err)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.Port > 0 {
		srv, err := api.New(sim, eng, db, runID, api.Options{
			Port:      cfg.Port,
			RateLimit: cfg.RateLimit,
			CacheSize: cfg.CacheSize,
		})
		if err != nil {
			return err
		}
		srv.Start(ctx)
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Port)
	}

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			eng.Stop()
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := eng.Run(ctx, scn.Cycles)
	status := persistence.StatusCompleted
	var ce *engine.ConsistencyError
	switch {
	case errors.As(runErr, &ce):
		status = persistence.StatusHalted
		if ce.LastGood != nil {
			slog.Error("last consistent cycle", "cycle", ce.LastGood.Cycle)
		}
	case runErr != nil || ctx.Err() != nil:
		status = persistence.StatusHalted
	}

	// Final save on shutdown.
	if db != nil {
		saveCtx := context.WithoutCancel(ctx)
		if err := db.SaveLog(saveCtx, runID, sim.Log()); err != nil {
			slog.Error("final save failed", "error", err)
		}
		if err := db.FinishRun(saveCtx, runID, status, int(sim.Cycle())); err != nil {
			slog.Error("finish run failed", "error", err)
		}
	}
	if cfg.ExportDir != "" {
		if err := export(cfg.ExportDir, runID, scn, sim.Log()); err != nil {
			slog.Error("export failed", "error", err)
		}
	}

	fmt.Println()
	fmt.Print(report.Summarize(sim.Log().All(), sim.Log().Transitions()).Text())

	if runErr == nil && cfg.Serve && cfg.Port > 0 && ctx.Err() == nil {
		fmt.Println("Run finished; still serving the API. (Ctrl+C to stop)")
		<-ctx.Done()
	}
	return runErr
}

// loadScenario reads the configured scenario, or the built-in baseline, and
// applies the seed and horizon overrides.
func loadScenario(cfg config.Config) (scenario.Scenario, error) {
	scn := scenario.Default()
	if cfg.ScenarioPath != "" {
		var err error
		scn, err = scenario.Load(cfg.ScenarioPath)
		if err != nil {
			return scenario.Scenario{}, err
		}
	}
	switch {
	case cfg.RandomSeed:
		scn.Seed = entropy.RandomSeed()
	case cfg.Seed != 0:
		scn.Seed = cfg.Seed
	}
	if cfg.Cycles > 0 {
		scn.Cycles = cfg.Cycles
	}
	return scn, nil
}

func export(dir, runID string, scn scenario.Scenario, log *engine.SnapshotLog) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	csvPath := filepath.Join(dir, runID+".csv")
	f, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(f, log.All()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	jsonPath := filepath.Join(dir, runID+".json")
	f, err = os.Create(jsonPath)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(f, report.NewDocument(runID, scn.Name, scn.Seed, log)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("run exported", "csv", csvPath, "json", jsonPath)
	return nil
}
