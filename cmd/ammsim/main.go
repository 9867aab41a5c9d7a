// Command ammsim replays a scripted scenario against the pool engine and prints the
// resulting pool and bank state.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-engine/cmd/ammsim/config"
	"github.com/defistate/amm-engine/engine"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	close := func() {
		os.Exit(1)
	}

	// .env is optional; the environment may already carry everything.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		bootLogger.Warn("Failed to read .env file", "error", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		bootLogger.Error("Failed to load configuration", "error", err)
		close()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		bootLogger.Error("Invalid log level", "level", cfg.LogLevel, "error", err)
		close()
	}
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.NewEngine(&engine.Config{
		Admin:    cfg.Admin,
		Logger:   rootLogger.With("component", "engine"),
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize engine", "error", err)
		close()
	}

	sim, err := newSimulator(eng, cfg, rootLogger.With("component", "simulator"))
	if err != nil {
		rootLogger.Error("Failed to initialize simulator", "error", err)
		close()
	}

	runs, err := sim.run(ctx)
	if err != nil {
		rootLogger.Error("Simulation aborted", "error", err)
		close()
	}
	if err := sim.writeReport(os.Stdout, runs); err != nil {
		rootLogger.Error("Failed to write report", "error", err)
		close()
	}
}

func loadConfig() (*config.Config, error) {
	configPath := flag.String("config", "ammsim.yaml", "Path to the scenario file.")
	flag.Parse()
	return config.LoadConfig(*configPath)
}
