package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sluiceio/sluice"
	"github.com/sluiceio/sluice/internal/config"
	"github.com/sluiceio/sluice/internal/loadgen"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	opts := sluice.Options{
		QueueCapacity:     cfg.Engine.QueueCapacity,
		IdlePark:          cfg.Engine.IdlePark,
		Limits:            cfg.Limits(),
		ShutdownTimeout:   cfg.Engine.ShutdownTimeout,
		AdminAPIKeys:      cfg.Admin.APIKeys,
		AdminReadTimeout:  cfg.Admin.ReadTimeout,
		AdminWriteTimeout: cfg.Admin.WriteTimeout,
		MetricsPath:       cfg.Metrics.Path,
		DisableMetrics:    !cfg.Metrics.Enabled,
		DatabaseDSN:       cfg.Database.DSN,
		AuditBuffer:       cfg.Database.AuditBuffer,
	}
	if cfg.Admin.Enabled {
		opts.AdminAddr = cfg.Address()
	}

	// Database is optional: run without the audit trail rather than
	// refusing to start.
	client, err := sluice.NewClientWithOptions(opts)
	if err != nil && opts.DatabaseDSN != "" {
		log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		opts.DatabaseDSN = ""
		client, err = sluice.NewClientWithOptions(opts)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("engine start failed")
	}

	// Startup plugins are best-effort: a rejected module is logged and
	// skipped, the engine serves with whatever loaded.
	loaded := 0
	for _, path := range startupPlugins(cfg) {
		if err := client.LoadPluginFromFile(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("startup plugin rejected")
			continue
		}
		loaded++
	}

	var gen *loadgen.Generator
	if cfg.Loadgen.Enabled {
		gen, err = loadgen.New(client, loadgen.Config{
			Sources:      cfg.Loadgen.Sources,
			Rate:         cfg.Loadgen.Rate,
			RowsPerBatch: cfg.Loadgen.RowsPerBatch,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("load generator config invalid")
		}
		gen.Start()
	}

	log.Info().
		Str("admin_addr", client.AdminAddr()).
		Bool("db_enabled", opts.DatabaseDSN != "").
		Bool("loadgen", gen != nil).
		Int("plugins", loaded).
		Msg("sluice started")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	if gen != nil {
		gen.Stop()
	}
	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("engine close error")
	}

	log.Info().Msg("sluice stopped")
}

// startupPlugins merges explicit module paths with a directory scan.
func startupPlugins(cfg *config.Config) []string {
	paths := append([]string(nil), cfg.Plugins.Paths...)
	if cfg.Plugins.Dir != "" {
		matches, err := filepath.Glob(filepath.Join(cfg.Plugins.Dir, "*.wasm"))
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.Plugins.Dir).Msg("plugin directory scan failed")
		} else {
			paths = append(paths, matches...)
		}
	}
	return paths
}
