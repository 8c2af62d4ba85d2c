package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/certrenew/internal/api"
	"github.com/org/certrenew/internal/history"
	"github.com/org/certrenew/internal/remote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr     string  `yaml:"listen_addr"`
	TLSCertFile    string  `yaml:"tls_cert"`
	TLSKeyFile     string  `yaml:"tls_key"`
	DBUrl          string  `yaml:"db_url"`
	MigrationsDir  string  `yaml:"migrations_dir"`
	LogLevel       string  `yaml:"log_level"`
	ManagerURL     string  `yaml:"manager_url"`
	ManagerToken   string  `yaml:"manager_token"`
	ManagerCACert  string  `yaml:"manager_ca_cert"`
	LiveQueryRate  float64 `yaml:"live_query_rate"`
	LiveQueryBurst int     `yaml:"live_query_burst"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("CERTRENEW_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:     ":8300",
		MigrationsDir:  "migrations",
		LogLevel:       "info",
		LiveQueryRate:  0.2, // one live query per device per 5s
		LiveQueryBurst: 2,
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("CERTRENEW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("CERTRENEW_MANAGER_URL"); v != "" {
		cfg.ManagerURL = v
	}
	if v := os.Getenv("CERTRENEW_MANAGER_TOKEN"); v != "" {
		cfg.ManagerToken = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.ManagerURL == "" {
		log.Fatal().Msg("manager_url must be configured (or CERTRENEW_MANAGER_URL env var)")
	}

	ctx := context.Background()

	// Connect to database
	store, err := history.NewPostgresStore(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := history.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	fleet := remote.New(remote.Config{
		BaseURL:   cfg.ManagerURL,
		Token:     cfg.ManagerToken,
		TLSCACert: cfg.ManagerCACert,
		LiveRate:  cfg.LiveQueryRate,
		LiveBurst: cfg.LiveQueryBurst,
	}, log.Logger)

	srv := api.NewServer(fleet, store, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	}, log.Logger)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("manager", cfg.ManagerURL).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
