package main

import (
	"os"
	"time"

	"github.com/org/certrenew/internal/remote"
	"github.com/rs/zerolog"
)

// newClient creates a fleet-manager client from the current config.
func newClient() *remote.Client {
	addr := cfg.ManagerURL
	if v := os.Getenv("CERTRENEW_MANAGER_URL"); v != "" {
		addr = v
	}
	token := cfg.Token
	if v := os.Getenv("CERTRENEW_TOKEN"); v != "" {
		token = v
	}
	caCert := cfg.TLSCACert
	if v := os.Getenv("CERTRENEW_CACERT"); v != "" {
		caCert = v
	}

	return remote.New(remote.Config{
		BaseURL:   addr,
		Token:     token,
		TLSCACert: caCert,
		Timeout:   90 * time.Second, // live queries carry their own deadline inside this
	}, newLogger())
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()
}
