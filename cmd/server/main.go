// Package main is the entry point for the validator score adapter, a service that
// polls a Sui full node, scores and ranks every active validator and publishes
// the signed ranking to downstream consumers.
package main

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/validator-score-ea/internal/config"
	"github.com/yourorg/validator-score-ea/internal/export"
	"github.com/yourorg/validator-score-ea/internal/fetch"
	"github.com/yourorg/validator-score-ea/internal/otel"
	"github.com/yourorg/validator-score-ea/internal/security"
)

// main is the entry point for the application
func main() {
	cfg := config.Load()

	setupLogging(cfg.LogFormat, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	scorer, err := cfg.Scorer()
	if err != nil {
		logrus.Fatalf("Failed to load score weights: %v", err)
	}

	var signer *security.Signer
	if cfg.SigningEnabled {
		signer, err = security.NewSigner(cfg.SigningKey, 2*cfg.PollInterval)
		if err != nil {
			logrus.Fatalf("Failed to initialize signer: %v", err)
		}
	}

	server := NewServer(cfg, fetch.NewClient(cfg), scorer, signer, export.FromConfig(cfg.Export))
	if err := server.Start(); err != nil {
		logrus.Errorf("Server stopped with error: %v", err)
		shutdownTracer()
		os.Exit(1)
	}
}

// setupLogging configures the logging for the application
func setupLogging(format, level string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}
