package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/validator-score-ea/internal/aggregate"
	"github.com/yourorg/validator-score-ea/internal/circuitbreaker"
	"github.com/yourorg/validator-score-ea/internal/config"
	"github.com/yourorg/validator-score-ea/internal/export"
	"github.com/yourorg/validator-score-ea/internal/fetch"
	"github.com/yourorg/validator-score-ea/internal/model"
	"github.com/yourorg/validator-score-ea/internal/otel"
	"github.com/yourorg/validator-score-ea/internal/ranking"
	"github.com/yourorg/validator-score-ea/internal/scoring"
	"github.com/yourorg/validator-score-ea/internal/security"
	"github.com/yourorg/validator-score-ea/internal/validation"
)

const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// ErrNoRanking is returned when a refresh fails before any ranking was built
var ErrNoRanking = errors.New("no ranking available")

// rankingState is one published ranking. It is immutable once stored.
type rankingState struct {
	Epoch       uint64                    `json:"epoch"`
	Stale       bool                      `json:"stale"`
	GeneratedAt int64                     `json:"generatedAt"`
	CollectedAt int64                     `json:"collectedAt"`
	Summary     aggregate.Summary         `json:"summary"`
	Validators  []ranking.ScoredValidator `json:"validators"`

	envelope *security.Envelope
}

// Server represents the validator score adapter instance
type Server struct {
	config config.Config

	// Snapshot source
	fetcher fetch.Fetcher

	scorer         *scoring.Scorer
	breaker        *circuitbreaker.CircuitBreaker
	validationOpts validation.ValidationOptions

	// Optional publishing
	signer   *security.Signer
	exporter *export.Exporter

	registry *prometheus.Registry
	metrics  *serverMetrics
	limiter  *clientLimiter
	proxies  trustedProxies

	// HTTP server instance
	server *http.Server

	mu          sync.RWMutex
	current     *rankingState
	lastRefresh time.Time
	lastError   string
	refreshes   int
}

// NewServer creates a new server instance. signer and exporter may be nil.
func NewServer(cfg config.Config, fetcher fetch.Fetcher, scorer *scoring.Scorer, signer *security.Signer, exporter *export.Exporter) *Server {
	if scorer == nil {
		scorer = scoring.NewDefaultScorer()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	s := &Server{
		config:   cfg,
		fetcher:  fetcher,
		scorer:   scorer,
		signer:   signer,
		exporter: exporter,
		registry: registry,
		metrics:  registerMetrics(registry),
		limiter:  newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		proxies:  parseTrustedProxies(cfg.TrustedProxies),
		validationOpts: validation.ValidationOptions{
			MaxAge:                 cfg.SnapshotMaxAge,
			MaxAPY:                 cfg.MaxAPY,
			EnableOutlierDetection: cfg.OutlierDetection,
			OutlierIQRMultiplier:   1.5,
		},
	}

	s.breaker = circuitbreaker.New(circuitbreaker.Thresholds{
		MaxAPY:         cfg.MaxAPY,
		MaxStakeChange: cfg.MaxStakeChange,
		MinValidators:  cfg.MinValidatorCount,
	}).WithResetDelay(cfg.CircuitResetDelay).WithTripCallback(func(reason string, snap model.Snapshot) {
		logrus.WithFields(logrus.Fields{
			"epoch":      snap.Epoch,
			"validators": len(snap.Validators),
		}).Warnf("Circuit breaker tripped: %s", reason)
	})

	fields := logrus.Fields{
		"port":          cfg.Port,
		"rpc_url":       cfg.SuiRPCURL,
		"poll_interval": cfg.PollInterval,
		"workers":       cfg.Workers,
		"signing":       signer != nil,
	}
	if signer != nil {
		fields["signer"] = signer.Address()
	}
	logrus.WithFields(fields).Info("Server initialized")

	return s
}

// Refresh fetches a snapshot, guards it, ranks it and publishes the result.
// When the breaker rejects the snapshot the last good one is ranked instead
// and marked stale.
func (s *Server) Refresh(ctx context.Context) error {
	ctx, span := otel.Tracer().Start(ctx, "refresh")
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.refreshDuration.Observe(time.Since(start).Seconds())
	}()

	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	snap, err := s.fetcher.Snapshot(ctx)
	if err != nil {
		return s.refreshFailed(ctx, fmt.Errorf("fetching snapshot: %w", err))
	}

	snap, err = validation.Sanitize(snap, s.validationOpts, s.config.Workers)
	if err != nil {
		return s.refreshFailed(ctx, err)
	}

	stale := false
	if err := s.breaker.Check(snap); err != nil {
		lastGood, ok := s.breaker.LastGoodSnapshot()
		s.metrics.observeBreaker(s.breaker.State())
		if !ok {
			return s.refreshFailed(ctx, fmt.Errorf("%w: %v", ErrNoRanking, err))
		}
		logrus.WithError(err).WithField("epoch", lastGood.Epoch).Warn("Using last known good snapshot")
		snap, stale = lastGood, true
	}
	s.metrics.observeBreaker(s.breaker.State())

	span.SetAttributes(
		attribute.Int64("sui.epoch", int64(snap.Epoch)),
		attribute.Int("sui.validators", len(snap.Validators)),
		attribute.Bool("ranking.stale", stale),
	)

	state := &rankingState{
		Epoch:       snap.Epoch,
		Stale:       stale,
		GeneratedAt: time.Now().Unix(),
		CollectedAt: snap.CollectedAt,
		Summary:     aggregate.Summarize(snap),
		Validators:  ranking.Rank(snap, s.scorer, ranking.Options{Workers: s.config.Workers}),
	}

	if s.signer != nil {
		env, err := s.signer.Sign(state)
		if err != nil {
			otel.RecordError(ctx, err)
			logrus.WithError(err).Warn("Failed to sign ranking")
		} else {
			state.envelope = &env
			if !stale && s.exporter != nil {
				s.exporter.Add(export.Record{Epoch: state.Epoch, Envelope: env})
			}
		}
	}

	s.metrics.observeRanking(state)

	status := "success"
	if stale {
		status = "fallback"
	}
	s.metrics.refreshCounter.WithLabelValues(status).Inc()

	s.mu.Lock()
	s.current = state
	s.lastRefresh = time.Now()
	s.lastError = ""
	s.refreshes++
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"epoch":      state.Epoch,
		"validators": len(state.Validators),
		"stale":      stale,
		"duration":   time.Since(start).String(),
	}).Info("Ranking refreshed")

	return nil
}

func (s *Server) refreshFailed(ctx context.Context, err error) error {
	otel.RecordError(ctx, err)
	s.metrics.refreshCounter.WithLabelValues("error").Inc()

	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()

	logrus.WithError(err).Warn("Refresh failed")
	return err
}

// ranking returns the current ranking, or nil before the first refresh.
func (s *Server) ranking() *rankingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// poll refreshes immediately and then on every poll interval until ctx ends.
func (s *Server) poll(ctx context.Context) {
	_ = s.Refresh(ctx)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

// Start begins polling and serving HTTP and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.poll(ctx)
	}()

	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serveErr:
	}

	logrus.Info("Server shutting down...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}
	if s.exporter != nil {
		if err := s.exporter.Stop(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Final export failed")
		}
	}

	logrus.Info("Server stopped")
	return runErr
}
