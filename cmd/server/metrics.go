package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/validator-score-ea/internal/circuitbreaker"
	"github.com/yourorg/validator-score-ea/internal/ranking"
	"github.com/yourorg/validator-score-ea/internal/safety"
)

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	refreshCounter   *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	validatorScore   *prometheus.GaugeVec
	safetyIssues     *prometheus.GaugeVec
	activeValidators prometheus.Gauge
	averageAPY       prometheus.Gauge
	weightedAPY      prometheus.Gauge
	epoch            prometheus.Gauge
	circuitBreaker   prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection on reg
func registerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validator_score_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"handler", "code", "method"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "validator_score_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "code", "method"},
		),
		refreshCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validator_score_refreshes_total",
				Help: "Total number of snapshot refreshes by outcome",
			},
			[]string{"status"},
		),
		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "validator_score_refresh_duration_seconds",
				Help:    "Snapshot refresh duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		validatorScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "validator_score",
				Help: "Composite score of each ranked validator",
			},
			[]string{"address", "name"},
		),
		safetyIssues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "validator_score_safety_issues",
				Help: "Number of validators flagged per safety issue",
			},
			[]string{"issue"},
		),
		activeValidators: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "validator_score_active_validators",
				Help: "Number of validators in the current ranking",
			},
		),
		averageAPY: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "validator_score_average_apy",
				Help: "Mean APY over all validators with a known APY",
			},
		),
		weightedAPY: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "validator_score_stake_weighted_apy",
				Help: "Stake weighted APY of the current ranking",
			},
		),
		epoch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "validator_score_epoch",
				Help: "Epoch of the current ranking",
			},
		),
		circuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "validator_score_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
	}

	reg.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.refreshCounter,
		m.refreshDuration,
		m.validatorScore,
		m.safetyIssues,
		m.activeValidators,
		m.averageAPY,
		m.weightedAPY,
		m.epoch,
		m.circuitBreaker,
	)

	return m
}

// observeRanking replaces the per-validator gauges with the given ranking.
func (m *serverMetrics) observeRanking(state *rankingState) {
	m.validatorScore.Reset()
	for _, sv := range state.Validators {
		m.validatorScore.WithLabelValues(sv.Address, sv.Name).Set(sv.Score)
	}

	counts := ranking.IssueCounts(state.Validators)
	for _, issue := range safety.AllIssues {
		m.safetyIssues.WithLabelValues(string(issue)).Set(float64(counts[issue]))
	}

	m.activeValidators.Set(float64(len(state.Validators)))
	m.averageAPY.Set(state.Summary.AverageAPY)
	m.weightedAPY.Set(state.Summary.WeightedAPY)
	m.epoch.Set(float64(state.Epoch))
}

func (m *serverMetrics) observeBreaker(state circuitbreaker.State) {
	m.circuitBreaker.Set(float64(state))
}
