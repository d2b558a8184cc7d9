package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/validator-score-ea/internal/ranking"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

// routes registers every endpoint. Data endpoints are rate limited per client.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern, name string, h http.HandlerFunc, limited bool) {
		var handler http.Handler = h
		if limited {
			handler = s.rateLimited(handler)
		}
		labels := prometheus.Labels{"handler": name}
		handler = promhttp.InstrumentHandlerDuration(s.metrics.requestDuration.MustCurryWith(labels), handler)
		handler = promhttp.InstrumentHandlerCounter(s.metrics.requestCounter.MustCurryWith(labels), handler)
		mux.Handle(pattern, handler)
	}

	handle("GET /validators", "validators", s.handleValidators, true)
	handle("GET /validators/{address}", "validator", s.handleValidator, true)
	handle("GET /summary", "summary", s.handleSummary, true)
	handle("GET /snapshot", "snapshot", s.handleSnapshot, true)
	handle("GET /health", "health", s.handleHealth, false)
	handle("GET /status", "status", s.handleStatus, false)
	handle("/circuit", "circuit", s.handleCircuitStatus, false)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(s.proxies.clientIP(r)) {
			s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentOrUnavailable writes a 503 and returns nil before the first ranking.
func (s *Server) currentOrUnavailable(w http.ResponseWriter) *rankingState {
	state := s.ranking()
	if state == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "No ranking available yet")
	}
	return state
}

// handleValidators returns the ranked validator list. ?issues=only keeps
// flagged validators and ?limit=N truncates to the top N.
func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	state := s.currentOrUnavailable(w)
	if state == nil {
		return
	}

	validators := state.Validators
	if strings.EqualFold(r.URL.Query().Get("issues"), "only") {
		validators = ranking.WithIssues(validators)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(validators) {
			validators = validators[:limit]
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"epoch":       state.Epoch,
		"stale":       state.Stale,
		"generatedAt": state.GeneratedAt,
		"count":       len(validators),
		"validators":  validators,
	})
}

func (s *Server) handleValidator(w http.ResponseWriter, r *http.Request) {
	state := s.currentOrUnavailable(w)
	if state == nil {
		return
	}

	address := r.PathValue("address")
	sv, ok := ranking.Find(state.Validators, address)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Validator not found: "+address)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"epoch":     state.Epoch,
		"stale":     state.Stale,
		"validator": sv,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	state := s.currentOrUnavailable(w)
	if state == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stale":       state.Stale,
		"generatedAt": state.GeneratedAt,
		"summary":     state.Summary,
		"issueCounts": ranking.IssueCounts(state.Validators),
	})
}

// handleSnapshot returns the signed envelope of the current ranking
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		s.errorResponse(w, http.StatusNotFound, "Snapshot signing disabled")
		return
	}
	state := s.currentOrUnavailable(w)
	if state == nil {
		return
	}
	if state.envelope == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Current ranking is not signed")
		return
	}

	writeJSON(w, http.StatusOK, state.envelope)
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"ready":     false,
	}
	if state := s.ranking(); state != nil {
		body["ready"] = true
		body["epoch"] = state.Epoch
	}

	writeJSON(w, http.StatusOK, body)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lastRefresh, lastError, refreshes := s.lastRefresh, s.lastError, s.refreshes
	s.mu.RUnlock()

	status := map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(startTime).String(),
		"version":   version,
		"refreshes": refreshes,
		"configuration": map[string]interface{}{
			"rpc_url":       s.config.SuiRPCURL,
			"poll_interval": s.config.PollInterval.String(),
			"workers":       s.config.Workers,
			"weights":       s.scorer.Weights(),
		},
		"circuit": s.breaker.Status(),
	}
	if !lastRefresh.IsZero() {
		status["last_refresh"] = lastRefresh.UTC().Format(time.RFC3339)
	}
	if lastError != "" {
		status["status"] = "degraded"
		status["last_error"] = lastError
	}
	if state := s.ranking(); state != nil {
		status["epoch"] = state.Epoch
		status["stale"] = state.Stale
		status["validators"] = len(state.Validators)
	}
	if s.signer != nil {
		status["signer"] = s.signer.Address()
	}
	if s.exporter != nil {
		status["export"] = s.exporter.Status()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleCircuitStatus allows viewing and controlling the circuit breaker
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		action := r.URL.Query().Get("action")
		if action != "reset" {
			s.errorResponse(w, http.StatusBadRequest, "Unknown circuit action: "+action)
			return
		}
		s.breaker.Reset()
		s.metrics.observeBreaker(s.breaker.State())
		response["message"] = "Circuit breaker reset"
	default:
		w.Header().Set("Allow", "GET, POST")
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	st := s.breaker.Status()
	response["state"] = st.State
	response["trip_count"] = st.TripCount
	if st.LastReason != "" {
		response["last_reason"] = st.LastReason
		response["last_trip"] = st.LastTrip.UTC().Format(time.RFC3339)
	}
	if st.HasLastGood {
		response["last_good_epoch"] = st.LastEpoch
	}

	writeJSON(w, http.StatusOK, response)
}

// errorResponse returns a formatted JSON error
func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.WithField("status_code", statusCode).Warn(errorMsg)

	writeJSON(w, statusCode, errorBody{
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}
