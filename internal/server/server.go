package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/auditstack/chainlog/internal/metrics"
	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/internal/store"
	"github.com/auditstack/chainlog/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer exposes the log store's administrative surface
type HTTPServer struct {
	config  *ServerConfig
	server  *http.Server
	router  *mux.Router
	store   *store.Store
	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewHTTPServer creates a new HTTP server over the given store
func NewHTTPServer(config *ServerConfig, logStore *store.Store, m *metrics.Metrics) (*HTTPServer, error) {
	s := &HTTPServer{
		config:  config,
		store:   logStore,
		metrics: m,
		logger:  utils.ComponentLogger("http"),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Log store endpoints
	api.HandleFunc("/log", s.appendHandler).Methods("POST")
	api.HandleFunc("/logs", s.readHandler).Methods("GET")
	api.HandleFunc("/logs/search", s.searchHandler).Methods("GET")
	api.HandleFunc("/verify", s.verifyHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	api.HandleFunc("/replication/status", s.replicationStatusHandler).Methods("GET")
}

// Router returns the configured handler, used directly in tests.
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithField("error", err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and catch immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Middleware

// loggingMiddleware tags each request with an ID and logs it
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			if id, err := utils.GenerateID(); err == nil {
				requestID = id
			}
		}
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r)

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start).String(),
			"remote_ip":  r.RemoteAddr,
			"request_id": requestID,
		}).Info("HTTP request")
	})
}

// corsMiddleware handles CORS
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request counts and latency
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		s.metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, r.URL.Path, strconv.Itoa(recorder.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := s.store.IsHealthy()
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	if s.metrics != nil {
		s.metrics.UpdateComponentHealth("store", healthy)
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// appendHandler appends a log entry
func (s *HTTPServer) appendHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Level    string                 `json:"level"`
		Message  string                 `json:"message"`
		Metadata map[string]interface{} `json:"metadata"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if request.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required", nil)
		return
	}
	if request.Level == "" {
		request.Level = models.LevelInfo
	}

	receipt, err := s.store.Log(request.Level, request.Message, request.Metadata)
	if err != nil && receipt == nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to append entry", err)
		return
	}

	// A receipt alongside an error means the entry is durable but
	// degraded (index or sync replication failed); still a 201.
	s.writeJSON(w, http.StatusCreated, receipt)
}

// readHandler reads entries with optional filters
func (s *HTTPServer) readHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	entries, err := s.store.Read(filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read entries", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// searchHandler searches entries by substring
func (s *HTTPServer) searchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "Search query is required", nil)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	entries, err := s.store.Search(query, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Search failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"query":   query,
		"total":   len(entries),
	})
}

// verifyHandler runs chain verification
func (s *HTTPServer) verifyHandler(w http.ResponseWriter, r *http.Request) {
	ok, firstBad := s.store.Verify()

	response := map[string]interface{}{
		"verified":  ok,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !ok {
		response["first_bad_index"] = firstBad
	}

	s.writeJSON(w, http.StatusOK, response)
}

// statsHandler returns store statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to collect stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// replicationStatusHandler returns the remote reconciliation snapshot
func (s *HTTPServer) replicationStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.ReplicationStatus(r.Context())
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeConfiguration) {
			s.writeError(w, http.StatusConflict, "Replication is not enabled", nil)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// parseFilter builds an entry filter from query parameters
func parseFilter(r *http.Request) (models.EntryFilter, error) {
	filter := models.EntryFilter{Limit: 100}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, fmt.Errorf("invalid limit: %w", err)
		}
		filter.Limit = limit
	}

	if level := r.URL.Query().Get("level"); level != "" {
		filter.Level = &level
	}

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return filter, fmt.Errorf("invalid start time: %w", err)
		}
		filter.StartTime = &start
	}

	if endStr := r.URL.Query().Get("end"); endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return filter, fmt.Errorf("invalid end time: %w", err)
		}
		filter.EndTime = &end
	}

	return filter, nil
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
