// Package main is the entry point for the Dual-Investment APR Matrix
// adapter, which serves a strike × duration yield grid assembled from an
// exchange's dual-investment product listings.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/yourorg/dci-apr-matrix/internal/config"
	"github.com/yourorg/dci-apr-matrix/internal/failover"
	"github.com/yourorg/dci-apr-matrix/internal/fetch"
	"github.com/yourorg/dci-apr-matrix/internal/otel"
	"github.com/yourorg/dci-apr-matrix/internal/rotate"
	"github.com/yourorg/dci-apr-matrix/internal/security"
	"github.com/yourorg/dci-apr-matrix/internal/service"
	"github.com/yourorg/dci-apr-matrix/internal/sign"
	"github.com/yourorg/dci-apr-matrix/internal/trend"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server holds the HTTP surface around the core pipeline.
type Server struct {
	cfg     config.Config
	svc     *service.Service
	rotator *rotate.Rotator
	trends  *trend.Tracker
	signer  *security.ResponseSigner
	limiter *rate.Limiter
	metrics *serverMetrics
	server  *http.Server
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fetchFailures   prometheus.Counter
	cacheHits       prometheus.Counter
	droppedProducts prometheus.Counter
	maxAPR          prometheus.Gauge
	cellCount       prometheus.Gauge
	breakerState    prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dci_requests_total",
				Help: "Total number of matrix requests processed",
			},
			[]string{"status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dci_request_duration_seconds",
				Help:    "Matrix request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		fetchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dci_fetch_failures_total",
				Help: "Total number of aborted fetch cycles",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dci_cache_hits_total",
				Help: "Matrix requests served without a fresh provider fetch",
			},
		),
		droppedProducts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dci_dropped_products_total",
				Help: "Raw products dropped as malformed during normalization",
			},
		),
		maxAPR: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dci_matrix_max_apr",
				Help: "Global maximum APR of the most recent matrix, in percent",
			},
		),
		cellCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dci_matrix_cells",
				Help: "Number of retained cells in the most recent matrix",
			},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dci_failover_breaker_state",
				Help: "Failover breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
	}

	prometheus.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.fetchFailures,
		m.cacheHits,
		m.droppedProducts,
		m.maxAPR,
		m.cellCount,
		m.breakerState,
	)

	return m
}

// main is the entry point for the application
func main() {
	// Secrets and local overrides come from .env when present.
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration error: %v", err)
	}

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server := NewServer(cfg)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	// Rotated file output for long-lived deployments.
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename: logFile,
			MaxSize:  100,
			MaxAge:   getEnvInt("LOG_MAX_AGE_DAYS", 14),
			Compress: true,
		})
	}

	logrus.Info("Logging configured")
}

// NewServer assembles the pipeline and HTTP surface from configuration.
func NewServer(cfg config.Config) *Server {
	httpClient := fetch.NewHTTPClient(cfg.RequestTimeout)

	rotator := rotate.New(cfg.Hosts, httpClient)
	if len(cfg.RestrictedMarkers) > 0 {
		rotator = rotator.WithMarkers(cfg.RestrictedMarkers)
	}

	signer := sign.New(cfg.APIKey, cfg.APISecret)
	direct := fetch.NewDirect(rotator, signer, cfg.PageSize, cfg.MaxPages, cfg.RecvWindow)

	var intermediary fetch.Provider
	if cfg.IntermediaryURL != "" {
		intermediary = fetch.NewIntermediary(cfg.IntermediaryURL, httpClient)
		logrus.Infof("Intermediary configured at %s", cfg.IntermediaryURL)
	}

	breaker := failover.New(cfg.FailoverThreshold, cfg.FailoverCooldown)
	cache := fetch.NewCache(cfg.CacheTTL)
	svc := service.New(direct, intermediary, cache, breaker, cfg.StrikePrecision)

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		rotator: rotator,
		trends:  trend.NewTracker(),
		metrics: registerMetrics(),
	}

	if getEnvBool("ENABLE_RESPONSE_SIGNING", false) {
		responseSigner, err := security.NewResponseSigner()
		if err != nil {
			logrus.Warnf("Failed to initialize response signer: %v", err)
		} else {
			s.signer = responseSigner
		}
	}

	if rps := getEnvFloat("RATE_LIMIT_RPS", 0); rps > 0 {
		burst := getEnvInt("RATE_LIMIT_BURST", 20)
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", rps, burst)
	}

	logrus.WithFields(logrus.Fields{
		"port":         cfg.Port,
		"hosts":        len(cfg.Hosts),
		"page_size":    cfg.PageSize,
		"max_pages":    cfg.MaxPages,
		"cache_ttl":    cfg.CacheTTL,
		"intermediary": cfg.IntermediaryURL != "",
		"signing":      s.signer != nil,
	}).Info("Server initialized")

	return s
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/matrix", s.handleMatrix)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/hosts", s.handleHosts)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// handleMatrix serves the yield grid for the requested filter parameters.
// The response carries the grid plus enough metadata to render max-value
// highlighting and trend arrows; the presentation layer owns no
// normalization logic.
func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	params, err := s.parseParams(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout*time.Duration(s.cfg.MaxPages+1))
	defer cancel()

	result, err := s.svc.Matrix(ctx, params)
	if err != nil {
		s.metrics.fetchFailures.Inc()
		s.observe("error", start)
		// A single human-readable summary; rotation details stay in logs.
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	s.metrics.maxAPR.Set(result.Matrix.MaxAPR)
	s.metrics.cellCount.Set(float64(countCells(result.Matrix.Cells)))
	s.metrics.breakerState.Set(float64(s.svc.BreakerState()))
	if result.Cached {
		s.metrics.cacheHits.Inc()
	}
	if result.Dropped > 0 {
		s.metrics.droppedProducts.Add(float64(result.Dropped))
	}

	response := map[string]interface{}{
		"strikes":         result.Matrix.Strikes,
		"days":            result.Matrix.Days,
		"cells":           result.Matrix.Cells,
		"max_apr":         result.Matrix.MaxAPR,
		"host":            result.Host,
		"cached":          result.Cached,
		"prebuilt":        result.Prebuilt,
		"dropped":         result.Dropped,
		"below_threshold": result.BelowThreshold,
		"trend":           s.trends.Directions(result.Matrix),
		"updated_at":      time.Now().UTC().Format(time.RFC3339),
	}

	var payload interface{} = response
	if s.signer != nil {
		wrapped, err := s.signer.Wrap(response, map[string]interface{}{
			"source":  "dci-apr-matrix",
			"filter":  params.Filter.Key(),
			"latency": time.Since(start).Milliseconds(),
		})
		if err != nil {
			logrus.Warnf("Failed to sign response: %v", err)
		} else {
			payload = wrapped
		}
	}

	s.observe("success", start)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// parseParams reads filter and normalization parameters from the query,
// falling back to configured defaults.
func (s *Server) parseParams(r *http.Request) (service.Params, error) {
	q := r.URL.Query()

	optionType := strings.ToUpper(queryOrDefault(q, "optionType", "PUT"))
	if optionType != "PUT" && optionType != "CALL" {
		return service.Params{}, errors.New("optionType must be PUT or CALL")
	}

	p := service.Params{
		MinAPRPercent: s.cfg.MinAPRPercent,
		Durations:     s.cfg.Durations,
		MaxStrikes:    s.cfg.MaxStrikes,
	}
	p.Filter.OptionType = optionType
	p.Filter.ExercisedCoin = strings.ToUpper(queryOrDefault(q, "exercised", "ETH"))
	p.Filter.InvestCoin = strings.ToUpper(queryOrDefault(q, "invest", "USDT"))

	if raw := q.Get("minApr"); raw != "" {
		v, err := parseFloatParam("minApr", raw)
		if err != nil {
			return service.Params{}, err
		}
		p.MinAPRPercent = v
	}
	if raw := q.Get("maxStrikes"); raw != "" {
		v, err := parseIntParam("maxStrikes", raw)
		if err != nil {
			return service.Params{}, err
		}
		p.MaxStrikes = v
	}
	if raw := q.Get("durations"); raw != "" {
		p.Durations = parseDurations(raw)
	}

	return p, nil
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(startTime).String(),
		"version": "1.0.0",
		"configuration": map[string]interface{}{
			"hosts":        len(s.cfg.Hosts),
			"page_size":    s.cfg.PageSize,
			"max_pages":    s.cfg.MaxPages,
			"cache_ttl":    s.cfg.CacheTTL.String(),
			"intermediary": s.cfg.IntermediaryURL != "",
		},
		"breaker_state": s.svc.BreakerState().String(),
	}
	if s.signer != nil {
		status["public_key"] = s.signer.PublicKey()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleHosts exposes the host priority order and which host last served
// an accepted response. Observational only.
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"hosts":     s.rotator.Hosts(),
		"last_good": s.rotator.LastGoodHost(),
	})
}

// errorResponse returns a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "error",
		"error":  errorMsg,
	})
}

// observe records request metrics for one outcome.
func (s *Server) observe(status string, start time.Time) {
	s.metrics.requestCounter.WithLabelValues(status).Inc()
	s.metrics.requestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
