// Package httpapi exposes the monthly datasets over HTTP: score uploads,
// month queries, and the operational endpoints (health, metrics).
package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"score-cloud/internal/dataset"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var yearMonthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

type apiMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploadsTotal    prometheus.Counter
}

func newAPIMetrics(reg *prometheus.Registry) *apiMetrics {
	factory := promauto.With(reg)
	return &apiMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "score_cloud_http_requests_total",
			Help: "Total HTTP requests served, by method, route and status code",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "score_cloud_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		uploadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "score_cloud_uploads_total",
			Help: "Total accepted score uploads",
		}),
	}
}

// Server serves the dataset API.
type Server struct {
	store    *dataset.Store
	registry *prometheus.Registry
	metrics  *apiMetrics
}

// NewServer creates a Server backed by the given dataset store. Each server
// carries its own metrics registry.
func NewServer(store *dataset.Store) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		store:    store,
		registry: reg,
		metrics:  newAPIMetrics(reg),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/data/{yearMonth}", s.handleQuery)
		r.Get("/months", s.handleMonths)
	})
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// ListenAndServe runs the API on addr until the server fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("HTTP API listening")
	return srv.ListenAndServe()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start)
		s.metrics.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Msg("Request served")
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req dataset.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserName == "" || req.YearMonth == "" || req.DailyScores == nil {
		writeError(w, http.StatusBadRequest, "userName, yearMonth and dailyScores are required")
		return
	}
	if !yearMonthPattern.MatchString(req.YearMonth) {
		writeError(w, http.StatusBadRequest, "yearMonth must be formatted YYYY-MM")
		return
	}

	result, err := s.store.UpsertFromUpload(req)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserName).Msg("Upload failed")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	s.metrics.uploadsTotal.Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	yearMonth := chi.URLParam(r, "yearMonth")
	if !yearMonthPattern.MatchString(yearMonth) {
		writeError(w, http.StatusBadRequest, "yearMonth must be formatted YYYY-MM")
		return
	}

	result, err := s.store.Query(yearMonth)
	if err != nil {
		log.Error().Err(err).Str("yearMonth", yearMonth).Msg("Query failed")
		writeError(w, http.StatusInternalServerError, "failed to read dataset")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.store.Months()
	if err != nil {
		log.Error().Err(err).Msg("Month listing failed")
		writeError(w, http.StatusInternalServerError, "failed to list months")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": months})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
