// Package api exposes the HTTP surface: telemetry ingest, fault listing,
// driver and OEM chat, fleet statistics and service metadata.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harrier-data/fleetsentry/internal/faultdb"
	"github.com/harrier-data/fleetsentry/internal/monitoring"
	"github.com/harrier-data/fleetsentry/internal/pipeline"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	svc     *pipeline.Service
	store   *faultdb.FaultStore
	gen     pipeline.Generator
	metrics http.Handler
}

// NewServer wires the transport layer. The generator is used directly by the
// chat endpoints; ingest goes through the service. A nil registry disables
// the /metrics endpoint.
func NewServer(svc *pipeline.Service, store *faultdb.FaultStore, gen pipeline.Generator, reg *prometheus.Registry) *Server {
	s := &Server{
		svc:   svc,
		store: store,
		gen:   gen,
	}
	if reg != nil {
		s.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// CORSMiddleware allows cross-origin requests so external dashboards can
// talk to the API directly.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthCheck)
	mux.HandleFunc("/telematics/ingest", s.ingestTelemetry)
	mux.HandleFunc("/faults", s.listFaults)
	mux.HandleFunc("/chat", s.driverChat)
	mux.HandleFunc("/oem_chat", s.oemChat)
	mux.HandleFunc("/api/fleet_stats", s.showFleetStats)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Handler returns the full middleware-wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(CORSMiddleware(s.ServeMux()))
}
