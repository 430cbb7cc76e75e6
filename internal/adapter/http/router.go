package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rates-engine/internal/metrics"
	"rates-engine/pkg/logger"
)

// RequestIDHeader carries the per-request id, echoed back to the client.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type Router struct {
	handler *Handler
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewRouter(handler *Handler, log *logger.Logger, metrics *metrics.Metrics) *Router {
	return &Router{
		handler: handler,
		log:     log,
		metrics: metrics,
	}
}

func (r *Router) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), requestIDKey{}, id)))
	})
}

func (r *Router) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		crw := &customResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(crw, req)

		if req.URL.Path != "/metrics" {
			duration := time.Since(start).Seconds()
			r.metrics.HTTPRequestDuration.WithLabelValues(req.URL.Path, req.Method).Observe(duration)
			r.metrics.HTTPRequestsTotal.WithLabelValues(req.URL.Path, req.Method, strconv.Itoa(crw.statusCode/100)+"xx").Inc()
		}

		duration := time.Since(start)
		r.log.Info("HTTP request",
			"request_id", RequestID(req.Context()),
			"method", req.Method,
			"path", req.URL.Path,
			"query", req.URL.RawQuery,
			"status", crw.statusCode,
			"duration", duration,
			"remote_addr", req.RemoteAddr,
			"user_agent", req.UserAgent(),
		)
	})
}

type customResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (crw *customResponseWriter) WriteHeader(code int) {
	crw.statusCode = code
	crw.ResponseWriter.WriteHeader(code)
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/currencies", r.handler.CurrenciesHandler)
	mux.HandleFunc("GET /api/v1/rates/live", r.handler.LiveRatesHandler)
	mux.HandleFunc("/api/v1/rates/historical", r.handler.HistoricalRatesHandler)
	mux.HandleFunc("GET /api/v1/rates/timeframe", r.handler.TimeframeRatesHandler)
	mux.HandleFunc("GET /api/v1/convert", r.handler.ConvertCurrencyHandler)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	apiWithMiddleware := r.requestIDMiddleware(r.loggingMiddleware(mux))

	rootMux := http.NewServeMux()

	rootMux.Handle("/", apiWithMiddleware)
	rootMux.Handle("/metrics", promhttp.Handler())

	return rootMux
}
