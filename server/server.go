// Package server exposes the HTTP API: vote submission and tallies, the live
// vote event stream, session and progress endpoints, health, status, and
// metrics. It includes permissive CORS for development and injects
// correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/bracket-live/backend/room"
	"github.com/onnwee/bracket-live/backend/session"
	"github.com/onnwee/bracket-live/backend/telemetry"
	"github.com/onnwee/bracket-live/backend/vote"
)

// NewMux returns the HTTP handler with all routes.
// The provided context is used for the rate limiter cleanup goroutine lifecycle.
func NewMux(ctx context.Context, db *sql.DB, votes *vote.Service, sessions *session.Store, rooms *room.Broadcaster) http.Handler {
	rateLimiterCfg := loadRateLimiterConfig()
	corsCfg := loadCORSConfig()

	limiter := newIPRateLimiter(ctx, rateLimiterCfg)

	handlers := NewHandlers(db, votes, sessions, rooms)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)

	// Vote endpoints. Submission is rate limited per IP; the read paths
	// and the stream are not.
	mux.Handle("POST /tournaments/{id}/votes", rateLimitMiddleware(http.HandlerFunc(handlers.HandleVoteSubmit), limiter))
	mux.HandleFunc("GET /tournaments/{id}/matches/{idx}/votes", handlers.HandleMatchVotes)
	mux.HandleFunc("GET /tournaments/{id}/matches/{idx}/vote-check", handlers.HandleVoteCheck)

	// Live event stream
	mux.HandleFunc("GET /tournaments/{id}/stream", handlers.HandleVoteStream)

	// Session and progress endpoints
	mux.HandleFunc("POST /tournaments/{id}/session", handlers.HandleSessionStart)
	mux.HandleFunc("GET /tournaments/{id}/progress", handlers.HandleProgressLoad)
	mux.HandleFunc("PUT /tournaments/{id}/progress", handlers.HandleProgressSave)
	mux.HandleFunc("GET /sessions", handlers.HandleSessionsList)

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		// Start tracing span if enabled
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		// Provide logger with corr for downstream if needed
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		// Capture status code via custom ResponseWriter
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		// Record HTTP status in span
		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it.
// The event stream depends on this passthrough.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, db *sql.DB, votes *vote.Service, sessions *session.Store, rooms *room.Broadcaster, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, db, votes, sessions, rooms),
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: the event stream holds its response open
		// for the life of the subscriber.
		IdleTimeout: 60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
