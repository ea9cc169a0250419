package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/config"
	"github.com/jonathan/rivalops/internal/notify"
	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/pipeline"
	"github.com/jonathan/rivalops/internal/server/middleware"
	"github.com/jonathan/rivalops/internal/server/ratelimit"
	"github.com/jonathan/rivalops/internal/types"
)

// Store is the storage the review API reads and writes.
type Store interface {
	GetTarget(ctx context.Context, id uuid.UUID) (*types.Target, error)
	GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error)
	GetAnalysisByRun(ctx context.Context, runID uuid.UUID) (*types.Analysis, error)
	GetBriefing(ctx context.Context, id uuid.UUID) (*types.Briefing, error)
	GetBriefingByRun(ctx context.Context, runID uuid.UUID) (*types.Briefing, error)
	ListBriefings(ctx context.Context, status types.ReviewStatus, limit int) ([]types.Briefing, error)
	UpdateBriefingReview(ctx context.Context, b *types.Briefing, from types.ReviewStatus) error
	GetReviewerByEmail(ctx context.Context, email string) (*types.Reviewer, error)
}

// Processor runs the pipeline for one target.
type Processor interface {
	Process(ctx context.Context, targetID uuid.UUID) (*pipeline.RunOutcome, error)
}

// Deliverer sends approved briefings.
type Deliverer interface {
	DeliverBriefing(ctx context.Context, id uuid.UUID) (*notify.Delivery, error)
}

// Config holds server configuration
type Config struct {
	Port      int
	Auth      *config.ReviewAuthConfig
	RateLimit *ratelimit.Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Server is the review API.
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	store       Store
	processor   Processor
	deliverer   Deliverer
	auth        *config.ReviewAuthConfig
	jwtService  *JWTService
	rateLimiter *ratelimit.Limiter
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a server. Auth is required; a nil RateLimit config uses the defaults.
func New(cfg Config, store Store, processor Processor, deliverer Deliverer) (*Server, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("reviewer auth configuration is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:       store,
		processor:   processor,
		deliverer:   deliverer,
		auth:        cfg.Auth,
		jwtService:  NewJWTService(cfg.Auth),
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         time.Now,
	}

	requireAuth := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.HandleFunc("GET /review/queue", s.handleReviewQueue)
	mux.HandleFunc("GET /review/{id}", s.handleGetReview)
	mux.Handle("POST /review/{id}/approve", requireAuth(http.HandlerFunc(s.handleApprove)))
	mux.Handle("POST /review/{id}/reject", requireAuth(http.HandlerFunc(s.handleReject)))

	mux.Handle("POST /targets/{id}/process", requireAuth(http.HandlerFunc(s.handleProcessTarget)))
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // a process request runs the whole pipeline
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.rateLimiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Close releases background resources without serving.
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients over their limit with 429.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs each request with its status and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// clientID identifies the caller by IP; X-Forwarded-For is not trusted.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds() + 0.999)
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.logger.Warn("rate limit exceeded", "client", clientID(r), "path", r.URL.Path, "limit", info.Limit)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFrom writes err with the status HTTPStatus picks; server errors are logged and masked.
func (s *Server) errorFrom(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.errorResponse(w, status, "internal server error")
		return
	}
	s.errorResponse(w, status, err.Error())
}
