package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	applog "fibudget/internal/log"
	"fibudget/internal/middleware/ratelimit"
	"fibudget/internal/middleware/security"
	"fibudget/internal/middleware/trace"
	"fibudget/internal/services"
)

// Options tune a Server. The zero value is usable.
type Options struct {
	// Ready reports whether the backing store is reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	// RateLimitPerMinute bounds write requests per client IP.
	RateLimitPerMinute int

	// StreamHeartbeat is the interval of SSE keep-alive comments.
	StreamHeartbeat time.Duration

	Logger *applog.Logger
}

type Server struct {
	http.Server
	budget *services.BudgetService
	ready  func(ctx context.Context) error
	logger *applog.Logger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	streamHeartbeat time.Duration
	now             func() time.Time

	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime        time.Time
	exports       atomic.Int64
	activeStreams atomic.Int64
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, budget *services.BudgetService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	if opts.StreamHeartbeat <= 0 {
		opts.StreamHeartbeat = 15 * time.Second
	}

	detector := security.NewDetector()
	s := &Server{
		budget: budget,
		ready:  opts.Ready,
		logger: logger,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
			CleanupInterval:   5 * time.Minute,
		}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		appMetrics:       &appMetrics{uptime: time.Now()},
		streamHeartbeat:  opts.StreamHeartbeat,
		now:              time.Now,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/rollup", s.handleRollup)
	mux.HandleFunc("GET /api/rollup/export", s.handleRollupExport)
	mux.HandleFunc("GET /api/rollup/stream", s.handleRollupStream)
	mux.HandleFunc("GET /api/line-items", s.handleLineItems)

	mux.HandleFunc("POST /api/budget", s.handleSaveBudget)
	mux.HandleFunc("POST /api/zero-based/compute", s.handleComputeZeroBased)

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates/{id}", s.handleLoadTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)

	limitWrites := s.rateLimiter.Middleware(detector.ExtractClientIP, s.onRateLimit, http.MethodPost, http.MethodDelete)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var handler http.Handler = mux
	handler = limitWrites(handler)
	handler = detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(),
		"Rate limit exceeded",
		applog.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// fail logs err when it maps to a server error and writes the JSON error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFor(err)
	if StatusForError(err) >= http.StatusInternalServerError {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, applog.ComponentBudget, op, applog.NewFields())
	}
	resp.Write(w)
}
