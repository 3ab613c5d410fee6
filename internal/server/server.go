package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"moddepot/internal/api"
	"moddepot/internal/observability/metrics"
	"moddepot/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/auth/signup", handler.Signup)
	mux.HandleFunc("/api/auth/login", handler.Login)
	mux.HandleFunc("/api/auth/session", handler.Session)
	mux.HandleFunc("/api/user/", handler.UserProfile)
	mux.HandleFunc("/api/search/mod", handler.SearchMods)
	mux.HandleFunc("/api/search/user", handler.SearchUsers)
	mux.HandleFunc("/api/mod/", handler.ModResource)

	rl := newRateLimiter(cfg.RateLimit)
	handlerChain := http.Handler(mux)
	handlerChain = authMiddleware(handler, handlerChain)
	handlerChain = rateLimitMiddleware(rl, cfg.Logger, handlerChain)
	handlerChain = metricsMiddleware(recorder, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Minute,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Run serves requests until ctx is cancelled, then drains in-flight requests
// within the shutdown timeout. The optional ready channel is closed once the
// listener is bound.
func (s *Server) Run(ctx context.Context, ready chan<- struct{}) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return serverutil.Run(ctx, serverutil.Config{
		Server: s.httpServer,
		TLS: serverutil.TLSConfig{
			CertFile: s.tlsCertFile,
			KeyFile:  s.tlsKeyFile,
		},
		Ready: ready,
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, sr.status, time.Since(start))
	})
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			http.Error(w, "global rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowLogin(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				http.Error(w, "rate limit failure", http.StatusServiceUnavailable)
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				http.Error(w, "too many login attempts", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the session token to a user and stores it on the
// request context. Anonymous GETs pass through so public reads work without a
// session; handlers decide where authentication is mandatory. A token that is
// present but invalid is always rejected.
func authMiddleware(handler *api.Handler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/healthz" || path == "/metrics" || strings.HasPrefix(path, "/api/auth/signup") || strings.HasPrefix(path, "/api/auth/login") || !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		token := api.ExtractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := handler.AuthenticateRequest(r)
		if err != nil {
			api.WriteError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := api.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
