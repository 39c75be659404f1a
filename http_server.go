package energylens

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
)

// Handler returns the service's HTTP API with recovery, CORS, API-key
// authentication, per-IP rate limiting and request metrics applied.
func (s *Service) Handler() http.Handler {
	var rl *rateLimiter
	if s.config.HTTP.RateLimitPerSecond > 0 {
		rl = newRateLimiter(s.config.HTTP.RateLimitPerSecond, time.Second)
		s.closers = append(s.closers, closerFunc(func() error { rl.Close(); return nil }))
	}
	auth := newAuthenticator(s.config.HTTP.Auth)

	wrap := func(route string, h http.HandlerFunc) http.HandlerFunc {
		h = authMiddleware(auth, h)
		if rl != nil {
			h = rateLimitMiddleware(rl, h)
		}
		return instrument(s.metrics, route, h)
	}

	mux := http.NewServeMux()
	setupAnalysisRoutes(mux, s, wrap)
	setupRunRoutes(mux, s, wrap)
	setupOpsRoutes(mux, s, wrap)

	var h http.Handler = mux
	if origins := s.config.HTTP.CORSOrigins; len(origins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key"}),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)(h)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// ListenAndServe serves the API on the configured address until ctx ends,
// then shuts down gracefully.
func (s *Service) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves the API on listener until ctx ends.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", listener.Addr().String())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("HTTP server shutting down")
	return srv.Shutdown(shutdownCtx)
}
