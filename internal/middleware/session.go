package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmynk/ledger/internal/scope"
	"github.com/mmynk/ledger/internal/storage"
	"github.com/mmynk/ledger/internal/workerpool"
)

// SessionOption configures the Session middleware.
type SessionOption func(*sessionScope)

// WithLogger sets the logger used to report failed releases.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *sessionScope) {
		s.logger = logger
	}
}

// WithReleaseCounter counts releases by result ("ok" or "error").
func WithReleaseCounter(c *prometheus.CounterVec) SessionOption {
	return func(s *sessionScope) {
		s.releases = c
	}
}

type sessionScope struct {
	sessions storage.Sessions
	pool     *workerpool.Pool
	logger   *slog.Logger
	releases *prometheus.CounterVec
}

// Session gives every request a fresh scope key and, once the handler has
// returned, panicked or been cancelled, releases the session bound to that
// key exactly once. The release runs on pool and the request does not
// finish until it has completed.
func Session(sessions storage.Sessions, pool *workerpool.Pool, opts ...SessionOption) func(http.Handler) http.Handler {
	s := &sessionScope{
		sessions: sessions,
		pool:     pool,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope.Next()
			defer s.release(key)

			next.ServeHTTP(w, r.WithContext(scope.WithKey(r.Context(), key)))
		})
	}
}

func (s *sessionScope) release(key scope.Key) {
	task, err := s.pool.Submit(func() error {
		return s.sessions.Remove(key)
	})
	if err == nil {
		// The request context may already be cancelled; the release must
		// still be awaited.
		err = task.Wait(context.Background())
	} else {
		s.logger.Warn("Worker pool unavailable, releasing session inline", "scope", key, "error", err)
		err = s.sessions.Remove(key)
	}

	result := "ok"
	if err != nil {
		result = "error"
		s.logger.Error("Failed to release session", "scope", key, "error", err)
	}
	if s.releases != nil {
		s.releases.WithLabelValues(result).Inc()
	}
}
