package sqlite

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmynk/ledger/internal/scope"
	"github.com/mmynk/ledger/internal/storage"
)

// Ensure Registry implements storage.Sessions
var _ storage.Sessions = (*Registry)(nil)

// Registry holds at most one live session per scope key. A session is owned
// by whoever holds its key until Remove is called for that key.
type Registry struct {
	db     *DB
	active prometheus.Gauge

	mu       sync.Mutex
	sessions map[scope.Key]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithActiveGauge reports the number of live sessions to g.
func WithActiveGauge(g prometheus.Gauge) RegistryOption {
	return func(r *Registry) {
		r.active = g
	}
}

// NewRegistry creates an empty registry drawing sessions from db.
func NewRegistry(db *DB, opts ...RegistryOption) *Registry {
	r := &Registry{
		db:       db,
		sessions: make(map[scope.Key]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session of the scope carried by ctx.
func (r *Registry) Session(ctx context.Context) storage.Session {
	return r.session(scope.FromContext(ctx))
}

func (r *Registry) session(key scope.Key) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		s = r.db.NewSession()
		r.sessions[key] = s
		r.report()
	}
	return s
}

// Remove closes the session of key and forgets it. Unknown keys are ignored.
func (r *Registry) Remove(key scope.Key) error {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.report()
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// Active reports whether key has a live session.
func (r *Registry) Active(key scope.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[key]
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close releases every live session.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[scope.Key]*Session)
	r.report()
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// report updates the gauge. Caller holds mu.
func (r *Registry) report() {
	if r.active != nil {
		r.active.Set(float64(len(r.sessions)))
	}
}
