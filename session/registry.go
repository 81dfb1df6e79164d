package session

import (
	"crypto/rand"
	"errors"
	"io"
	"log"
	"runtime"
	"sync"
	"weak"

	"github.com/mohammad-safakhou/svgfrag/internal/fragcache"
	"github.com/mohammad-safakhou/svgfrag/internal/telemetry"
)

var errNilSession = errors.New("session: nil session")

// Registry maps tokens to sessions without keeping the sessions alive. An
// entry stops resolving as soon as its session is collected and is removed
// by a cleanup shortly after. There is no explicit unregister.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]weak.Pointer[Session]
	random  io.Reader
	metrics *telemetry.Metrics
	logger  *log.Logger
}

type RegistryOption func(*Registry)

// WithRandom replaces crypto/rand as the token source.
func WithRandom(r io.Reader) RegistryOption {
	return func(reg *Registry) { reg.random = r }
}

func WithRegistryMetrics(m *telemetry.Metrics) RegistryOption {
	return func(reg *Registry) { reg.metrics = m }
}

func WithRegistryLogger(l *log.Logger) RegistryOption {
	return func(reg *Registry) { reg.logger = l }
}

// NewRegistry is meant to be called once by the process wiring and handed to
// whoever renders or fetches fragments.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]weak.Pointer[Session]),
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a weak entry for s under a fresh token.
func (r *Registry) Register(s *Session) (string, error) {
	if s == nil {
		return "", errNilSession
	}
	token, err := NewToken(r.random)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.entries[token] = weak.Make(s)
	r.mu.Unlock()
	runtime.AddCleanup(s, r.forget, token)
	r.metrics.SessionRegistered()
	return token, nil
}

// Lookup returns the live session registered under token, or nil.
func (r *Registry) Lookup(token string) *Session {
	if !ValidToken(token) {
		return nil
	}
	r.mu.RLock()
	wp, ok := r.entries[token]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return wp.Value()
}

// Len returns the number of entries whose session is still reachable.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, wp := range r.entries {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

// EnsureRegistered registers s once and attaches a fresh fragment cache to its
// editing context. Later calls return the existing token.
func (r *Registry) EnsureRegistered(s *Session, newCache func(*Session) *fragcache.Cache) (string, error) {
	if s == nil {
		return "", errNilSession
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if token := s.Token(); token != "" {
		return token, nil
	}
	token, err := r.Register(s)
	if err != nil {
		return "", err
	}
	s.ctx.SetAttribute(FragmentCacheKey, newCache(s))
	s.ctx.SetAttribute(SessionIDKey, token)
	if r.logger != nil {
		r.logger.Printf("registered session %s", s.ID())
	}
	return token, nil
}

func (r *Registry) forget(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.entries[token]; ok && wp.Value() == nil {
		delete(r.entries, token)
	}
}

// entryCount includes entries whose cleanup has not run yet.
func (r *Registry) entryCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
