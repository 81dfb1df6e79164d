// Package session holds open editing sessions and the process-wide registry
// that lets stateless HTTP requests find them again by token.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/internal/fragcache"
)

// Editing context attributes set when a session is first registered.
const (
	SessionIDKey     = "svgfrag.session_id"
	FragmentCacheKey = "svgfrag.fragment_cache"
)

// ErrNotFound is returned by stores for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store owns open sessions. Closing a session drops the store's reference,
// which is the last strong one in a running server.
type Store interface {
	Open(doc *document.Document) (*Session, error)
	Get(id string) (*Session, error)
	Close(id string) error
	Len() int
}

// Session is one open document together with its editing context.
type Session struct {
	id       string
	doc      *document.Document
	ctx      *EditingContext
	openedAt time.Time

	initMu sync.Mutex
}

func New(id string, doc *document.Document) *Session {
	return &Session{
		id:       id,
		doc:      doc,
		ctx:      NewEditingContext(),
		openedAt: time.Now(),
	}
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Document() *document.Document { return s.doc }
func (s *Session) OpenedAt() time.Time          { return s.openedAt }

// Token returns the registry token, or "" before registration.
func (s *Session) Token() string {
	tok, _ := s.ctx.Attribute(SessionIDKey).(string)
	return tok
}

// FragmentCache returns the cache attached at registration, or nil.
func (s *Session) FragmentCache() *fragcache.Cache {
	c, _ := s.ctx.Attribute(FragmentCacheKey).(*fragcache.Cache)
	return c
}

// EditingContext is a per-session attribute store.
type EditingContext struct {
	mu    sync.RWMutex
	attrs map[string]any
}

func NewEditingContext() *EditingContext {
	return &EditingContext{attrs: make(map[string]any)}
}

func (c *EditingContext) Attribute(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attrs[key]
}

func (c *EditingContext) SetAttribute(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == nil {
		delete(c.attrs, key)
		return
	}
	c.attrs[key] = value
}

// Attributes returns the keys currently set.
func (c *EditingContext) Attributes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
