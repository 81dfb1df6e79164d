// Package fragcache keeps the serialized SVG fragments of one open document
// under stable node identities.
package fragcache

import (
	"fmt"
	"log"
	"sync"

	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/internal/telemetry"
)

// DefaultInitialThreshold is the size the cache may double from before the
// first compaction.
const DefaultInitialThreshold = 4

// Service extracts and serializes fragments of the host document.
type Service interface {
	CreateFragment(n *document.Node) (*document.Fragment, error)
	Serialize(f *document.Fragment) (string, error)
}

type pruner interface {
	Prune() int
}

// Cache maps node identities to the markup frozen for them. All operations on
// one Cache are serialized by its own lock; caches of different documents
// share nothing.
type Cache struct {
	mu            sync.Mutex
	svc           Service
	idx           Indexer
	entries       map[uint64]string
	lastCompacted int
	metrics       *telemetry.Metrics
	logger        *log.Logger
}

type Option func(*Cache)

// WithIndexer replaces the default weak indexer, e.g. with the document's
// own node index.
func WithIndexer(idx Indexer) Option {
	return func(c *Cache) { c.idx = idx }
}

func WithInitialThreshold(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.lastCompacted = n
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func New(svc Service, opts ...Option) *Cache {
	c := &Cache{
		svc:           svc,
		entries:       make(map[uint64]string),
		lastCompacted: DefaultInitialThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.idx == nil {
		c.idx = NewWeakIndexer[document.Node]()
	}
	return c
}

// Freeze snapshots the current markup of n and returns the id it is stored
// under. The id is stable for as long as n stays in the document.
func (c *Cache) Freeze(n *document.Node) (uint64, error) {
	id, _, err := c.FreezeMarkup(n)
	return id, err
}

// FreezeMarkup is Freeze that also returns the markup it stored, so callers
// never pair id with a snapshot taken by a concurrent freeze.
func (c *Cache) FreezeMarkup(n *document.Node) (uint64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.idx.IdentityOf(n)
	if err != nil {
		c.metrics.FreezeFailed()
		return 0, "", fmt.Errorf("freeze: %w", err)
	}
	frag, err := c.svc.CreateFragment(n)
	if err != nil {
		c.metrics.FreezeFailed()
		return 0, "", fmt.Errorf("freeze %d: %w", id, err)
	}
	declareNamespaces(frag)
	markup, err := c.svc.Serialize(frag)
	if err != nil {
		c.metrics.FreezeFailed()
		return 0, "", fmt.Errorf("freeze %d: %w", id, err)
	}

	c.entries[id] = markup
	c.metrics.Frozen()
	if len(c.entries) > 2*c.lastCompacted {
		c.compact()
		c.lastCompacted = len(c.entries)
	}
	return id, markup, nil
}

// compact drops every entry whose node is no longer live.
func (c *Cache) compact() {
	before := len(c.entries)
	for id := range c.entries {
		if !c.idx.Live(id) {
			delete(c.entries, id)
		}
	}
	if p, ok := c.idx.(pruner); ok {
		p.Prune()
	}
	c.metrics.Compacted(before - len(c.entries))
	if c.logger != nil {
		c.logger.Printf("compacted fragment cache: %d -> %d entries", before, len(c.entries))
	}
}

// Get returns the markup last frozen under id.
func (c *Cache) Get(id uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	markup, ok := c.entries[id]
	return markup, ok
}

// Size returns the number of stored entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// LastCompactedSize returns the entry count recorded after the last
// compaction, or the initial threshold if none ran yet.
func (c *Cache) LastCompactedSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCompacted
}
