package fragcache

import (
	"errors"
	"math"
	"sync"
	"weak"

	"github.com/mohammad-safakhou/svgfrag/internal/document"
)

var errNilNode = errors.New("fragcache: nil node")

// Indexer assigns stable identities to document nodes without owning them.
// document.NodeIndex satisfies it by delegating to the document model.
type Indexer interface {
	// IdentityOf returns the id of n, allocating the next one on first use.
	IdentityOf(n *document.Node) (uint64, error)
	// Live reports whether id is still associated with a reachable node.
	Live(id uint64) bool
}

// WeakIndexer keys identities on weak pointers, so an indexed node can be
// collected as soon as the document lets go of it. Entries of collected
// nodes are dropped the next time Live looks at them.
type WeakIndexer[T any] struct {
	mu     sync.Mutex
	next   uint64
	byNode map[weak.Pointer[T]]uint64
	byID   map[uint64]weak.Pointer[T]
}

func NewWeakIndexer[T any]() *WeakIndexer[T] {
	return &WeakIndexer[T]{
		byNode: make(map[weak.Pointer[T]]uint64),
		byID:   make(map[uint64]weak.Pointer[T]),
	}
}

func (x *WeakIndexer[T]) IdentityOf(n *T) (uint64, error) {
	if n == nil {
		return 0, errNilNode
	}
	wp := weak.Make(n)
	x.mu.Lock()
	defer x.mu.Unlock()
	if id, ok := x.byNode[wp]; ok {
		return id, nil
	}
	if x.next == math.MaxUint64 {
		panic("fragcache: node identity counter exhausted")
	}
	id := x.next
	x.next++
	x.byNode[wp] = id
	x.byID[id] = wp
	return id, nil
}

func (x *WeakIndexer[T]) Live(id uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	wp, ok := x.byID[id]
	if !ok {
		return false
	}
	if wp.Value() == nil {
		delete(x.byID, id)
		delete(x.byNode, wp)
		return false
	}
	return true
}

// Len returns the number of tracked entries, collected ones included until
// Live or Prune has seen them.
func (x *WeakIndexer[T]) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.byID)
}

// Prune drops the entries of every collected node.
func (x *WeakIndexer[T]) Prune() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	var dropped int
	for id, wp := range x.byID {
		if wp.Value() == nil {
			delete(x.byID, id)
			delete(x.byNode, wp)
			dropped++
		}
	}
	return dropped
}
