package document

import (
	"fmt"
	"math"
	"sync"
)

// NodeIndex is the canonical id <-> node index of a Document. Ids are handed
// out on first request and forgotten when the document removes or replaces
// the node; an id is never reissued.
type NodeIndex struct {
	doc    *Document
	mu     sync.Mutex
	next   uint64
	byID   map[uint64]*Node
	byNode map[*Node]uint64
}

func newNodeIndex(d *Document) *NodeIndex {
	return &NodeIndex{
		doc:    d,
		byID:   make(map[uint64]*Node),
		byNode: make(map[*Node]uint64),
	}
}

// IdentityOf returns the id of n, assigning one if needed. Nodes outside the
// document have no identity.
func (x *NodeIndex) IdentityOf(n *Node) (uint64, error) {
	x.doc.mu.RLock()
	defer x.doc.mu.RUnlock()
	if n == nil || !x.doc.containsLocked(n) {
		return 0, fmt.Errorf("node identity: %w", ErrBadLocation)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if id, ok := x.byNode[n]; ok {
		return id, nil
	}
	if x.next == math.MaxUint64 {
		panic("document: node identity counter exhausted")
	}
	id := x.next
	x.next++
	x.byID[id] = n
	x.byNode[n] = id
	return id, nil
}

// Live reports whether id still belongs to a node of the document.
func (x *NodeIndex) Live(id uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.byID[id]
	return ok
}

// Len returns the number of indexed nodes.
func (x *NodeIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.byID)
}

// forget drops every node of the subtree rooted at n. Called by the document
// with its write lock held.
func (x *NodeIndex) forget(n *Node) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n.walk(func(c *Node) bool {
		if id, ok := x.byNode[c]; ok {
			delete(x.byNode, c)
			delete(x.byID, id)
		}
		return true
	})
}
