// Package document is the host document model the fragment cache runs
// against: an XML tree with edits, fragment extraction and serialization.
package document

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	SVGNamespace = "http://www.w3.org/2000/svg"
	XMLNamespace = "http://www.w3.org/XML/1998/namespace"
)

var (
	// ErrBadLocation is returned when a node is not part of the document.
	ErrBadLocation = errors.New("node is not part of the document")
	// ErrNotElement is returned when an element was required.
	ErrNotElement = errors.New("node is not an element")
	// ErrAttached is returned when a node that must be detached already has a parent.
	ErrAttached = errors.New("node is already attached")
	// ErrRootRemoval is returned on an attempt to remove the document element.
	ErrRootRemoval = errors.New("cannot remove the document element")
)

// Document owns a node tree and the canonical node index for it.
type Document struct {
	mu       sync.RWMutex
	systemID string
	root     *Node
	index    *NodeIndex
}

// New wraps an already built element tree.
func New(root *Node, systemID string) (*Document, error) {
	if root == nil || root.kind != ElementNode {
		return nil, fmt.Errorf("new document: %w", ErrNotElement)
	}
	if root.parent != nil {
		return nil, fmt.Errorf("new document: %w", ErrAttached)
	}
	d := &Document{systemID: systemID, root: root}
	d.index = newNodeIndex(d)
	return d, nil
}

// Parse reads an XML document. Prefixes are preserved as written and every
// element records the namespace URI it resolves to.
func Parse(r io.Reader, systemID string) (*Document, error) {
	dec := xml.NewDecoder(r)
	var (
		root   *Node
		stack  []*Node
		scopes = []map[string]string{{"xml": XMLNamespace}}
	)
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", systemID, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			scope := pushScope(scopes[len(scopes)-1], t.Attr)
			space, ok := scope[t.Name.Space]
			if !ok && t.Name.Space != "" {
				return nil, fmt.Errorf("parse %s: undeclared prefix %q", systemID, t.Name.Space)
			}
			n := &Node{kind: ElementNode, prefix: t.Name.Space, local: t.Name.Local, space: space}
			for _, a := range t.Attr {
				n.attrs = append(n.attrs, Attr{Prefix: a.Name.Space, Local: a.Name.Local, Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("parse %s: more than one document element", systemID)
				}
				root = n
			} else {
				stack[len(stack)-1].AppendChild(n)
			}
			stack = append(stack, n)
			scopes = append(scopes, scope)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse %s: unexpected end element </%s>", systemID, t.Name.Local)
			}
			top := stack[len(stack)-1]
			if top.prefix != t.Name.Space || top.local != t.Name.Local {
				return nil, fmt.Errorf("parse %s: element <%s> closed by </%s>", systemID, top.Name(), qualified(t.Name))
			}
			stack = stack[:len(stack)-1]
			scopes = scopes[:len(scopes)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, fmt.Errorf("parse %s: text outside the document element", systemID)
				}
				continue
			}
			stack[len(stack)-1].AppendChild(NewText(string(t)))
		case xml.Comment:
			if len(stack) > 0 {
				stack[len(stack)-1].AppendChild(&Node{kind: CommentNode, data: string(t)})
			}
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("parse %s: unclosed element <%s>", systemID, stack[len(stack)-1].Name())
	}
	if root == nil {
		return nil, fmt.Errorf("parse %s: no document element", systemID)
	}
	return New(root, systemID)
}

func pushScope(parent map[string]string, attrs []xml.Attr) map[string]string {
	var scope map[string]string
	for _, a := range attrs {
		var prefix string
		switch {
		case a.Name.Space == "xmlns":
			prefix = a.Name.Local
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			prefix = ""
		default:
			continue
		}
		if scope == nil {
			scope = make(map[string]string, len(parent)+1)
			for k, v := range parent {
				scope[k] = v
			}
		}
		scope[prefix] = a.Value
	}
	if scope == nil {
		return parent
	}
	return scope
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// SystemID returns the location the document was loaded from.
func (d *Document) SystemID() string { return d.systemID }

// Root returns the document element.
func (d *Document) Root() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// Index returns the canonical node index of the document.
func (d *Document) Index() *NodeIndex { return d.index }

// Contains reports whether n is currently reachable from the document element.
func (d *Document) Contains(n *Node) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.containsLocked(n)
}

func (d *Document) containsLocked(n *Node) bool {
	for p := n; p != nil; p = p.parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Elements returns the outermost elements with the given local name in
// document order. An empty space matches any namespace.
func (d *Document) Elements(space, local string) []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Node
	d.root.walk(func(n *Node) bool {
		if n.kind == ElementNode && n.local == local && (space == "" || n.space == space) {
			out = append(out, n)
			return false
		}
		return true
	})
	return out
}

// Remove detaches n and its subtree from the document.
func (d *Document) Remove(n *Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n == d.root {
		return ErrRootRemoval
	}
	if n == nil || !d.containsLocked(n) {
		return fmt.Errorf("remove: %w", ErrBadLocation)
	}
	detach(n)
	d.index.forget(n)
	return nil
}

// Replace puts the detached node repl where old is.
func (d *Document) Replace(old, repl *Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old == nil || !d.containsLocked(old) {
		return fmt.Errorf("replace: %w", ErrBadLocation)
	}
	if repl == nil || repl.parent != nil || repl == d.root {
		return fmt.Errorf("replace: %w", ErrAttached)
	}
	if old == d.root {
		if repl.kind != ElementNode {
			return fmt.Errorf("replace document element: %w", ErrNotElement)
		}
		d.root = repl
	} else {
		p := old.parent
		for i, c := range p.children {
			if c == old {
				p.children[i] = repl
				break
			}
		}
		repl.parent = p
		old.parent = nil
	}
	d.index.forget(old)
	return nil
}

// AppendChild attaches a detached node as the last child of parent.
func (d *Document) AppendChild(parent, child *Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if parent == nil || !d.containsLocked(parent) {
		return fmt.Errorf("append: %w", ErrBadLocation)
	}
	if parent.kind != ElementNode {
		return fmt.Errorf("append: %w", ErrNotElement)
	}
	if child == nil || child.parent != nil || child == d.root {
		return fmt.Errorf("append: %w", ErrAttached)
	}
	parent.AppendChild(child)
	return nil
}

func detach(n *Node) {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}
