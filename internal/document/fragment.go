package document

import (
	"errors"
	"fmt"
	"strings"
)

var errNilFragment = errors.New("nil fragment")

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", `"`, "&quot;",
		"\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;")
)

// Fragment is a detached, self-contained copy of a document subtree.
// Mutating it never affects the document it was taken from.
type Fragment struct {
	nodes   []*Node
	inScope map[string]string
}

// ContentNodes returns the top level nodes of the fragment.
func (f *Fragment) ContentNodes() []*Node { return f.nodes }

// Binding returns the namespace URI prefix was bound to at the point the
// fragment was taken from, counting only declarations made on ancestors of
// the copied node. The empty prefix is the default namespace.
func (f *Fragment) Binding(prefix string) (string, bool) {
	uri, ok := f.inScope[prefix]
	return uri, ok
}

// CreateFragment deep-copies the subtree rooted at n. Namespace declarations
// made on ancestors of n are not carried over.
func (d *Document) CreateFragment(n *Node) (*Fragment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n == nil || !d.containsLocked(n) {
		return nil, fmt.Errorf("create fragment: %w", ErrBadLocation)
	}
	return &Fragment{nodes: []*Node{n.clone(nil)}, inScope: ancestorBindings(n)}, nil
}

// ancestorBindings collects the namespace declarations in scope above n,
// nearest declaration first.
func ancestorBindings(n *Node) map[string]string {
	scope := map[string]string{"xml": XMLNamespace}
	seen := map[string]bool{"xml": true}
	for p := n.parent; p != nil; p = p.parent {
		for _, a := range p.attrs {
			prefix, ok := a.DeclaredPrefix()
			if !ok || seen[prefix] {
				continue
			}
			seen[prefix] = true
			scope[prefix] = a.Value
		}
	}
	return scope
}

// Serialize writes the fragment as XML markup.
func (d *Document) Serialize(f *Fragment) (string, error) {
	if f == nil {
		return "", fmt.Errorf("serialize: %w", errNilFragment)
	}
	var p printer
	for _, n := range f.nodes {
		p.node(n, 0)
	}
	return p.b.String(), nil
}

// PrettyPrint re-indents well-formed markup with two spaces per level.
// Elements holding text keep their content untouched.
func PrettyPrint(markup string) (string, error) {
	doc, err := Parse(strings.NewReader(markup), "")
	if err != nil {
		return "", err
	}
	p := printer{indent: "  "}
	p.node(doc.root, 0)
	return p.b.String(), nil
}

type printer struct {
	b      strings.Builder
	indent string
}

func (p *printer) node(n *Node, depth int) {
	switch n.kind {
	case TextNode:
		_, _ = textEscaper.WriteString(&p.b, n.data)
	case CommentNode:
		p.b.WriteString("<!--")
		p.b.WriteString(n.data)
		p.b.WriteString("-->")
	case ElementNode:
		p.element(n, depth)
	}
}

func (p *printer) element(n *Node, depth int) {
	p.b.WriteByte('<')
	p.b.WriteString(n.Name())
	for _, a := range n.attrs {
		p.b.WriteByte(' ')
		p.b.WriteString(a.Name())
		p.b.WriteString(`="`)
		_, _ = attrEscaper.WriteString(&p.b, a.Value)
		p.b.WriteByte('"')
	}
	children := n.children
	pretty := p.indent != "" && !hasText(n)
	if pretty {
		children = children[:0:0]
		for _, c := range n.children {
			if c.kind != TextNode {
				children = append(children, c)
			}
		}
	}
	if len(children) == 0 {
		p.b.WriteString("/>")
		return
	}
	p.b.WriteByte('>')
	for _, c := range children {
		if pretty {
			p.newline(depth + 1)
		}
		p.node(c, depth+1)
	}
	if pretty {
		p.newline(depth)
	}
	p.b.WriteString("</")
	p.b.WriteString(n.Name())
	p.b.WriteByte('>')
}

func (p *printer) newline(depth int) {
	p.b.WriteByte('\n')
	for i := 0; i < depth; i++ {
		p.b.WriteString(p.indent)
	}
}

func hasText(n *Node) bool {
	for _, c := range n.children {
		if c.kind == TextNode && strings.TrimSpace(c.data) != "" {
			return true
		}
	}
	return false
}
