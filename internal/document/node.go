package document

// Kind distinguishes the node types kept in a Document tree.
type Kind uint8

const (
	ElementNode Kind = iota + 1
	TextNode
	CommentNode
)

// Attr is an attribute as written in the source, prefix included.
// Namespace declarations are ordinary attributes with prefix "xmlns"
// (or local name "xmlns" for the default namespace).
type Attr struct {
	Prefix string
	Local  string
	Value  string
}

// Name returns the qualified attribute name.
func (a Attr) Name() string {
	if a.Prefix == "" {
		return a.Local
	}
	return a.Prefix + ":" + a.Local
}

// DeclaredPrefix reports the prefix a namespace declaration binds, "" for
// the default namespace. ok is false for ordinary attributes.
func (a Attr) DeclaredPrefix() (prefix string, ok bool) {
	switch {
	case a.Prefix == "xmlns":
		return a.Local, true
	case a.Prefix == "" && a.Local == "xmlns":
		return "", true
	}
	return "", false
}

// Node is a mutable handle into a document tree. Identity is pointer identity.
type Node struct {
	kind     Kind
	prefix   string
	local    string
	space    string
	attrs    []Attr
	data     string
	parent   *Node
	children []*Node
}

// NewElement returns a detached element node.
func NewElement(prefix, local, space string, attrs ...Attr) *Node {
	return &Node{
		kind:   ElementNode,
		prefix: prefix,
		local:  local,
		space:  space,
		attrs:  append([]Attr(nil), attrs...),
	}
}

// NewText returns a detached text node.
func NewText(data string) *Node {
	return &Node{kind: TextNode, data: data}
}

func (n *Node) Kind() Kind     { return n.kind }
func (n *Node) Prefix() string { return n.prefix }
func (n *Node) Local() string  { return n.local }
func (n *Node) Space() string  { return n.space }
func (n *Node) Parent() *Node  { return n.parent }
func (n *Node) Attrs() []Attr  { return append([]Attr(nil), n.attrs...) }
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// Name returns the qualified element name, e.g. "svg:rect".
func (n *Node) Name() string {
	if n.prefix == "" {
		return n.local
	}
	return n.prefix + ":" + n.local
}

// Attr looks an attribute up by its qualified name.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name() == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr adds or overwrites an attribute.
func (n *Node) SetAttr(prefix, local, value string) {
	for i := range n.attrs {
		if n.attrs[i].Prefix == prefix && n.attrs[i].Local == local {
			n.attrs[i].Value = value
			return
		}
	}
	n.attrs = append(n.attrs, Attr{Prefix: prefix, Local: local, Value: value})
}

// AppendChild attaches a detached node to an element that is not (yet)
// part of a Document. Use Document.AppendChild for attached parents.
func (n *Node) AppendChild(child *Node) {
	child.parent = n
	n.children = append(n.children, child)
}

func (n *Node) clone(parent *Node) *Node {
	c := &Node{
		kind:   n.kind,
		prefix: n.prefix,
		local:  n.local,
		space:  n.space,
		attrs:  append([]Attr(nil), n.attrs...),
		data:   n.data,
		parent: parent,
	}
	if len(n.children) > 0 {
		c.children = make([]*Node, len(n.children))
		for i, ch := range n.children {
			c.children[i] = ch.clone(c)
		}
	}
	return c
}

func (n *Node) walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.walk(fn)
	}
}
