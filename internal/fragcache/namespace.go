package fragcache

import (
	"sort"

	"github.com/mohammad-safakhou/svgfrag/internal/document"
)

// declareNamespaces makes a copied fragment loadable on its own. Every prefix
// the copy uses but does not declare itself, on elements or on attributes,
// gets a declaration on the copy's root with the binding that was in scope in
// the source document. A root in no namespace is put in the SVG namespace.
func declareNamespaces(f *document.Fragment) {
	nodes := f.ContentNodes()
	if len(nodes) == 0 || nodes[0].Kind() != document.ElementNode {
		return
	}
	root := nodes[0]

	needed := make(map[string]string)
	var visit func(n *document.Node, declared map[string]bool)
	visit = func(n *document.Node, declared map[string]bool) {
		declared = withDeclarations(n, declared)
		use := func(prefix, uri string) {
			if declared[prefix] || prefix == "xml" || prefix == "xmlns" {
				return
			}
			if _, ok := needed[prefix]; ok {
				return
			}
			if uri == "" {
				uri, _ = f.Binding(prefix)
			}
			if uri != "" {
				needed[prefix] = uri
			}
		}

		switch {
		case n == root && n.Prefix() == "" && n.Space() == "":
			use("", document.SVGNamespace)
		case n.Prefix() != "" || n.Space() != "":
			use(n.Prefix(), n.Space())
		}
		for _, a := range n.Attrs() {
			if _, isDecl := a.DeclaredPrefix(); !isDecl && a.Prefix != "" {
				use(a.Prefix, "")
			}
		}
		for _, c := range n.Children() {
			if c.Kind() == document.ElementNode {
				visit(c, declared)
			}
		}
	}
	visit(root, nil)

	// The root's own prefix first, then the rest in a stable order.
	prefixes := make([]string, 0, len(needed))
	for p := range needed {
		if p != root.Prefix() {
			prefixes = append(prefixes, p)
		}
	}
	sort.Strings(prefixes)
	if _, ok := needed[root.Prefix()]; ok {
		prefixes = append([]string{root.Prefix()}, prefixes...)
	}
	for _, p := range prefixes {
		if p == "" {
			root.SetAttr("", "xmlns", needed[p])
		} else {
			root.SetAttr("xmlns", p, needed[p])
		}
	}
}

// withDeclarations returns declared extended by the declarations made on n.
// declared itself is never modified.
func withDeclarations(n *document.Node, declared map[string]bool) map[string]bool {
	var out map[string]bool
	for _, a := range n.Attrs() {
		p, ok := a.DeclaredPrefix()
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]bool, len(declared)+1)
			for k := range declared {
				out[k] = true
			}
		}
		out[p] = true
	}
	if out == nil {
		return declared
	}
	return out
}
