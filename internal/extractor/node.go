package extractor

import (
	"encoding/xml"
	"strings"
)

// =============================================================================
// GENERIC ELEMENT TREE
// =============================================================================

// Node is a generic XML element. The receipt schemas differ per document
// type, so the inner document is decoded into this tree instead of fixed
// structs and fields are looked up by element name.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*Node    `xml:",any"`
}

// Name returns the element's local name.
func (n *Node) Name() string {
	return n.XMLName.Local
}

// Value returns the element's own text, trimmed.
func (n *Node) Value() string {
	return strings.TrimSpace(n.Text)
}

// walk visits n and its descendants in document order. It stops when visit
// returns false.
func (n *Node) walk(visit func(*Node) bool) bool {
	if !visit(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.walk(visit) {
			return false
		}
	}
	return true
}

// Find returns the first element, in document order, named local.
// The receiver itself is not considered.
func (n *Node) Find(local string) *Node {
	var found *Node
	for _, child := range n.Children {
		child.walk(func(c *Node) bool {
			if c.Name() == local {
				found = c
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every element named local, in document order.
func (n *Node) FindAll(local string) []*Node {
	var out []*Node
	for _, child := range n.Children {
		child.walk(func(c *Node) bool {
			if c.Name() == local {
				out = append(out, c)
			}
			return true
		})
	}
	return out
}

// Lookup resolves a slash-separated path of local names, e.g.
// "totalImpuesto/valor": the first "valor" below the first "totalImpuesto"
// that has one.
func (n *Node) Lookup(path string) *Node {
	head, rest, nested := strings.Cut(path, "/")
	if !nested {
		return n.Find(head)
	}
	for _, candidate := range n.FindAll(head) {
		if found := candidate.Lookup(rest); found != nil {
			return found
		}
	}
	return nil
}

// =============================================================================
// NAMESPACE NORMALIZATION
// =============================================================================

// StripNamespaces removes namespace URIs and prefixes from every element
// and attribute name in the tree, leaving local names only. Namespace
// declarations are dropped.
func StripNamespaces(n *Node) {
	n.walk(func(c *Node) bool {
		c.XMLName = xml.Name{Local: localName(c.XMLName.Local)}

		attrs := c.Attrs[:0]
		for _, attr := range c.Attrs {
			if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
				continue
			}
			attr.Name = xml.Name{Local: localName(attr.Name.Local)}
			attrs = append(attrs, attr)
		}
		c.Attrs = attrs
		return true
	})
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}
