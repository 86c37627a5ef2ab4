package report

import (
	"encoding/xml"
	"strconv"
)

// Attr is a name/value pair; a node keeps attributes in insertion order.
type Attr struct {
	Name  string
	Value string
}

// Node is one element of a report fragment.
type Node struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Node
}

// NewNode creates an empty element.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// SetAttr sets an attribute, replacing an existing value in place.
func (n *Node) SetAttr(name, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
	return n
}

// SetIntAttr is SetAttr for integers.
func (n *Node) SetIntAttr(name string, value int) *Node {
	return n.SetAttr(name, strconv.Itoa(value))
}

// Attr returns an attribute value.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AddChild appends c and returns it. A nil child is ignored.
func (n *Node) AddChild(c *Node) *Node {
	if c != nil {
		n.Children = append(n.Children, c)
	}
	return c
}

// NewChild appends and returns an empty child element.
func (n *Node) NewChild(name string) *Node {
	return n.AddChild(NewNode(name))
}

// NewTextChild appends and returns a child holding text.
func (n *Node) NewTextChild(name, text string) *Node {
	c := NewNode(name)
	c.Text = text
	return n.AddChild(c)
}

// Child returns the first child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child with the given name.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// MarshalXML writes the node tree preserving attribute and child order.
func (n *Node) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Name}}
	for _, a := range n.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if n.Text != "" {
		if err := e.EncodeToken(xml.CharData(n.Text)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := e.Encode(c); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}
