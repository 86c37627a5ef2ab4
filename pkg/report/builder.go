// Package report assembles module report fragments into the final document.
package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Builder collects fragments in registration order.
type Builder struct {
	root      *Node
	fragments []*Node
}

// NewBuilder creates a builder whose document root is named root.
func NewBuilder(root string) *Builder {
	return &Builder{root: NewNode(root)}
}

// SetAttr sets an attribute on the document root.
func (b *Builder) SetAttr(name, value string) *Builder {
	b.root.SetAttr(name, value)
	return b
}

// Add appends a fragment; nil fragments are skipped.
func (b *Builder) Add(fragment *Node) {
	if fragment != nil {
		b.fragments = append(b.fragments, fragment)
	}
}

// Len returns the number of collected fragments.
func (b *Builder) Len() int {
	return len(b.fragments)
}

// Document returns the root with every fragment attached in order.
func (b *Builder) Document() *Node {
	doc := &Node{Name: b.root.Name, Attrs: append([]Attr(nil), b.root.Attrs...)}
	doc.Children = append(doc.Children, b.fragments...)
	return doc
}

// WriteXML serializes the document with an XML header.
func (b *Builder) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(b.Document()); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile writes the document to path, creating parent directories.
func (b *Builder) WriteFile(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return b.WriteXML(f)
}
