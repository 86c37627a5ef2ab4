package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNodeAttrsKeepOrderAndReplace(t *testing.T) {
	n := NewNode("core").SetAttr("id", "0").SetIntAttr("priority", 95).SetAttr("id", "3")
	if len(n.Attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(n.Attrs))
	}
	if n.Attrs[0].Name != "id" || n.Attrs[0].Value != "3" {
		t.Fatalf("replacement changed order or value: %+v", n.Attrs)
	}
	if v, ok := n.Attr("priority"); !ok || v != "95" {
		t.Fatalf("unexpected priority %q", v)
	}
	if _, ok := n.Attr("missing"); ok {
		t.Fatalf("missing attr reported present")
	}
}

func TestNodeChildren(t *testing.T) {
	root := NewNode("cyclictest")
	root.NewChild("system")
	root.NewTextChild("core", "a")
	root.NewTextChild("core", "b")
	root.AddChild(nil)

	if len(root.Children) != 3 {
		t.Fatalf("nil child must be ignored, got %d children", len(root.Children))
	}
	if root.Child("system") == nil || root.Child("nope") != nil {
		t.Fatalf("Child lookup misbehaves")
	}
	cores := root.ChildrenNamed("core")
	if len(cores) != 2 || cores[1].Text != "b" {
		t.Fatalf("unexpected cores %+v", cores)
	}
}

func TestBuilderKeepsRegistrationOrder(t *testing.T) {
	b := NewBuilder("jitterlens").SetAttr("version", "1")
	b.Add(NewNode("hackbench"))
	b.Add(nil)
	b.Add(NewNode("cyclictest"))

	if b.Len() != 2 {
		t.Fatalf("expected 2 fragments, got %d", b.Len())
	}
	doc := b.Document()
	if doc.Children[0].Name != "hackbench" || doc.Children[1].Name != "cyclictest" {
		t.Fatalf("fragments out of order: %s, %s", doc.Children[0].Name, doc.Children[1].Name)
	}

	var buf bytes.Buffer
	if err := b.WriteXML(&buf); err != nil {
		t.Fatalf("WriteXML: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "<?xml") {
		t.Fatalf("missing xml header: %q", out)
	}
	if !strings.Contains(out, `<jitterlens version="1">`) {
		t.Fatalf("missing root: %q", out)
	}
	if strings.Index(out, "<hackbench>") > strings.Index(out, "<cyclictest>") {
		t.Fatalf("serialized fragments out of order: %q", out)
	}
}

func TestMarshalEscapesText(t *testing.T) {
	b := NewBuilder("r")
	n := NewNode("cmd").SetAttr("line", `a "b" <c>`)
	n.NewTextChild("mean", "1 < 2")
	b.Add(n)

	var buf bytes.Buffer
	if err := b.WriteXML(&buf); err != nil {
		t.Fatalf("WriteXML: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "1 &lt; 2") {
		t.Fatalf("text not escaped: %q", out)
	}
	if !strings.Contains(out, `line="a &#34;b&#34; &lt;c&gt;"`) {
		t.Fatalf("attr not escaped: %q", out)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "summary.xml")
	b := NewBuilder("jitterlens")
	b.Add(NewNode("system"))
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if !bytes.Contains(data, []byte("<system></system>")) {
		t.Fatalf("unexpected report %q", data)
	}
}
