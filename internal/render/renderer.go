package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

const (
	// IndexDoc is the file name of the class index document.
	IndexDoc = "index.md"
	// RootDoc is the file name of the root document.
	RootDoc = "main.md"
)

// Renderer produces markdown documents from an assembled class graph. It
// only reads the graph, so one Renderer can serve concurrent RenderClass
// calls.
type Renderer struct {
	g *graph.KnowledgeGraph
}

func NewRenderer(g *graph.KnowledgeGraph) *Renderer {
	return &Renderer{g: g}
}

// DocID maps a qualified class name to its document file name. Letters,
// digits, dots, underscores, and hyphens pass through; every other byte is
// percent-escaped. Distinct qualified names always map to distinct file
// names because the escape character itself is escaped, and the index and
// root document names are never produced: a class literally named "index"
// or "main" gets its first byte escaped so its page cannot be overwritten
// by the generated documents.
func DocID(qualifiedName string) string {
	var b strings.Builder
	for _, r := range qualifiedName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			for _, by := range []byte(string(r)) {
				fmt.Fprintf(&b, "%%%02X", by)
			}
		}
	}
	name := b.String()
	if name+".md" == IndexDoc || name+".md" == RootDoc {
		name = fmt.Sprintf("%%%02X", name[0]) + name[1:]
	}
	return name + ".md"
}

// RenderClass produces the markdown page for one class node.
func (r *Renderer) RenderClass(class *graph.GraphNode) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", class.Name)
	fmt.Fprintf(&b, "[[Index]](%s)\n\n", IndexDoc)

	if class.ModulePath != "" {
		fmt.Fprintf(&b, "**Module:** `%s`\n", class.ModulePath)
	} else {
		b.WriteString("**Module:** (root)\n")
	}
	fmt.Fprintf(&b, "**Source:** `%s:%d`\n", class.FilePath, class.StartLine)
	for _, d := range class.Decorators {
		fmt.Fprintf(&b, "**Decorator:** `@%s`\n", d)
	}
	b.WriteString("\n")

	if class.Docstring != "" {
		writeBlockquote(&b, class.Docstring)
		b.WriteString("\n")
	}

	r.writeBases(&b, class)
	r.writeSubclasses(&b, class)
	r.writeAttributes(&b, class)
	r.writeMethods(&b, class)

	return []byte(b.String())
}

// writeBases lists the declared bases in declaration order. Bases resolved
// to a class in the graph become links; the rest render as plain text.
func (r *Renderer) writeBases(b *strings.Builder, class *graph.GraphNode) {
	if len(class.DeclaredBases) == 0 {
		return
	}
	resolved := r.g.ResolvedBases(class.ID)

	b.WriteString("## Inherits From\n\n")
	for _, base := range class.DeclaredBases {
		if target, ok := resolved[base]; ok {
			fmt.Fprintf(b, "- [[%s]](%s)\n", target.Name, DocID(target.QualifiedName))
		} else {
			fmt.Fprintf(b, "- `%s` (unresolved)\n", base)
		}
	}
	b.WriteString("\n")
}

func (r *Renderer) writeSubclasses(b *strings.Builder, class *graph.GraphNode) {
	subs := r.g.Subclasses(class.ID)
	if len(subs) == 0 {
		return
	}
	b.WriteString("## Subclasses\n\n")
	for _, sub := range subs {
		fmt.Fprintf(b, "- [[%s]](%s)\n", sub.Name, DocID(sub.QualifiedName))
	}
	b.WriteString("\n")
}

func (r *Renderer) writeAttributes(b *strings.Builder, class *graph.GraphNode) {
	attrs := r.g.Members(class.ID, graph.RelHasAttribute)
	if len(attrs) == 0 {
		return
	}
	b.WriteString("## Attributes\n\n")
	for _, a := range attrs {
		line := a.Name
		if a.Annotation != "" {
			line += ": " + a.Annotation
		}
		if a.Default != "" {
			line += " = " + a.Default
		}
		fmt.Fprintf(b, "- `%s`\n", line)
	}
	b.WriteString("\n")
}

func (r *Renderer) writeMethods(b *strings.Builder, class *graph.GraphNode) {
	methods := r.g.Members(class.ID, graph.RelHasMethod)
	if len(methods) == 0 {
		return
	}
	b.WriteString("## Methods\n\n")
	for _, m := range methods {
		fmt.Fprintf(b, "### `%s`\n\n", m.Signature)
		for _, d := range m.Decorators {
			fmt.Fprintf(b, "`@%s`\n", d)
		}
		if len(m.Decorators) > 0 {
			b.WriteString("\n")
		}
		if m.Docstring != "" {
			fmt.Fprintf(b, "%s\n\n", firstParagraph(m.Docstring))
		}
	}
}

// ClassNodes returns every class node sorted by qualified name. The order
// drives the index document and gives parallel render workers a stable
// work list.
func (r *Renderer) ClassNodes() []*graph.GraphNode {
	classes := r.g.GetNodesByLabel(graph.NodeClass)
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].QualifiedName < classes[j].QualifiedName
	})
	return classes
}

// writeBlockquote renders a docstring as a markdown blockquote, preserving
// its line structure.
func writeBlockquote(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line == "" {
			b.WriteString(">\n")
		} else {
			fmt.Fprintf(b, "> %s\n", line)
		}
	}
}

// firstParagraph returns the docstring up to the first blank line.
func firstParagraph(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
