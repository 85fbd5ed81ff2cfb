package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

// RenderIndex produces the class index document. Classes are grouped by
// module path; both the module groups and the classes inside each group are
// in lexicographic order, so the document is identical across runs.
func (r *Renderer) RenderIndex() []byte {
	classes := r.ClassNodes()

	byModule := make(map[string][]*graph.GraphNode)
	for _, c := range classes {
		byModule[c.ModulePath] = append(byModule[c.ModulePath], c)
	}
	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var b strings.Builder
	b.WriteString("# Class Index\n\n")
	fmt.Fprintf(&b, "[[Overview]](%s)\n\n", RootDoc)
	fmt.Fprintf(&b, "%d classes in %d modules.\n\n", len(classes), len(modules))

	for _, m := range modules {
		if m == "" {
			b.WriteString("## (root)\n\n")
		} else {
			fmt.Fprintf(&b, "## `%s`\n\n", m)
		}
		for _, c := range byModule[m] {
			fmt.Fprintf(&b, "- [[%s]](%s)\n", c.Name, DocID(c.QualifiedName))
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// RenderRoot produces the root document: headline counts and a link into
// the index. It contains nothing run-dependent, so repeated runs over the
// same tree emit identical bytes.
func (r *Renderer) RenderRoot() []byte {
	var b strings.Builder
	b.WriteString("# Code Documentation\n\n")
	fmt.Fprintf(&b, "Start at the [[Class Index]](%s).\n\n", IndexDoc)

	fmt.Fprintf(&b, "- Classes: %d\n", r.g.CountNodesByLabel(graph.NodeClass))
	fmt.Fprintf(&b, "- Methods: %d\n", r.g.CountNodesByLabel(graph.NodeMethod))
	fmt.Fprintf(&b, "- Attributes: %d\n", r.g.CountNodesByLabel(graph.NodeAttribute))
	fmt.Fprintf(&b, "- Inheritance links: %d\n", len(r.g.GetRelationshipsByType(graph.RelInheritsFrom)))

	return []byte(b.String())
}
