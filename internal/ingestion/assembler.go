package ingestion

import (
	"fmt"
	"strings"

	"github.com/dendrite-docs/dendrite/internal/graph"
	"github.com/dendrite-docs/dendrite/internal/parsers"
)

// BuildGraph assembles the class graph from the complete descriptor set in
// two passes. The first pass creates class, method, and attribute nodes plus
// ownership edges; it needs no cross-file information. The second pass
// resolves inheritance, which can only happen once every file has been
// extracted because a base class may live in a file processed later.
//
// The descriptor slice must be in walk order: the order defines the
// first-encountered winner for ambiguous base names.
func BuildGraph(descriptors []parsers.ClassDescriptor, report *graph.Report) *graph.KnowledgeGraph {
	g := graph.NewKnowledgeGraph()

	index := newClassIndex()
	for i := range descriptors {
		addClassNodes(g, &descriptors[i])
		index.add(&descriptors[i])
	}

	for i := range descriptors {
		resolveInheritance(g, &descriptors[i], index, report)
	}

	return g
}

// addClassNodes creates the class node, one node per method and attribute,
// and the ownership edges. Member order follows extraction order.
func addClassNodes(g *graph.KnowledgeGraph, desc *parsers.ClassDescriptor) {
	classID := graph.GenerateID(graph.NodeClass, desc.QualifiedName, "")

	// Python allows redefining a class under the same qualified name; the
	// last definition wins, so members of the earlier one must not linger.
	if g.GetNode(classID) != nil {
		for _, m := range g.Members(classID, graph.RelHasMethod) {
			g.RemoveNode(m.ID)
		}
		for _, a := range g.Members(classID, graph.RelHasAttribute) {
			g.RemoveNode(a.ID)
		}
	}

	g.AddNode(&graph.GraphNode{
		ID:            classID,
		Label:         graph.NodeClass,
		Name:          desc.Name,
		QualifiedName: desc.QualifiedName,
		ModulePath:    desc.ModulePath,
		FilePath:      desc.FilePath,
		StartLine:     desc.StartLine,
		EndLine:       desc.EndLine,
		Docstring:     desc.Docstring,
		Decorators:    desc.Decorators,
		DeclaredBases: dedupe(desc.Bases),
	})

	for i, m := range desc.Methods {
		methodID := graph.GenerateID(graph.NodeMethod, desc.QualifiedName, m.Name)
		g.AddNode(&graph.GraphNode{
			ID:            methodID,
			Label:         graph.NodeMethod,
			Name:          m.Name,
			QualifiedName: desc.QualifiedName + "." + m.Name,
			ModulePath:    desc.ModulePath,
			FilePath:      desc.FilePath,
			StartLine:     m.StartLine,
			EndLine:       m.EndLine,
			Docstring:     m.Docstring,
			Signature:     m.Signature(),
			Returns:       m.Returns,
			Decorators:    m.Decorators,
			Complexity:    m.Complexity,
			Order:         i,
		})
		g.AddRelationship(&graph.GraphRelationship{
			ID:     graph.GenerateRelID(graph.RelHasMethod, classID, methodID),
			Type:   graph.RelHasMethod,
			Source: classID,
			Target: methodID,
		})
	}

	for i, a := range desc.Attributes {
		attrID := graph.GenerateID(graph.NodeAttribute, desc.QualifiedName, a.Name)
		g.AddNode(&graph.GraphNode{
			ID:            attrID,
			Label:         graph.NodeAttribute,
			Name:          a.Name,
			QualifiedName: desc.QualifiedName + "." + a.Name,
			ModulePath:    desc.ModulePath,
			FilePath:      desc.FilePath,
			StartLine:     a.StartLine,
			Annotation:    a.Annotation,
			Default:       a.Default,
			Order:         i,
		})
		g.AddRelationship(&graph.GraphRelationship{
			ID:     graph.GenerateRelID(graph.RelHasAttribute, classID, attrID),
			Type:   graph.RelHasAttribute,
			Source: classID,
			Target: attrID,
		})
	}
}

// resolveInheritance creates inherits_from edges for the declared bases of
// one class. A base resolves by exact qualified name first, then by its
// unqualified trailing segment. Unresolved bases and ambiguous matches are
// recorded as diagnostics; direct self-references never produce an edge.
func resolveInheritance(g *graph.KnowledgeGraph, desc *parsers.ClassDescriptor, index *classIndex, report *graph.Report) {
	classID := graph.GenerateID(graph.NodeClass, desc.QualifiedName, "")

	for _, base := range dedupe(desc.Bases) {
		targetID, candidates := index.resolve(base)
		if targetID == "" {
			report.AddUnresolvedBase(desc.QualifiedName, base,
				"no class with this name in the analyzed tree")
			continue
		}

		if len(candidates) > 1 {
			report.AddNameCollision(desc.QualifiedName, base,
				fmt.Sprintf("matches %d classes (%s); using first-encountered %s",
					len(candidates), strings.Join(candidates, ", "), candidates[0]))
		}

		if targetID == classID {
			report.AddUnresolvedBase(desc.QualifiedName, base,
				"self-inheritance rejected")
			continue
		}

		g.AddRelationship(&graph.GraphRelationship{
			ID:     graph.GenerateRelID(graph.RelInheritsFrom, classID, targetID),
			Type:   graph.RelInheritsFrom,
			Source: classID,
			Target: targetID,
			Properties: map[string]any{
				"declared_as": base,
			},
		})
	}
}

// classIndex resolves declared base names against the known classes.
type classIndex struct {
	byQualified map[string]string
	byTail      map[string][]indexEntry
}

type indexEntry struct {
	qualifiedName string
	nodeID        string
}

func newClassIndex() *classIndex {
	return &classIndex{
		byQualified: make(map[string]string),
		byTail:      make(map[string][]indexEntry),
	}
}

func (idx *classIndex) add(desc *parsers.ClassDescriptor) {
	// A qualified name redefined in the same file keeps its first index
	// entry; the node itself was already replaced by the later definition.
	if _, seen := idx.byQualified[desc.QualifiedName]; seen {
		return
	}

	nodeID := graph.GenerateID(graph.NodeClass, desc.QualifiedName, "")
	idx.byQualified[desc.QualifiedName] = nodeID
	idx.byTail[desc.Name] = append(idx.byTail[desc.Name], indexEntry{
		qualifiedName: desc.QualifiedName,
		nodeID:        nodeID,
	})
}

// resolve returns the target node ID for a declared base name, plus the
// qualified names of every tail-match candidate when the lookup was
// ambiguous. An exact qualified-name match is never ambiguous.
func (idx *classIndex) resolve(base string) (string, []string) {
	if id, ok := idx.byQualified[base]; ok {
		return id, nil
	}

	tail := base
	if i := strings.LastIndex(base, "."); i >= 0 {
		tail = base[i+1:]
	}

	entries := idx.byTail[tail]
	if len(entries) == 0 {
		return "", nil
	}
	if len(entries) == 1 {
		return entries[0].nodeID, nil
	}

	candidates := make([]string, len(entries))
	for i, e := range entries {
		candidates[i] = e.qualifiedName
	}
	return entries[0].nodeID, candidates
}

// dedupe removes repeated names, keeping first-occurrence order.
func dedupe(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
