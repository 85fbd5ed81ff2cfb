package ingestion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

// Insight severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Analysis thresholds.
const (
	godClassMethods      = 15
	deepInheritanceMin   = 4
	highComplexityMin    = 10
	wideHierarchyMin     = 8
	crowdedModuleMin     = 20
	decoratorCensusMin   = 5
	decoratorCensusTopN  = 5
	inheritanceFamilyMin = 4
)

// Insight is one finding derived from the class graph or git history.
type Insight struct {
	Kind     string   `json:"kind"`
	Severity string   `json:"severity"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
	Classes  []string `json:"classes,omitempty"`
}

// AnalyzeGraph derives design findings from the assembled graph: oversized
// classes, deep and wide inheritance, complex methods, inheritance families,
// crowded modules, and heavily used decorators. The result is sorted, so
// repeated runs over the same graph produce the same list.
func AnalyzeGraph(g *graph.KnowledgeGraph) []Insight {
	var insights []Insight
	insights = append(insights, findGodClasses(g)...)
	insights = append(insights, findDeepInheritance(g)...)
	insights = append(insights, findComplexMethods(g)...)
	insights = append(insights, findWideHierarchies(g)...)
	insights = append(insights, findInheritanceFamilies(g)...)
	insights = append(insights, findCrowdedModules(g)...)
	insights = append(insights, decoratorCensus(g)...)

	sort.Slice(insights, func(i, j int) bool {
		if insights[i].Kind != insights[j].Kind {
			return insights[i].Kind < insights[j].Kind
		}
		return insights[i].Title < insights[j].Title
	})
	return insights
}

func findGodClasses(g *graph.KnowledgeGraph) []Insight {
	var insights []Insight
	for _, class := range g.GetNodesByLabel(graph.NodeClass) {
		methods := g.Members(class.ID, graph.RelHasMethod)
		if len(methods) < godClassMethods {
			continue
		}
		attrs := g.Members(class.ID, graph.RelHasAttribute)
		insights = append(insights, Insight{
			Kind:     "god_class",
			Severity: SeverityWarning,
			Title:    fmt.Sprintf("%s has %d methods", class.QualifiedName, len(methods)),
			Detail: fmt.Sprintf("%d methods and %d attributes; consider splitting responsibilities",
				len(methods), len(attrs)),
			Classes: []string{class.QualifiedName},
		})
	}
	return insights
}

// findDeepInheritance reports classes whose longest base chain inside the
// analyzed tree reaches deepInheritanceMin. Inheritance cycles are legal in
// the graph, so traversal tracks the path to avoid looping.
func findDeepInheritance(g *graph.KnowledgeGraph) []Insight {
	var insights []Insight
	for _, class := range g.GetNodesByLabel(graph.NodeClass) {
		depth := inheritanceDepth(g, class.ID, map[string]bool{})
		if depth < deepInheritanceMin {
			continue
		}
		insights = append(insights, Insight{
			Kind:     "deep_inheritance",
			Severity: SeverityWarning,
			Title:    fmt.Sprintf("%s sits %d levels deep in its hierarchy", class.QualifiedName, depth),
			Detail:   "long inheritance chains make behavior hard to trace",
			Classes:  []string{class.QualifiedName},
		})
	}
	return insights
}

func inheritanceDepth(g *graph.KnowledgeGraph, classID string, onPath map[string]bool) int {
	onPath[classID] = true
	defer delete(onPath, classID)

	depth := 0
	for _, rel := range g.GetOutgoing(classID, graph.RelInheritsFrom) {
		if onPath[rel.Target] {
			continue
		}
		if d := 1 + inheritanceDepth(g, rel.Target, onPath); d > depth {
			depth = d
		}
	}
	return depth
}

func findComplexMethods(g *graph.KnowledgeGraph) []Insight {
	var insights []Insight
	for _, method := range g.GetNodesByLabel(graph.NodeMethod) {
		if method.Complexity <= highComplexityMin {
			continue
		}
		insights = append(insights, Insight{
			Kind:     "high_complexity",
			Severity: SeverityWarning,
			Title:    fmt.Sprintf("%s has cyclomatic complexity %d", method.QualifiedName, method.Complexity),
			Detail:   fmt.Sprintf("defined at %s:%d", method.FilePath, method.StartLine),
			Classes:  []string{ownerOf(method.QualifiedName)},
		})
	}
	return insights
}

func findWideHierarchies(g *graph.KnowledgeGraph) []Insight {
	var insights []Insight
	for _, class := range g.GetNodesByLabel(graph.NodeClass) {
		subs := g.Subclasses(class.ID)
		if len(subs) < wideHierarchyMin {
			continue
		}
		names := make([]string, len(subs))
		for i, s := range subs {
			names[i] = s.QualifiedName
		}
		insights = append(insights, Insight{
			Kind:     "wide_hierarchy",
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("%s has %d direct subclasses", class.QualifiedName, len(subs)),
			Detail:   "a wide hierarchy often marks a plugin or strategy seam",
			Classes:  append([]string{class.QualifiedName}, names...),
		})
	}
	return insights
}

// findInheritanceFamilies groups classes connected through inheritance,
// treating edges as undirected, and reports the larger families. Each family
// is named after its lexicographically first member, so the finding is
// stable across runs.
func findInheritanceFamilies(g *graph.KnowledgeGraph) []Insight {
	classes := g.GetNodesByLabel(graph.NodeClass)
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].QualifiedName < classes[j].QualifiedName
	})

	seen := make(map[string]bool)
	var insights []Insight

	for _, class := range classes {
		if seen[class.ID] {
			continue
		}

		var family []string
		queue := []string{class.ID}
		seen[class.ID] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			node := g.GetNode(id)
			if node == nil {
				continue
			}
			family = append(family, node.QualifiedName)
			for _, rel := range g.GetOutgoing(id, graph.RelInheritsFrom) {
				if !seen[rel.Target] {
					seen[rel.Target] = true
					queue = append(queue, rel.Target)
				}
			}
			for _, rel := range g.GetIncoming(id, graph.RelInheritsFrom) {
				if !seen[rel.Source] {
					seen[rel.Source] = true
					queue = append(queue, rel.Source)
				}
			}
		}

		if len(family) < inheritanceFamilyMin {
			continue
		}
		sort.Strings(family)
		insights = append(insights, Insight{
			Kind:     "inheritance_family",
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("%s family spans %d classes", family[0], len(family)),
			Detail:   "classes connected through inheritance tend to change together",
			Classes:  family,
		})
	}

	return insights
}

func findCrowdedModules(g *graph.KnowledgeGraph) []Insight {
	byModule := make(map[string][]string)
	for _, class := range g.GetNodesByLabel(graph.NodeClass) {
		byModule[class.ModulePath] = append(byModule[class.ModulePath], class.QualifiedName)
	}

	var insights []Insight
	for module, classes := range byModule {
		if len(classes) < crowdedModuleMin {
			continue
		}
		sort.Strings(classes)
		label := module
		if label == "" {
			label = "(root)"
		}
		insights = append(insights, Insight{
			Kind:     "crowded_module",
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("module %s defines %d classes", label, len(classes)),
			Detail:   "consider splitting the module",
			Classes:  classes,
		})
	}
	return insights
}

// decoratorCensus reports the most common decorators across classes and
// methods. Low-frequency decorators are left out of the census.
func decoratorCensus(g *graph.KnowledgeGraph) []Insight {
	counts := make(map[string]int)
	for _, label := range []graph.NodeLabel{graph.NodeClass, graph.NodeMethod} {
		for _, node := range g.GetNodesByLabel(label) {
			for _, d := range node.Decorators {
				counts[d]++
			}
		}
	}

	type entry struct {
		name  string
		count int
	}
	var entries []entry
	for name, count := range counts {
		if count >= decoratorCensusMin {
			entries = append(entries, entry{name, count})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > decoratorCensusTopN {
		entries = entries[:decoratorCensusTopN]
	}

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("@%s (%d)", e.name, e.count)
	}
	return []Insight{{
		Kind:     "decorator_census",
		Severity: SeverityInfo,
		Title:    "most used decorators",
		Detail:   strings.Join(parts, ", "),
	}}
}

// ownerOf strips the member segment off a member qualified name.
func ownerOf(qualifiedName string) string {
	if i := strings.LastIndex(qualifiedName, "."); i >= 0 {
		return qualifiedName[:i]
	}
	return qualifiedName
}
