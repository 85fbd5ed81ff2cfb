package embeddings

import (
	"fmt"
	"strings"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

// GenerateEmbeddingText generates natural language text from a graph node
// for embedding. The text captures what the class, method, or attribute is
// called, where it lives, and what its docstring says.
func GenerateEmbeddingText(node *graph.GraphNode) string {
	if node == nil {
		return ""
	}

	var parts []string

	parts = append(parts, fmt.Sprintf("%s %s", node.Label, node.Name))

	if node.QualifiedName != "" && node.QualifiedName != node.Name {
		parts = append(parts, fmt.Sprintf("qualified name %s", node.QualifiedName))
	}

	if node.FilePath != "" {
		parts = append(parts, fmt.Sprintf("in file %s", node.FilePath))
	}

	if node.Signature != "" {
		parts = append(parts, fmt.Sprintf("Signature: %s", node.Signature))
	}

	if node.Annotation != "" {
		parts = append(parts, fmt.Sprintf("typed %s", node.Annotation))
	}

	for _, d := range node.Decorators {
		parts = append(parts, fmt.Sprintf("decorated with %s", d))
	}

	if node.Docstring != "" {
		doc := node.Docstring
		if len(doc) > 500 {
			doc = doc[:500]
		}
		parts = append(parts, fmt.Sprintf("Documentation: %s", doc))
	}

	return strings.Join(parts, ". ")
}

// GenerateNodeText generates a shorter text representation for a node.
// Used for quick indexing and search.
func GenerateNodeText(node *graph.GraphNode) string {
	if node == nil {
		return ""
	}

	var parts []string

	parts = append(parts, fmt.Sprintf("%s %s", node.Label, node.Name))

	if node.Signature != "" {
		parts = append(parts, node.Signature)
	}

	if node.FilePath != "" {
		parts = append(parts, node.FilePath)
	}

	return strings.Join(parts, " ")
}
