// Package storage provides the storage backend for dendrite.
//
// It defines the StorageBackend protocol that all storage implementations
// must satisfy, along with common types used across backends.
package storage

import (
	"context"
	"sort"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

// SearchResult represents a search result from the storage backend.
type SearchResult struct {
	// NodeID is the ID of the matching node.
	NodeID string

	// Score is the relevance score (higher is better).
	Score float64

	// NodeName is the name of the node.
	NodeName string

	// QualifiedName is the fully qualified name of the node.
	QualifiedName string

	// FilePath is the file path of the node.
	FilePath string

	// Label is the node label.
	Label string

	// Snippet is a docstring or signature excerpt.
	Snippet string
}

// NodeEmbedding represents a vector embedding for a node.
type NodeEmbedding struct {
	// NodeID is the ID of the node.
	NodeID string

	// Embedding is the vector embedding.
	Embedding []float32
}

// HybridSearchResult represents a result from hybrid search.
type HybridSearchResult struct {
	// NodeID is the ID of the matching node.
	NodeID string

	// Score is the RRF fused score (higher is better).
	Score float64

	// NodeName is the name of the node.
	NodeName string

	// QualifiedName is the fully qualified name of the node.
	QualifiedName string

	// FilePath is the file path of the node.
	FilePath string

	// Label is the node label.
	Label string

	// Snippet is a docstring or signature excerpt.
	Snippet string
}

// Hierarchy traversal directions.
const (
	DirectionAncestors   = "ancestors"
	DirectionDescendants = "descendants"
)

// StorageBackend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access. Writes
// go through BulkLoad: a run always replaces the whole store, so the
// interface carries no incremental mutation methods.
type StorageBackend interface {
	// Lifecycle methods

	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Bulk operations

	// BulkLoad replaces the entire store with the contents of the graph.
	BulkLoad(ctx context.Context, g *graph.KnowledgeGraph) error

	// Node operations

	// GetNode returns a single node by ID, or nil if not found.
	GetNode(ctx context.Context, nodeID string) (*graph.GraphNode, error)

	// GetNodesByLabel returns all nodes with the given label.
	GetNodesByLabel(ctx context.Context, label string) []*graph.GraphNode

	// Graph traversal

	// GetBases returns the resolved base classes of a class, ordered by
	// qualified name.
	GetBases(ctx context.Context, classID string) ([]*graph.GraphNode, error)

	// GetSubclasses returns the direct subclasses of a class, ordered by
	// qualified name.
	GetSubclasses(ctx context.Context, classID string) ([]*graph.GraphNode, error)

	// GetMembers returns the members of a class reachable through the
	// given relationship type, in declaration order.
	GetMembers(ctx context.Context, classID string, relType string) ([]*graph.GraphNode, error)

	// TraverseHierarchy performs BFS through inheritance edges. Direction
	// is DirectionAncestors or DirectionDescendants.
	TraverseHierarchy(ctx context.Context, startID string, depth int, direction string) ([]*graph.GraphNode, error)

	// Search

	// FTSSearch performs full-text search over names, signatures, and
	// docstrings.
	FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// VectorSearch finds nodes closest to the given vector.
	VectorSearch(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)

	// HybridSearch combines FTS and vector search using RRF.
	HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]HybridSearchResult, error)

	// Maintenance

	// StoreEmbeddings persists node embeddings.
	StoreEmbeddings(ctx context.Context, embeddings []NodeEmbedding) error
}

// FindClass resolves a class reference against the store: an exact
// qualified name wins, otherwise the unqualified class name is matched
// across all modules. When several classes share the unqualified name, the
// lexicographically first qualified name is returned. Returns nil when
// nothing matches.
func FindClass(ctx context.Context, store StorageBackend, name string) (*graph.GraphNode, error) {
	node, err := store.GetNode(ctx, graph.GenerateID(graph.NodeClass, name, ""))
	if err != nil {
		return nil, err
	}
	if node != nil {
		return node, nil
	}

	var matches []*graph.GraphNode
	for _, class := range store.GetNodesByLabel(ctx, string(graph.NodeClass)) {
		if class.Name == name {
			matches = append(matches, class)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].QualifiedName < matches[j].QualifiedName
	})
	return matches[0], nil
}
