package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

// MemoryBackend is an in-memory implementation of StorageBackend. It backs
// tests and short-lived sessions that have no cache directory to open.
type MemoryBackend struct {
	mu         sync.RWMutex
	nodes      map[string]*graph.GraphNode
	rels       map[string]*graph.GraphRelationship
	outgoing   map[string][]string // nodeID -> relIDs
	incoming   map[string][]string // nodeID -> relIDs
	embeddings map[string][]float32
	fts        *invertedIndex
	indexed    bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes:      make(map[string]*graph.GraphNode),
		rels:       make(map[string]*graph.GraphRelationship),
		outgoing:   make(map[string][]string),
		incoming:   make(map[string][]string),
		embeddings: make(map[string][]float32),
		fts:        newInvertedIndex(),
	}
}

// Initialize implements StorageBackend. The path is ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed = true
	return nil
}

// Close implements StorageBackend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = nil
	m.rels = nil
	m.outgoing = nil
	m.incoming = nil
	m.embeddings = nil
	return nil
}

// BulkLoad implements StorageBackend.
func (m *MemoryBackend) BulkLoad(ctx context.Context, g *graph.KnowledgeGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes = make(map[string]*graph.GraphNode)
	m.rels = make(map[string]*graph.GraphRelationship)
	m.outgoing = make(map[string][]string)
	m.incoming = make(map[string][]string)
	m.fts.reset()

	for node := range g.IterNodes() {
		m.nodes[node.ID] = node
		m.fts.add(node)
	}
	for rel := range g.IterRelationships() {
		m.rels[rel.ID] = rel
		m.outgoing[rel.Source] = append(m.outgoing[rel.Source], rel.ID)
		m.incoming[rel.Target] = append(m.incoming[rel.Target], rel.ID)
	}
	m.indexed = true
	return nil
}

// GetNode implements StorageBackend.
func (m *MemoryBackend) GetNode(ctx context.Context, nodeID string) (*graph.GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodes[nodeID], nil
}

// GetNodesByLabel implements StorageBackend.
func (m *MemoryBackend) GetNodesByLabel(ctx context.Context, label string) []*graph.GraphNode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var nodes []*graph.GraphNode
	for _, node := range m.nodes {
		if string(node.Label) == label {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// neighbors returns far-end nodes reached through relationships of the
// given type. Caller must hold at least the read lock.
func (m *MemoryBackend) neighbors(nodeID string, relType string, outgoing bool) []*graph.GraphNode {
	relIDs := m.incoming[nodeID]
	if outgoing {
		relIDs = m.outgoing[nodeID]
	}

	var result []*graph.GraphNode
	for _, relID := range relIDs {
		rel, ok := m.rels[relID]
		if !ok || string(rel.Type) != relType {
			continue
		}
		farID := rel.Source
		if outgoing {
			farID = rel.Target
		}
		if node, ok := m.nodes[farID]; ok {
			result = append(result, node)
		}
	}
	return result
}

// GetBases implements StorageBackend.
func (m *MemoryBackend) GetBases(ctx context.Context, classID string) ([]*graph.GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bases := m.neighbors(classID, string(graph.RelInheritsFrom), true)
	sortByQualifiedName(bases)
	return bases, nil
}

// GetSubclasses implements StorageBackend.
func (m *MemoryBackend) GetSubclasses(ctx context.Context, classID string) ([]*graph.GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := m.neighbors(classID, string(graph.RelInheritsFrom), false)
	sortByQualifiedName(subs)
	return subs, nil
}

// GetMembers implements StorageBackend.
func (m *MemoryBackend) GetMembers(ctx context.Context, classID string, relType string) ([]*graph.GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.neighbors(classID, relType, true)
	sort.Slice(members, func(i, j int) bool {
		return members[i].Order < members[j].Order
	})
	return members, nil
}

// TraverseHierarchy implements StorageBackend.
func (m *MemoryBackend) TraverseHierarchy(ctx context.Context, startID string, depth int, direction string) ([]*graph.GraphNode, error) {
	if depth > 10 {
		depth = 10
	}

	visited := make(map[string]bool)
	var result []*graph.GraphNode

	type traversalItem struct {
		nodeID string
		depth  int
	}
	queue := []traversalItem{{nodeID: startID, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current.nodeID] {
			continue
		}
		visited[current.nodeID] = true

		if current.nodeID != startID {
			if node, err := m.GetNode(ctx, current.nodeID); err == nil && node != nil {
				result = append(result, node)
			}
		}

		if current.depth < depth {
			var neighbors []*graph.GraphNode
			var err error
			if direction == DirectionAncestors {
				neighbors, err = m.GetBases(ctx, current.nodeID)
			} else {
				neighbors, err = m.GetSubclasses(ctx, current.nodeID)
			}
			if err != nil {
				continue
			}
			for _, neighbor := range neighbors {
				if !visited[neighbor.ID] {
					queue = append(queue, traversalItem{
						nodeID: neighbor.ID,
						depth:  current.depth + 1,
					})
				}
			}
		}
	}

	return result, nil
}

// FTSSearch implements StorageBackend.
func (m *MemoryBackend) FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := m.fts.search(query)
	results := make([]SearchResult, 0, len(scores))
	for nodeID, score := range scores {
		node, ok := m.nodes[nodeID]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			NodeID:        nodeID,
			Score:         score,
			NodeName:      node.Name,
			QualifiedName: node.QualifiedName,
			FilePath:      node.FilePath,
			Label:         string(node.Label),
			Snippet:       snippetOf(node),
		})
	}

	sortSearchResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// VectorSearch implements StorageBackend.
func (m *MemoryBackend) VectorSearch(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scoredNode struct {
		nodeID string
		score  float64
	}
	var scoredNodes []scoredNode
	for nodeID, embedding := range m.embeddings {
		sim := CosineSimilarity(vector, embedding)
		if sim > 0 {
			scoredNodes = append(scoredNodes, scoredNode{nodeID: nodeID, score: sim})
		}
	}

	sort.Slice(scoredNodes, func(i, j int) bool {
		if scoredNodes[i].score != scoredNodes[j].score {
			return scoredNodes[i].score > scoredNodes[j].score
		}
		return scoredNodes[i].nodeID < scoredNodes[j].nodeID
	})
	if len(scoredNodes) > limit {
		scoredNodes = scoredNodes[:limit]
	}

	results := make([]SearchResult, 0, len(scoredNodes))
	for _, sn := range scoredNodes {
		node, ok := m.nodes[sn.nodeID]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			NodeID:        node.ID,
			Score:         sn.score,
			NodeName:      node.Name,
			QualifiedName: node.QualifiedName,
			FilePath:      node.FilePath,
			Label:         string(node.Label),
			Snippet:       snippetOf(node),
		})
	}
	return results, nil
}

// HybridSearch implements StorageBackend.
func (m *MemoryBackend) HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]HybridSearchResult, error) {
	return HybridSearch(ctx, m, query, queryVector, limit, 60)
}

// StoreEmbeddings implements StorageBackend.
func (m *MemoryBackend) StoreEmbeddings(ctx context.Context, embeddings []NodeEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, emb := range embeddings {
		m.embeddings[emb.NodeID] = emb.Embedding
	}
	return nil
}

// IsIndexed returns true if the backend has been initialized.
func (m *MemoryBackend) IsIndexed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexed
}

// GetEmbedding returns the embedding for a node.
func (m *MemoryBackend) GetEmbedding(nodeID string) []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.embeddings[nodeID]
}

// NodeCount returns the number of stored nodes.
func (m *MemoryBackend) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// RelationshipCount returns the number of stored relationships.
func (m *MemoryBackend) RelationshipCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rels)
}
