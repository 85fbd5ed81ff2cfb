package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

// Key prefixes for different data types
const (
	prefixNode      = "n:"     // node data
	prefixRel       = "r:"     // relationship data
	prefixIncoming  = "i:in:"  // incoming relationships
	prefixOutgoing  = "i:out:" // outgoing relationships
	prefixEmbedding = "e:"     // embedding data
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db                *badger.DB
	mu                sync.RWMutex
	nodeCount         int
	relationshipCount int
	fts               *invertedIndex
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{fts: newInvertedIndex()}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.rebuildFromDB()
	return nil
}

// rebuildFromDB recomputes the counts and the full-text index from the
// stored nodes. Caller must hold the write lock.
func (b *BadgerBackend) rebuildFromDB() {
	b.fts.reset()
	b.nodeCount = 0
	b.relationshipCount = 0

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixNode)
	it := txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		var node graph.GraphNode
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &node)
		}); err != nil {
			continue
		}
		b.nodeCount++
		b.fts.add(&node)
	}
	it.Close()

	opts.Prefix = []byte(prefixRel)
	it = txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		b.relationshipCount++
	}
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// BulkLoad replaces the entire store with the contents of the graph. The
// previous contents are dropped first, so a re-run leaves no stale nodes
// from files that vanished between runs.
func (b *BadgerBackend) BulkLoad(ctx context.Context, g *graph.KnowledgeGraph) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("dropping previous contents: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	b.nodeCount = 0
	b.relationshipCount = 0
	b.fts.reset()

	for node := range g.IterNodes() {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("marshaling node: %w", err)
		}
		if err := wb.Set(b.nodeKey(node.ID), data); err != nil {
			return fmt.Errorf("setting node: %w", err)
		}
		b.nodeCount++
		b.fts.add(node)
	}

	for rel := range g.IterRelationships() {
		data, err := json.Marshal(rel)
		if err != nil {
			return fmt.Errorf("marshaling relationship: %w", err)
		}
		if err := wb.Set(b.relKey(rel.ID), data); err != nil {
			return fmt.Errorf("setting relationship: %w", err)
		}
		b.relationshipCount++

		if err := b.indexRelationshipWB(wb, rel); err != nil {
			return err
		}
	}

	return wb.Flush()
}

// LoadGraph reconstructs a knowledge graph from the persisted nodes and
// relationships. The inverse of BulkLoad.
func (b *BadgerBackend) LoadGraph(ctx context.Context) (*graph.KnowledgeGraph, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	g := graph.NewKnowledgeGraph()

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixNode)
	it := txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		var node graph.GraphNode
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &node)
		}); err != nil {
			it.Close()
			return nil, fmt.Errorf("decoding node: %w", err)
		}
		g.AddNode(&node)
	}
	it.Close()

	opts.Prefix = []byte(prefixRel)
	it = txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		var rel graph.GraphRelationship
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rel)
		}); err != nil {
			return nil, fmt.Errorf("decoding relationship: %w", err)
		}
		g.AddRelationship(&rel)
	}

	return g, nil
}

// indexRelationshipWB creates adjacency list indexes for a relationship in a write batch.
func (b *BadgerBackend) indexRelationshipWB(wb *badger.WriteBatch, rel *graph.GraphRelationship) error {
	outKey := fmt.Sprintf("%s%s:%s:%s", prefixOutgoing, rel.Source, rel.Type, rel.ID)
	if err := wb.Set([]byte(outKey), []byte(rel.ID)); err != nil {
		return fmt.Errorf("setting outgoing index: %w", err)
	}
	inKey := fmt.Sprintf("%s%s:%s:%s", prefixIncoming, rel.Target, rel.Type, rel.ID)
	if err := wb.Set([]byte(inKey), []byte(rel.ID)); err != nil {
		return fmt.Errorf("setting incoming index: %w", err)
	}
	return nil
}

// GetNode returns a single node by ID, or nil if not found.
func (b *BadgerBackend) GetNode(ctx context.Context, nodeID string) (*graph.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getNode(nodeID)
}

// getNode is a helper that gets a node without locking (caller must hold lock).
func (b *BadgerBackend) getNode(nodeID string) (*graph.GraphNode, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get(b.nodeKey(nodeID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting node: %w", err)
	}

	var node graph.GraphNode
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &node, nil
}

// GetNodesByLabel returns all nodes with the given label.
func (b *BadgerBackend) GetNodesByLabel(ctx context.Context, label string) []*graph.GraphNode {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var nodes []*graph.GraphNode

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixNode)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var node graph.GraphNode
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &node)
		}); err != nil {
			continue
		}
		if string(node.Label) == label {
			n := node
			nodes = append(nodes, &n)
		}
	}
	return nodes
}

// neighbors returns the nodes on the far end of relationships of the given
// type. For the outgoing direction the far end is the target, for incoming
// it is the source. Caller must hold at least the read lock.
func (b *BadgerBackend) neighbors(nodeID string, relType string, outgoing bool) ([]*graph.GraphNode, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	indexPrefix := prefixIncoming
	if outgoing {
		indexPrefix = prefixOutgoing
	}
	prefix := fmt.Sprintf("%s%s:%s", indexPrefix, nodeID, relType)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var result []*graph.GraphNode
	for it.Rewind(); it.Valid(); it.Next() {
		var relID string
		if err := it.Item().Value(func(val []byte) error {
			relID = string(val)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("reading rel ID: %w", err)
		}

		relItem, err := txn.Get(b.relKey(relID))
		if err != nil {
			continue
		}
		var rel graph.GraphRelationship
		if err := relItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &rel)
		}); err != nil {
			continue
		}

		farID := rel.Source
		if outgoing {
			farID = rel.Target
		}
		node, err := b.getNode(farID)
		if err != nil || node == nil {
			continue
		}
		result = append(result, node)
	}
	return result, nil
}

// GetBases returns the resolved base classes of a class.
func (b *BadgerBackend) GetBases(ctx context.Context, classID string) ([]*graph.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bases, err := b.neighbors(classID, string(graph.RelInheritsFrom), true)
	if err != nil {
		return nil, err
	}
	sortByQualifiedName(bases)
	return bases, nil
}

// GetSubclasses returns the direct subclasses of a class.
func (b *BadgerBackend) GetSubclasses(ctx context.Context, classID string) ([]*graph.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, err := b.neighbors(classID, string(graph.RelInheritsFrom), false)
	if err != nil {
		return nil, err
	}
	sortByQualifiedName(subs)
	return subs, nil
}

// GetMembers returns class members in declaration order.
func (b *BadgerBackend) GetMembers(ctx context.Context, classID string, relType string) ([]*graph.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	members, err := b.neighbors(classID, relType, true)
	if err != nil {
		return nil, err
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Order < members[j].Order
	})
	return members, nil
}

// TraverseHierarchy performs BFS through inheritance edges.
func (b *BadgerBackend) TraverseHierarchy(ctx context.Context, startID string, depth int, direction string) ([]*graph.GraphNode, error) {
	if depth > 10 {
		depth = 10 // Safety limit
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
			node, err := b.GetNode(ctx, current.nodeID)
			if err == nil && node != nil {
				result = append(result, node)
			}
		}

		if current.depth < depth {
			var neighbors []*graph.GraphNode
			var err error
			if direction == DirectionAncestors {
				neighbors, err = b.GetBases(ctx, current.nodeID)
			} else {
				neighbors, err = b.GetSubclasses(ctx, current.nodeID)
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

// FTSSearch performs full-text search using the in-memory index.
func (b *BadgerBackend) FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	scores := b.fts.search(query)
	if len(scores) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(scores))
	for nodeID, score := range scores {
		node, err := b.getNode(nodeID)
		if err != nil || node == nil {
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

// VectorSearch finds nodes closest to the given vector using cosine similarity.
func (b *BadgerBackend) VectorSearch(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	type scoredNode struct {
		nodeID string
		score  float64
	}
	var scoredNodes []scoredNode

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixEmbedding)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var embedding []float32
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &embedding)
		}); err != nil {
			continue
		}

		nodeID := strings.TrimPrefix(string(item.Key()), prefixEmbedding)
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
		node, err := b.getNode(sn.nodeID)
		if err != nil || node == nil {
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

// HybridSearch combines FTS and vector search using RRF.
func (b *BadgerBackend) HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]HybridSearchResult, error) {
	return HybridSearch(ctx, b, query, queryVector, limit, 60)
}

// StoreEmbeddings persists node embeddings.
func (b *BadgerBackend) StoreEmbeddings(ctx context.Context, embeddings []NodeEmbedding) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	for _, emb := range embeddings {
		data, err := json.Marshal(emb.Embedding)
		if err != nil {
			return fmt.Errorf("marshaling embedding: %w", err)
		}
		if err := txn.Set([]byte(prefixEmbedding+emb.NodeID), data); err != nil {
			return fmt.Errorf("setting embedding: %w", err)
		}
	}
	return txn.Commit()
}

// NodeCount returns the node count.
func (b *BadgerBackend) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nodeCount
}

// RelationshipCount returns the relationship count.
func (b *BadgerBackend) RelationshipCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.relationshipCount
}

// nodeKey returns the BadgerDB key for a node.
func (b *BadgerBackend) nodeKey(nodeID string) []byte {
	return []byte(prefixNode + nodeID)
}

// relKey returns the BadgerDB key for a relationship.
func (b *BadgerBackend) relKey(relID string) []byte {
	return []byte(prefixRel + relID)
}

// sortByQualifiedName orders nodes lexicographically by qualified name.
func sortByQualifiedName(nodes []*graph.GraphNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].QualifiedName < nodes[j].QualifiedName
	})
}

// sortSearchResults orders results by score descending, breaking ties by
// node ID so result order does not depend on map iteration.
func sortSearchResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].NodeID < results[j].NodeID
	})
}
