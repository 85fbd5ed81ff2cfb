// Package graph provides the in-memory class graph for dendrite.
//
// It provides a lightweight, map-backed graph that stores GraphNode and
// GraphRelationship instances with O(1) lookups by ID. Secondary indexes
// on label, relationship type, and adjacency lists ensure that queries
// scale linearly with the result set rather than the total graph size.
package graph

import (
	"sort"
	"sync"
)

// KnowledgeGraph is an in-memory directed graph of class-level entities
// and their relationships.
//
// Nodes are keyed by their ID string; relationships are keyed likewise.
// Removing a node cascades to any relationship where the node appears as
// source or target.
//
// The graph is mutable only during assembly. Rendering and search read it
// through the RWMutex, so concurrent readers are safe once assembly is done.
type KnowledgeGraph struct {
	mu            sync.RWMutex
	nodes         map[string]*GraphNode
	relationships map[string]*GraphRelationship

	// Secondary indexes — kept in sync by add/remove helpers.
	byLabel   map[NodeLabel]map[string]*GraphNode
	byRelType map[RelType]map[string]*GraphRelationship
	outgoing  map[string]map[string]*GraphRelationship
	incoming  map[string]map[string]*GraphRelationship
}

// NewKnowledgeGraph creates a new empty class graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		nodes:         make(map[string]*GraphNode),
		relationships: make(map[string]*GraphRelationship),
		byLabel:       make(map[NodeLabel]map[string]*GraphNode),
		byRelType:     make(map[RelType]map[string]*GraphRelationship),
		outgoing:      make(map[string]map[string]*GraphRelationship),
		incoming:      make(map[string]map[string]*GraphRelationship),
	}
}

// NodeCount returns the number of nodes without list materialization.
func (g *KnowledgeGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RelationshipCount returns the number of relationships without list materialization.
func (g *KnowledgeGraph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relationships)
}

// CountNodesByLabel returns the count of nodes with the given label.
func (g *KnowledgeGraph) CountNodesByLabel(label NodeLabel) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if nodes, ok := g.byLabel[label]; ok {
		return len(nodes)
	}
	return 0
}

// IterNodes returns a channel that yields all nodes.
func (g *KnowledgeGraph) IterNodes() <-chan *GraphNode {
	g.mu.RLock()
	ch := make(chan *GraphNode, len(g.nodes))
	for _, node := range g.nodes {
		ch <- node
	}
	close(ch)
	g.mu.RUnlock()
	return ch
}

// IterRelationships returns a channel that yields all relationships.
func (g *KnowledgeGraph) IterRelationships() <-chan *GraphRelationship {
	g.mu.RLock()
	ch := make(chan *GraphRelationship, len(g.relationships))
	for _, rel := range g.relationships {
		ch <- rel
	}
	close(ch)
	g.mu.RUnlock()
	return ch
}

// AddNode adds a node to the graph, replacing any existing node with the same ID.
// If the node's label differs from an existing node, the old label index is updated.
func (g *KnowledgeGraph) AddNode(node *GraphNode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Remove old node from label index if label changed
	if old, ok := g.nodes[node.ID]; ok && old.Label != node.Label {
		delete(g.byLabel[old.Label], node.ID)
	}

	g.nodes[node.ID] = node

	if g.byLabel[node.Label] == nil {
		g.byLabel[node.Label] = make(map[string]*GraphNode)
	}
	g.byLabel[node.Label][node.ID] = node
}

// GetNode returns the node with the given ID, or nil if it does not exist.
func (g *KnowledgeGraph) GetNode(nodeID string) *GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[nodeID]
}

// RemoveNode removes a node and cascade-deletes all relationships that reference it.
// Returns true if the node existed and was removed, false otherwise.
func (g *KnowledgeGraph) RemoveNode(nodeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return false
	}

	delete(g.nodes, nodeID)
	delete(g.byLabel[node.Label], nodeID)

	g.cascadeRelationshipsForNode(nodeID)
	return true
}

// AddRelationship adds a relationship to the graph, replacing any existing relationship with the same ID.
// Relationship IDs are derived from (type, source, target), so re-adding the
// same edge is a no-op replacement and duplicate declarations collapse.
func (g *KnowledgeGraph) AddRelationship(rel *GraphRelationship) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Remove old relationship from indexes
	if old, ok := g.relationships[rel.ID]; ok {
		delete(g.byRelType[old.Type], rel.ID)
		delete(g.outgoing[old.Source], rel.ID)
		delete(g.incoming[old.Target], rel.ID)
	}

	g.relationships[rel.ID] = rel

	if g.byRelType[rel.Type] == nil {
		g.byRelType[rel.Type] = make(map[string]*GraphRelationship)
	}
	g.byRelType[rel.Type][rel.ID] = rel

	if g.outgoing[rel.Source] == nil {
		g.outgoing[rel.Source] = make(map[string]*GraphRelationship)
	}
	g.outgoing[rel.Source][rel.ID] = rel

	if g.incoming[rel.Target] == nil {
		g.incoming[rel.Target] = make(map[string]*GraphRelationship)
	}
	g.incoming[rel.Target][rel.ID] = rel
}

// GetNodesByLabel returns all nodes with the given label.
func (g *KnowledgeGraph) GetNodesByLabel(label NodeLabel) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes, ok := g.byLabel[label]
	if !ok {
		return nil
	}

	result := make([]*GraphNode, 0, len(nodes))
	for _, node := range nodes {
		result = append(result, node)
	}
	return result
}

// GetRelationshipsByType returns all relationships with the given type.
func (g *KnowledgeGraph) GetRelationshipsByType(relType RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rels, ok := g.byRelType[relType]
	if !ok {
		return nil
	}

	result := make([]*GraphRelationship, 0, len(rels))
	for _, rel := range rels {
		result = append(result, rel)
	}
	return result
}

// GetOutgoing returns relationships originating from the given node ID.
// If relType is provided, only relationships of that type are returned.
func (g *KnowledgeGraph) GetOutgoing(nodeID string, relType ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rels, ok := g.outgoing[nodeID]
	if !ok {
		return nil
	}

	if len(relType) > 0 && relType[0] != "" {
		result := make([]*GraphRelationship, 0)
		for _, rel := range rels {
			if rel.Type == relType[0] {
				result = append(result, rel)
			}
		}
		return result
	}

	result := make([]*GraphRelationship, 0, len(rels))
	for _, rel := range rels {
		result = append(result, rel)
	}
	return result
}

// GetIncoming returns relationships targeting the given node ID.
// If relType is provided, only relationships of that type are returned.
func (g *KnowledgeGraph) GetIncoming(nodeID string, relType ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rels, ok := g.incoming[nodeID]
	if !ok {
		return nil
	}

	if len(relType) > 0 && relType[0] != "" {
		result := make([]*GraphRelationship, 0)
		for _, rel := range rels {
			if rel.Type == relType[0] {
				result = append(result, rel)
			}
		}
		return result
	}

	result := make([]*GraphRelationship, 0, len(rels))
	for _, rel := range rels {
		result = append(result, rel)
	}
	return result
}

// HasIncoming returns true if the node has any incoming relationship of the given type.
func (g *KnowledgeGraph) HasIncoming(nodeID string, relType RelType) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rels, ok := g.incoming[nodeID]
	if !ok {
		return false
	}

	for _, rel := range rels {
		if rel.Type == relType {
			return true
		}
	}
	return false
}

// Members returns the member nodes of a class reachable over edges of the
// given type (has_method or has_attribute), in extraction order.
func (g *KnowledgeGraph) Members(classID string, relType RelType) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rels, ok := g.outgoing[classID]
	if !ok {
		return nil
	}

	var members []*GraphNode
	for _, rel := range rels {
		if rel.Type != relType {
			continue
		}
		if member, exists := g.nodes[rel.Target]; exists {
			members = append(members, member)
		}
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].Order < members[j].Order
	})
	return members
}

// Subclasses returns the classes whose inherits_from edge targets the given
// class, sorted by qualified name so repeated runs render identically.
func (g *KnowledgeGraph) Subclasses(classID string) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rels, ok := g.incoming[classID]
	if !ok {
		return nil
	}

	var subs []*GraphNode
	for _, rel := range rels {
		if rel.Type != RelInheritsFrom {
			continue
		}
		if sub, exists := g.nodes[rel.Source]; exists {
			subs = append(subs, sub)
		}
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].QualifiedName < subs[j].QualifiedName
	})
	return subs
}

// ResolvedBases returns the base classes the given class inherits from,
// keyed by the declared base text the resolution started from. Declared
// bases that never resolved have no entry.
func (g *KnowledgeGraph) ResolvedBases(classID string) map[string]*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rels, ok := g.outgoing[classID]
	if !ok {
		return nil
	}

	bases := make(map[string]*GraphNode)
	for _, rel := range rels {
		if rel.Type != RelInheritsFrom {
			continue
		}
		base, exists := g.nodes[rel.Target]
		if !exists {
			continue
		}
		declared, _ := rel.Properties["declared_as"].(string)
		if declared == "" {
			declared = base.QualifiedName
		}
		bases[declared] = base
	}
	return bases
}

// Stats returns a summary of graph size.
func (g *KnowledgeGraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return map[string]int{
		"nodes":         len(g.nodes),
		"relationships": len(g.relationships),
	}
}

// cascadeRelationshipsForNode removes all relationships where the node is source or target.
// Must be called with the write lock held.
func (g *KnowledgeGraph) cascadeRelationshipsForNode(nodeID string) {
	// Remove outgoing relationships
	outRels, ok := g.outgoing[nodeID]
	if ok {
		for _, rel := range outRels {
			delete(g.relationships, rel.ID)
			delete(g.byRelType[rel.Type], rel.ID)
			delete(g.incoming[rel.Target], rel.ID)
		}
		delete(g.outgoing, nodeID)
	}

	// Remove incoming relationships
	inRels, ok := g.incoming[nodeID]
	if ok {
		for _, rel := range inRels {
			delete(g.relationships, rel.ID)
			delete(g.byRelType[rel.Type], rel.ID)
			delete(g.outgoing[rel.Source], rel.ID)
		}
		delete(g.incoming, nodeID)
	}
}
