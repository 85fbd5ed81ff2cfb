package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

func newLoadedBadgerBackend(t *testing.T) (*BadgerBackend, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "graph")

	b := NewBadgerBackend()
	require.NoError(t, b.Initialize(dir, false))
	require.NoError(t, b.BulkLoad(context.Background(), hierarchyGraph()))
	t.Cleanup(func() { b.Close() })
	return b, dir
}

func TestBadgerBackend_Initialize(t *testing.T) {
	t.Parallel()

	b := NewBadgerBackend()
	require.NoError(t, b.Initialize(filepath.Join(t.TempDir(), "graph"), false))

	assert.Zero(t, b.NodeCount())
	assert.Zero(t, b.RelationshipCount())
	require.NoError(t, b.Close())

	// Closing twice is harmless
	assert.NoError(t, b.Close())
}

func TestBadgerBackend_BulkLoad(t *testing.T) {
	t.Parallel()

	b, _ := newLoadedBadgerBackend(t)
	ctx := context.Background()

	assert.Equal(t, 5, b.NodeCount())
	assert.Equal(t, 4, b.RelationshipCount())

	node, err := b.GetNode(ctx, "class:models.dog.Dog")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "Dog", node.Name)
	assert.Equal(t, "models.dog.Dog", node.QualifiedName)

	missing, err := b.GetNode(ctx, "class:ghost.Ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBadgerBackend_BulkLoadReplaces(t *testing.T) {
	t.Parallel()

	b, _ := newLoadedBadgerBackend(t)
	ctx := context.Background()

	replacement := graph.NewKnowledgeGraph()
	replacement.AddNode(&graph.GraphNode{
		ID: "class:solo.Solo", Label: graph.NodeClass, Name: "Solo", QualifiedName: "solo.Solo",
	})
	require.NoError(t, b.BulkLoad(ctx, replacement))

	assert.Equal(t, 1, b.NodeCount())
	assert.Zero(t, b.RelationshipCount())

	gone, err := b.GetNode(ctx, "class:models.dog.Dog")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBadgerBackend_GetBases(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "graph")
	b := NewBadgerBackend()
	require.NoError(t, b.Initialize(dir, false))
	defer b.Close()

	ctx := context.Background()

	g := graph.NewKnowledgeGraph()
	g.AddNode(&graph.GraphNode{ID: "class:a.A", Label: graph.NodeClass, Name: "A", QualifiedName: "a.A"})
	g.AddNode(&graph.GraphNode{ID: "class:a.B", Label: graph.NodeClass, Name: "B", QualifiedName: "a.B"})
	g.AddRelationship(&graph.GraphRelationship{
		ID:     graph.GenerateRelID(graph.RelInheritsFrom, "class:a.B", "class:a.A"),
		Type:   graph.RelInheritsFrom,
		Source: "class:a.B",
		Target: "class:a.A",
	})
	require.NoError(t, b.BulkLoad(ctx, g))
	assert.Equal(t, 2, b.NodeCount())
	assert.Equal(t, 1, b.RelationshipCount())

	bases, err := b.GetBases(ctx, "class:a.B")
	require.NoError(t, err)
	require.Len(t, bases, 1)
	assert.Equal(t, "a.A", bases[0].QualifiedName)
}

func TestBadgerBackend_Traversal(t *testing.T) {
	t.Parallel()

	b, _ := newLoadedBadgerBackend(t)
	ctx := context.Background()

	t.Run("GetSubclasses", func(t *testing.T) {
		t.Parallel()
		subs, err := b.GetSubclasses(ctx, "class:models.animal.Animal")
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "models.dog.Dog", subs[0].QualifiedName)
	})

	t.Run("GetMembersInDeclarationOrder", func(t *testing.T) {
		t.Parallel()
		members, err := b.GetMembers(ctx, "class:models.animal.Animal", "has_method")
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "speak", members[0].Name)
		assert.Equal(t, "eat", members[1].Name)
	})

	t.Run("AncestorsAcrossTwoLevels", func(t *testing.T) {
		t.Parallel()
		ancestors, err := b.TraverseHierarchy(ctx, "class:models.dog.Puppy", 5, DirectionAncestors)
		require.NoError(t, err)
		require.Len(t, ancestors, 2)
	})

	t.Run("DescendantsRespectDepth", func(t *testing.T) {
		t.Parallel()
		direct, err := b.TraverseHierarchy(ctx, "class:models.animal.Animal", 1, DirectionDescendants)
		require.NoError(t, err)
		assert.Len(t, direct, 1)
	})
}

func TestBadgerBackend_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "graph")

	b := NewBadgerBackend()
	require.NoError(t, b.Initialize(dir, false))
	require.NoError(t, b.BulkLoad(context.Background(), hierarchyGraph()))
	require.NoError(t, b.StoreEmbeddings(context.Background(), []NodeEmbedding{
		{NodeID: "class:models.dog.Dog", Embedding: []float32{1, 0}},
	}))
	require.NoError(t, b.Close())

	reopened := NewBadgerBackend()
	require.NoError(t, reopened.Initialize(dir, false))
	defer reopened.Close()

	// Counts and the FTS index rebuild from the stored nodes
	assert.Equal(t, 5, reopened.NodeCount())
	assert.Equal(t, 4, reopened.RelationshipCount())

	results, err := reopened.FTSSearch(context.Background(), "dog", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "class:models.dog.Dog", results[0].NodeID)

	vec, err := reopened.VectorSearch(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, vec, 1)
	assert.Equal(t, "class:models.dog.Dog", vec[0].NodeID)
}

func TestBadgerBackend_LoadGraphRoundTrip(t *testing.T) {
	t.Parallel()

	b, _ := newLoadedBadgerBackend(t)

	g, err := b.LoadGraph(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, g.NodeCount())
	assert.Equal(t, 4, g.RelationshipCount())

	dog := g.GetNode("class:models.dog.Dog")
	require.NotNil(t, dog)
	assert.Equal(t, "models.dog.Dog", dog.QualifiedName)
	assert.Len(t, g.Subclasses("class:models.animal.Animal"), 1)
}

func TestBadgerBackend_ConcurrentReads(t *testing.T) {
	t.Parallel()

	b, _ := newLoadedBadgerBackend(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			node, err := b.GetNode(ctx, "class:models.dog.Dog")
			assert.NoError(t, err)
			assert.NotNil(t, node)

			_, err = b.FTSSearch(ctx, "animal", 5)
			assert.NoError(t, err)

			_, err = b.GetSubclasses(ctx, "class:models.animal.Animal")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
