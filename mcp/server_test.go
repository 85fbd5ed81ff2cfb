package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrite-docs/dendrite/internal/graph"
	"github.com/dendrite-docs/dendrite/internal/storage"
)

// newTestServer builds a server over an in-memory store holding an
// Animal <- Dog hierarchy with one method and one attribute on Animal.
func newTestServer(t *testing.T, diagnostics []graph.Diagnostic) *Server {
	t.Helper()

	g := graph.NewKnowledgeGraph()
	g.AddNode(&graph.GraphNode{
		ID: "class:models.animal.Animal", Label: graph.NodeClass,
		Name: "Animal", QualifiedName: "models.animal.Animal",
		ModulePath: "models.animal", FilePath: "models/animal.py", StartLine: 3,
		Docstring: "Base class for animals.",
	})
	g.AddNode(&graph.GraphNode{
		ID: "class:models.dog.Dog", Label: graph.NodeClass,
		Name: "Dog", QualifiedName: "models.dog.Dog",
		ModulePath: "models.dog", FilePath: "models/dog.py", StartLine: 4,
		DeclaredBases: []string{"Animal"},
	})
	g.AddNode(&graph.GraphNode{
		ID: "method:models.animal.Animal:speak", Label: graph.NodeMethod,
		Name: "speak", QualifiedName: "models.animal.Animal.speak",
		FilePath: "models/animal.py", Signature: "speak(self) -> str", Order: 0,
	})
	g.AddNode(&graph.GraphNode{
		ID: "attribute:models.animal.Animal:legs", Label: graph.NodeAttribute,
		Name: "legs", QualifiedName: "models.animal.Animal.legs",
		FilePath: "models/animal.py", Annotation: "int", Order: 0,
	})
	g.AddRelationship(&graph.GraphRelationship{
		ID:     graph.GenerateRelID(graph.RelInheritsFrom, "class:models.dog.Dog", "class:models.animal.Animal"),
		Type:   graph.RelInheritsFrom,
		Source: "class:models.dog.Dog",
		Target: "class:models.animal.Animal",
	})
	g.AddRelationship(&graph.GraphRelationship{
		ID:     graph.GenerateRelID(graph.RelHasMethod, "class:models.animal.Animal", "method:models.animal.Animal:speak"),
		Type:   graph.RelHasMethod,
		Source: "class:models.animal.Animal",
		Target: "method:models.animal.Animal:speak",
	})
	g.AddRelationship(&graph.GraphRelationship{
		ID:     graph.GenerateRelID(graph.RelHasAttribute, "class:models.animal.Animal", "attribute:models.animal.Animal:legs"),
		Type:   graph.RelHasAttribute,
		Source: "class:models.animal.Animal",
		Target: "attribute:models.animal.Animal:legs",
	})

	store := storage.NewMemoryBackend()
	require.NoError(t, store.Initialize("", false))
	require.NoError(t, store.BulkLoad(context.Background(), g))
	t.Cleanup(func() { store.Close() })

	return NewServer(store, diagnostics)
}

func TestListTools(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	tools := s.ListTools()
	require.Len(t, tools, 5)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.InputSchema)
	}
	assert.ElementsMatch(t, []string{
		"dendrite_search",
		"dendrite_class_info",
		"dendrite_hierarchy",
		"dendrite_modules",
		"dendrite_diagnostics",
	}, names)

	assert.Equal(t, []string{"query"}, tools[0].InputSchema.Required)
}

func TestListResources(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	resources := s.ListResources()
	require.Len(t, resources, 3)

	uris := make([]string, len(resources))
	for i, res := range resources {
		uris[i] = res.URI
		assert.Equal(t, "text/plain", res.MimeType)
	}
	assert.ElementsMatch(t, []string{
		"dendrite://overview",
		"dendrite://index",
		"dendrite://schema",
	}, uris)
}

func TestCallTool_Search(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("FindsMatches", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_search", map[string]any{"query": "dog"})
		require.NoError(t, err)
		assert.Contains(t, out, "models.dog.Dog")
	})

	t.Run("NoMatches", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_search", map[string]any{"query": "spaceship"})
		require.NoError(t, err)
		assert.Equal(t, "No results found", out)
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_search", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "No query provided", out)
	})
}

func TestCallTool_ClassInfo(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("QualifiedName", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_class_info", map[string]any{"class": "models.dog.Dog"})
		require.NoError(t, err)
		assert.Contains(t, out, "# models.dog.Dog")
		assert.Contains(t, out, "Inherits From")
		assert.Contains(t, out, "models.animal.Animal")
	})

	t.Run("UnqualifiedName", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_class_info", map[string]any{"class": "Animal"})
		require.NoError(t, err)
		assert.Contains(t, out, "# models.animal.Animal")
		assert.Contains(t, out, "Base class for animals.")
		assert.Contains(t, out, "speak(self) -> str")
		assert.Contains(t, out, "legs: int")
		assert.Contains(t, out, "Subclasses (1)")
	})

	t.Run("Unknown", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_class_info", map[string]any{"class": "Ghost"})
		require.NoError(t, err)
		assert.Equal(t, "Class 'Ghost' not found in the analyzed tree", out)
	})
}

func TestCallTool_Hierarchy(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("Ancestors", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_hierarchy", map[string]any{
			"class": "Dog", "direction": "ancestors",
		})
		require.NoError(t, err)
		assert.Contains(t, out, "models.animal.Animal in models/animal.py")
	})

	t.Run("Descendants", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_hierarchy", map[string]any{
			"class": "Animal", "direction": "descendants",
		})
		require.NoError(t, err)
		assert.Contains(t, out, "models.dog.Dog in models/dog.py")
	})

	t.Run("LeafHasNoDescendants", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "dendrite_hierarchy", map[string]any{
			"class": "Dog", "direction": "descendants",
		})
		require.NoError(t, err)
		assert.Contains(t, out, "No subclasses in the analyzed tree.")
	})
}

func TestCallTool_Modules(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	out, err := s.CallTool(context.Background(), "dendrite_modules", nil)
	require.NoError(t, err)

	assert.Contains(t, out, "`models.animal`: 1 classes")
	assert.Contains(t, out, "`models.dog`: 1 classes")
}

func TestCallTool_Diagnostics(t *testing.T) {
	t.Parallel()

	t.Run("WithFindings", func(t *testing.T) {
		t.Parallel()
		diags := []graph.Diagnostic{
			{Kind: graph.DiagParseError, FilePath: "broken.py", Message: "syntax error near line 3"},
			{Kind: graph.DiagUnresolvedBase, Class: "models.dog.Dog", Base: "Mammal", Message: "no class with this name in the analyzed tree"},
		}
		s := newTestServer(t, diags)

		out, err := s.CallTool(context.Background(), "dendrite_diagnostics", nil)
		require.NoError(t, err)
		assert.Contains(t, out, "### parse_error (1)")
		assert.Contains(t, out, "broken.py")
		assert.Contains(t, out, "### unresolved_base (1)")
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, nil)
		out, err := s.CallTool(context.Background(), "dendrite_diagnostics", nil)
		require.NoError(t, err)
		assert.Contains(t, out, "No diagnostics recorded by the last run.")
	})
}

func TestCallTool_Unknown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	_, err := s.CallTool(context.Background(), "dendrite_teleport", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestReadResource(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("Overview", func(t *testing.T) {
		t.Parallel()
		out, err := s.ReadResource(ctx, "dendrite://overview")
		require.NoError(t, err)
		assert.Contains(t, out, "**Nodes:** 4")
		assert.Contains(t, out, "**Relationships:** 3")
		assert.Contains(t, out, "**Classes:** 2")
	})

	t.Run("Index", func(t *testing.T) {
		t.Parallel()
		out, err := s.ReadResource(ctx, "dendrite://index")
		require.NoError(t, err)
		assert.Contains(t, out, "## models.animal")
		assert.Contains(t, out, "- models.dog.Dog")
	})

	t.Run("Schema", func(t *testing.T) {
		t.Parallel()
		out, err := s.ReadResource(ctx, "dendrite://schema")
		require.NoError(t, err)
		assert.Contains(t, out, "inherits_from")
		assert.Contains(t, out, "declared_as")
	})

	t.Run("Unknown", func(t *testing.T) {
		t.Parallel()
		_, err := s.ReadResource(ctx, "dendrite://mystery")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown resource")
	})
}

// rpcLine encodes one JSON-RPC request as a line of input.
func rpcLine(t *testing.T, id int, method string, params map[string]any) string {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return string(data) + "\n"
}

func TestRun_JSONRPCRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	input := rpcLine(t, 1, "initialize", nil) +
		rpcLine(t, 2, "tools/list", nil) +
		rpcLine(t, 3, "tools/call", map[string]any{
			"name":      "dendrite_search",
			"arguments": map[string]any{"query": "dog"},
		}) +
		rpcLine(t, 4, "resources/read", map[string]any{"uri": "dendrite://schema"}) +
		rpcLine(t, 5, "nosuch/method", nil)

	var out bytes.Buffer
	err := s.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err) // EOF ends the loop cleanly

	var responses []map[string]any
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, 5)

	// initialize
	result := responses[0]["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])

	// tools/list
	toolsResult := responses[1]["result"].(map[string]any)
	assert.Len(t, toolsResult["tools"], 5)

	// tools/call
	callResult := responses[2]["result"].(map[string]any)
	content := callResult["content"].([]any)
	require.Len(t, content, 1)
	text := content[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, "models.dog.Dog")

	// resources/read
	readResult := responses[3]["result"].(map[string]any)
	contents := readResult["contents"].([]any)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0].(map[string]any)["text"].(string), "inherits_from")

	// unknown method
	rpcErr := responses[4]["error"].(map[string]any)
	assert.Contains(t, rpcErr["message"], "Method not found")
}

func TestRun_NilStreams(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	assert.Error(t, s.Run(context.Background(), nil, nil))
}
