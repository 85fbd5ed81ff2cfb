// Package mcp provides the MCP (Model Context Protocol) server for dendrite.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dendrite-docs/dendrite/internal/graph"
	"github.com/dendrite-docs/dendrite/internal/storage"
)

// Server represents the MCP server.
type Server struct {
	storage     StorageBackend
	diagnostics []graph.Diagnostic
	server      *mcp.Server
}

// StorageBackend defines the interface for storage backends.
type StorageBackend interface {
	FTSSearch(ctx context.Context, query string, limit int) ([]storage.SearchResult, error)
	HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]storage.HybridSearchResult, error)
	GetNode(ctx context.Context, nodeID string) (*graph.GraphNode, error)
	GetNodesByLabel(ctx context.Context, label string) []*graph.GraphNode
	GetBases(ctx context.Context, classID string) ([]*graph.GraphNode, error)
	GetSubclasses(ctx context.Context, classID string) ([]*graph.GraphNode, error)
	GetMembers(ctx context.Context, classID string, relType string) ([]*graph.GraphNode, error)
	TraverseHierarchy(ctx context.Context, startID string, depth int, direction string) ([]*graph.GraphNode, error)
	NodeCount() int
	RelationshipCount() int
	Close() error
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server. The diagnostics slice carries the
// findings recorded by the last generate run; nil means no recorded run.
func NewServer(storage StorageBackend, diagnostics []graph.Diagnostic) *Server {
	s := &Server{
		storage:     storage,
		diagnostics: diagnostics,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "dendrite",
		Version: "0.1.0",
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "dendrite_search",
			Description: "Search classes, methods, and attributes using hybrid search. Returns ranked matches for the query.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search query text"},
					"limit": {Type: "integer", Description: "Maximum number of results"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "dendrite_class_info",
			Description: "Full picture of one class: docstring, bases, subclasses, methods, and attributes.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"class": {Type: "string", Description: "Class name, qualified or unqualified"},
				},
				Required: []string{"class"},
			},
		},
		{
			Name:        "dendrite_hierarchy",
			Description: "Walk the inheritance hierarchy of a class, towards its ancestors or its descendants.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"class":     {Type: "string", Description: "Class name, qualified or unqualified"},
					"direction": {Type: "string", Description: "'ancestors' or 'descendants'"},
					"depth":     {Type: "integer", Description: "Maximum traversal depth"},
				},
				Required: []string{"class"},
			},
		},
		{
			Name:        "dendrite_modules",
			Description: "List the analyzed modules with their class counts.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
		{
			Name:        "dendrite_diagnostics",
			Description: "Report the diagnostics recorded by the last generate run: parse errors, unresolved bases, name collisions, write failures.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "dendrite://overview",
			Name:        "Class Graph Overview",
			Description: "High-level statistics about the analyzed source tree",
			MimeType:    "text/plain",
		},
		{
			URI:         "dendrite://index",
			Name:        "Class Index",
			Description: "Every analyzed class, grouped by module",
			MimeType:    "text/plain",
		},
		{
			URI:         "dendrite://schema",
			Name:        "Graph Schema",
			Description: "Description of the dendrite class graph schema",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "dendrite_search":
		query, _ := args["query"].(string)
		limit, _ := args["limit"].(float64)
		if limit == 0 {
			limit = 20
		}
		return handleSearch(s.storage, query, int(limit))
	case "dendrite_class_info":
		className, _ := args["class"].(string)
		return handleClassInfo(s.storage, className)
	case "dendrite_hierarchy":
		className, _ := args["class"].(string)
		direction, _ := args["direction"].(string)
		depth, _ := args["depth"].(float64)
		if depth == 0 {
			depth = 3
		}
		return handleHierarchy(s.storage, className, direction, int(depth))
	case "dendrite_modules":
		return handleModules(s.storage)
	case "dendrite_diagnostics":
		return handleDiagnostics(s.diagnostics)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "dendrite://overview":
		return getOverview(s.storage), nil
	case "dendrite://index":
		return getClassIndex(s.storage), nil
	case "dendrite://schema":
		return getSchema(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run starts the MCP server with stdio transport.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}

	reader := bufio.NewReader(stdin)
	encoder := json.NewEncoder(stdout)
	// Note: Do NOT use SetIndent - MCP protocol requires compact JSON (one line per message)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req map[string]any
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		resp := s.handleRequest(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req map[string]any) map[string]any {
	method, _ := req["method"].(string)
	id := req["id"]

	switch method {
	case "initialize":
		return s.handleInitialize(id)
	case "tools/list":
		return s.handleToolsList(id)
	case "tools/call":
		return s.handleToolsCall(ctx, id, req)
	case "resources/list":
		return s.handleResourcesList(id)
	case "resources/read":
		return s.handleResourcesRead(ctx, id, req)
	default:
		return errorResponse(id, -32601, "Method not found: "+method)
	}
}

func (s *Server) handleInitialize(id any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]any{
				"name":    "dendrite",
				"version": "0.1.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
				"resources": map[string]any{
					"listChanged": false,
				},
			},
		},
	}
}

func (s *Server) handleToolsList(id any) map[string]any {
	tools := s.ListTools()
	toolList := make([]map[string]any, len(tools))
	for i, tool := range tools {
		schema, _ := json.Marshal(tool.InputSchema)
		var schemaMap map[string]any
		json.Unmarshal(schema, &schemaMap)

		toolList[i] = map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": schemaMap,
		}
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"tools": toolList,
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	result, err := s.CallTool(ctx, name, args)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"content": []map[string]any{
				{
					"type": "text",
					"text": result,
				},
			},
		},
	}
}

func (s *Server) handleResourcesList(id any) map[string]any {
	resources := s.ListResources()
	resourceList := make([]map[string]any, len(resources))
	for i, res := range resources {
		resourceList[i] = map[string]any{
			"uri":         res.URI,
			"name":        res.Name,
			"description": res.Description,
			"mimeType":    res.MimeType,
		}
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"resources": resourceList,
		},
	}
}

func (s *Server) handleResourcesRead(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	uri, _ := params["uri"].(string)

	content, err := s.ReadResource(ctx, uri)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"contents": []map[string]any{
				{
					"uri":      uri,
					"mimeType": "text/plain",
					"text":     content,
				},
			},
		},
	}
}

// Tool Handlers

func handleSearch(store StorageBackend, query string, limit int) (string, error) {
	if query == "" {
		return "No query provided", nil
	}

	ctx := context.Background()

	// Hybrid search fuses FTS and vector rankings; the query vector is nil
	// here, which degrades to FTS ranking inside the fusion.
	hybridResults, err := store.HybridSearch(ctx, query, nil, limit)
	if err != nil {
		results, err := store.FTSSearch(ctx, query, limit)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "No results found", nil
		}
		return formatSearchResults(results, query), nil
	}

	if len(hybridResults) == 0 {
		return "No results found", nil
	}

	return formatHybridResults(hybridResults, query), nil
}

// formatHybridResults formats hybrid search results as markdown.
func formatHybridResults(results []storage.HybridSearchResult, query string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results for '%s' (hybrid search):\n\n", len(results), query))

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, r.QualifiedName, r.Label))
		sb.WriteString(fmt.Sprintf("   File: %s\n", r.FilePath))
		sb.WriteString(fmt.Sprintf("   Score: %.3f\n", r.Score))
		if r.Snippet != "" {
			snippet := r.Snippet
			if len(snippet) > 200 {
				snippet = snippet[:200] + "..."
			}
			sb.WriteString(fmt.Sprintf("   %s\n", snippet))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Next: Use `dendrite_class_info` on a specific class for the full picture.")

	return sb.String()
}

// formatSearchResults formats FTS search results as markdown.
func formatSearchResults(results []storage.SearchResult, query string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", len(results), query))

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, r.QualifiedName, r.Label))
		sb.WriteString(fmt.Sprintf("   File: %s\n", r.FilePath))
		sb.WriteString(fmt.Sprintf("   Score: %.3f\n", r.Score))
		if r.Snippet != "" {
			snippet := r.Snippet
			if len(snippet) > 200 {
				snippet = snippet[:200] + "..."
			}
			sb.WriteString(fmt.Sprintf("   %s\n", snippet))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Next: Use `dendrite_class_info` on a specific class for the full picture.")

	return sb.String()
}

// resolveClass finds a class node for a name: exact qualified name first,
// then unqualified name, then best full-text match.
func resolveClass(store StorageBackend, name string) (*graph.GraphNode, error) {
	ctx := context.Background()

	node, err := store.GetNode(ctx, graph.GenerateID(graph.NodeClass, name, ""))
	if err == nil && node != nil {
		return node, nil
	}

	var matches []*graph.GraphNode
	for _, class := range store.GetNodesByLabel(ctx, string(graph.NodeClass)) {
		if class.Name == name {
			matches = append(matches, class)
		}
	}
	if len(matches) > 0 {
		sort.Slice(matches, func(i, j int) bool {
			return matches[i].QualifiedName < matches[j].QualifiedName
		})
		return matches[0], nil
	}

	results, err := store.FTSSearch(ctx, name, 10)
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		if result.Label != string(graph.NodeClass) {
			continue
		}
		if node, err := store.GetNode(ctx, result.NodeID); err == nil && node != nil {
			return node, nil
		}
	}

	return nil, fmt.Errorf("class '%s' not found", name)
}

func handleClassInfo(store StorageBackend, className string) (string, error) {
	if className == "" {
		return "No class provided", nil
	}

	class, err := resolveClass(store, className)
	if err != nil {
		return fmt.Sprintf("Class '%s' not found in the analyzed tree", className), nil
	}

	ctx := context.Background()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", class.QualifiedName))
	sb.WriteString(fmt.Sprintf("File: %s:%d\n", class.FilePath, class.StartLine))
	if class.Docstring != "" {
		sb.WriteString(fmt.Sprintf("\n%s\n", class.Docstring))
	}

	bases, _ := store.GetBases(ctx, class.ID)
	if len(bases) > 0 {
		sb.WriteString(fmt.Sprintf("\n## Inherits From (%d)\n", len(bases)))
		for _, b := range bases {
			sb.WriteString(fmt.Sprintf("- %s\n", b.QualifiedName))
		}
	}
	for _, declared := range class.DeclaredBases {
		if !baseResolved(bases, declared) {
			sb.WriteString(fmt.Sprintf("- %s (unresolved)\n", declared))
		}
	}

	subs, _ := store.GetSubclasses(ctx, class.ID)
	if len(subs) > 0 {
		sb.WriteString(fmt.Sprintf("\n## Subclasses (%d)\n", len(subs)))
		for _, s := range subs {
			sb.WriteString(fmt.Sprintf("- %s\n", s.QualifiedName))
		}
	}

	methods, _ := store.GetMembers(ctx, class.ID, string(graph.RelHasMethod))
	if len(methods) > 0 {
		sb.WriteString(fmt.Sprintf("\n## Methods (%d)\n", len(methods)))
		for _, m := range methods {
			sb.WriteString(fmt.Sprintf("- %s\n", m.Signature))
		}
	}

	attrs, _ := store.GetMembers(ctx, class.ID, string(graph.RelHasAttribute))
	if len(attrs) > 0 {
		sb.WriteString(fmt.Sprintf("\n## Attributes (%d)\n", len(attrs)))
		for _, a := range attrs {
			line := a.Name
			if a.Annotation != "" {
				line += ": " + a.Annotation
			}
			sb.WriteString(fmt.Sprintf("- %s\n", line))
		}
	}

	sb.WriteString("\nNext: Use `dendrite_hierarchy` to walk this class's ancestors or descendants.")

	return sb.String(), nil
}

// baseResolved reports whether a declared base text matches one of the
// resolved base nodes by name or qualified name.
func baseResolved(bases []*graph.GraphNode, declared string) bool {
	for _, b := range bases {
		if b.Name == declared || b.QualifiedName == declared {
			return true
		}
		if i := strings.LastIndex(declared, "."); i >= 0 && b.Name == declared[i+1:] {
			return true
		}
	}
	return false
}

func handleHierarchy(store StorageBackend, className, direction string, depth int) (string, error) {
	if className == "" {
		return "No class provided", nil
	}
	if direction != storage.DirectionAncestors {
		direction = storage.DirectionDescendants
	}

	class, err := resolveClass(store, className)
	if err != nil {
		return fmt.Sprintf("Class '%s' not found in the analyzed tree", className), nil
	}

	related, _ := store.TraverseHierarchy(context.Background(), class.ID, depth, direction)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Hierarchy for **%s** (%s, depth %d)\n\n", class.QualifiedName, direction, depth))

	if len(related) == 0 {
		if direction == storage.DirectionAncestors {
			sb.WriteString("No resolved base classes.\n")
		} else {
			sb.WriteString("No subclasses in the analyzed tree.\n")
		}
		return sb.String(), nil
	}

	sb.WriteString(fmt.Sprintf("## Related Classes (%d)\n\n", len(related)))
	for _, node := range related {
		sb.WriteString(fmt.Sprintf("- %s in %s\n", node.QualifiedName, node.FilePath))
	}

	return sb.String(), nil
}

func handleModules(store StorageBackend) (string, error) {
	classes := store.GetNodesByLabel(context.Background(), string(graph.NodeClass))

	counts := make(map[string]int)
	for _, class := range classes {
		counts[class.ModulePath]++
	}
	modules := make([]string, 0, len(counts))
	for m := range counts {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var sb strings.Builder
	sb.WriteString("## Analyzed Modules\n\n")
	if len(modules) == 0 {
		sb.WriteString("No classes indexed yet. Run `dendrite generate` first.\n")
		return sb.String(), nil
	}

	for _, m := range modules {
		label := m
		if label == "" {
			label = "(root)"
		}
		sb.WriteString(fmt.Sprintf("- `%s`: %d classes\n", label, counts[m]))
	}

	return sb.String(), nil
}

func handleDiagnostics(diagnostics []graph.Diagnostic) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Diagnostics\n\n")

	if len(diagnostics) == 0 {
		sb.WriteString("No diagnostics recorded by the last run.\n")
		return sb.String(), nil
	}

	byKind := make(map[graph.DiagnosticKind][]graph.Diagnostic)
	for _, d := range diagnostics {
		byKind[d.Kind] = append(byKind[d.Kind], d)
	}

	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		group := byKind[graph.DiagnosticKind(kind)]
		sb.WriteString(fmt.Sprintf("### %s (%d)\n", kind, len(group)))
		for _, d := range group {
			sb.WriteString(fmt.Sprintf("- %s\n", d.String()))
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// Resource Handlers

func getOverview(store StorageBackend) string {
	classes := store.GetNodesByLabel(context.Background(), string(graph.NodeClass))

	var sb strings.Builder
	sb.WriteString("# Dendrite Class Graph Overview\n\n")
	sb.WriteString(fmt.Sprintf("**Nodes:** %d\n", store.NodeCount()))
	sb.WriteString(fmt.Sprintf("**Relationships:** %d\n", store.RelationshipCount()))
	sb.WriteString(fmt.Sprintf("**Classes:** %d\n", len(classes)))
	sb.WriteString("\n## Node Types\n\n")
	sb.WriteString("- Class: Python class definitions\n")
	sb.WriteString("- Method: Functions defined directly in a class body\n")
	sb.WriteString("- Attribute: Class-body assignments and self attributes from initializers\n")
	sb.WriteString("\n## Relationship Types\n\n")
	sb.WriteString("- has_method: Class owns a method\n")
	sb.WriteString("- has_attribute: Class owns an attribute\n")
	sb.WriteString("- inherits_from: Class inherits from a resolved base\n")

	return sb.String()
}

func getClassIndex(store StorageBackend) string {
	classes := store.GetNodesByLabel(context.Background(), string(graph.NodeClass))

	byModule := make(map[string][]string)
	for _, class := range classes {
		byModule[class.ModulePath] = append(byModule[class.ModulePath], class.QualifiedName)
	}
	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var sb strings.Builder
	sb.WriteString("# Class Index\n\n")
	for _, m := range modules {
		label := m
		if label == "" {
			label = "(root)"
		}
		sb.WriteString(fmt.Sprintf("## %s\n", label))
		names := byModule[m]
		sort.Strings(names)
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("- %s\n", name))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getSchema() string {
	var sb strings.Builder
	sb.WriteString("# Dendrite Class Graph Schema\n\n")
	sb.WriteString("## Node Labels\n\n")
	sb.WriteString("| Label | Description | Key Properties |\n")
	sb.WriteString("|-------|-------------|----------------|\n")
	sb.WriteString("| `class` | Python class | qualified_name, module_path, docstring, declared_bases |\n")
	sb.WriteString("| `method` | Method | name, signature, returns, complexity |\n")
	sb.WriteString("| `attribute` | Attribute | name, annotation, default |\n")
	sb.WriteString("\n## Relationship Types\n\n")
	sb.WriteString("| Type | Source → Target | Properties |\n")
	sb.WriteString("|------|-----------------|------------|\n")
	sb.WriteString("| `has_method` | Class → Method | - |\n")
	sb.WriteString("| `has_attribute` | Class → Attribute | - |\n")
	sb.WriteString("| `inherits_from` | Class → Class | declared_as |\n")

	return sb.String()
}

// Helper functions

func errorResponse(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

// registerTools registers tools with the MCP server.
func (s *Server) registerTools() {
	// Tools are handled via ListTools and CallTool
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	// Resources are handled via ListResources and ReadResource
}
