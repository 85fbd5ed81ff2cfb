// Package cmd provides CLI command implementations for dendrite.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/dendrite-docs/dendrite/internal/embeddings"
	"github.com/dendrite-docs/dendrite/internal/graph"
	"github.com/dendrite-docs/dendrite/internal/ingestion"
	"github.com/dendrite-docs/dendrite/internal/render"
	"github.com/dendrite-docs/dendrite/internal/storage"
	"github.com/dendrite-docs/dendrite/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// runReport is the machine-readable record of one generate run. It is
// persisted under .dendrite and optionally copied to the --report path.
type runReport struct {
	Version     string               `json:"version"`
	Path        string               `json:"path"`
	GeneratedAt string               `json:"generated_at"`
	Stats       *ingestion.RunResult `json:"stats"`
	Diagnostics []graph.Diagnostic   `json:"diagnostics"`
	Insights    []ingestion.Insight  `json:"insights,omitempty"`
}

// GenerateCmd analyzes a source tree and generates the class document set.
type GenerateCmd struct {
	Path    string `arg:"" optional:"" default:"." help:"Path to the source tree"`
	Out     string `help:"Output directory for documents (default: MD inside the source tree)"`
	Report  string `help:"Write the JSON run report to this path"`
	NoCache bool   `help:"Skip the graph cache and embeddings"`
	Jobs    int    `help:"Worker count for extraction and rendering (0 = one per CPU)"`
}

// Run executes the generate command.
func (c *GenerateCmd) Run() error {
	ctx := context.Background()
	repoPath, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(repoPath)
	if err != nil {
		return fmt.Errorf("accessing %s: %w", repoPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", repoPath)
	}

	outDir := c.Out
	if outDir == "" {
		outDir = filepath.Join(repoPath, "MD")
	}

	color.Green("Analyzing %s", repoPath)

	writer, err := render.NewDirWriter(outDir)
	if err != nil {
		return fmt.Errorf("preparing output directory: %w", err)
	}

	// Create .dendrite directory
	cacheDir := filepath.Join(repoPath, ".dendrite")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating .dendrite directory: %w", err)
	}

	var store storage.StorageBackend
	if !c.NoCache {
		backend := storage.NewBadgerBackend()
		if err := backend.Initialize(filepath.Join(cacheDir, "graph"), false); err != nil {
			return fmt.Errorf("initializing storage: %w", err)
		}
		defer func() { _ = backend.Close() }()
		store = backend
	}

	progress := func(phase string, pct float64) {
		fmt.Printf("\r\033[K%s (%.0f%%)", phase, pct*100)
	}

	g, result, report, err := ingestion.RunPipeline(ctx, repoPath, writer, store, c.Jobs, progress)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	fmt.Println() // Newline after progress

	insights := ingestion.AnalyzeGraph(g)
	insights = append(insights, ingestion.AnalyzeCoChange(g, repoPath)...)

	if err := writeRunMetadata(cacheDir, repoPath, result); err != nil {
		return err
	}

	doc := &runReport{
		Version:     Version,
		Path:        repoPath,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Stats:       result,
		Diagnostics: report.All(),
		Insights:    insights,
	}
	if err := writeRunReport(filepath.Join(cacheDir, "report.json"), doc); err != nil {
		return err
	}
	if c.Report != "" {
		if err := writeRunReport(c.Report, doc); err != nil {
			return err
		}
	}

	// Print summary
	color.Green("\n✓ Generation complete")
	fmt.Printf("  Files:          %d\n", result.Files)
	fmt.Printf("  Classes:        %d\n", result.Classes)
	fmt.Printf("  Methods:        %d\n", result.Methods)
	fmt.Printf("  Attributes:     %d\n", result.Attributes)
	fmt.Printf("  Relationships:  %d\n", result.Relationships)
	fmt.Printf("  Documents:      %d\n", result.Documents)
	fmt.Printf("  Duration:       %.2fs\n", result.DurationSecs)

	if report.Len() > 0 {
		color.Yellow("\n%d diagnostics:", report.Len())
		for _, d := range report.All() {
			fmt.Printf("  - %s\n", d)
		}
	}

	return nil
}

func writeRunMetadata(cacheDir, repoPath string, result *ingestion.RunResult) error {
	meta := map[string]any{
		"version":    Version,
		"name":       filepath.Base(repoPath),
		"path":       repoPath,
		"stats":      result,
		"indexed_at": time.Now().UTC().Format(time.RFC3339),
	}

	metaJSON, _ := json.MarshalIndent(meta, "", "  ")
	metaPath := filepath.Join(cacheDir, "meta.json")
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		return fmt.Errorf("writing meta.json: %w", err)
	}
	return nil
}

func writeRunReport(path string, doc *runReport) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// SearchCmd searches the cached class graph.
type SearchCmd struct {
	Query    string `arg:"" help:"Search query"`
	Limit    int    `short:"n" default:"20" help:"Maximum results"`
	Semantic bool   `help:"Fuse full-text and vector rankings"`
}

// Run executes the search command.
func (c *SearchCmd) Run() error {
	ctx := context.Background()
	store, err := loadStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if c.Semantic {
		results, err := store.HybridSearch(ctx, c.Query, buildQueryVector(ctx, store, c.Query), c.Limit)
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("No results found")
			return nil
		}
		for i, r := range results {
			printSearchHit(i, r.QualifiedName, r.Label, r.FilePath, r.Score, r.Snippet)
		}
		return nil
	}

	results, err := store.FTSSearch(ctx, c.Query, c.Limit)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	for i, r := range results {
		printSearchHit(i, r.QualifiedName, r.Label, r.FilePath, r.Score, r.Snippet)
	}

	return nil
}

func printSearchHit(i int, qualifiedName, label, filePath string, score float64, snippet string) {
	fmt.Printf("\n%d. %s (%s)\n", i+1, qualifiedName, label)
	fmt.Printf("   File: %s\n", filePath)
	fmt.Printf("   Score: %.3f\n", score)
	if snippet != "" {
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		fmt.Printf("   %s\n", snippet)
	}
}

// buildQueryVector embeds the query in the same vector space as the stored
// node embeddings by rebuilding the corpus vocabulary from the cached
// nodes, in the same ID order the pipeline used. Returns nil when the cache
// holds no nodes; hybrid search then falls back to full-text ranking.
func buildQueryVector(ctx context.Context, store *storage.BadgerBackend, query string) []float32 {
	var nodes []*graph.GraphNode
	for _, label := range []graph.NodeLabel{graph.NodeClass, graph.NodeMethod, graph.NodeAttribute} {
		nodes = append(nodes, store.GetNodesByLabel(ctx, string(label))...)
	}
	if len(nodes) == 0 {
		return nil
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	docs := make([]string, 0, len(nodes))
	for _, node := range nodes {
		docs = append(docs, embeddings.GenerateEmbeddingText(node))
	}

	embedder := embeddings.NewTFIDFEmbedder()
	embedder.BuildVocabulary(docs)
	embedder.ComputeIDF(docs)
	return embedder.Embed(query)
}

// InfoCmd shows the full picture of one class.
type InfoCmd struct {
	Class string `arg:"" help:"Class name, qualified or unqualified"`
}

// Run executes the info command.
func (c *InfoCmd) Run() error {
	store, err := loadStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	class, err := storage.FindClass(ctx, store, c.Class)
	if err != nil {
		return err
	}
	if class == nil {
		fmt.Printf("Class '%s' not found in the analyzed tree.\n", c.Class)
		return nil
	}

	fmt.Printf("## %s\n\n", class.QualifiedName)
	module := class.ModulePath
	if module == "" {
		module = "(root)"
	}
	fmt.Printf("**Module:** %s\n", module)
	fmt.Printf("**File:** %s\n", class.FilePath)
	if class.StartLine > 0 && class.EndLine > 0 {
		fmt.Printf("**Lines:** %d-%d\n", class.StartLine, class.EndLine)
	}
	if class.Docstring != "" {
		fmt.Printf("\n%s\n", class.Docstring)
	}
	fmt.Println()

	bases, err := store.GetBases(ctx, class.ID)
	if err != nil {
		return err
	}
	unresolved := unresolvedBases(class, bases)
	if len(bases) > 0 || len(unresolved) > 0 {
		fmt.Printf("### Bases (%d)\n", len(bases)+len(unresolved))
		for _, b := range bases {
			fmt.Printf("- %s in %s\n", b.QualifiedName, b.FilePath)
		}
		for _, name := range unresolved {
			fmt.Printf("- %s (unresolved)\n", name)
		}
	} else {
		fmt.Println("### Bases")
		fmt.Println("None")
	}
	fmt.Println()

	subs, err := store.GetSubclasses(ctx, class.ID)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		fmt.Printf("### Subclasses (%d)\n", len(subs))
		for _, s := range subs {
			fmt.Printf("- %s in %s\n", s.QualifiedName, s.FilePath)
		}
	} else {
		fmt.Println("### Subclasses")
		fmt.Println("None")
	}
	fmt.Println()

	methods, err := store.GetMembers(ctx, class.ID, string(graph.RelHasMethod))
	if err != nil {
		return err
	}
	if len(methods) > 0 {
		fmt.Printf("### Methods (%d)\n", len(methods))
		for _, m := range methods {
			fmt.Printf("- %s\n", m.Signature)
		}
		fmt.Println()
	}

	attrs, err := store.GetMembers(ctx, class.ID, string(graph.RelHasAttribute))
	if err != nil {
		return err
	}
	if len(attrs) > 0 {
		fmt.Printf("### Attributes (%d)\n", len(attrs))
		for _, a := range attrs {
			line := a.Name
			if a.Annotation != "" {
				line += ": " + a.Annotation
			}
			if a.Default != "" {
				line += " = " + a.Default
			}
			fmt.Printf("- %s\n", line)
		}
		fmt.Println()
	}

	fmt.Println("Next: Use `dendrite search` to find related classes.")

	return nil
}

// unresolvedBases returns the declared bases that match none of the
// resolved base nodes.
func unresolvedBases(class *graph.GraphNode, bases []*graph.GraphNode) []string {
	var out []string
	for _, declared := range class.DeclaredBases {
		resolved := false
		for _, b := range bases {
			if b.Name == declared || b.QualifiedName == declared {
				resolved = true
				break
			}
			if i := strings.LastIndex(declared, "."); i >= 0 && b.Name == declared[i+1:] {
				resolved = true
				break
			}
		}
		if !resolved {
			out = append(out, declared)
		}
	}
	return out
}

// InsightsCmd reports structural findings for the analyzed tree.
type InsightsCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Path to the source tree"`
}

// Run executes the insights command.
func (c *InsightsCmd) Run() error {
	ctx := context.Background()
	repoPath, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	g, err := loadOrAnalyze(ctx, repoPath)
	if err != nil {
		return err
	}

	insights := ingestion.AnalyzeGraph(g)
	insights = append(insights, ingestion.AnalyzeCoChange(g, repoPath)...)

	fmt.Println("## Insights")
	fmt.Println()

	if len(insights) == 0 {
		fmt.Println("No findings. The class structure looks unremarkable.")
	}

	for _, insight := range insights {
		if insight.Severity == ingestion.SeverityWarning {
			color.Yellow("⚠ %s", insight.Title)
		} else {
			fmt.Printf("• %s\n", insight.Title)
		}
		fmt.Printf("  %s\n", insight.Detail)
		if len(insight.Classes) > 0 {
			fmt.Printf("  Classes: %s\n", strings.Join(insight.Classes, ", "))
		}
		fmt.Println()
	}

	if report := loadRunReport(repoPath); report != nil && len(report.Diagnostics) > 0 {
		color.Yellow("%d diagnostics recorded by the last generate run. See .dendrite/report.json", len(report.Diagnostics))
	}

	return nil
}

// loadOrAnalyze returns the cached graph when a cache exists, otherwise
// analyzes the tree in place without writing anything.
func loadOrAnalyze(ctx context.Context, repoPath string) (*graph.KnowledgeGraph, error) {
	dbPath := filepath.Join(repoPath, ".dendrite", "graph")
	if _, err := os.Stat(dbPath); err == nil {
		store := storage.NewBadgerBackend()
		if err := store.Initialize(dbPath, true); err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		defer func() { _ = store.Close() }()
		return store.LoadGraph(ctx)
	}

	g, _, _, err := ingestion.RunPipeline(ctx, repoPath, nil, nil, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", repoPath, err)
	}
	return g, nil
}

// WatchCmd watches a source tree and regenerates documents on change.
type WatchCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Path to the source tree"`
	Out  string `help:"Output directory for documents (default: MD inside the source tree)"`
}

// Run executes the watch command.
func (c *WatchCmd) Run() error {
	repoPath, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	outDir := c.Out
	if outDir == "" {
		outDir = filepath.Join(repoPath, "MD")
	}

	writer, err := render.NewDirWriter(outDir)
	if err != nil {
		return fmt.Errorf("preparing output directory: %w", err)
	}

	cacheDir := filepath.Join(repoPath, ".dendrite")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating .dendrite directory: %w", err)
	}
	store := storage.NewBadgerBackend()
	if err := store.Initialize(filepath.Join(cacheDir, "graph"), false); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	fmt.Println("## Watch Mode")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle Ctrl+C
	go func() {
		<-osSignalChannel()
		fmt.Println("\nStopping watch mode...")
		cancel()
	}()

	err = ingestion.WatchRepo(ctx, repoPath, outDir, writer, store, 0)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Println("Watch mode stopped.")
	return nil
}

// MCPCmd starts the MCP server.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run() error {
	ctx := context.Background()
	store, err := loadStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	var diagnostics []graph.Diagnostic
	if report := loadRunReport(repoPath); report != nil {
		diagnostics = report.Diagnostics
	}

	server := mcp.NewServer(store, diagnostics)

	// Note: No output to stderr - MCP server uses stdio for JSON-RPC only
	return server.Run(ctx, os.Stdin, os.Stdout)
}

// SetupCmd writes MCP client configuration.
type SetupCmd struct {
	Client string `required:"" help:"MCP client to configure" enum:"cursor,claude,qwen"`
	Scope  string `default:"project" help:"Configuration scope" enum:"project,global"`
	Dir    string `help:"Base directory for project-scope config (default: current directory)"`
}

// Run executes the setup command.
func (c *SetupCmd) Run() error {
	configPath := clientConfigPath(c.Client, c.Scope, c.Dir)

	if err := writeClientConfig(configPath, mcpClientConfig()); err != nil {
		return err
	}

	color.Green("✓ Wrote %s MCP config to %s", c.Client, configPath)
	return nil
}

// mcpClientConfig is the server entry every supported client understands.
func mcpClientConfig() map[string]any {
	return map[string]any{
		"mcpServers": map[string]any{
			"dendrite": map[string]any{
				"command": "dendrite",
				"args":    []string{"mcp"},
			},
		},
	}
}

func clientConfigPath(client, scope, baseDir string) string {
	base := baseDir
	if scope == "global" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.Getenv("HOME")
		}
		base = home
	} else if base == "" {
		base = "."
	}

	fileName := "mcp.json"
	if client == "claude" {
		fileName = "settings.json"
	}

	return filepath.Join(base, "."+client, fileName)
}

func writeClientConfig(configPath string, config map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	content, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	content = append(content, '\n')

	if err := os.WriteFile(configPath, content, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// StatusCmd shows cache status for the current directory.
type StatusCmd struct{}

// Run executes the status command.
func (c *StatusCmd) Run() error {
	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	metaPath := filepath.Join(repoPath, ".dendrite", "meta.json")
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no cache found at %s. Run 'dendrite generate' first", repoPath)
		}
		return fmt.Errorf("reading meta.json: %w", err)
	}

	var meta struct {
		Version   string              `json:"version"`
		IndexedAt string              `json:"indexed_at"`
		Stats     ingestion.RunResult `json:"stats"`
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return fmt.Errorf("parsing meta.json: %w", err)
	}

	fmt.Printf("Cache status for %s\n", repoPath)
	fmt.Printf("  Version:        %s\n", meta.Version)
	fmt.Printf("  Last run:       %s\n", meta.IndexedAt)
	fmt.Printf("  Files:          %d\n", meta.Stats.Files)
	fmt.Printf("  Classes:        %d\n", meta.Stats.Classes)
	fmt.Printf("  Methods:        %d\n", meta.Stats.Methods)
	fmt.Printf("  Attributes:     %d\n", meta.Stats.Attributes)
	fmt.Printf("  Relationships:  %d\n", meta.Stats.Relationships)
	fmt.Printf("  Documents:      %d\n", meta.Stats.Documents)

	if report := loadRunReport(repoPath); report != nil && len(report.Diagnostics) > 0 {
		color.Yellow("  Diagnostics:    %d (see .dendrite/report.json)", len(report.Diagnostics))
	}

	return nil
}

// CleanCmd deletes the cache for the current directory.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run() error {
	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cacheDir := filepath.Join(repoPath, ".dendrite")
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		return fmt.Errorf("no cache found at %s. Nothing to clean", repoPath)
	}

	if !c.Force {
		fmt.Printf("Delete cache at %s? [y/N] ", cacheDir)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(cacheDir); err != nil {
		return fmt.Errorf("deleting cache: %w", err)
	}

	color.Green("Deleted %s", cacheDir)
	return nil
}

// Helper functions

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

func loadStorage() (*storage.BadgerBackend, error) {
	repoPath, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	dbPath := filepath.Join(repoPath, ".dendrite", "graph")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no cache found at %s. Run 'dendrite generate' first", repoPath)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dbPath, true); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	return store, nil
}

// loadRunReport reads the report persisted by the last generate run, or nil
// when no run has been recorded.
func loadRunReport(repoPath string) *runReport {
	data, err := os.ReadFile(filepath.Join(repoPath, ".dendrite", "report.json"))
	if err != nil {
		return nil
	}

	var report runReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil
	}
	return &report
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Verbose bool             `short:"v" help:"Enable verbose output"`
	Quiet   bool             `short:"q" help:"Suppress non-essential output"`

	// Commands
	Generate GenerateCmd `cmd:"" help:"Analyze a source tree and generate class documents"`
	Search   SearchCmd   `cmd:"" help:"Search the analyzed class graph"`
	Info     InfoCmd     `cmd:"" help:"Show the full picture of one class"`
	Insights InsightsCmd `cmd:"" help:"Report structural findings for the analyzed tree"`
	Watch    WatchCmd    `cmd:"" help:"Watch a source tree and regenerate on change"`
	MCP      MCPCmd      `cmd:"" help:"Start MCP server (stdio transport)"`
	Setup    SetupCmd    `cmd:"" help:"Write MCP client configuration"`
	Status   StatusCmd   `cmd:"" help:"Show cache status for the current directory"`
	Clean    CleanCmd    `cmd:"" help:"Delete the cache for the current directory"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	kongCtx := kong.Parse(c,
		kong.Name("dendrite"),
		kong.Description("Class documentation generator for Python source trees"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)

	return kongCtx.Run()
}
