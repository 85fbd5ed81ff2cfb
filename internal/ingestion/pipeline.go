package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/dendrite-docs/dendrite/internal/embeddings"
	"github.com/dendrite-docs/dendrite/internal/graph"
	"github.com/dendrite-docs/dendrite/internal/parsers"
	"github.com/dendrite-docs/dendrite/internal/render"
	"github.com/dendrite-docs/dendrite/internal/storage"
)

// RunResult summarizes a pipeline run.
type RunResult struct {
	Files         int
	Classes       int
	Methods       int
	Attributes    int
	Relationships int
	Documents     int
	DurationSecs  float64
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// RunPipeline runs the full analysis pipeline: walk the tree, extract class
// structure from every Python file, assemble the graph, render the document
// tree, and load the graph into storage.
//
// writer and store may each be nil to skip rendering or persistence. jobs
// bounds the extraction and rendering worker count; values below one mean
// one worker per CPU. Recoverable problems (unparseable files, unresolved
// bases, name collisions, failed document writes) end up in the returned
// report, not in the error.
func RunPipeline(
	ctx context.Context,
	repoPath string,
	writer render.Writer,
	store storage.StorageBackend,
	jobs int,
	progress ProgressCallback,
) (*graph.KnowledgeGraph, *RunResult, *graph.Report, error) {
	started := time.Now()
	result := &RunResult{}
	report := graph.NewReport()

	// Phase 1: File walking
	if progress != nil {
		progress("Walking files", 0.0)
	}
	patterns, _ := loadGitignore(repoPath)
	entries, err := WalkRepo(repoPath, patterns)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("walking repo: %w", err)
	}
	result.Files = len(entries)
	if progress != nil {
		progress("Walking files", 1.0)
	}

	// Phase 2: Structure extraction
	if progress != nil {
		progress("Extracting classes", 0.0)
	}
	descriptors, err := ExtractStructures(ctx, entries, jobs, report)
	if err != nil {
		return nil, nil, nil, err
	}
	if progress != nil {
		progress("Extracting classes", 1.0)
	}

	// Phase 3: Graph assembly
	if progress != nil {
		progress("Assembling graph", 0.0)
	}
	g := BuildGraph(descriptors, report)
	if progress != nil {
		progress("Assembling graph", 1.0)
	}

	// Phase 4: Rendering
	if writer != nil {
		if progress != nil {
			progress("Rendering documents", 0.0)
		}
		result.Documents = RenderDocuments(g, writer, jobs, report)
		if progress != nil {
			progress("Rendering documents", 1.0)
		}
	}

	// Phase 5: Embeddings and storage
	if store != nil {
		if progress != nil {
			progress("Generating embeddings", 0.0)
		}
		if err := GenerateAndStoreEmbeddings(ctx, g, store); err != nil {
			fmt.Printf("Warning: embedding generation failed: %v\n", err)
		}
		if progress != nil {
			progress("Generating embeddings", 1.0)
		}

		if progress != nil {
			progress("Loading to storage", 0.0)
		}
		if err := store.BulkLoad(ctx, g); err != nil {
			return nil, nil, nil, fmt.Errorf("bulk load: %w", err)
		}
		if progress != nil {
			progress("Loading to storage", 1.0)
		}
	}

	result.Classes = g.CountNodesByLabel(graph.NodeClass)
	result.Methods = g.CountNodesByLabel(graph.NodeMethod)
	result.Attributes = g.CountNodesByLabel(graph.NodeAttribute)
	result.Relationships = g.RelationshipCount()
	result.DurationSecs = time.Since(started).Seconds()

	return g, result, report, nil
}

// ExtractStructures parses every entry and collects the class descriptors
// in walk order. Files are parsed by a bounded worker pool; each worker
// writes into its own slot of the results slice, so no merging lock is
// needed and the output order never depends on scheduling. Files that fail
// to parse are recorded in the report and skipped.
func ExtractStructures(ctx context.Context, entries []FileEntry, jobs int, report *graph.Report) ([]parsers.ClassDescriptor, error) {
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	if jobs > len(entries) {
		jobs = len(entries)
	}

	results := make([]*parsers.ParseResult, len(entries))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parser := parsers.NewPythonParser()
			for i := range indexes {
				entry := entries[i]
				result, err := parser.Parse(entry.ModulePath, entry.RelPath, entry.Content)
				if err != nil {
					var perr *parsers.ParseError
					if errors.As(err, &perr) {
						report.AddParseError(perr.FilePath, perr.Message)
					} else {
						report.AddParseError(entry.RelPath, err.Error())
					}
					continue
				}
				results[i] = result
			}
		}()
	}

	var ctxErr error
feed:
	for i := range entries {
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	if ctxErr != nil {
		return nil, ctxErr
	}

	var descriptors []parsers.ClassDescriptor
	for _, result := range results {
		if result == nil {
			continue
		}
		descriptors = append(descriptors, result.Classes...)
	}
	return descriptors, nil
}

// RenderDocuments writes one markdown page per class plus the index and
// root documents, and returns how many documents were written. The writer
// is reset first so the destination ends up holding exactly this run's
// documents. Class pages render in parallel; a page that fails to write is
// recorded in the report and the run carries on with the remaining
// documents.
func RenderDocuments(g *graph.KnowledgeGraph, writer render.Writer, jobs int, report *graph.Report) int {
	if err := writer.Reset(); err != nil {
		report.AddOutputWriteError("", fmt.Sprintf("clearing previous documents: %v", err))
	}

	renderer := render.NewRenderer(g)
	classes := renderer.ClassNodes()

	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	if jobs > len(classes) {
		jobs = len(classes)
	}

	var written int
	var mu sync.Mutex
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				class := classes[i]
				name := render.DocID(class.QualifiedName)
				if err := writer.Write(name, renderer.RenderClass(class)); err != nil {
					report.AddOutputWriteError(name, err.Error())
					continue
				}
				mu.Lock()
				written++
				mu.Unlock()
			}
		}()
	}
	for i := range classes {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	if err := writer.Write(render.IndexDoc, renderer.RenderIndex()); err != nil {
		report.AddOutputWriteError(render.IndexDoc, err.Error())
	} else {
		written++
	}
	if err := writer.Write(render.RootDoc, renderer.RenderRoot()); err != nil {
		report.AddOutputWriteError(render.RootDoc, err.Error())
	} else {
		written++
	}

	return written
}

// GenerateAndStoreEmbeddings generates TF-IDF embeddings for all nodes and
// stores them. Nodes are embedded in ID order; the embedder's vocabulary
// depends on document order, so this keeps vectors stable across runs.
func GenerateAndStoreEmbeddings(ctx context.Context, g *graph.KnowledgeGraph, store storage.StorageBackend) error {
	var nodes []*graph.GraphNode
	for node := range g.IterNodes() {
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		return nil
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	embedder := embeddings.NewTFIDFEmbedder()
	embeddingList := embedder.EmbedNodes(nodes)

	storageEmbeddings := make([]storage.NodeEmbedding, len(nodes))
	for i, node := range nodes {
		storageEmbeddings[i] = storage.NodeEmbedding{
			NodeID:    node.ID,
			Embedding: embeddingList[i],
		}
	}
	return store.StoreEmbeddings(ctx, storageEmbeddings)
}
