package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/dendrite-docs/dendrite/internal/render"
	"github.com/dendrite-docs/dendrite/internal/storage"
)

// debounceWindow batches filesystem events before a re-run.
const debounceWindow = 2 * time.Second

// WatchRepo monitors a repository and re-runs the full pipeline whenever
// Python files change. A full re-run keeps cross-file content (inheritance
// links, subclass lists, the index) correct without incremental bookkeeping:
// every run rebuilds the same documents the batch would have produced from
// scratch. Blocks until the context is cancelled.
func WatchRepo(ctx context.Context, repoPath, outDir string, writer render.Writer, store storage.StorageBackend, jobs int) error {
	matcher, err := loadGitignoreMatcher(repoPath)
	if err != nil {
		matcher = nil // continue without gitignore
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	absOut, _ := filepath.Abs(outDir)

	err = filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if shouldSkipDir(info.Name(), path, repoPath, matcher) || isUnder(path, absOut) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	pending := 0
	debounce := time.NewTimer(debounceWindow)
	debounce.Stop()

	fmt.Printf("Watching %s for changes (Ctrl+C to stop)\n", repoPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isUnder(event.Name, absOut) || !shouldWatchFile(event.Name, repoPath, matcher) {
				continue
			}
			pending++
			debounce.Reset(debounceWindow)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)

		case <-debounce.C:
			if pending == 0 {
				continue
			}
			fmt.Printf("Changes detected, regenerating...\n")
			_, result, report, err := RunPipeline(ctx, repoPath, writer, store, jobs, nil)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintf(os.Stderr, "Regeneration failed: %v\n", err)
			} else {
				fmt.Printf("  %d classes, %d documents", result.Classes, result.Documents)
				if n := report.Len(); n > 0 {
					fmt.Printf(", %d diagnostics", n)
				}
				fmt.Println()
			}
			pending = 0
		}
	}
}

// shouldWatchFile checks if a change to this path warrants a re-run.
func shouldWatchFile(path string, repoPath string, matcher gitignore.Matcher) bool {
	relPath, err := filepath.Rel(repoPath, path)
	if err != nil {
		return false
	}
	if matcher != nil {
		pathParts := strings.Split(relPath, string(filepath.Separator))
		if matcher.Match(pathParts, false) {
			return false
		}
	}
	return getLanguage(path) != ""
}

// isUnder reports whether path lies inside dir.
func isUnder(path, dir string) bool {
	if dir == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// loadGitignoreMatcher loads a gitignore matcher from the repository root.
func loadGitignoreMatcher(repoPath string) (gitignore.Matcher, error) {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(gitignorePath)
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return gitignore.NewMatcher(patterns), nil
}
