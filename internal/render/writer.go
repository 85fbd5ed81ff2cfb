// Package render turns the assembled class graph into a markdown document
// tree: one page per class, a class index, and a root page. Rendering reads
// the graph only, so pages for different classes can be produced in
// parallel.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Writer receives rendered documents by file name. Implementations must be
// safe for concurrent use. Reset discards documents from a previous run so
// the destination holds exactly the documents written afterwards.
type Writer interface {
	Write(name string, content []byte) error
	Reset() error
}

// DirWriter writes documents into a directory on disk.
type DirWriter struct {
	dir string
}

// NewDirWriter creates the output directory if needed.
func NewDirWriter(dir string) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &DirWriter{dir: dir}, nil
}

// Reset removes markdown files left over from a previous run so the
// directory ends up containing exactly the documents of this run. Files
// that are not markdown are left alone.
func (w *DirWriter) Reset() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove stale document: %w", err)
		}
	}
	return nil
}

func (w *DirWriter) Write(name string, content []byte) error {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Dir returns the output directory path.
func (w *DirWriter) Dir() string {
	return w.dir
}

// MemoryWriter collects documents in memory. Used by tests and by the MCP
// server to serve rendered pages without touching disk.
type MemoryWriter struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{docs: make(map[string][]byte)}
}

func (w *MemoryWriter) Write(name string, content []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs[name] = content
	return nil
}

// Reset discards all stored documents.
func (w *MemoryWriter) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs = make(map[string][]byte)
	return nil
}

// Get returns a stored document and whether it exists.
func (w *MemoryWriter) Get(name string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.docs[name]
	return doc, ok
}

// Names returns the stored document names in lexicographic order.
func (w *MemoryWriter) Names() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.docs))
	for name := range w.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored documents.
func (w *MemoryWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.docs)
}
