package graph

import (
	"fmt"
	"sort"
	"sync"
)

// DiagnosticKind classifies a recoverable condition encountered during a run.
type DiagnosticKind string

const (
	// DiagParseError marks a file whose source could not be parsed. The file
	// contributes no descriptors; the run continues.
	DiagParseError DiagnosticKind = "parse_error"

	// DiagUnresolvedBase marks a declared base class that matched no class
	// known to the assembled graph. No edge is created.
	DiagUnresolvedBase DiagnosticKind = "unresolved_base"

	// DiagNameCollision marks an ambiguous unqualified base match resolved
	// by the deterministic first-encountered tie-break.
	DiagNameCollision DiagnosticKind = "name_collision"

	// DiagOutputWrite marks a document that could not be written. Fatal for
	// that document only; remaining documents are still written.
	DiagOutputWrite DiagnosticKind = "output_write_error"
)

// Diagnostic records one recoverable condition. FilePath is set for parse
// and write errors, Class and Base for resolution warnings.
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind"`
	FilePath string         `json:"file_path,omitempty"`
	Class    string         `json:"class,omitempty"`
	Base     string         `json:"base,omitempty"`
	Message  string         `json:"message"`
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case DiagParseError, DiagOutputWrite:
		return fmt.Sprintf("[%s] %s: %s", d.Kind, d.FilePath, d.Message)
	default:
		return fmt.Sprintf("[%s] %s (base %q): %s", d.Kind, d.Class, d.Base, d.Message)
	}
}

// Report accumulates diagnostics across all pipeline phases. Safe for
// concurrent use; extraction workers append to it in parallel.
type Report struct {
	mu          sync.Mutex
	diagnostics []Diagnostic
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{}
}

// Add appends a diagnostic to the report.
func (r *Report) Add(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, d)
}

// AddParseError records a parse failure for a file.
func (r *Report) AddParseError(filePath, message string) {
	r.Add(Diagnostic{Kind: DiagParseError, FilePath: filePath, Message: message})
}

// AddUnresolvedBase records a base name that resolved to no known class.
func (r *Report) AddUnresolvedBase(class, base, message string) {
	r.Add(Diagnostic{Kind: DiagUnresolvedBase, Class: class, Base: base, Message: message})
}

// AddNameCollision records an ambiguous base match and its chosen winner.
func (r *Report) AddNameCollision(class, base, message string) {
	r.Add(Diagnostic{Kind: DiagNameCollision, Class: class, Base: base, Message: message})
}

// AddOutputWriteError records a failed document write.
func (r *Report) AddOutputWriteError(filePath, message string) {
	r.Add(Diagnostic{Kind: DiagOutputWrite, FilePath: filePath, Message: message})
}

// All returns every diagnostic in a stable order: by kind, then file, then
// class, then base. The order is reproducible across runs regardless of how
// many workers contributed.
func (r *Report) All() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Diagnostic, len(r.diagnostics))
	copy(out, r.diagnostics)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Base < out[j].Base
	})
	return out
}

// ByKind returns the diagnostics of one kind, in the same stable order as All.
func (r *Report) ByKind(kind DiagnosticKind) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.All() {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the total number of diagnostics.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diagnostics)
}

// Counts returns the number of diagnostics per kind.
func (r *Report) Counts() map[DiagnosticKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[DiagnosticKind]int)
	for _, d := range r.diagnostics {
		counts[d.Kind]++
	}
	return counts
}
