// Package ingestion provides the analysis pipeline for dendrite: file
// discovery, parallel structure extraction, graph assembly, rendering, and
// the derived insights.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// FileEntry represents a source file to be analyzed.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the analysis root.
	RelPath string

	// ModulePath is the dotted module path derived from RelPath
	// (models/animal.py -> models.animal, pkg/__init__.py -> pkg).
	ModulePath string

	// Language is the detected source language.
	Language string

	// Content is the file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string

	// IsDir indicates if this is a directory.
	IsDir bool
}

// Supported file extensions and their languages.
var supportedExtensions = map[string]string{
	".py": "python",
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	".dendrite/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".eggs/",
	"*.egg-info/",
	".pytest_cache/",
	".mypy_cache/",
	"node_modules/",
	"coverage/",
	"htmlcov/",
	".coverage",
	"*.pyc",
	"*.pyo",
	"*.pyd",
	".DS_Store",
	"Thumbs.db",
}

// WalkRepo walks the source tree and returns all supported files.
// filepath.WalkDir visits entries in lexical order, so the returned sequence
// is deterministic for an unchanged tree.
func WalkRepo(repoPath string, patterns []gitignore.Pattern) ([]FileEntry, error) {
	var entries []FileEntry

	// Combine default patterns with loaded patterns
	allPatterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		allPatterns = append(allPatterns, gitignore.ParsePattern(p, nil))
	}
	allPatterns = append(allPatterns, patterns...)

	matcher := gitignore.NewMatcher(allPatterns)

	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if shouldSkipDir(d.Name(), path, repoPath, matcher) {
				return filepath.SkipDir
			}
			return nil
		}

		if !isSupportedFile(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}

		// Check gitignore patterns
		pathParts := splitPath(relPath)
		if matcher.Match(pathParts, false) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		hash := sha256.Sum256(content)

		entries = append(entries, FileEntry{
			Path:       path,
			RelPath:    relPath,
			ModulePath: ModulePathFor(relPath),
			Language:   getLanguage(d.Name()),
			Content:    content,
			SHA256:     hex.EncodeToString(hash[:]),
			IsDir:      false,
		})

		return nil
	})

	return entries, err
}

// ModulePathFor derives the dotted module path for a source file path
// relative to the analysis root. An __init__.py maps to its package path;
// an __init__.py at the root maps to the empty module path.
func ModulePathFor(relPath string) string {
	p := filepath.ToSlash(relPath)
	p = strings.TrimSuffix(p, filepath.Ext(p))
	if base := "__init__"; p == base || strings.HasSuffix(p, "/"+base) {
		p = strings.TrimSuffix(p, base)
		p = strings.TrimSuffix(p, "/")
	}
	return strings.ReplaceAll(p, "/", ".")
}

// loadGitignore loads .gitignore patterns from the analysis root.
func loadGitignore(repoPath string) ([]gitignore.Pattern, error) {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(gitignorePath)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(content), "\n")
	var patterns []gitignore.Pattern

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	return patterns, nil
}

// isSupportedFile checks if a file has a supported extension.
func isSupportedFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := supportedExtensions[ext]
	return ok
}

// getLanguage returns the language for a file extension.
func getLanguage(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return supportedExtensions[ext]
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, path, repoRoot string, matcher gitignore.Matcher) bool {
	if name == ".git" {
		return true
	}

	relPath, err := filepath.Rel(repoRoot, path)
	if err != nil {
		return false
	}

	pathParts := splitPath(relPath)
	return matcher.Match(pathParts, true)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
