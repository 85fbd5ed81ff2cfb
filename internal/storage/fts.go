package storage

import (
	"regexp"
	"strings"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

var (
	separatorRe = regexp.MustCompile(`[_\.\-\s\(\)\[\]:,=>]+`)
	camelRe     = regexp.MustCompile(`([a-z])([A-Z])`)
	alphaNumRe  = regexp.MustCompile(`([a-zA-Z])(\d)`)
	numAlphaRe  = regexp.MustCompile(`(\d)([a-zA-Z])`)
)

// tokenize splits text into searchable tokens.
// Handles camelCase, snake_case, dot notation, and other code patterns.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}

	tokens := make(map[string]bool)

	// Split on common separators (_, ., -, space, punctuation)
	for _, part := range separatorRe.Split(text, -1) {
		if len(part) > 0 {
			tokens[strings.ToLower(part)] = true
		}
	}

	// Split camelCase: "UserService" -> "User", "Service"
	camelSplit := camelRe.ReplaceAllString(text, "$1 $2")
	for _, part := range strings.Fields(camelSplit) {
		part = strings.Trim(strings.ToLower(part), "_.-()[]:,=>")
		if len(part) > 0 {
			tokens[part] = true
		}
	}

	// Split on number boundaries: "HTTP2" -> "HTTP", "2"
	numSplit := alphaNumRe.ReplaceAllString(text, "$1 $2")
	numSplit = numAlphaRe.ReplaceAllString(numSplit, "$1 $2")
	for _, part := range strings.Fields(numSplit) {
		part = strings.Trim(strings.ToLower(part), "_.-()[]:,=>")
		if len(part) > 0 {
			tokens[part] = true
		}
	}

	result := make([]string, 0, len(tokens))
	for token := range tokens {
		result = append(result, token)
	}
	return result
}

// invertedIndex is the in-memory full-text index shared by the backends.
// It is rebuilt from stored nodes on open, so it never needs persisting.
// Callers guard it with the backend's lock.
type invertedIndex struct {
	tokens map[string]map[string]int // token -> nodeID -> frequency
}

func newInvertedIndex() *invertedIndex {
	return &invertedIndex{tokens: make(map[string]map[string]int)}
}

// add indexes one node, replacing any previous entry for the same ID.
func (idx *invertedIndex) add(node *graph.GraphNode) {
	idx.remove(node.ID)
	for _, token := range tokenize(searchText(node)) {
		if idx.tokens[token] == nil {
			idx.tokens[token] = make(map[string]int)
		}
		idx.tokens[token][node.ID]++
	}
}

func (idx *invertedIndex) remove(nodeID string) {
	for token, ids := range idx.tokens {
		if _, ok := ids[nodeID]; ok {
			delete(ids, nodeID)
			if len(ids) == 0 {
				delete(idx.tokens, token)
			}
		}
	}
}

func (idx *invertedIndex) reset() {
	idx.tokens = make(map[string]map[string]int)
}

// search returns node IDs scored by the number of matching query tokens.
func (idx *invertedIndex) search(query string) map[string]float64 {
	scores := make(map[string]float64)
	for _, token := range tokenize(query) {
		for nodeID, freq := range idx.tokens[token] {
			scores[nodeID] += float64(freq)
		}
	}
	return scores
}

// size returns the number of distinct tokens in the index.
func (idx *invertedIndex) size() int {
	return len(idx.tokens)
}

const maxIndexedDocstring = 500

// searchText collects the searchable fields of a node.
func searchText(node *graph.GraphNode) string {
	parts := []string{node.Name, node.QualifiedName, node.Signature, node.Annotation}
	doc := node.Docstring
	if len(doc) > maxIndexedDocstring {
		doc = doc[:maxIndexedDocstring]
	}
	parts = append(parts, doc)
	return strings.Join(parts, " ")
}

// snippetOf returns a short excerpt for search results: the docstring when
// there is one, the signature otherwise.
func snippetOf(node *graph.GraphNode) string {
	snippet := node.Docstring
	if snippet == "" {
		snippet = node.Signature
	}
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return snippet
}
