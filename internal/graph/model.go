// Package graph provides the class graph data model for dendrite.
//
// It defines the node and relationship types that represent the lexical
// structure of an analyzed source tree (classes, methods, attributes) and
// the edges between them (has-method, has-attribute, inherits-from), plus
// the diagnostics collected while building that graph.
package graph

// NodeLabel represents the type of a graph node.
type NodeLabel string

const (
	NodeClass     NodeLabel = "class"
	NodeMethod    NodeLabel = "method"
	NodeAttribute NodeLabel = "attribute"
)

// RelType represents the type of relationship between graph nodes.
type RelType string

const (
	RelHasMethod    RelType = "has_method"
	RelHasAttribute RelType = "has_attribute"
	RelInheritsFrom RelType = "inherits_from"
)

// GraphNode represents a node in the class graph.
type GraphNode struct {
	// ID is the unique identifier for the node.
	// Format: {label}:{qualified_name}[:{member_name}]
	ID string

	// Label is the type of the node.
	Label NodeLabel

	// Name is the unqualified name of the entity.
	Name string

	// QualifiedName is the globally unique dotted name. For classes this is
	// module path + nesting (e.g. "models.animal.Animal"); for members it is
	// the owning class's qualified name plus the member name.
	QualifiedName string

	// ModulePath is the dotted module path of the defining file.
	ModulePath string

	// FilePath is the path to the file containing this entity, relative to
	// the analysis root.
	FilePath string

	// StartLine is the starting line number in the file.
	StartLine int

	// EndLine is the ending line number in the file.
	EndLine int

	// Docstring is the documentation string, if present.
	Docstring string

	// Signature is the rendered method signature (methods only).
	Signature string

	// Returns is the declared return annotation (methods only).
	Returns string

	// Annotation is the declared type annotation (attributes only).
	Annotation string

	// Default is the default/initial value expression as written
	// (attributes only).
	Default string

	// Decorators holds decorator names without the leading "@".
	Decorators []string

	// DeclaredBases holds the base-class names exactly as written in the
	// class definition, deduplicated, in declaration order (classes only).
	DeclaredBases []string

	// Complexity is the branch-counting complexity metric (methods only).
	Complexity int

	// Order is the position of a member within its owning class, following
	// extraction order. Zero-based; unused for classes.
	Order int

	// Properties holds additional metadata.
	Properties map[string]any
}

// GraphRelationship represents a directed edge in the class graph.
type GraphRelationship struct {
	// ID is the unique identifier for the relationship.
	// Derived from type, source, and target, so duplicate edges of the same
	// kind between the same pair collapse to one.
	ID string

	// Type is the type of relationship.
	Type RelType

	// Source is the ID of the source node.
	Source string

	// Target is the ID of the target node.
	Target string

	// Properties holds additional metadata (e.g. the declared base text an
	// inheritance edge resolved from).
	Properties map[string]any
}

// GenerateID creates a deterministic node ID from label, qualified class
// name, and member name. Identity is fully determined by the input source
// tree; repeated runs produce the same IDs.
func GenerateID(label NodeLabel, qualifiedName, memberName string) string {
	if memberName == "" {
		return string(label) + ":" + qualifiedName
	}
	return string(label) + ":" + qualifiedName + ":" + memberName
}

// GenerateRelID creates a deterministic relationship ID. Using the endpoint
// IDs as the key makes AddRelationship idempotent for repeated declarations.
func GenerateRelID(relType RelType, sourceID, targetID string) string {
	return string(relType) + ":" + sourceID + ":" + targetID
}
