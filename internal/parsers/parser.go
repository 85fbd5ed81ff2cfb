// Package parsers provides tree-sitter based structure extraction from
// source files. An extractor turns one file into class descriptors; it never
// looks across files, so cross-file concerns (base resolution, subclass
// computation) stay out of this package.
package parsers

import (
	"fmt"
	"strings"
)

// Param represents one parameter of a method.
type Param struct {
	// Name is the parameter name, including any * or ** splat prefix.
	Name string

	// Annotation is the declared type annotation, if any.
	Annotation string

	// Default is the default value expression as written, if any.
	Default string
}

// String renders the parameter the way it was declared.
func (p Param) String() string {
	s := p.Name
	if p.Annotation != "" {
		s += ": " + p.Annotation
	}
	if p.Default != "" {
		if p.Annotation != "" {
			s += " = " + p.Default
		} else {
			s += "=" + p.Default
		}
	}
	return s
}

// MethodDescriptor represents a function defined directly in a class body.
// Nested function definitions inside methods are not separate methods.
type MethodDescriptor struct {
	// Name is the method name.
	Name string

	// Owner is the qualified name of the owning class.
	Owner string

	// Params holds the declared parameters in order.
	Params []Param

	// Returns is the declared return annotation, if any.
	Returns string

	// Docstring is the method docstring, if present.
	Docstring string

	// Decorators holds decorator names without the leading "@".
	Decorators []string

	// StartLine is the starting line number (1-based).
	StartLine int

	// EndLine is the ending line number (1-based).
	EndLine int

	// Complexity is a branch-counting metric: 1 plus one per if/elif/while/
	// for/except/boolean operator/conditional expression in the body.
	Complexity int
}

// Signature renders the method as "name(params) -> returns".
func (m MethodDescriptor) Signature() string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.String()
	}
	sig := m.Name + "(" + strings.Join(params, ", ") + ")"
	if m.Returns != "" {
		sig += " -> " + m.Returns
	}
	return sig
}

// AttributeDescriptor represents a class attribute: a class-body assignment
// or an assignment to the instance inside an initializer-like method.
type AttributeDescriptor struct {
	// Name is the attribute name.
	Name string

	// Owner is the qualified name of the owning class.
	Owner string

	// Annotation is the declared type annotation, if any.
	Annotation string

	// Default is the assigned value expression as written, if any.
	Default string

	// StartLine is the line of the assignment that defined the attribute's
	// current metadata.
	StartLine int
}

// ClassDescriptor is the file-scoped structural record for one class
// definition. Descriptors are immutable once emitted by extraction.
type ClassDescriptor struct {
	// Name is the unqualified class name.
	Name string

	// QualifiedName is module path + dotted nesting, unique across the tree
	// (e.g. "models.animal.Animal" or "shapes.Outer.Inner").
	QualifiedName string

	// ModulePath is the dotted module path of the defining file.
	ModulePath string

	// FilePath is the defining file, relative to the analysis root.
	FilePath string

	// StartLine is the starting line number (1-based).
	StartLine int

	// EndLine is the ending line number (1-based).
	EndLine int

	// Docstring is the class docstring, if present.
	Docstring string

	// Bases holds the declared base-class names exactly as written, in
	// declaration order, unresolved. Duplicates are preserved here and
	// collapse during assembly.
	Bases []string

	// Decorators holds decorator names without the leading "@".
	Decorators []string

	// Methods holds the directly defined methods in body order.
	Methods []MethodDescriptor

	// Attributes holds the class attributes with first-occurrence ordering;
	// duplicate names have already collapsed to one entry whose metadata
	// comes from the last write.
	Attributes []AttributeDescriptor
}

// ParseResult contains everything extracted from one source file.
type ParseResult struct {
	// ModulePath is the dotted module path for the file.
	ModulePath string

	// FilePath is the file path relative to the analysis root.
	FilePath string

	// Classes holds the class descriptors in definition order.
	Classes []ClassDescriptor
}

// ParseError reports a file whose source could not be parsed. The file
// contributes zero descriptors; extraction of other files continues.
type ParseError struct {
	FilePath string
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.FilePath, e.Message)
}

// Parser defines the interface for language-specific structure extractors.
type Parser interface {
	// Parse extracts the class structure of one file. A malformed file
	// returns a *ParseError.
	Parse(modulePath, filePath string, content []byte) (*ParseResult, error)

	// Language returns the language this parser handles.
	Language() string
}
