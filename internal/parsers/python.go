package parsers

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// initializerMethods are the method names whose bodies are scanned for
// instance-attribute assignments (self.x = ...).
var initializerMethods = map[string]bool{
	"__init__":      true,
	"__post_init__": true,
	"__new__":       true,
}

// PythonParser extracts class structure from Python source using tree-sitter.
type PythonParser struct{}

// NewPythonParser creates a new Python structure extractor.
func NewPythonParser() *PythonParser {
	return &PythonParser{}
}

// Language returns "python".
func (p *PythonParser) Language() string {
	return "python"
}

var _ Parser = (*PythonParser)(nil)

// Parse extracts every class definition in the file, however deeply nested.
// Files with syntax errors return a *ParseError and no descriptors.
func (p *PythonParser) Parse(modulePath, filePath string, content []byte) (*ParseResult, error) {
	if !utf8.Valid(content) {
		return nil, &ParseError{FilePath: filePath, Message: "content is not valid UTF-8"}
	}

	// A parser instance per call keeps Parse safe for concurrent workers.
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, &ParseError{FilePath: filePath, Message: err.Error()}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{FilePath: filePath, Message: syntaxErrorMessage(root)}
	}

	result := &ParseResult{
		ModulePath: modulePath,
		FilePath:   filePath,
	}
	p.walk(root, content, modulePath, filePath, nil, result)
	return result, nil
}

// syntaxErrorMessage locates the first ERROR or missing node for a useful
// diagnostic position.
func syntaxErrorMessage(node *sitter.Node) string {
	if node.Type() == "ERROR" || node.IsMissing() {
		return fmt.Sprintf("syntax error near line %d", node.StartPoint().Row+1)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if !child.HasError() && !child.IsMissing() {
			continue
		}
		return syntaxErrorMessage(child)
	}
	return "syntax error"
}

// walk descends through every statement looking for class definitions.
// classStack holds the names of enclosing classes, so a class found inside a
// method body still gets its enclosing class in the qualified name.
func (p *PythonParser) walk(node *sitter.Node, content []byte, modulePath, filePath string, classStack []string, result *ParseResult) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "class_definition":
			p.buildClass(child, nil, content, modulePath, filePath, classStack, result)
		case "decorated_definition":
			decorators := extractDecorators(child, content)
			if inner := childOfType(child, "class_definition"); inner != nil {
				p.buildClass(inner, decorators, content, modulePath, filePath, classStack, result)
			} else {
				p.walk(child, content, modulePath, filePath, classStack, result)
			}
		default:
			if child.ChildCount() > 0 {
				p.walk(child, content, modulePath, filePath, classStack, result)
			}
		}
	}
}

// buildClass emits one descriptor for a class definition, then recurses for
// nested classes. Methods are direct children of the class body only;
// assignments in the body and in initializer-like methods become attributes.
func (p *PythonParser) buildClass(node *sitter.Node, decorators []string, content []byte, modulePath, filePath string, classStack []string, result *ParseResult) {
	var name string
	var bases []string
	var body *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = child.Content(content)
			}
		case "argument_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				arg := child.Child(j)
				if arg.Type() == "identifier" || arg.Type() == "attribute" {
					bases = append(bases, arg.Content(content))
				}
			}
		case "block":
			body = child
		}
	}

	if name == "" {
		return
	}

	nested := make([]string, len(classStack)+1)
	copy(nested, classStack)
	nested[len(classStack)] = name

	desc := ClassDescriptor{
		Name:          name,
		QualifiedName: QualifyName(modulePath, nested),
		ModulePath:    modulePath,
		FilePath:      filePath,
		StartLine:     int(node.StartPoint().Row + 1),
		EndLine:       int(node.EndPoint().Row + 1),
		Bases:         bases,
		Decorators:    decorators,
	}

	if body != nil {
		desc.Docstring = extractDocstring(body, content)
		attrs := newAttrCollector(desc.QualifiedName)

		for i := 0; i < int(body.ChildCount()); i++ {
			child := body.Child(i)
			switch child.Type() {
			case "function_definition":
				desc.Methods = append(desc.Methods, p.buildMethod(child, nil, content, desc.QualifiedName, attrs))
			case "decorated_definition":
				if fn := childOfType(child, "function_definition"); fn != nil {
					methodDecorators := extractDecorators(child, content)
					desc.Methods = append(desc.Methods, p.buildMethod(fn, methodDecorators, content, desc.QualifiedName, attrs))
				}
			case "expression_statement":
				if child.ChildCount() > 0 && child.Child(0).Type() == "assignment" {
					p.classBodyAttribute(child.Child(0), content, attrs)
				}
			}
		}

		desc.Attributes = attrs.list()
	}

	result.Classes = append(result.Classes, desc)

	// Nested classes (directly in the body or inside method bodies) carry
	// this class on their stack.
	if body != nil {
		p.walk(body, content, modulePath, filePath, nested, result)
	}
}

// buildMethod extracts one directly defined method. Initializer-like methods
// also feed instance attributes into the collector.
func (p *PythonParser) buildMethod(node *sitter.Node, decorators []string, content []byte, owner string, attrs *attrCollector) MethodDescriptor {
	method := MethodDescriptor{
		Owner:      owner,
		Decorators: decorators,
		StartLine:  int(node.StartPoint().Row + 1),
		EndLine:    int(node.EndPoint().Row + 1),
		Complexity: 1,
	}

	var body *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			if method.Name == "" {
				method.Name = child.Content(content)
			}
		case "parameters":
			method.Params = extractParams(child, content)
		case "type":
			method.Returns = child.Content(content)
		case "block":
			body = child
		}
	}

	if body != nil {
		method.Docstring = extractDocstring(body, content)
		method.Complexity += countBranches(body)
		if initializerMethods[method.Name] {
			scanInstanceAttributes(body, content, attrs)
		}
	}

	return method
}

// classBodyAttribute records a class-body assignment whose target is a plain
// identifier. Tuple and subscript targets are not attributes.
func (p *PythonParser) classBodyAttribute(assign *sitter.Node, content []byte, attrs *attrCollector) {
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}

	attr := AttributeDescriptor{
		Name:      left.Content(content),
		StartLine: int(assign.StartPoint().Row + 1),
	}
	if t := assign.ChildByFieldName("type"); t != nil {
		attr.Annotation = t.Content(content)
	}
	if right := assign.ChildByFieldName("right"); right != nil {
		attr.Default = right.Content(content)
	}
	attrs.add(attr)
}

// scanInstanceAttributes walks an initializer body, at any depth, for
// assignments of the form self.name = value.
func scanInstanceAttributes(node *sitter.Node, content []byte, attrs *attrCollector) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "assignment" {
			left := child.ChildByFieldName("left")
			if left != nil && left.Type() == "attribute" {
				obj := left.ChildByFieldName("object")
				attrName := left.ChildByFieldName("attribute")
				if obj != nil && attrName != nil && obj.Type() == "identifier" && obj.Content(content) == "self" {
					attr := AttributeDescriptor{
						Name:      attrName.Content(content),
						StartLine: int(child.StartPoint().Row + 1),
					}
					if t := child.ChildByFieldName("type"); t != nil {
						attr.Annotation = t.Content(content)
					}
					if right := child.ChildByFieldName("right"); right != nil {
						attr.Default = right.Content(content)
					}
					attrs.add(attr)
				}
			}
		}
		if child.ChildCount() > 0 {
			scanInstanceAttributes(child, content, attrs)
		}
	}
}

// extractParams breaks a parameters node into named params with annotations
// and defaults. Splat parameters keep their * and ** prefixes; bare
// separators (/ and *) are preserved so signatures render as declared.
func extractParams(node *sitter.Node, content []byte) []Param {
	var params []Param
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "identifier":
			params = append(params, Param{Name: child.Content(content)})
		case "typed_parameter":
			param := Param{}
			if child.NamedChildCount() > 0 {
				param.Name = child.NamedChild(0).Content(content)
			}
			if t := child.ChildByFieldName("type"); t != nil {
				param.Annotation = t.Content(content)
			}
			params = append(params, param)
		case "default_parameter":
			param := Param{}
			if n := child.ChildByFieldName("name"); n != nil {
				param.Name = n.Content(content)
			}
			if v := child.ChildByFieldName("value"); v != nil {
				param.Default = v.Content(content)
			}
			params = append(params, param)
		case "typed_default_parameter":
			param := Param{}
			if n := child.ChildByFieldName("name"); n != nil {
				param.Name = n.Content(content)
			}
			if t := child.ChildByFieldName("type"); t != nil {
				param.Annotation = t.Content(content)
			}
			if v := child.ChildByFieldName("value"); v != nil {
				param.Default = v.Content(content)
			}
			params = append(params, param)
		case "list_splat_pattern", "dictionary_splat_pattern",
			"positional_separator", "keyword_separator", "tuple_pattern":
			params = append(params, Param{Name: child.Content(content)})
		}
	}
	return params
}

// extractDecorators returns decorator names, without the leading "@", from a
// decorated_definition node. A decorator call keeps just the callee name.
func extractDecorators(node *sitter.Node, content []byte) []string {
	var decorators []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "decorator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			expr := child.Child(j)
			switch expr.Type() {
			case "identifier", "attribute":
				decorators = append(decorators, expr.Content(content))
			case "call":
				if fn := expr.ChildByFieldName("function"); fn != nil {
					decorators = append(decorators, fn.Content(content))
				}
			}
		}
	}
	return decorators
}

// extractDocstring returns the docstring when the first statement of a block
// is a bare string expression.
func extractDocstring(block *sitter.Node, content []byte) string {
	if block.NamedChildCount() == 0 {
		return ""
	}
	first := block.NamedChild(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str.Type() != "string" {
		return ""
	}
	return cleanString(str.Content(content))
}

// cleanString strips string prefixes (r, b, f, u) and surrounding quotes.
func cleanString(raw string) string {
	s := strings.TrimSpace(raw)
	for len(s) > 0 && s[0] != '"' && s[0] != '\'' {
		s = s[1:]
	}
	for _, quote := range []string{`"""`, "'''", `"`, "'"} {
		if strings.HasPrefix(s, quote) && strings.HasSuffix(s, quote) && len(s) >= 2*len(quote) {
			s = s[len(quote) : len(s)-len(quote)]
			break
		}
	}
	return strings.TrimSpace(s)
}

// countBranches counts the decision points in a subtree: if/elif, loops,
// exception handlers, boolean operators, conditional expressions, and match
// cases each add one.
func countBranches(node *sitter.Node) int {
	count := 0
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "if_statement", "elif_clause", "while_statement", "for_statement",
			"except_clause", "boolean_operator", "conditional_expression", "case_clause":
			count++
		}
		count += countBranches(child)
	}
	return count
}

// childOfType returns the first direct child with the given node type.
func childOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}

// QualifyName joins a module path and a class nesting chain into the
// globally unique dotted qualified name.
func QualifyName(modulePath string, classChain []string) string {
	joined := strings.Join(classChain, ".")
	if modulePath == "" {
		return joined
	}
	return modulePath + "." + joined
}

// attrCollector collapses duplicate attribute names: the first occurrence
// fixes the position, the last write fixes the metadata.
type attrCollector struct {
	owner  string
	order  []string
	byName map[string]AttributeDescriptor
}

func newAttrCollector(owner string) *attrCollector {
	return &attrCollector{
		owner:  owner,
		byName: make(map[string]AttributeDescriptor),
	}
}

func (c *attrCollector) add(attr AttributeDescriptor) {
	attr.Owner = c.owner
	if _, seen := c.byName[attr.Name]; !seen {
		c.order = append(c.order, attr.Name)
	}
	c.byName[attr.Name] = attr
}

func (c *attrCollector) list() []AttributeDescriptor {
	if len(c.order) == 0 {
		return nil
	}
	attrs := make([]AttributeDescriptor, len(c.order))
	for i, name := range c.order {
		attrs[i] = c.byName[name]
	}
	return attrs
}
