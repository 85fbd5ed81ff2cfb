package parsers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const animalSource = `"""Animal module."""


class Animal:
    """Base class for animals."""

    kingdom = "Animalia"
    legs: int = 4

    def __init__(self, name: str):
        """Create an animal."""
        self.name = name
        self.sound = None

    def speak(self) -> str:
        if self.sound:
            return self.sound
        return "..."

    @property
    def label(self) -> str:
        return self.name
`

func TestPythonParser_Parse(t *testing.T) {
	t.Parallel()

	parser := NewPythonParser()
	result, err := parser.Parse("models.animal", "models/animal.py", []byte(animalSource))
	require.NoError(t, err)
	require.Len(t, result.Classes, 1)

	class := result.Classes[0]

	t.Run("ClassDescriptor", func(t *testing.T) {
		assert.Equal(t, "Animal", class.Name)
		assert.Equal(t, "models.animal.Animal", class.QualifiedName)
		assert.Equal(t, "models.animal", class.ModulePath)
		assert.Equal(t, "models/animal.py", class.FilePath)
		assert.Equal(t, "Base class for animals.", class.Docstring)
		assert.Empty(t, class.Bases)
		assert.Greater(t, class.EndLine, class.StartLine)
	})

	t.Run("Methods", func(t *testing.T) {
		require.Len(t, class.Methods, 3)

		init := class.Methods[0]
		assert.Equal(t, "__init__", init.Name)
		assert.Equal(t, "models.animal.Animal", init.Owner)
		assert.Equal(t, "Create an animal.", init.Docstring)
		require.Len(t, init.Params, 2)
		assert.Equal(t, "self", init.Params[0].Name)
		assert.Equal(t, "name", init.Params[1].Name)
		assert.Equal(t, "str", init.Params[1].Annotation)
		assert.Equal(t, "__init__(self, name: str)", init.Signature())

		speak := class.Methods[1]
		assert.Equal(t, "speak", speak.Name)
		assert.Equal(t, "str", speak.Returns)
		assert.Equal(t, "speak(self) -> str", speak.Signature())

		label := class.Methods[2]
		assert.Equal(t, "label", label.Name)
		assert.Equal(t, []string{"property"}, label.Decorators)
	})

	t.Run("Attributes", func(t *testing.T) {
		require.Len(t, class.Attributes, 4)

		// Class-body attributes first, then instance attributes from
		// the initializer, in first-occurrence order.
		assert.Equal(t, "kingdom", class.Attributes[0].Name)
		assert.Equal(t, `"Animalia"`, class.Attributes[0].Default)

		assert.Equal(t, "legs", class.Attributes[1].Name)
		assert.Equal(t, "int", class.Attributes[1].Annotation)
		assert.Equal(t, "4", class.Attributes[1].Default)

		assert.Equal(t, "name", class.Attributes[2].Name)
		assert.Equal(t, "name", class.Attributes[2].Default)

		assert.Equal(t, "sound", class.Attributes[3].Name)
		assert.Equal(t, "None", class.Attributes[3].Default)
	})

	t.Run("Complexity", func(t *testing.T) {
		// __init__ has no branches; speak has one if statement
		assert.Equal(t, 1, class.Methods[0].Complexity)
		assert.Equal(t, 2, class.Methods[1].Complexity)
	})
}

func TestPythonParser_Inheritance(t *testing.T) {
	t.Parallel()

	source := `class Dog(Animal, pets.Companion):
    def bark(self):
        pass
`

	parser := NewPythonParser()
	result, err := parser.Parse("models.dog", "models/dog.py", []byte(source))
	require.NoError(t, err)
	require.Len(t, result.Classes, 1)

	// Bases are recorded exactly as written, unresolved
	assert.Equal(t, []string{"Animal", "pets.Companion"}, result.Classes[0].Bases)
}

func TestPythonParser_NestedClasses(t *testing.T) {
	t.Parallel()

	source := `class Outer:
    class Inner:
        def run(self):
            pass

    def outer_method(self):
        pass
`

	parser := NewPythonParser()
	result, err := parser.Parse("shapes", "shapes.py", []byte(source))
	require.NoError(t, err)
	require.Len(t, result.Classes, 2)

	outer := result.Classes[0]
	inner := result.Classes[1]

	assert.Equal(t, "shapes.Outer", outer.QualifiedName)
	assert.Equal(t, "shapes.Outer.Inner", inner.QualifiedName)

	// Inner's method belongs to Inner, not Outer
	require.Len(t, outer.Methods, 1)
	assert.Equal(t, "outer_method", outer.Methods[0].Name)
	require.Len(t, inner.Methods, 1)
	assert.Equal(t, "run", inner.Methods[0].Name)
}

func TestPythonParser_DecoratedClass(t *testing.T) {
	t.Parallel()

	source := `@dataclass
@functools.total_ordering
class Point:
    x: float = 0.0
    y: float = 0.0
`

	parser := NewPythonParser()
	result, err := parser.Parse("geometry", "geometry.py", []byte(source))
	require.NoError(t, err)
	require.Len(t, result.Classes, 1)

	class := result.Classes[0]
	assert.Equal(t, []string{"dataclass", "functools.total_ordering"}, class.Decorators)
	require.Len(t, class.Attributes, 2)
	assert.Equal(t, "float", class.Attributes[0].Annotation)
}

func TestPythonParser_DuplicateAttributeCollapses(t *testing.T) {
	t.Parallel()

	source := `class Config:
    timeout = 10

    def __init__(self):
        self.timeout = 30
`

	parser := NewPythonParser()
	result, err := parser.Parse("config", "config.py", []byte(source))
	require.NoError(t, err)
	require.Len(t, result.Classes, 1)

	// One entry per name: position from the first occurrence, metadata
	// from the last write.
	attrs := result.Classes[0].Attributes
	require.Len(t, attrs, 1)
	assert.Equal(t, "timeout", attrs[0].Name)
	assert.Equal(t, "30", attrs[0].Default)
}

func TestPythonParser_ModuleLevelFunctionsIgnored(t *testing.T) {
	t.Parallel()

	source := `def helper():
    pass


class Service:
    def run(self):
        pass
`

	parser := NewPythonParser()
	result, err := parser.Parse("app", "app.py", []byte(source))
	require.NoError(t, err)
	require.Len(t, result.Classes, 1)
	assert.Equal(t, "app.Service", result.Classes[0].QualifiedName)
}

func TestPythonParser_SyntaxError(t *testing.T) {
	t.Parallel()

	source := "class Broken(\n    def x(self):\n"

	parser := NewPythonParser()
	result, err := parser.Parse("broken", "broken.py", []byte(source))

	require.Error(t, err)
	assert.Nil(t, result)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "broken.py", perr.FilePath)
	assert.Contains(t, perr.Message, "syntax error")
}

func TestPythonParser_InvalidUTF8(t *testing.T) {
	t.Parallel()

	parser := NewPythonParser()
	_, err := parser.Parse("bad", "bad.py", []byte{0xff, 0xfe, 0xfd})

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Message, "UTF-8")
}

func TestPythonParser_EmptyFile(t *testing.T) {
	t.Parallel()

	parser := NewPythonParser()
	result, err := parser.Parse("empty", "empty.py", []byte(""))

	require.NoError(t, err)
	assert.Empty(t, result.Classes)
}

func TestPythonParser_Language(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "python", NewPythonParser().Language())
}

func TestQualifyName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		modulePath string
		chain      []string
		expected   string
	}{
		{"TopLevel", "models.animal", []string{"Animal"}, "models.animal.Animal"},
		{"Nested", "shapes", []string{"Outer", "Inner"}, "shapes.Outer.Inner"},
		{"RootModule", "", []string{"Animal"}, "Animal"},
		{"RootNested", "", []string{"Outer", "Inner"}, "Outer.Inner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, QualifyName(tt.modulePath, tt.chain))
		})
	}
}

func TestMethodDescriptor_Signature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		method   MethodDescriptor
		expected string
	}{
		{
			name:     "NoParams",
			method:   MethodDescriptor{Name: "reset"},
			expected: "reset()",
		},
		{
			name: "AnnotatedParam",
			method: MethodDescriptor{
				Name:   "speak",
				Params: []Param{{Name: "self"}, {Name: "volume", Annotation: "int"}},
			},
			expected: "speak(self, volume: int)",
		},
		{
			name: "DefaultWithoutAnnotation",
			method: MethodDescriptor{
				Name:   "wait",
				Params: []Param{{Name: "self"}, {Name: "seconds", Default: "1"}},
			},
			expected: "wait(self, seconds=1)",
		},
		{
			name: "AnnotatedDefault",
			method: MethodDescriptor{
				Name:   "wait",
				Params: []Param{{Name: "self"}, {Name: "seconds", Annotation: "float", Default: "1.0"}},
			},
			expected: "wait(self, seconds: float = 1.0)",
		},
		{
			name: "SplatParams",
			method: MethodDescriptor{
				Name:   "call",
				Params: []Param{{Name: "self"}, {Name: "*args"}, {Name: "**kwargs"}},
			},
			expected: "call(self, *args, **kwargs)",
		},
		{
			name: "WithReturns",
			method: MethodDescriptor{
				Name:    "speak",
				Params:  []Param{{Name: "self"}},
				Returns: "str",
			},
			expected: "speak(self) -> str",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.method.Signature())
		})
	}
}
