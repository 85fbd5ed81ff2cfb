package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkRepo(t *testing.T) {
	t.Parallel()

	t.Run("CollectsPythonFiles", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "models", "animal.py"), []byte("class Animal:\n    pass\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# readme\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.ts"), []byte("export {}\n"), 0o644))

		entries, err := WalkRepo(dir, nil)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		entry := entries[0]
		assert.Equal(t, filepath.Join("models", "animal.py"), entry.RelPath)
		assert.Equal(t, "models.animal", entry.ModulePath)
		assert.Equal(t, "python", entry.Language)
		assert.False(t, entry.IsDir)
		assert.NotEmpty(t, entry.Content)
	})

	t.Run("SHA256MatchesContent", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		content := []byte("class Animal:\n    pass\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "animal.py"), content, 0o644))

		entries, err := WalkRepo(dir, nil)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		hash := sha256.Sum256(content)
		assert.Equal(t, hex.EncodeToString(hash[:]), entries[0].SHA256)
	})

	t.Run("DefaultIgnores", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.py"), []byte("class K:\n    pass\n"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "__pycache__"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "__pycache__", "cached.py"), []byte("x = 1\n"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".dendrite"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".dendrite", "stale.py"), []byte("x = 1\n"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".venv", "lib"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".venv", "lib", "site.py"), []byte("x = 1\n"), 0o644))

		entries, err := WalkRepo(dir, nil)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "keep.py", entries[0].RelPath)
	})

	t.Run("GitignoreRespected", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("generated/\nscratch.py\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.py"), []byte("class K:\n    pass\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.py"), []byte("x = 1\n"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "generated"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "generated", "stub.py"), []byte("x = 1\n"), 0o644))

		patterns, err := loadGitignore(dir)
		require.NoError(t, err)

		entries, err := WalkRepo(dir, patterns)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "keep.py", entries[0].RelPath)
	})

	t.Run("LexicalOrderIsDeterministic", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		for _, name := range []string{"zebra.py", "alpha.py", "mid.py"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x = 1\n"), 0o644))
		}

		first, err := WalkRepo(dir, nil)
		require.NoError(t, err)
		second, err := WalkRepo(dir, nil)
		require.NoError(t, err)

		require.Len(t, first, 3)
		assert.Equal(t, "alpha.py", first[0].RelPath)
		assert.Equal(t, "mid.py", first[1].RelPath)
		assert.Equal(t, "zebra.py", first[2].RelPath)
		assert.Equal(t, first, second)
	})

	t.Run("MissingRoot", func(t *testing.T) {
		t.Parallel()
		_, err := WalkRepo(filepath.Join(t.TempDir(), "nope"), nil)
		assert.Error(t, err)
	})
}

func TestModulePathFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		relPath  string
		expected string
	}{
		{"TopLevelFile", "animal.py", "animal"},
		{"NestedFile", filepath.Join("models", "animal.py"), "models.animal"},
		{"DeeplyNested", filepath.Join("a", "b", "c.py"), "a.b.c"},
		{"PackageInit", filepath.Join("pkg", "__init__.py"), "pkg"},
		{"NestedPackageInit", filepath.Join("a", "b", "__init__.py"), "a.b"},
		{"RootInit", "__init__.py", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ModulePathFor(tt.relPath))
		})
	}
}

func TestLoadGitignore(t *testing.T) {
	t.Parallel()

	t.Run("MissingFileReturnsNil", func(t *testing.T) {
		t.Parallel()
		patterns, err := loadGitignore(t.TempDir())
		require.NoError(t, err)
		assert.Nil(t, patterns)
	})

	t.Run("SkipsCommentsAndBlanks", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		content := "# build output\n\nbuild/\n*.log\n\n# scratch\ntmp.py\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(content), 0o644))

		patterns, err := loadGitignore(dir)
		require.NoError(t, err)
		assert.Len(t, patterns, 3)
	})
}

func TestIsSupportedFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		filename  string
		supported bool
	}{
		{"Python", "animal.py", true},
		{"PythonUppercase", "ANIMAL.PY", true},
		{"TypeScript", "app.ts", false},
		{"Go", "main.go", false},
		{"Markdown", "README.md", false},
		{"NoExtension", "Makefile", false},
		{"CompiledPython", "animal.pyc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.supported, isSupportedFile(tt.filename))
		})
	}
}

func TestGetLanguage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "python", getLanguage("animal.py"))
	assert.Empty(t, getLanguage("main.go"))
}
