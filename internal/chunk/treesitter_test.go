package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFile(t *testing.T, path, language, content string) []*Chunk {
	t.Helper()
	c := NewTreeSitterChunker()
	defer c.Close()

	chunks, err := c.Parse(context.Background(), &FileInput{
		Path:     path,
		Language: language,
		Content:  []byte(content),
	})
	require.NoError(t, err)
	return chunks
}

func findChunk(chunks []*Chunk, name string) *Chunk {
	for _, c := range chunks {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestParse_GoFunctionsAndMethods(t *testing.T) {
	src := `package auth

// Authenticate checks credentials against the user store.
// It returns the user on success.
func Authenticate(name, pass string) (*User, error) {
	return nil, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
}
`
	chunks := parseFile(t, "auth/auth.go", "go", src)
	require.Len(t, chunks, 2)

	fn := findChunk(chunks, "Authenticate")
	require.NotNil(t, fn)
	assert.Equal(t, KindFunction, fn.Kind)
	assert.Equal(t, "", fn.ParentName)
	assert.Contains(t, fn.Content, "func Authenticate")
	assert.Contains(t, fn.Docstring, "Authenticate checks credentials")
	assert.Contains(t, fn.Docstring, "returns the user on success")
	assert.Equal(t, 5, fn.StartLine)
	assert.Equal(t, 7, fn.EndLine)

	m := findChunk(chunks, "handleLogin")
	require.NotNil(t, m)
	assert.Equal(t, KindMethod, m.Kind)
	assert.Equal(t, "Server", m.ParentName, "receiver type without the pointer star")
}

func TestParse_PythonClassWithMethodsAndDocstrings(t *testing.T) {
	src := `class UserService:
    """Manages user accounts."""

    def authenticate(self, username, password):
        """Check credentials and return the user."""
        return self.store.find(username)

def create_app():
    """Build the application."""
    return App()
`
	chunks := parseFile(t, "service.py", "python", src)

	cls := findChunk(chunks, "UserService")
	require.NotNil(t, cls)
	assert.Equal(t, KindClass, cls.Kind)
	assert.Contains(t, cls.Docstring, "Manages user accounts")

	method := findChunk(chunks, "authenticate")
	require.NotNil(t, method)
	assert.Equal(t, KindMethod, method.Kind, "function inside a class body is a method")
	assert.Equal(t, "UserService", method.ParentName)
	assert.Contains(t, method.Docstring, "Check credentials")

	fn := findChunk(chunks, "create_app")
	require.NotNil(t, fn)
	assert.Equal(t, KindFunction, fn.Kind)
	assert.Equal(t, "", fn.ParentName)
}

func TestParse_JavaScriptClass(t *testing.T) {
	src := `class Cache {
  get(key) {
    return this.items[key];
  }
}

function hash(value) {
  return value.toString();
}
`
	chunks := parseFile(t, "cache.js", "javascript", src)

	cls := findChunk(chunks, "Cache")
	require.NotNil(t, cls)
	assert.Equal(t, KindClass, cls.Kind)

	m := findChunk(chunks, "get")
	require.NotNil(t, m)
	assert.Equal(t, KindMethod, m.Kind)
	assert.Equal(t, "Cache", m.ParentName)

	fn := findChunk(chunks, "hash")
	require.NotNil(t, fn)
	assert.Equal(t, KindFunction, fn.Kind)
}

func TestParse_UnsupportedLanguageFallsBackToLineWindows(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("line of documentation text\n")
	}

	chunks := parseFile(t, "README.txt", "text", b.String())
	require.Len(t, chunks, 3, "120 lines in 50-line windows")

	for _, c := range chunks {
		assert.Equal(t, KindText, c.Kind)
		assert.Empty(t, c.Name)
	}
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 50, chunks[0].EndLine)
	assert.Equal(t, 51, chunks[1].StartLine)
	assert.Equal(t, 101, chunks[2].StartLine)
}

func TestParse_EmptyFileYieldsNoChunks(t *testing.T) {
	chunks := parseFile(t, "empty.go", "go", "")
	assert.Empty(t, chunks)
}

func TestParse_GoFileWithoutSymbolsFallsBackToLines(t *testing.T) {
	chunks := parseFile(t, "doc.go", "go", "package docs\n\n// Package-level commentary only.\n")
	require.NotEmpty(t, chunks)
	assert.Equal(t, KindText, chunks[0].Kind)
}

func TestChunkID_StableForSameContentSameFile(t *testing.T) {
	a := chunkID("auth/auth.go", "func Authenticate() {}")
	b := chunkID("auth/auth.go", "func Authenticate() {}")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, chunkID("other/auth.go", "func Authenticate() {}"), "path participates")
	assert.NotEqual(t, a, chunkID("auth/auth.go", "func Authenticate() { /*edit*/ }"), "content participates")
}

func TestLanguageForExtension(t *testing.T) {
	c := NewTreeSitterChunker()
	defer c.Close()

	lang, ok := c.LanguageForExtension(".go")
	require.True(t, ok)
	assert.Equal(t, "go", lang)

	lang, ok = c.LanguageForExtension("PY")
	require.True(t, ok)
	assert.Equal(t, "python", lang)

	_, ok = c.LanguageForExtension(".rb")
	assert.False(t, ok)
}
