package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageSpec describes how one language maps AST node types to chunk kinds.
type languageSpec struct {
	name       string
	extensions []string
	language   *sitter.Language

	functionTypes map[string]bool
	methodTypes   map[string]bool
	classTypes    map[string]bool
}

var languageSpecs = []*languageSpec{
	{
		name:          "go",
		extensions:    []string{".go"},
		language:      golang.GetLanguage(),
		functionTypes: map[string]bool{"function_declaration": true},
		methodTypes:   map[string]bool{"method_declaration": true},
		classTypes:    map[string]bool{},
	},
	{
		name:          "python",
		extensions:    []string{".py"},
		language:      python.GetLanguage(),
		functionTypes: map[string]bool{"function_definition": true},
		// Python methods are function definitions nested in a class body.
		methodTypes: map[string]bool{},
		classTypes:  map[string]bool{"class_definition": true},
	},
	{
		name:          "javascript",
		extensions:    []string{".js", ".mjs", ".jsx"},
		language:      javascript.GetLanguage(),
		functionTypes: map[string]bool{"function_declaration": true},
		methodTypes:   map[string]bool{"method_definition": true},
		classTypes:    map[string]bool{"class_declaration": true},
	},
	{
		name:          "typescript",
		extensions:    []string{".ts"},
		language:      typescript.GetLanguage(),
		functionTypes: map[string]bool{"function_declaration": true},
		methodTypes:   map[string]bool{"method_definition": true},
		classTypes:    map[string]bool{"class_declaration": true},
	},
}

// TreeSitterChunker chunks source files along AST symbol boundaries.
type TreeSitterChunker struct {
	parser  *sitter.Parser
	byName  map[string]*languageSpec
	byExt   map[string]*languageSpec
	allExts []string
}

var _ Chunker = (*TreeSitterChunker)(nil)

// NewTreeSitterChunker creates a chunker for the built-in language set.
func NewTreeSitterChunker() *TreeSitterChunker {
	c := &TreeSitterChunker{
		parser: sitter.NewParser(),
		byName: make(map[string]*languageSpec),
		byExt:  make(map[string]*languageSpec),
	}
	for _, spec := range languageSpecs {
		c.byName[spec.name] = spec
		for _, ext := range spec.extensions {
			c.byExt[ext] = spec
			c.allExts = append(c.allExts, ext)
		}
	}
	return c
}

// LanguageForExtension resolves a file extension (with or without dot) to a
// language name.
func (c *TreeSitterChunker) LanguageForExtension(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	spec, ok := c.byExt[ext]
	if !ok {
		return "", false
	}
	return spec.name, true
}

// SupportedExtensions lists extensions handled with AST chunking.
func (c *TreeSitterChunker) SupportedExtensions() []string {
	return c.allExts
}

// Parse splits the file into symbol chunks. Unsupported languages and files
// that fail to parse fall back to line windows.
func (c *TreeSitterChunker) Parse(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	spec, ok := c.byName[file.Language]
	if !ok {
		return c.chunkByLines(file), nil
	}

	c.parser.SetLanguage(spec.language)
	tree, err := c.parser.ParseCtx(ctx, nil, file.Content)
	if err != nil || tree == nil {
		return c.chunkByLines(file), nil
	}
	defer tree.Close()

	now := time.Now().UTC()
	var chunks []*Chunk
	c.walkSymbols(tree.RootNode(), file, spec, "", now, &chunks)

	if len(chunks) == 0 {
		return c.chunkByLines(file), nil
	}
	return chunks, nil
}

// walkSymbols collects symbol chunks depth-first. parent carries the
// enclosing class name so nested functions become methods.
func (c *TreeSitterChunker) walkSymbols(node *sitter.Node, file *FileInput, spec *languageSpec, parent string, now time.Time, out *[]*Chunk) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}

		nodeType := child.Type()
		switch {
		case spec.classTypes[nodeType]:
			name := nodeName(child, file.Content)
			*out = append(*out, c.buildChunk(child, file, KindClass, name, parent, now))
			c.walkSymbols(child, file, spec, name, now, out)
			continue

		case spec.functionTypes[nodeType]:
			kind := KindFunction
			if parent != "" {
				kind = KindMethod
			}
			name := nodeName(child, file.Content)
			*out = append(*out, c.buildChunk(child, file, kind, name, parent, now))
			continue

		case spec.methodTypes[nodeType]:
			name := nodeName(child, file.Content)
			p := parent
			if p == "" && spec.name == "go" {
				p = goReceiverType(child, file.Content)
			}
			*out = append(*out, c.buildChunk(child, file, KindMethod, name, p, now))
			continue
		}

		c.walkSymbols(child, file, spec, parent, now, out)
	}
}

func (c *TreeSitterChunker) buildChunk(node *sitter.Node, file *FileInput, kind Kind, name, parent string, now time.Time) *Chunk {
	content := string(file.Content[node.StartByte():node.EndByte()])
	return &Chunk{
		ID:         chunkID(file.Path, content),
		FilePath:   file.Path,
		Language:   file.Language,
		Kind:       kind,
		Name:       name,
		ParentName: parent,
		Content:    content,
		Docstring:  extractDocstring(node, file.Content, file.Language),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		CreatedAt:  now,
	}
}

// nodeName returns the symbol name from the node's "name" field.
func nodeName(node *sitter.Node, source []byte) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return string(source[n.StartByte():n.EndByte()])
	}
	return ""
}

// goReceiverType extracts the receiver type from a Go method declaration,
// stripping any pointer star.
func goReceiverType(node *sitter.Node, source []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	text := string(source[recv.StartByte():recv.EndByte()])
	text = strings.Trim(text, "()")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimPrefix(fields[len(fields)-1], "*")
}

// extractDocstring pulls symbol documentation. Python docstrings are the
// leading string literal of the body; comment-style languages use the
// contiguous comment block above the symbol.
func extractDocstring(node *sitter.Node, source []byte, language string) string {
	if language == "python" {
		return pythonDocstring(node, source)
	}
	return leadingComments(node, source)
}

func pythonDocstring(node *sitter.Node, source []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first == nil || first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str == nil || str.Type() != "string" {
		return ""
	}
	text := string(source[str.StartByte():str.EndByte()])
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}

func leadingComments(node *sitter.Node, source []byte) string {
	var lines []string
	for prev := node.PrevSibling(); prev != nil && prev.Type() == "comment"; prev = prev.PrevSibling() {
		text := string(source[prev.StartByte():prev.EndByte()])
		text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "//"))
		lines = append([]string{text}, lines...)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// chunkByLines is the fallback for unsupported or unparseable files:
// fixed windows with no overlap, each a text chunk.
func (c *TreeSitterChunker) chunkByLines(file *FileInput) []*Chunk {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	now := time.Now().UTC()

	var chunks []*Chunk
	for start := 0; start < len(lines); start += fallbackWindowLines {
		end := min(start+fallbackWindowLines, len(lines))
		window := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(window) == "" {
			continue
		}
		chunks = append(chunks, &Chunk{
			ID:        chunkID(file.Path, window),
			FilePath:  file.Path,
			Language:  file.Language,
			Kind:      KindText,
			Content:   window,
			StartLine: start + 1,
			EndLine:   end,
			CreatedAt: now,
		})
	}
	return chunks
}

// chunkID derives a stable content-addressed ID. Same content in the same
// file keeps its ID across line shifts; an edit changes it.
func chunkID(filePath, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s:%s", filePath, hex.EncodeToString(contentHash[:])[:16])
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// Close releases parser resources.
func (c *TreeSitterChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}
