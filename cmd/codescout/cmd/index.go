package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codescout/codescout/internal/chunk"
	"github.com/codescout/codescout/internal/index"
)

// skipDirs are directory names never worth indexing.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"__pycache__": true, ".venv": true, "dist": true, "build": true,
}

func newIndexCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory of source code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(root)
			}

			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			chunker := chunk.NewTreeSitterChunker()
			defer chunker.Close()

			files, err := collectFiles(root, chunker)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no indexable files under %s", root)
			}

			runner := index.NewRunner(app.store, app.keyword, app.embedder, chunker,
				app.cfg.Store.InsertBatchSize, app.cfg.Embeddings.BatchSize)

			report, err := runner.IndexFiles(cmd.Context(), name, root, files)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Indexed %q: %d chunks from %d files (%d chunks failed, %d files skipped) in %s\n",
				name, report.ChunksIndexed, report.FilesProcessed,
				report.ChunksFailed, report.FilesFailed, report.Duration.Round(1e7))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Codebase name (default: directory name)")
	return cmd
}

// collectFiles walks root gathering source files the chunker understands.
func collectFiles(root string, chunker *chunk.TreeSitterChunker) ([]chunk.FileInput, error) {
	var files []chunk.FileInput

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		lang, ok := chunker.LanguageForExtension(filepath.Ext(path))
		if !ok {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files = append(files, chunk.FileInput{Path: rel, Language: lang, Content: content})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
