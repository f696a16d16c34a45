package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codescout/codescout/internal/chunk"
	"github.com/codescout/codescout/internal/search"
	"github.com/codescout/codescout/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		codebase string
		topK     int
		mode     string
		noHyde   bool
		noRerank bool
		kind     string
		language string
		parent   string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed codebase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			orch := search.NewOrchestrator(app.store, app.keyword, app.embedder, app.hyde, app.searchConfig())

			resp, err := orch.Search(cmd.Context(), search.Request{
				Query:        args[0],
				Codebase:     codebase,
				TopK:         topK,
				Mode:         search.Mode(mode),
				UseHyDE:      !noHyde,
				UseReranking: !noRerank,
				Filters: store.Filters{
					Kind:       chunk.Kind(kind),
					Language:   language,
					ParentName: parent,
				},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}

			for i, r := range resp.Results {
				c := r.Chunk
				header := fmt.Sprintf("%d. %s:%d-%d", i+1, c.FilePath, c.StartLine, c.EndLine)
				if c.Name != "" {
					header += fmt.Sprintf("  %s %s", c.Kind, c.Name)
				}
				fmt.Fprintf(out, "%s  (score %.3f)\n", header, r.Score)
				if c.Docstring != "" {
					fmt.Fprintf(out, "   %s\n", firstLine(c.Docstring))
				}
			}

			if resp.Metadata.HyDEDegraded {
				fmt.Fprintln(out, "\nNote: HyDE generation degraded; results used a fallback path.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&codebase, "codebase", "c", "", "Codebase name (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().StringVar(&mode, "mode", string(search.ModeSemantic), "Search mode: semantic, keyword, or hybrid")
	cmd.Flags().BoolVar(&noHyde, "no-hyde", false, "Disable HyDE query expansion")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Disable multi-signal reranking")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by chunk kind (function, class, method, text)")
	cmd.Flags().StringVar(&language, "language", "", "Filter by language")
	cmd.Flags().StringVar(&parent, "parent", "", "Filter by parent class name")
	_ = cmd.MarkFlagRequired("codebase")

	return cmd
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
