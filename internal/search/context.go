package search

import (
	"strings"
	"unicode/utf8"

	"github.com/codescout/codescout/internal/store"
)

// Context budgets for the stage-2 prompt, in characters. Prompt size is the
// dominant latency cost of the pipeline, so these are contractual bounds,
// not tuning knobs.
const (
	DefaultChunkCharBudget     = 300
	DefaultDocstringCharBudget = 100
	DefaultContextCharBudget   = 1500
)

// ContextBudgets bound the grounding context built between HyDE stages.
type ContextBudgets struct {
	PerChunk     int
	PerDocstring int
	Total        int
}

// DefaultContextBudgets returns the standard budgets.
func DefaultContextBudgets() ContextBudgets {
	return ContextBudgets{
		PerChunk:     DefaultChunkCharBudget,
		PerDocstring: DefaultDocstringCharBudget,
		Total:        DefaultContextCharBudget,
	}
}

// BuildContext concatenates initial search results into the stage-2
// grounding context. Each chunk's content and docstring are truncated to
// their per-item budgets, and the whole context to the total budget.
func BuildContext(results []store.ScoredChunk, budgets ContextBudgets) string {
	if len(results) == 0 {
		return ""
	}

	var parts []string
	for _, r := range results {
		var b strings.Builder
		b.WriteString(truncate(r.Chunk.Content, budgets.PerChunk))
		if r.Chunk.Docstring != "" {
			b.WriteString("\n")
			b.WriteString(truncate(r.Chunk.Docstring, budgets.PerDocstring))
		}
		parts = append(parts, b.String())
	}

	return truncate(strings.Join(parts, "\n\n"), budgets.Total)
}

// truncate cuts s to at most limit bytes, backing off to a rune boundary so
// the result stays valid UTF-8.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
