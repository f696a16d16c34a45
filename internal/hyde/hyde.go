// Package hyde generates hypothetical code documents for query expansion.
//
// A natural-language query embeds poorly against code. Generating a
// hypothetical answer and embedding that instead closes most of the gap;
// a second generation grounded in retrieved context closes the rest by
// matching the codebase's actual idiom.
package hyde

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/codescout/codescout/internal/llm"
)

// Generator runs the two HyDE generation stages. Each stage is bounded by
// its own timeout; callers treat a stage failure as a degradation signal,
// never a search failure.
type Generator struct {
	provider     llm.Provider
	params       llm.Params
	stageTimeout time.Duration
}

// NewGenerator creates a HyDE generator over the given LLM provider.
func NewGenerator(provider llm.Provider, params llm.Params, stageTimeout time.Duration) *Generator {
	if stageTimeout <= 0 {
		stageTimeout = 15 * time.Second
	}
	return &Generator{
		provider:     provider,
		params:       params,
		stageTimeout: stageTimeout,
	}
}

// Stage1 generates hypothetical code from the raw query.
func (g *Generator) Stage1(ctx context.Context, query string) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, g.stageTimeout)
	defer cancel()

	out, err := g.provider.Generate(stageCtx, buildStage1Prompt(query), g.params)
	if err != nil {
		return "", err
	}

	cleaned := CleanCodeOutput(out)
	slog.Debug("hyde stage 1 generated",
		slog.Int("length", len(cleaned)),
		slog.String("model", g.provider.ModelName()))
	return cleaned, nil
}

// Stage2 regenerates the hypothetical code grounded in retrieved context.
// v1 is the stage-1 output, context the truncated initial search results.
func (g *Generator) Stage2(ctx context.Context, query, v1, searchContext string) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, g.stageTimeout)
	defer cancel()

	out, err := g.provider.Generate(stageCtx, buildStage2Prompt(query, searchContext, v1), g.params)
	if err != nil {
		return "", err
	}

	cleaned := CleanCodeOutput(out)
	slog.Debug("hyde stage 2 generated",
		slog.Int("length", len(cleaned)),
		slog.String("model", g.provider.ModelName()))
	return cleaned, nil
}

// CleanCodeOutput strips markdown code fences and surrounding whitespace
// from generated text. Models wrap output in fences despite instructions
// not to.
func CleanCodeOutput(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) > 0 {
			lines = lines[1:]
		}
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		text = strings.Join(lines, "\n")
	}

	return strings.TrimSpace(text)
}
