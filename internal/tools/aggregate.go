package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/arborlabs/arbor/internal/llm"
	"github.com/arborlabs/arbor/internal/tree"
)

// Aggregate condenses previously retrieved objects into a compact analysis
// that later steps can build on. It only becomes available once a retrieval
// has actually produced results.
type Aggregate struct {
	provider       llm.Provider
	model          string
	maxObjectRunes int
	logger         *log.Logger
}

// NewAggregate creates the aggregation tool.
func NewAggregate(provider llm.Provider, model string, maxObjectRunes int, logger *log.Logger) *Aggregate {
	if maxObjectRunes <= 0 {
		maxObjectRunes = 2000
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Aggregate{provider: provider, model: model, maxObjectRunes: maxObjectRunes, logger: logger}
}

func (a *Aggregate) Name() string { return "aggregate" }

func (a *Aggregate) Description() string {
	return `Condense the retrieved objects into a structured analysis: common themes, key facts, contradictions. Use this after retrieval when the raw objects are too numerous or fragmented to answer from directly.`
}

func (a *Aggregate) EndsTurn() bool { return false }

// Available requires prior retrieval output in the environment.
func (a *Aggregate) Available(td *tree.TreeData) bool {
	return td.Env.HasProducer("retrieve")
}

func (a *Aggregate) Run(ctx context.Context, td *tree.TreeData, out chan<- tree.Event) error {
	prompt := fmt.Sprintf(`Analyze the retrieved objects below and produce a compact aggregation: group related facts, surface key themes, and note contradictions or gaps. Plain text, no preamble.

RETRIEVED OBJECTS:
%s`, td.Env.Render(a.maxObjectRunes))

	analysis, err := a.provider.Generate(ctx, prompt, a.model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  1200,
	})
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}
	out <- tree.ResultEvent(a.Name(), "analysis", []map[string]interface{}{
		{"analysis": analysis},
	}, map[string]interface{}{"model": a.model})
	return nil
}
