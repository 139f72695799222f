// Package enhance rewrites user prompts into clearer requests and applies
// user-selected refinement suggestions.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/arborlabs/arbor/internal/llm"
)

// Enhancement is the result of one enhancement pass: a rewritten prompt and
// optional further suggestions the user can pick from.
type Enhancement struct {
	Enhanced    string   `json:"enhanced"`
	Suggestions []string `json:"suggestions"`
}

// Enhancer rewrites prompts with the base model.
type Enhancer struct {
	provider       llm.Provider
	model          string
	maxSuggestions int
	logger         *log.Logger
}

// NewEnhancer creates an enhancer.
func NewEnhancer(provider llm.Provider, model string, maxSuggestions int, logger *log.Logger) *Enhancer {
	if maxSuggestions <= 0 {
		maxSuggestions = 3
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ENHANCE] ", log.LstdFlags)
	}
	return &Enhancer{provider: provider, model: model, maxSuggestions: maxSuggestions, logger: logger}
}

// Enhance rewrites the prompt for clarity and proposes refinement directions.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) (Enhancement, error) {
	if strings.TrimSpace(prompt) == "" {
		return Enhancement{}, fmt.Errorf("prompt is empty")
	}
	request := fmt.Sprintf(`Rewrite the user prompt below so a document-retrieval assistant can act on it: make the intent explicit, keep the user's language, never add facts the user did not state. Also propose up to %d short optional refinements the user might want (more detail, narrower scope, a specific angle).

Return JSON only:
{"enhanced": "...", "suggestions": ["...", "..."]}

USER PROMPT:
%s`, e.maxSuggestions, prompt)

	response, err := e.provider.Generate(ctx, request, e.model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  600,
	})
	if err != nil {
		return Enhancement{}, fmt.Errorf("enhancement failed: %w", err)
	}
	return e.parse(response, prompt)
}

// Refine applies suggestions the user selected from a prior enhancement.
// Selected entries that were never offered are rejected, so a client cannot
// smuggle arbitrary instructions through the suggestion channel.
func (e *Enhancer) Refine(ctx context.Context, prompt string, offered, selected []string) (Enhancement, error) {
	if len(selected) == 0 {
		return Enhancement{}, fmt.Errorf("no suggestions selected")
	}
	valid := make(map[string]bool, len(offered))
	for _, s := range offered {
		valid[strings.TrimSpace(s)] = true
	}
	for _, s := range selected {
		if !valid[strings.TrimSpace(s)] {
			return Enhancement{}, fmt.Errorf("unknown suggestion: %q", s)
		}
	}

	request := fmt.Sprintf(`Rewrite the prompt below, incorporating the selected refinements. Keep the user's language and never add facts the user did not state.

Return JSON only:
{"enhanced": "...", "suggestions": []}

PROMPT:
%s

SELECTED REFINEMENTS:
- %s`, prompt, strings.Join(selected, "\n- "))

	response, err := e.provider.Generate(ctx, request, e.model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  600,
	})
	if err != nil {
		return Enhancement{}, fmt.Errorf("refinement failed: %w", err)
	}
	return e.parse(response, prompt)
}

func (e *Enhancer) parse(response, fallback string) (Enhancement, error) {
	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return Enhancement{}, fmt.Errorf("no JSON in enhancement response: %w", err)
	}
	var out Enhancement
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return Enhancement{}, fmt.Errorf("failed to parse enhancement: %w", err)
	}
	out.Enhanced = strings.TrimSpace(out.Enhanced)
	if out.Enhanced == "" {
		out.Enhanced = fallback
	}
	if len(out.Suggestions) > e.maxSuggestions {
		out.Suggestions = out.Suggestions[:e.maxSuggestions]
	}
	return out, nil
}
