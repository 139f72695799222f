package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/arborlabs/arbor/internal/llm"
	"github.com/arborlabs/arbor/internal/tree"
)

// Summarize writes the final user-facing answer from everything gathered in
// the environment this conversation. It ends the turn.
type Summarize struct {
	provider       llm.Provider
	model          string
	maxObjectRunes int
	historyWindow  int
	prompter       ProfilePrompter
	logger         *log.Logger
}

// NewSummarize creates the summarization tool. prompter may be nil.
func NewSummarize(provider llm.Provider, model string, maxObjectRunes, historyWindow int, prompter ProfilePrompter, logger *log.Logger) *Summarize {
	if maxObjectRunes <= 0 {
		maxObjectRunes = 2000
	}
	if historyWindow <= 0 {
		historyWindow = 6
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Summarize{provider: provider, model: model, maxObjectRunes: maxObjectRunes, historyWindow: historyWindow, prompter: prompter, logger: logger}
}

func (s *Summarize) Name() string { return "summarize" }

func (s *Summarize) Description() string {
	return `Write the final answer to the user from the objects and analyses gathered so far. Use this once the environment holds enough material to answer; it ends the turn.`
}

func (s *Summarize) EndsTurn() bool { return true }

// Available requires a non-empty environment: there must be something to
// summarize.
func (s *Summarize) Available(td *tree.TreeData) bool {
	return !td.Env.IsEmpty()
}

func (s *Summarize) Run(ctx context.Context, td *tree.TreeData, out chan<- tree.Event) error {
	options := map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  1500,
	}
	if s.prompter != nil {
		if system := s.prompter.SystemPrompt(ctx, td.UserID); system != "" {
			options["system"] = system
		}
	}
	prompt := fmt.Sprintf(`Answer the user's request using ONLY the gathered material below. Respond in the same language as the user. Cite which retrieved objects support each claim when possible. If the material does not cover the request, say so plainly.

CONVERSATION:
%s

GATHERED MATERIAL:
%s`, tree.RenderHistory(td.RecentHistory(s.historyWindow)), td.Env.Render(s.maxObjectRunes))

	answer, err := s.provider.Generate(ctx, prompt, s.model, options)
	if err != nil {
		return fmt.Errorf("summarization failed: %w", err)
	}
	out <- tree.ResponseEvent(answer)
	return nil
}
