package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/arborlabs/arbor/internal/llm"
	"github.com/arborlabs/arbor/internal/tree"
)

// ProfilePrompter builds a per-user system prompt. Implementations must
// degrade to an empty string on failure rather than returning errors.
type ProfilePrompter interface {
	SystemPrompt(ctx context.Context, userID string) string
}

// DirectAnswer answers from the model's own knowledge plus conversation
// context, without retrieval. Requests are first classified as simple or
// complex and routed to the matching model; classification failures route
// to the complex model.
type DirectAnswer struct {
	provider      llm.Provider
	baseModel     string
	complexModel  string
	historyWindow int
	prompter      ProfilePrompter
	logger        *log.Logger
}

// NewDirectAnswer creates the direct answer tool. prompter may be nil.
func NewDirectAnswer(provider llm.Provider, baseModel, complexModel string, historyWindow int, prompter ProfilePrompter, logger *log.Logger) *DirectAnswer {
	if complexModel == "" {
		complexModel = baseModel
	}
	if historyWindow <= 0 {
		historyWindow = 6
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &DirectAnswer{provider: provider, baseModel: baseModel, complexModel: complexModel, historyWindow: historyWindow, prompter: prompter, logger: logger}
}

func (d *DirectAnswer) Name() string { return "direct_answer" }

func (d *DirectAnswer) Description() string {
	return `Answer the user directly from general knowledge and the conversation, without searching any collection. Use this for greetings, clarifications, and questions that need no retrieved documents; it ends the turn.`
}

func (d *DirectAnswer) EndsTurn() bool { return true }

// Available always: direct answering is the floor every turn can fall back to.
func (d *DirectAnswer) Available(td *tree.TreeData) bool { return true }

func (d *DirectAnswer) Run(ctx context.Context, td *tree.TreeData, out chan<- tree.Event) error {
	query := lastUserPrompt(td)
	model := d.routeModel(ctx, query)

	options := map[string]interface{}{
		"temperature": 0.4,
		"max_tokens":  1500,
	}
	if d.prompter != nil {
		if system := d.prompter.SystemPrompt(ctx, td.UserID); system != "" {
			options["system"] = system
		}
	}
	prompt := fmt.Sprintf(`Answer the user's request conversationally, in the same language as the user. Do not invent citations to documents you have not seen.

CONVERSATION:
%s

USER REQUEST:
%s`, tree.RenderHistory(td.RecentHistory(d.historyWindow)), query)

	answer, err := d.provider.Generate(ctx, prompt, model, options)
	if err != nil {
		return fmt.Errorf("direct answer failed: %w", err)
	}
	out <- tree.ResponseEvent(answer)
	return nil
}

// routeModel classifies the request as simple or complex. Any failure routes
// to the complex model so quality never degrades on classifier errors.
func (d *DirectAnswer) routeModel(ctx context.Context, query string) string {
	if d.baseModel == d.complexModel {
		return d.baseModel
	}
	prompt := fmt.Sprintf(`Classify this request by the reasoning effort needed to answer it well. Simple: greetings, single-fact questions, short rewordings. Complex: multi-step reasoning, analysis, drafting, anything ambiguous. Return JSON only: {"complexity": "simple"|"complex"}

REQUEST:
%s`, query)
	response, err := d.provider.Generate(ctx, prompt, d.baseModel, map[string]interface{}{
		"temperature": 0.0,
		"max_tokens":  40,
	})
	if err != nil {
		d.logger.Printf("complexity routing failed, using complex model: %v", err)
		return d.complexModel
	}
	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return d.complexModel
	}
	var raw struct {
		Complexity string `json:"complexity"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return d.complexModel
	}
	if strings.EqualFold(strings.TrimSpace(raw.Complexity), "simple") {
		return d.baseModel
	}
	return d.complexModel
}

func lastUserPrompt(td *tree.TreeData) string {
	for i := len(td.History) - 1; i >= 0; i-- {
		if td.History[i].Role == "user" {
			return td.History[i].Content
		}
	}
	return ""
}
