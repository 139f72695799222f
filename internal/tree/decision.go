package tree

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/arborlabs/arbor/internal/llm"
)

// Decision is the outcome of one decision-node invocation. Exactly one of
// Tool, Branch or Terminate is set; the executor consumes it within the same
// iteration and never retains it.
type Decision struct {
	Tool      string `json:"tool,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Terminate bool   `json:"terminate,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// DecisionNode selects the next action with a single LLM call per iteration.
// Invalid selections (unknown or unavailable tools) are retried a bounded
// number of times with the prior failures fed back into the prompt.
type DecisionNode struct {
	provider      llm.Provider
	model         string
	maxRetries    int
	historyWindow int
	logger        *log.Logger
}

// NewDecisionNode creates a decision node.
func NewDecisionNode(provider llm.Provider, model string, maxRetries, historyWindow int, logger *log.Logger) *DecisionNode {
	if logger == nil {
		logger = log.New(log.Writer(), "[TREE] ", log.LstdFlags)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if historyWindow <= 0 {
		historyWindow = 6
	}
	return &DecisionNode{
		provider:      provider,
		model:         model,
		maxRetries:    maxRetries,
		historyWindow: historyWindow,
		logger:        logger,
	}
}

// Decide picks the next action at the given node. Only tools whose
// availability predicate currently holds may be selected.
func (d *DecisionNode) Decide(ctx context.Context, node *Node, td *TreeData, iteration, ceiling int) (Decision, error) {
	available := node.AvailableTools(td)

	call := func(ctx context.Context, prior []error) (Decision, error) {
		prompt := d.buildPrompt(node, available, td, iteration, ceiling, prior)
		response, err := d.provider.Generate(ctx, prompt, d.model, map[string]interface{}{
			"temperature": 0.2,
			"max_tokens":  400,
		})
		if err != nil {
			return Decision{}, fmt.Errorf("decision call failed: %w", err)
		}
		return parseDecision(response)
	}

	validate := func(dec Decision) error {
		return validateDecision(dec, node, available)
	}

	dec, err := Attempt(ctx, d.maxRetries, call, validate)
	if err != nil {
		return Decision{}, err
	}
	return dec, nil
}

func (d *DecisionNode) buildPrompt(node *Node, available []Tool, td *TreeData, iteration, ceiling int, prior []error) string {
	var b strings.Builder
	b.WriteString("You are the decision node of an agentic retrieval assistant. ")
	b.WriteString("Choose the single next action for the current user request.\n\n")
	if node.Instruction != "" {
		fmt.Fprintf(&b, "NODE INSTRUCTION:\n%s\n\n", node.Instruction)
	}

	b.WriteString("AVAILABLE TOOLS:\n")
	if len(available) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range available {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), strings.TrimSpace(t.Description()))
	}
	if len(node.Children) > 0 {
		b.WriteString("\nAVAILABLE BRANCHES (descend to reach their tools):\n")
		for _, c := range node.Children {
			fmt.Fprintf(&b, "- %s: %s\n", c.ID, strings.TrimSpace(c.Instruction))
		}
	}

	fmt.Fprintf(&b, "\nITERATION: %d of at most %d. When nothing useful remains to do, terminate.\n", iteration+1, ceiling)

	fmt.Fprintf(&b, "\nCONVERSATION:\n%s\n", RenderHistory(td.RecentHistory(d.historyWindow)))
	fmt.Fprintf(&b, "ENVIRONMENT (objects gathered so far):\n%s\n", td.Env.Render(300))
	if len(td.TasksCompleted) > 0 {
		fmt.Fprintf(&b, "TASKS ALREADY COMPLETED THIS CONVERSATION: %s\n", strings.Join(td.TasksCompleted, ", "))
	}

	if len(prior) > 0 {
		b.WriteString("\nYOUR PREVIOUS ATTEMPTS WERE INVALID:\n")
		for i, err := range prior {
			fmt.Fprintf(&b, "%d. %s\n", i+1, err.Error())
		}
		b.WriteString("Pick a valid option this time.\n")
	}

	b.WriteString(`
OUTPUT FORMAT (JSON only):
{"action": "tool" | "branch" | "terminate", "target": "<tool or branch name, empty for terminate>", "reasoning": "<one sentence>"}
`)
	return b.String()
}

func parseDecision(response string) (Decision, error) {
	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return Decision{}, fmt.Errorf("decision response: %w", err)
	}
	var raw struct {
		Action    string `json:"action"`
		Target    string `json:"target"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Decision{}, fmt.Errorf("failed to parse decision JSON: %w", err)
	}
	dec := Decision{Reasoning: raw.Reasoning}
	switch raw.Action {
	case "tool":
		dec.Tool = raw.Target
	case "branch":
		dec.Branch = raw.Target
	case "terminate":
		dec.Terminate = true
	default:
		// leave dec empty: validation rejects it with feedback
	}
	return dec, nil
}

func validateDecision(dec Decision, node *Node, available []Tool) error {
	switch {
	case dec.Terminate:
		return nil
	case dec.Tool != "":
		for _, t := range available {
			if t.Name() == dec.Tool {
				return nil
			}
		}
		if _, ok := node.Tool(dec.Tool); ok {
			return fmt.Errorf("tool %q is not currently available", dec.Tool)
		}
		return fmt.Errorf("unknown tool %q", dec.Tool)
	case dec.Branch != "":
		if _, ok := node.Child(dec.Branch); ok {
			return nil
		}
		return fmt.Errorf("unknown branch %q", dec.Branch)
	default:
		return fmt.Errorf("decision selected no action (expected tool, branch or terminate)")
	}
}
