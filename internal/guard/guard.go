package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arborlabs/arbor/internal/llm"
	"github.com/arborlabs/arbor/internal/rag"
	"github.com/arborlabs/arbor/internal/tree"
)

// Action is the three-way outcome of the pre-query check.
type Action int

const (
	Pass Action = iota
	Guide
	Block
)

func (a Action) String() string {
	switch a {
	case Guide:
		return "guide"
	case Block:
		return "block"
	default:
		return "pass"
	}
}

// Verdict is the result of one guard check. Category is "None" unless the
// action is guide or block.
type Verdict struct {
	Action    Action
	Category  string
	Reasoning string
}

// Retriever searches the normative documents knowledge base.
type Retriever interface {
	Hybrid(ctx context.Context, query string, k int) ([]rag.Hit, error)
}

// Guard runs the pre-query ethical check and, on guide/block, generates the
// user-facing message, optionally enriched with normative-document context.
type Guard struct {
	provider    llm.Provider
	baseModel   string
	msgModel    string
	policy      *PolicySet
	retriever   Retriever
	topK        int
	logVerdicts bool
	logger      *log.Logger
	metrics     VerdictRecorder
}

// VerdictRecorder counts verdicts by action; nil disables recording.
type VerdictRecorder interface {
	RecordGuardVerdict(action string)
}

// New creates a guard. retriever and metrics may be nil.
func New(provider llm.Provider, baseModel, msgModel string, policy *PolicySet, retriever Retriever, topK int, logVerdicts bool, logger *log.Logger, metrics VerdictRecorder) *Guard {
	if policy == nil {
		policy = NewPolicySet("")
	}
	if topK <= 0 {
		topK = 5
	}
	return &Guard{
		provider:    provider,
		baseModel:   baseModel,
		msgModel:    msgModel,
		policy:      policy,
		retriever:   retriever,
		topK:        topK,
		logVerdicts: logVerdicts,
		logger:      ensureLogger(logger),
		metrics:     metrics,
	}
}

// Check classifies a prompt. Fail-open: any classifier failure yields a pass
// verdict with category "None", logged, never surfaced as a caller error.
func (g *Guard) Check(ctx context.Context, prompt string, history []tree.Message) Verdict {
	start := time.Now()
	verdict, err := g.classify(ctx, prompt, history)
	if err != nil {
		g.logger.Printf("PRE-QUERY check failed: %v", err)
		verdict = Verdict{Action: Pass, Category: "None"}
	}

	if g.metrics != nil {
		g.metrics.RecordGuardVerdict(verdict.Action.String())
	}
	if g.logVerdicts {
		g.logger.Printf("PRE-QUERY: detection_time_ms=%d", time.Since(start).Milliseconds())
		if verdict.Action == Pass {
			g.logger.Printf("PRE-QUERY: verdict=pass")
		} else {
			g.logger.Printf("PRE-QUERY: verdict=%s, category=%q, reasoning=%q", verdict.Action, verdict.Category, verdict.Reasoning)
		}
	}
	return verdict
}

func (g *Guard) classify(ctx context.Context, prompt string, history []tree.Message) (Verdict, error) {
	response, err := g.provider.Generate(ctx, g.classifyPrompt(prompt, history), g.baseModel, map[string]interface{}{
		"temperature": 0.0,
		"max_tokens":  400,
	})
	if err != nil {
		return Verdict{}, err
	}
	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return Verdict{}, err
	}
	var raw struct {
		IsViolation      bool   `json:"is_violation"`
		RequiresGuidance bool   `json:"requires_guidance"`
		Category         string `json:"category"`
		Reasoning        string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse guard response: %w", err)
	}

	// Mutual exclusivity by construction: a violation forces guidance off,
	// whatever the raw model output said.
	if raw.IsViolation {
		raw.RequiresGuidance = false
	}

	v := Verdict{Category: strings.TrimSpace(raw.Category), Reasoning: raw.Reasoning}
	switch {
	case raw.IsViolation:
		v.Action = Block
	case raw.RequiresGuidance:
		v.Action = Guide
	default:
		v.Action = Pass
		v.Category = "None"
		v.Reasoning = raw.Reasoning
	}
	if v.Action != Pass && v.Category == "" {
		v.Category = "Unspecified"
	}
	return v, nil
}

func (g *Guard) classifyPrompt(prompt string, history []tree.Message) string {
	var b strings.Builder
	b.WriteString(`Analyze the user prompt for ethical relevance. You are NOT evaluating the topic: a question ABOUT ethics, discrimination, or sensitive topics is NOT itself a violation. Only flag requests that ASK the system to PERFORM or FACILITATE a violation; flag for guidance requests that investigate whether such an action is feasible or permitted.

ETHICAL FILTER:
`)
	b.WriteString(g.policy.Filter())
	b.WriteString("\n\nFILTER GUIDELINES:\n")
	b.WriteString(g.policy.Guidelines())
	b.WriteString("\n\nRECENT CONVERSATION:\n")
	b.WriteString(tree.RenderHistory(history))
	fmt.Fprintf(&b, "\nUSER PROMPT:\n%s\n", prompt)
	b.WriteString(`
OUTPUT FORMAT (JSON only):
{"is_violation": bool, "requires_guidance": bool, "category": "<violated or relevant category, or None>", "reasoning": "<brief explanation>"}
`)
	return b.String()
}

// CheckResponse classifies a generated response against the output filter,
// regardless of the user's original intent. Fail-open like Check: any
// classifier failure yields a pass verdict with category "None".
func (g *Guard) CheckResponse(ctx context.Context, response, prompt string) Verdict {
	start := time.Now()
	verdict, err := g.classifyResponse(ctx, response, prompt)
	if err != nil {
		g.logger.Printf("POST-RESPONSE check failed: %v", err)
		verdict = Verdict{Action: Pass, Category: "None"}
	}

	if g.logVerdicts {
		g.logger.Printf("POST-RESPONSE: detection_time_ms=%d", time.Since(start).Milliseconds())
		if verdict.Action == Pass {
			g.logger.Printf("POST-RESPONSE: verdict=pass")
		} else {
			g.logger.Printf("POST-RESPONSE: verdict=block, category=%q, reasoning=%q", verdict.Category, verdict.Reasoning)
		}
	}
	return verdict
}

func (g *Guard) classifyResponse(ctx context.Context, response, prompt string) (Verdict, error) {
	out, err := g.provider.Generate(ctx, g.responsePrompt(response, prompt), g.baseModel, map[string]interface{}{
		"temperature": 0.0,
		"max_tokens":  400,
	})
	if err != nil {
		return Verdict{}, err
	}
	jsonStr, err := llm.ExtractJSON(out)
	if err != nil {
		return Verdict{}, err
	}
	var raw struct {
		IsViolation bool   `json:"is_violation"`
		Category    string `json:"category"`
		Reasoning   string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse guard response: %w", err)
	}

	if !raw.IsViolation {
		return Verdict{Action: Pass, Category: "None", Reasoning: raw.Reasoning}, nil
	}
	v := Verdict{Action: Block, Category: strings.TrimSpace(raw.Category), Reasoning: raw.Reasoning}
	if v.Category == "" {
		v.Category = "Unspecified"
	}
	return v, nil
}

func (g *Guard) responsePrompt(response, prompt string) string {
	var b strings.Builder
	b.WriteString(`Analyze the generated response for ethical violations. Determine whether the response CONTAINS content that violates the ethical code, regardless of the user's original intent.

ETHICAL FILTER:
`)
	b.WriteString(g.policy.OutputFilter())
	b.WriteString("\n\nFILTER GUIDELINES:\n")
	b.WriteString(g.policy.Guidelines())
	fmt.Fprintf(&b, "\nUSER PROMPT:\n%s\n", prompt)
	fmt.Fprintf(&b, "\nGENERATED RESPONSE:\n%s\n", response)
	b.WriteString(`
OUTPUT FORMAT (JSON only):
{"is_violation": bool, "category": "<violated category, or None>", "reasoning": "<brief explanation>"}
`)
	return b.String()
}

// Screen implements tree.Gatekeeper: it intercepts the turn on guide/block
// with a generated message and lets pass verdicts through.
func (g *Guard) Screen(ctx context.Context, prompt string, history []tree.Message) (bool, string) {
	verdict := g.Check(ctx, prompt, history)
	if verdict.Action == Pass {
		return false, ""
	}
	return true, g.ComposeMessage(ctx, verdict, prompt)
}

// ScreenResponse implements tree.ResponseGatekeeper: a flagged response is
// replaced by a generated refusal before it reaches the user.
func (g *Guard) ScreenResponse(ctx context.Context, response, prompt string) (bool, string) {
	verdict := g.CheckResponse(ctx, response, prompt)
	if verdict.Action == Pass {
		return false, ""
	}
	return true, g.ComposeMessage(ctx, verdict, prompt)
}
