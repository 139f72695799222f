package guard

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ComposeMessage generates the user-facing message for a guide or block
// verdict, enriched with passages retrieved from the normative documents.
// Every failure path degrades: retrieval failure proceeds with empty
// context, generation failure returns a fixed bilingual fallback.
func (g *Guard) ComposeMessage(ctx context.Context, verdict Verdict, prompt string) string {
	ragContext := g.retrieveContext(ctx, verdict, prompt)

	message, err := g.provider.Generate(ctx, g.messagePrompt(verdict, prompt, ragContext), g.msgModel, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  800,
	})
	if err != nil || strings.TrimSpace(message) == "" {
		g.logger.Printf("message generation failed for %s verdict: %v", verdict.Action, err)
		if verdict.Action == Guide {
			return FallbackGuidance
		}
		return FallbackMessage
	}
	if g.logVerdicts {
		g.logger.Printf("%s message sent to user", strings.ToUpper(verdict.Action.String()))
	}
	return strings.TrimSpace(message)
}

// retrieveContext queries the normative knowledge base. The prompt is
// included in the query because documents are often in the user's language
// while categories are in English.
func (g *Guard) retrieveContext(ctx context.Context, verdict Verdict, prompt string) string {
	if g.retriever == nil {
		return ""
	}
	start := time.Now()
	query := fmt.Sprintf("%s %s %s", verdict.Category, verdict.Reasoning, prompt)
	hits, err := g.retriever.Hybrid(ctx, query, g.topK)
	if err != nil {
		g.logger.Printf("RAG escalation failed: %v", err)
		return ""
	}
	var parts []string
	for _, h := range hits {
		if h.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[Documento: %s, sezione %d]\n%s", h.Filename, h.Section, h.Content))
	}
	if g.logVerdicts {
		g.logger.Printf("RAG escalation: rag_time_ms=%d, documents_retrieved=%d", time.Since(start).Milliseconds(), len(parts))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (g *Guard) messagePrompt(verdict Verdict, prompt, ragContext string) string {
	if ragContext == "" {
		ragContext = "No normative documents available."
	}
	var b strings.Builder
	if verdict.Action == Block {
		b.WriteString(`Generate a clear, respectful refusal message explaining why the request cannot be fulfilled.

MANDATORY RULES:
1. Respond in the SAME LANGUAGE as the user's prompt.
2. Quote the EXACT relevant passages from the context documents, formatted as "«quoted text»" (Nome Documento, sezione N). Include at least one direct quote if context is available.
3. State WHICH specific article, principle or rule is violated and WHY it applies to this request.
4. Do NOT be preachy or condescending. Be factual, precise, and constructive.
5. Suggest how the user could rephrase the request, if applicable.
`)
	} else {
		b.WriteString(`The user is asking about the feasibility or permissibility of an ethically sensitive action, without asking you to perform it. Generate a helpful guidance message.

MANDATORY RULES:
1. Respond in the SAME LANGUAGE as the user's prompt.
2. Quote the EXACT relevant passages from the context documents, formatted as "«quoted text»" (Nome Documento, sezione N). Include at least one direct quote if context is available.
3. Explain what the normative documents say about this topic and what the user should consider or whom to consult.
4. Use a non-punitive, informative tone: the user did nothing wrong by asking.
`)
	}
	fmt.Fprintf(&b, "\nUSER PROMPT:\n%s\n", prompt)
	fmt.Fprintf(&b, "\nCATEGORY: %s\nGUARD REASONING: %s\n", verdict.Category, verdict.Reasoning)
	fmt.Fprintf(&b, "\nCONTEXT DOCUMENTS:\n%s\n", ragContext)
	return b.String()
}
