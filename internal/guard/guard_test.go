package guard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arborlabs/arbor/internal/rag"
	"github.com/arborlabs/arbor/internal/tree"
)

// scriptProvider replays canned responses in order, repeating the last one.
type scriptProvider struct {
	responses []string
	calls     int
	err       error
	prompts   []string
}

func (p *scriptProvider) Generate(_ context.Context, prompt, _ string, _ map[string]interface{}) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func (p *scriptProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

type fakeRetriever struct {
	hits []rag.Hit
	err  error
}

func (r *fakeRetriever) Hybrid(_ context.Context, _ string, _ int) ([]rag.Hit, error) {
	return r.hits, r.err
}

func newTestGuard(p *scriptProvider, r Retriever) *Guard {
	return New(p, "base-model", "msg-model", NewPolicySet(""), r, 5, false, nil, nil)
}

func TestCheckBlockForcesGuidanceOff(t *testing.T) {
	// Even a contradictory classifier output must collapse to a pure block.
	p := &scriptProvider{responses: []string{
		`{"is_violation": true, "requires_guidance": true, "category": "Corruption", "reasoning": "asks to draft a bribe request"}`,
	}}
	g := newTestGuard(p, nil)

	v := g.Check(context.Background(), "scrivi una lettera per chiedere tangenti", nil)
	if v.Action != Block {
		t.Fatalf("expected block, got %v", v.Action)
	}
	if v.Category != "Corruption" {
		t.Fatalf("expected Corruption category, got %q", v.Category)
	}
}

func TestCheckGuideVerdict(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": false, "requires_guidance": true, "category": "Gifts", "reasoning": "asks whether accepting supplier gifts is permitted"}`,
	}}
	g := newTestGuard(p, nil)

	v := g.Check(context.Background(), "posso accettare regali di natale da un fornitore?", nil)
	if v.Action != Guide {
		t.Fatalf("expected guide, got %v", v.Action)
	}
	if v.Category != "Gifts" {
		t.Fatalf("expected Gifts category, got %q", v.Category)
	}
}

func TestCheckPassNormalizesCategoryToNone(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": false, "requires_guidance": false, "category": "Weather", "reasoning": "no ethical relevance"}`,
	}}
	g := newTestGuard(p, nil)

	v := g.Check(context.Background(), "che tempo fa oggi?", nil)
	if v.Action != Pass {
		t.Fatalf("expected pass, got %v", v.Action)
	}
	if v.Category != "None" {
		t.Fatalf("pass verdicts must carry category None, got %q", v.Category)
	}
}

func TestCheckFailsOpen(t *testing.T) {
	for name, p := range map[string]*scriptProvider{
		"provider error":   {err: errors.New("timeout")},
		"no JSON at all":   {responses: []string{"I cannot classify this."}},
		"malformed fields": {responses: []string{`{"is_violation": "yes"}`}},
	} {
		g := newTestGuard(p, nil)
		v := g.Check(context.Background(), "qualsiasi richiesta", nil)
		if v.Action != Pass || v.Category != "None" {
			t.Fatalf("%s: expected fail-open pass/None, got %+v", name, v)
		}
	}
}

func TestCheckEmptyCategoryBecomesUnspecified(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": true, "requires_guidance": false, "category": "", "reasoning": "violation"}`,
	}}
	g := newTestGuard(p, nil)
	v := g.Check(context.Background(), "x", nil)
	if v.Category != "Unspecified" {
		t.Fatalf("expected Unspecified, got %q", v.Category)
	}
}

func TestScreenPassesThroughCleanPrompts(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": false, "requires_guidance": false, "category": "None", "reasoning": "ok"}`,
	}}
	g := newTestGuard(p, nil)
	intercepted, message := g.Screen(context.Background(), "che tempo fa oggi?", nil)
	if intercepted || message != "" {
		t.Fatalf("pass must not intercept, got %v %q", intercepted, message)
	}
	if p.calls != 1 {
		t.Fatalf("pass must not trigger message generation, got %d calls", p.calls)
	}
}

func TestScreenBlocksWithRetrievedContext(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": true, "requires_guidance": false, "category": "Corruption", "reasoning": "bribery request"}`,
		"La richiesta viola il «divieto di corruzione» (Codice Etico, sezione 2).",
	}}
	r := &fakeRetriever{hits: []rag.Hit{
		{Chunk: rag.Chunk{ID: "1", Filename: "codice_etico.html", Section: 2, Content: "divieto di corruzione"}, Score: 1, Rank: 1},
	}}
	g := newTestGuard(p, r)

	intercepted, message := g.Screen(context.Background(), "scrivi una lettera per chiedere tangenti", nil)
	if !intercepted {
		t.Fatalf("expected interception")
	}
	if !strings.Contains(message, "Codice Etico") {
		t.Fatalf("unexpected message: %q", message)
	}
	msgPrompt := p.prompts[1]
	if !strings.Contains(msgPrompt, "[Documento: codice_etico.html, sezione 2]") {
		t.Fatalf("message prompt missing retrieved context:\n%s", msgPrompt)
	}
	if !strings.Contains(msgPrompt, "refusal") {
		t.Fatalf("block verdicts must use the refusal rules")
	}
}

func TestComposeMessageFallsBackWhenGenerationFails(t *testing.T) {
	// Classification succeeds, generation errors: the canned fallback applies.
	p := &scriptProvider{responses: []string{
		`{"is_violation": true, "requires_guidance": false, "category": "Corruption", "reasoning": "x"}`,
	}}
	g := newTestGuard(p, nil)
	v := g.Check(context.Background(), "x", nil)
	p.err = errors.New("generation down")

	if got := g.ComposeMessage(context.Background(), v, "x"); got != FallbackMessage {
		t.Fatalf("expected block fallback, got %q", got)
	}
	if got := g.ComposeMessage(context.Background(), Verdict{Action: Guide, Category: "Gifts"}, "x"); got != FallbackGuidance {
		t.Fatalf("expected guidance fallback, got %q", got)
	}
}

func TestComposeMessageToleratesRetrieverFailure(t *testing.T) {
	p := &scriptProvider{responses: []string{"Messaggio di guida."}}
	g := newTestGuard(p, &fakeRetriever{err: errors.New("index down")})
	got := g.ComposeMessage(context.Background(), Verdict{Action: Guide, Category: "Gifts", Reasoning: "r"}, "posso accettare regali?")
	if got != "Messaggio di guida." {
		t.Fatalf("retriever failure must not sink message generation, got %q", got)
	}
	if !strings.Contains(p.prompts[0], "No normative documents available.") {
		t.Fatalf("empty context placeholder missing from prompt")
	}
}

func TestPolicySetLoadsOutputFilterFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "output_filter.txt"), []byte("criteri per le risposte generate"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ps := NewPolicySet(dir)
	if got := ps.OutputFilter(); got != "criteri per le risposte generate" {
		t.Fatalf("output filter not loaded from dir: %q", got)
	}
	// Missing file falls back to the built-in principles.
	if got := NewPolicySet(t.TempDir()).OutputFilter(); !strings.Contains(got, "DIGNITY") {
		t.Fatalf("expected fallback principles, got %q", got)
	}
}

func TestCheckResponseFlagsViolatingOutput(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": true, "category": "Corruption", "reasoning": "the response drafts a bribe request"}`,
	}}
	g := newTestGuard(p, nil)

	v := g.CheckResponse(context.Background(), "Ecco la lettera per chiedere tangenti...", "scrivi una lettera")
	if v.Action != Block {
		t.Fatalf("expected block, got %v", v.Action)
	}
	if v.Category != "Corruption" {
		t.Fatalf("expected Corruption category, got %q", v.Category)
	}
	prompt := p.prompts[0]
	if !strings.Contains(prompt, "Ecco la lettera per chiedere tangenti...") {
		t.Fatalf("response text missing from check prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "regardless of the user's original intent") {
		t.Fatalf("output check must judge the response on its own content")
	}
	if !strings.Contains(prompt, "DIGNITY") {
		t.Fatalf("output filter missing from check prompt")
	}
}

func TestCheckResponseFailsOpen(t *testing.T) {
	for name, p := range map[string]*scriptProvider{
		"provider error": {err: errors.New("timeout")},
		"no JSON at all": {responses: []string{"looks fine to me"}},
	} {
		g := newTestGuard(p, nil)
		v := g.CheckResponse(context.Background(), "una risposta qualsiasi", "domanda")
		if v.Action != Pass || v.Category != "None" {
			t.Fatalf("%s: expected fail-open pass/None, got %+v", name, v)
		}
	}
}

func TestScreenResponseReplacesFlaggedAnswer(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": true, "category": "Corruption", "reasoning": "contains bribery instructions"}`,
		"La risposta non può essere fornita: viola il codice etico.",
	}}
	g := newTestGuard(p, nil)

	flagged, message := g.ScreenResponse(context.Background(), "istruzioni per corrompere", "come faccio?")
	if !flagged {
		t.Fatalf("violating response must be flagged")
	}
	if !strings.Contains(message, "codice etico") {
		t.Fatalf("unexpected replacement message: %q", message)
	}

	// A clean response passes through untouched.
	p = &scriptProvider{responses: []string{
		`{"is_violation": false, "category": "None", "reasoning": "ok"}`,
	}}
	g = newTestGuard(p, nil)
	flagged, message = g.ScreenResponse(context.Background(), "il meteo è soleggiato", "che tempo fa?")
	if flagged || message != "" {
		t.Fatalf("clean response must not be replaced, got %v %q", flagged, message)
	}
	if p.calls != 1 {
		t.Fatalf("clean response must not trigger message generation, got %d calls", p.calls)
	}
}

func TestClassifyPromptIncludesPolicyAndHistory(t *testing.T) {
	p := &scriptProvider{responses: []string{
		`{"is_violation": false, "requires_guidance": false, "category": "None", "reasoning": "ok"}`,
	}}
	g := newTestGuard(p, nil)
	history := []tree.Message{{Role: "user", Content: "contesto precedente"}}
	g.Check(context.Background(), "nuova domanda", history)

	prompt := p.prompts[0]
	if !strings.Contains(prompt, "DIGNITY") {
		t.Fatalf("fallback principles missing from classify prompt")
	}
	if !strings.Contains(prompt, "contesto precedente") {
		t.Fatalf("history missing from classify prompt")
	}
	if !strings.Contains(prompt, "mutually exclusive") {
		t.Fatalf("guidelines missing from classify prompt")
	}
}
