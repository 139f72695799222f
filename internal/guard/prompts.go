package guard

import (
	"log"
	"os"
	"path/filepath"
	"sync"
)

// FallbackEthicalPrinciples is used when no policy documents are configured.
const FallbackEthicalPrinciples = `1. DIGNITY: Always treat people as ends, never as means.
2. FREEDOM: Protect freedom of thought, expression, and work-life balance.
3. EQUALITY: Oppose all discrimination and ensure equal dignity for all.
4. SOLIDARITY: Orient every action toward the common good and social responsibility.
5. CITIZENSHIP AND JUSTICE: Act with honesty, transparency, legality, and impartiality.`

// FallbackMessage is returned when the message generator itself fails; the
// guard never propagates generation failures to the caller.
const FallbackMessage = "Questa richiesta non può essere soddisfatta in quanto in conflitto con le linee guida etiche dell'organizzazione. " +
	"Si prega di riformulare la richiesta nel rispetto dei principi di dignità, uguaglianza, onestà e rispetto. / " +
	"This request cannot be fulfilled as it conflicts with our ethical guidelines. " +
	"Please rephrase your request in a way that aligns with principles of dignity, equality, honesty, and respect."

// FallbackGuidance is the canned message for guide verdicts when generation fails.
const FallbackGuidance = "La richiesta tocca un tema coperto dalle linee guida etiche dell'organizzazione; si consiglia di consultare i documenti normativi interni prima di procedere. / " +
	"This request touches a topic covered by our ethical guidelines; please consult the internal normative documents before proceeding."

// defaultGuidelines encodes how the classifier applies the filter, including
// the tie-break policy between the three verdicts.
const defaultGuidelines = `How to apply the filter:
- BLOCK only requests that ask the system to PERFORM or FACILITATE a violation
  (write it, plan it, help carry it out).
- GUIDE requests that investigate the feasibility, permissibility or
  consequences of an ethically sensitive action without asking the system to
  perform it ("can I...", "what happens if I...", "is it allowed to...").
- PASS everything with no ethical relevance, and purely informational or
  educational questions about the policy itself. A question ABOUT ethics,
  discrimination or sensitive topics is NOT itself a violation.
- When genuinely ambiguous between pass and guide, prefer guide.
- When genuinely ambiguous between guide and block, prefer guide.
- block and guide are mutually exclusive; never set both.`

// PolicySet holds the filter criteria and application guidelines, loaded
// from a prompts directory when configured, with built-in fallbacks.
type PolicySet struct {
	dir  string
	mu   sync.Mutex
	docs map[string]string
}

// NewPolicySet creates a policy set backed by dir (may be empty).
func NewPolicySet(dir string) *PolicySet {
	return &PolicySet{dir: dir, docs: make(map[string]string)}
}

// Filter returns the ethical filter criteria document.
func (p *PolicySet) Filter() string {
	return p.load("input_filter", FallbackEthicalPrinciples)
}

// OutputFilter returns the filter criteria applied to generated responses.
func (p *PolicySet) OutputFilter() string {
	return p.load("output_filter", FallbackEthicalPrinciples)
}

// Guidelines returns the filter application guidelines document.
func (p *PolicySet) Guidelines() string {
	return p.load("filter_guidelines", defaultGuidelines)
}

// load fetches a named document from the prompts dir, cached, with fallback.
func (p *PolicySet) load(name, fallback string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if doc, ok := p.docs[name]; ok {
		return doc
	}
	doc := fallback
	if p.dir != "" {
		for _, ext := range []string{".xml", ".txt", ".md"} {
			data, err := os.ReadFile(filepath.Join(p.dir, name+ext))
			if err == nil && len(data) > 0 {
				doc = string(data)
				break
			}
		}
	}
	p.docs[name] = doc
	return doc
}

func ensureLogger(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(log.Writer(), "[GUARD] ", log.LstdFlags)
	}
	return logger
}
