package tree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is one batch of objects produced by a tool invocation.
type Result struct {
	Metadata map[string]interface{}   `json:"metadata,omitempty"`
	Objects  []map[string]interface{} `json:"objects"`
}

// EnvEntry holds every result batch a (producer, name) pair has produced,
// in call order.
type EnvEntry struct {
	Producer string   `json:"producer"`
	Name     string   `json:"name"`
	Results  []Result `json:"results"`
}

// Environment accumulates everything tools produce during a conversation.
// It is append-only: batches are never overwritten or removed, and entries
// keep insertion order so renders are deterministic.
type Environment struct {
	Entries []EnvEntry `json:"entries"`
}

// NewEnvironment creates an empty environment.
func NewEnvironment() *Environment {
	return &Environment{}
}

// Add appends a result batch under the (producer, name) key.
func (e *Environment) Add(producer, name string, res Result) {
	for i := range e.Entries {
		if e.Entries[i].Producer == producer && e.Entries[i].Name == name {
			e.Entries[i].Results = append(e.Entries[i].Results, res)
			return
		}
	}
	e.Entries = append(e.Entries, EnvEntry{Producer: producer, Name: name, Results: []Result{res}})
}

// Find returns all result batches for a key, in call order.
func (e *Environment) Find(producer, name string) []Result {
	for i := range e.Entries {
		if e.Entries[i].Producer == producer && e.Entries[i].Name == name {
			return e.Entries[i].Results
		}
	}
	return nil
}

// HasProducer reports whether any batch exists for the given producer.
// Tool availability predicates lean on this (e.g. "at least one retrieval
// has occurred").
func (e *Environment) HasProducer(producer string) bool {
	for i := range e.Entries {
		if e.Entries[i].Producer == producer && len(e.Entries[i].Results) > 0 {
			return true
		}
	}
	return false
}

// IsEmpty reports whether nothing has been produced yet.
func (e *Environment) IsEmpty() bool {
	for i := range e.Entries {
		if len(e.Entries[i].Results) > 0 {
			return false
		}
	}
	return true
}

// Objects flattens every object in the environment, in insertion order.
func (e *Environment) Objects() []map[string]interface{} {
	var out []map[string]interface{}
	for i := range e.Entries {
		for _, res := range e.Entries[i].Results {
			out = append(out, res.Objects...)
		}
	}
	return out
}

// Render produces a compact textual snapshot for LLM context. Each object is
// serialized as JSON, truncated per object to keep prompts bounded.
func (e *Environment) Render(maxObjectRunes int) string {
	if e.IsEmpty() {
		return "(empty)"
	}
	if maxObjectRunes <= 0 {
		maxObjectRunes = 400
	}
	var b strings.Builder
	for i := range e.Entries {
		entry := &e.Entries[i]
		fmt.Fprintf(&b, "%s / %s:\n", entry.Producer, entry.Name)
		for bi, res := range entry.Results {
			fmt.Fprintf(&b, "  batch %d (%d objects)\n", bi+1, len(res.Objects))
			for _, obj := range res.Objects {
				raw, err := json.Marshal(obj)
				if err != nil {
					continue
				}
				s := string(raw)
				if runes := []rune(s); len(runes) > maxObjectRunes {
					s = string(runes[:maxObjectRunes]) + "…"
				}
				fmt.Fprintf(&b, "    %s\n", s)
			}
		}
	}
	return b.String()
}
