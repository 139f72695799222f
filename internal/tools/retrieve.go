// Package tools holds the units of work the decision node can dispatch:
// retrieval, aggregation, summarization and direct answers.
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

// SearchClient is the vector-storage boundary: hybrid search over a named
// collection, returning generic objects.
type SearchClient interface {
	Search(ctx context.Context, collection, query string, limit int) ([]map[string]interface{}, error)
}

// Retrieve queries the configured collections for objects relevant to the
// conversation. The search query itself is derived by the base model from
// the conversation, not taken verbatim from the user prompt.
type Retrieve struct {
	client        SearchClient
	provider      llm.Provider
	model         string
	limit         int
	historyWindow int
	logger        *log.Logger
}

// NewRetrieve creates the retrieval tool.
func NewRetrieve(client SearchClient, provider llm.Provider, model string, limit, historyWindow int, logger *log.Logger) *Retrieve {
	if limit <= 0 {
		limit = 5
	}
	if historyWindow <= 0 {
		historyWindow = 6
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Retrieve{client: client, provider: provider, model: model, limit: limit, historyWindow: historyWindow, logger: logger}
}

func (r *Retrieve) Name() string { return "retrieve" }

func (r *Retrieve) Description() string {
	return `Search the configured document collections for objects relevant to the user's request. Use this when the request needs information that is not already in the environment.`
}

func (r *Retrieve) EndsTurn() bool { return false }

// Available requires a search client and at least one collection enabled
// for the current turn.
func (r *Retrieve) Available(td *tree.TreeData) bool {
	return r.client != nil && len(td.Collections) > 0
}

func (r *Retrieve) Run(ctx context.Context, td *tree.TreeData, out chan<- tree.Event) error {
	query, err := r.buildQuery(ctx, td)
	if err != nil {
		return fmt.Errorf("failed to build search query: %w", err)
	}

	found := 0
	for _, collection := range td.Collections {
		objects, err := r.client.Search(ctx, collection, query, r.limit)
		if err != nil {
			// One failing collection should not sink the others.
			out <- tree.ErrorEvent("retrieval_failed", fmt.Sprintf("collection %s: %v", collection, err))
			continue
		}
		out <- tree.RetrievalEvent(collection, len(objects))
		if len(objects) == 0 {
			continue
		}
		out <- tree.ResultEvent(r.Name(), collection, objects, map[string]interface{}{
			"query": query,
			"limit": r.limit,
		})
		found += len(objects)
	}
	if found == 0 {
		out <- tree.StatusEvent("no objects retrieved")
	}
	return nil
}

func (r *Retrieve) buildQuery(ctx context.Context, td *tree.TreeData) (string, error) {
	prompt := fmt.Sprintf(`Derive a concise search query for a document search engine from this conversation. Return JSON only: {"query": "..."}

CONVERSATION:
%s`, tree.RenderHistory(td.RecentHistory(r.historyWindow)))
	response, err := r.provider.Generate(ctx, prompt, r.model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  120,
	})
	if err != nil {
		return "", err
	}
	jsonStr, err := llm.ExtractJSON(response)
	if err == nil {
		var raw struct {
			Query string `json:"query"`
		}
		if json.Unmarshal([]byte(jsonStr), &raw) == nil && strings.TrimSpace(raw.Query) != "" {
			return strings.TrimSpace(raw.Query), nil
		}
	}
	// Degrade to the raw user prompt rather than failing the tool.
	for i := len(td.History) - 1; i >= 0; i-- {
		if td.History[i].Role == "user" {
			return td.History[i].Content, nil
		}
	}
	return "", fmt.Errorf("no user prompt to search for")
}
