package tools

import (
	"log"

	"github.com/arborlabs/arbor/config"
	"github.com/arborlabs/arbor/internal/llm"
	"github.com/arborlabs/arbor/internal/tree"
)

// BuildTree assembles the default decision tree: direct answering at the
// root and a search branch holding the retrieval pipeline.
func BuildTree(cfg *config.Config, provider llm.Provider, search SearchClient, prompter ProfilePrompter, logger *log.Logger) (*tree.Node, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	base := cfg.LLM.Routing.Model(cfg.LLM.Routing.Base)
	complexModel := cfg.LLM.Routing.Model(cfg.LLM.Routing.Complex)
	maxObjectRunes := cfg.Retrieval.ChunkRunes * 2

	searchNode := &tree.Node{
		ID:          "search",
		Instruction: "Retrieve documents from the collections, optionally aggregate them, then summarize into a final answer.",
		Tools: []tree.Tool{
			NewRetrieve(search, provider, base, cfg.Retrieval.DefaultTopK, cfg.Tree.HistoryWindow, logger),
			NewAggregate(provider, base, maxObjectRunes, logger),
			NewSummarize(provider, complexModel, maxObjectRunes, cfg.Tree.HistoryWindow, prompter, logger),
		},
	}
	root := &tree.Node{
		ID:          "root",
		Instruction: "Answer directly when no documents are needed; descend into search when the request needs collection content.",
		Tools: []tree.Tool{
			NewDirectAnswer(provider, base, complexModel, cfg.Tree.HistoryWindow, prompter, logger),
		},
		Children: []*tree.Node{searchNode},
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return root, nil
}
