package rag

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Library holds the named searchable collections. It satisfies the search
// boundary the retrieval tool depends on.
type Library struct {
	mu          sync.RWMutex
	collections map[string]*KnowledgeBase
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{collections: make(map[string]*KnowledgeBase)}
}

// Add registers a collection, replacing any previous one with the same name.
func (l *Library) Add(kb *KnowledgeBase) {
	l.mu.Lock()
	l.collections[kb.Name()] = kb
	l.mu.Unlock()
}

// Get returns a collection by name.
func (l *Library) Get(name string) (*KnowledgeBase, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	kb, ok := l.collections[name]
	return kb, ok
}

// Names lists the registered collections, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.collections))
	for name := range l.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search runs a hybrid query against one named collection.
func (l *Library) Search(ctx context.Context, collection, query string, limit int) ([]map[string]interface{}, error) {
	kb, ok := l.Get(collection)
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return kb.SearchObjects(ctx, query, limit)
}

// LoadLibrary builds a library from a directory tree: every subdirectory of
// root becomes a collection named after it, ingesting the documents inside.
func LoadLibrary(ctx context.Context, root string, embedder Embedder, chunkRunes int, logger *log.Logger) (*Library, error) {
	lib := NewLibrary()
	if root == "" {
		return lib, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read collections dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		kb, err := NewKnowledgeBase(entry.Name(), embedder)
		if err != nil {
			return nil, err
		}
		added, err := kb.IngestDir(ctx, filepath.Join(root, entry.Name()), chunkRunes, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest collection %s: %w", entry.Name(), err)
		}
		if logger != nil {
			logger.Printf("collection %s: %d chunks indexed", entry.Name(), added)
		}
		lib.Add(kb)
	}
	return lib, nil
}
