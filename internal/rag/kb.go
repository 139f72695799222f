package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"
)

// Chunk is one indexed passage of a normative document.
type Chunk struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Section  int    `json:"section"`
	Content  string `json:"content"`
}

// Hit is a ranked search result.
type Hit struct {
	Chunk
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Embedder turns texts into vectors. llm.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const rrfK = 60 // reciprocal-rank-fusion constant

type chunkVec struct {
	id  string
	vec []float32
}

// KnowledgeBase is an in-memory hybrid index over a document collection:
// bm25 via bleve plus cosine over stored vectors, fused with RRF. When no
// embedder is configured (or embedding fails) it degrades to bm25 only.
type KnowledgeBase struct {
	name     string
	index    bleve.Index
	chunks   map[string]Chunk
	vectors  []chunkVec
	embedder Embedder
	mu       sync.RWMutex
}

// NewKnowledgeBase creates an empty knowledge base. embedder may be nil.
func NewKnowledgeBase(name string, embedder Embedder) (*KnowledgeBase, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &KnowledgeBase{
		name:     name,
		index:    index,
		chunks:   make(map[string]Chunk),
		embedder: embedder,
	}, nil
}

// Name returns the collection name.
func (kb *KnowledgeBase) Name() string { return kb.name }

// Len returns the number of indexed chunks.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.chunks)
}

// AddChunk indexes one chunk; when an embedder is present its vector is
// computed and stored alongside.
func (kb *KnowledgeBase) AddChunk(ctx context.Context, chunk Chunk) error {
	kb.mu.Lock()
	kb.chunks[chunk.ID] = chunk
	kb.mu.Unlock()
	if err := kb.index.Index(chunk.ID, chunk); err != nil {
		return fmt.Errorf("failed to index chunk %s: %w", chunk.ID, err)
	}
	if kb.embedder == nil {
		return nil
	}
	vecs, err := kb.embedder.Embed(ctx, []string{chunk.Content})
	if err != nil || len(vecs) == 0 {
		// Vector is an enrichment; bm25 still covers the chunk.
		return nil
	}
	kb.mu.Lock()
	kb.vectors = append(kb.vectors, chunkVec{id: chunk.ID, vec: vecs[0]})
	kb.mu.Unlock()
	return nil
}

// BM25 runs a keyword search.
func (kb *KnowledgeBase) BM25(query string, k int) ([]Hit, error) {
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, k*3, 0, false)
	res, err := kb.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search failed: %w", err)
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var out []Hit
	for i, hit := range res.Hits {
		chunk, ok := kb.chunks[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{Chunk: chunk, Score: hit.Score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// VectorSearch ranks chunks by cosine similarity to the query vector.
func (kb *KnowledgeBase) VectorSearch(queryVec []float32, k int) []Hit {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(kb.vectors))
	for _, v := range kb.vectors {
		scoreds = append(scoreds, scored{id: v.id, score: cosine(queryVec, v.vec)})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []Hit
	for i, sc := range scoreds {
		chunk, ok := kb.chunks[sc.id]
		if !ok {
			continue
		}
		out = append(out, Hit{Chunk: chunk, Score: sc.score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out
}

// FuseRRF merges two ranked lists with reciprocal-rank fusion.
func FuseRRF(a, b []Hit, k int) []Hit {
	type agg struct {
		hit   Hit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []Hit) {
		for _, h := range list {
			x, ok := m[h.ID]
			if !ok {
				x = &agg{hit: h}
				m[h.ID] = x
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	add(a)
	add(b)

	fused := make([]agg, 0, len(m))
	for _, v := range m {
		fused = append(fused, *v)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score == fused[j].score {
			return fused[i].hit.ID < fused[j].hit.ID
		}
		return fused[i].score > fused[j].score
	})

	if k > len(fused) {
		k = len(fused)
	}
	out := make([]Hit, 0, k)
	for i := 0; i < k; i++ {
		h := fused[i].hit
		h.Score = fused[i].score
		h.Rank = i + 1
		out = append(out, h)
	}
	return out
}

// Hybrid runs bm25 and vector search and fuses the results. Any failure on
// the vector side falls back to bm25 alone; only a bm25 failure is an error.
func (kb *KnowledgeBase) Hybrid(ctx context.Context, query string, k int) ([]Hit, error) {
	keyword, err := kb.BM25(query, k)
	if err != nil {
		return nil, err
	}
	if kb.embedder == nil {
		return keyword, nil
	}
	vecs, err := kb.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return keyword, nil
	}
	semantic := kb.VectorSearch(vecs[0], k)
	if len(semantic) == 0 {
		return keyword, nil
	}
	return FuseRRF(keyword, semantic, k), nil
}

// SearchObjects adapts Hybrid to the generic object shape the retrieval tool
// streams into the environment.
func (kb *KnowledgeBase) SearchObjects(ctx context.Context, query string, k int) ([]map[string]interface{}, error) {
	hits, err := kb.Hybrid(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]interface{}{
			"id":       h.ID,
			"filename": h.Filename,
			"section":  h.Section,
			"content":  h.Content,
			"score":    h.Score,
		})
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
