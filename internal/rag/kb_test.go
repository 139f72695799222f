package rag

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, ok := f.vectors[t]
		if !ok {
			vec = []float32{0, 0, 1}
		}
		out[i] = vec
	}
	return out, nil
}

func seedKB(t *testing.T, embedder Embedder) *KnowledgeBase {
	t.Helper()
	kb, err := NewKnowledgeBase("testdocs", embedder)
	if err != nil {
		t.Fatalf("new kb: %v", err)
	}
	ctx := context.Background()
	chunks := []Chunk{
		{ID: "c1", Filename: "codice_etico.html", Section: 1, Content: "divieto assoluto di corruzione e tangenti"},
		{ID: "c2", Filename: "codice_etico.html", Section: 2, Content: "regali da fornitori oltre il valore simbolico"},
		{ID: "c3", Filename: "regolamento.html", Section: 1, Content: "orario di lavoro e straordinari"},
	}
	for _, c := range chunks {
		if err := kb.AddChunk(ctx, c); err != nil {
			t.Fatalf("add chunk: %v", err)
		}
	}
	return kb
}

func TestBM25FindsKeywordMatch(t *testing.T) {
	kb := seedKB(t, nil)
	hits, err := kb.BM25("corruzione", 5)
	if err != nil {
		t.Fatalf("bm25: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != "c1" {
		t.Fatalf("expected c1 first, got %+v", hits)
	}
	if hits[0].Rank != 1 {
		t.Fatalf("expected rank 1, got %d", hits[0].Rank)
	}
}

func TestHybridWithoutEmbedderIsBM25(t *testing.T) {
	kb := seedKB(t, nil)
	hits, err := kb.Hybrid(context.Background(), "tangenti", 5)
	if err != nil {
		t.Fatalf("hybrid: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != "c1" {
		t.Fatalf("expected bm25 result, got %+v", hits)
	}
}

func TestHybridFallsBackWhenEmbeddingFails(t *testing.T) {
	embedder := &fakeEmbedder{}
	kb := seedKB(t, embedder)
	embedder.err = errors.New("embedding service down")

	hits, err := kb.Hybrid(context.Background(), "regali fornitori", 5)
	if err != nil {
		t.Fatalf("hybrid must fall back, got error: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected bm25 fallback results")
	}
}

func TestFuseRRFRanksSharedHitsFirst(t *testing.T) {
	a := []Hit{
		{Chunk: Chunk{ID: "x"}, Rank: 1},
		{Chunk: Chunk{ID: "y"}, Rank: 2},
	}
	b := []Hit{
		{Chunk: Chunk{ID: "y"}, Rank: 1},
		{Chunk: Chunk{ID: "z"}, Rank: 2},
	}
	fused := FuseRRF(a, b, 3)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused hits, got %d", len(fused))
	}
	if fused[0].ID != "y" {
		t.Fatalf("hit present in both lists should rank first, got %s", fused[0].ID)
	}
	for i, h := range fused {
		if h.Rank != i+1 {
			t.Fatalf("fused ranks must be reassigned, got %+v", fused)
		}
	}
}

func TestFuseRRFTieBreaksByID(t *testing.T) {
	a := []Hit{{Chunk: Chunk{ID: "b"}, Rank: 1}}
	b := []Hit{{Chunk: Chunk{ID: "a"}, Rank: 1}}
	fused := FuseRRF(a, b, 2)
	if fused[0].ID != "a" || fused[1].ID != "b" {
		t.Fatalf("equal scores must tie-break by id, got %+v", fused)
	}
}

func TestSearchObjectsShape(t *testing.T) {
	kb := seedKB(t, nil)
	objects, err := kb.SearchObjects(context.Background(), "straordinari", 5)
	if err != nil {
		t.Fatalf("search objects: %v", err)
	}
	if len(objects) == 0 {
		t.Fatalf("expected results")
	}
	first := objects[0]
	for _, key := range []string{"id", "filename", "section", "content", "score"} {
		if _, ok := first[key]; !ok {
			t.Fatalf("object missing %s: %v", key, first)
		}
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("identical vectors should score ~1, got %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors should score 0, got %f", got)
	}
	if got := cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero vector should score 0, got %f", got)
	}
}
