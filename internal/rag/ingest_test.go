package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitChunksRespectsParagraphs(t *testing.T) {
	text := "primo paragrafo\n\nsecondo paragrafo\n\nterzo paragrafo"
	chunks := splitChunks(text, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 40 {
			t.Fatalf("chunk exceeds limit: %q", c)
		}
	}
}

func TestSplitChunksHardSplitsOversizedParagraph(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := splitChunks(text, 30)
	var total int
	for _, c := range chunks {
		if len([]rune(c)) > 30 {
			t.Fatalf("oversized chunk: %d runes", len([]rune(c)))
		}
		total += len([]rune(c))
	}
	if total != 100 {
		t.Fatalf("content lost in hard split: %d of 100 runes", total)
	}
}

func TestChunkIDIsDeterministic(t *testing.T) {
	a := chunkID("doc.html", 1, "content")
	b := chunkID("doc.html", 1, "content")
	c := chunkID("doc.html", 2, "content")
	if a != b {
		t.Fatalf("same inputs must yield same id")
	}
	if a == c {
		t.Fatalf("different section must yield different id")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}

func TestIngestTextIndexesEveryChunk(t *testing.T) {
	kb, err := NewKnowledgeBase("ingest", nil)
	if err != nil {
		t.Fatalf("new kb: %v", err)
	}
	text := "il codice etico vieta la corruzione\n\nle segnalazioni sono protette da riservatezza"
	added, err := kb.IngestText(context.Background(), "codice.txt", text, 50)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if added != kb.Len() || added == 0 {
		t.Fatalf("expected all chunks indexed, added=%d len=%d", added, kb.Len())
	}
	hits, err := kb.BM25("riservatezza", 5)
	if err != nil || len(hits) == 0 {
		t.Fatalf("ingested content not searchable: %v %v", hits, err)
	}
	if hits[0].Filename != "codice.txt" || hits[0].Section == 0 {
		t.Fatalf("chunk metadata missing: %+v", hits[0])
	}
}

func TestIngestDirWithNilLogger(t *testing.T) {
	dir := t.TempDir()
	html := "<html><body><p>" + strings.Repeat("il codice etico vieta la corruzione. ", 20) + "</p></body></html>"
	if err := os.WriteFile(filepath.Join(dir, "codice.html"), []byte(html), 0o644); err != nil {
		t.Fatalf("write html: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("le segnalazioni sono riservate"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}

	kb, err := NewKnowledgeBase("dir", nil)
	if err != nil {
		t.Fatalf("new kb: %v", err)
	}
	added, err := kb.IngestDir(context.Background(), dir, 200, nil)
	if err != nil {
		t.Fatalf("ingest dir: %v", err)
	}
	if added == 0 || added != kb.Len() {
		t.Fatalf("expected every parsed chunk indexed, added=%d len=%d", added, kb.Len())
	}
	hits, err := kb.BM25("riservate", 5)
	if err != nil || len(hits) == 0 {
		t.Fatalf("text file not indexed: %v %v", hits, err)
	}
}
