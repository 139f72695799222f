package rag

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/crypto/blake2b"
)

// IngestHTML extracts readable text from an HTML document, chunks it and
// indexes every chunk. Returns the number of chunks added.
func (kb *KnowledgeBase) IngestHTML(ctx context.Context, filename string, r io.Reader, chunkRunes int) (int, error) {
	pageURL := &url.URL{Scheme: "file", Path: "/" + filename}
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return 0, fmt.Errorf("failed to extract %s: %w", filename, err)
	}
	return kb.IngestText(ctx, filename, article.TextContent, chunkRunes)
}

// IngestText chunks plain text by paragraph and indexes every chunk.
func (kb *KnowledgeBase) IngestText(ctx context.Context, filename, text string, chunkRunes int) (int, error) {
	added := 0
	for i, content := range splitChunks(text, chunkRunes) {
		chunk := Chunk{
			ID:       chunkID(filename, i, content),
			Filename: filename,
			Section:  i + 1,
			Content:  content,
		}
		if err := kb.AddChunk(ctx, chunk); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// IngestDir loads every .html/.htm/.txt file under dir.
func (kb *KnowledgeBase) IngestDir(ctx context.Context, dir string, chunkRunes int, logger *log.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read docs dir: %w", err)
	}
	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		path := filepath.Join(dir, name)
		var added int
		switch ext {
		case ".html", ".htm":
			f, err := os.Open(path)
			if err != nil {
				return total, err
			}
			added, err = kb.IngestHTML(ctx, name, f, chunkRunes)
			f.Close()
			if err != nil {
				if logger != nil {
					logger.Printf("skipping %s: %v", name, err)
				}
				continue
			}
		case ".txt":
			data, err := os.ReadFile(path)
			if err != nil {
				return total, err
			}
			added, err = kb.IngestText(ctx, name, string(data), chunkRunes)
			if err != nil {
				return total, err
			}
		default:
			continue
		}
		total += added
	}
	return total, nil
}

// splitChunks breaks text into paragraph-aligned chunks of at most maxRunes.
func splitChunks(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = 1200
	}
	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		// Oversized paragraph: hard-split.
		for runes := []rune(para); len(runes) > maxRunes; runes = []rune(para) {
			flush()
			chunks = append(chunks, strings.TrimSpace(string(runes[:maxRunes])))
			para = string(runes[maxRunes:])
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(para)) > maxRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// chunkID derives a deterministic id from filename, position and content, so
// re-ingesting the same documents yields the same ids.
func chunkID(filename string, section int, content string) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s:%d:%s", filename, section, content)))
	return hex.EncodeToString(sum[:16])
}
