package tree

import (
	"strings"
	"testing"
)

func obj(kv ...string) map[string]interface{} {
	m := map[string]interface{}{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func TestEnvironmentAppendKeepsBatchOrder(t *testing.T) {
	env := NewEnvironment()
	env.Add("retrieve", "docs", Result{Objects: []map[string]interface{}{obj("n", "1")}})
	env.Add("retrieve", "docs", Result{Objects: []map[string]interface{}{obj("n", "2")}})
	env.Add("retrieve", "docs", Result{Objects: []map[string]interface{}{obj("n", "3")}})

	batches := env.Find("retrieve", "docs")
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for i, want := range []string{"1", "2", "3"} {
		if got := batches[i].Objects[0]["n"]; got != want {
			t.Fatalf("batch %d: expected n=%s, got %v", i, want, got)
		}
	}
}

func TestEnvironmentKeysAreIndependent(t *testing.T) {
	env := NewEnvironment()
	env.Add("retrieve", "a", Result{Objects: []map[string]interface{}{obj("k", "x")}})
	env.Add("retrieve", "b", Result{Objects: []map[string]interface{}{obj("k", "y")}})
	env.Add("aggregate", "a", Result{Objects: []map[string]interface{}{obj("k", "z")}})

	if got := len(env.Find("retrieve", "a")); got != 1 {
		t.Fatalf("expected 1 batch under retrieve/a, got %d", got)
	}
	if env.Find("retrieve", "missing") != nil {
		t.Fatalf("expected nil for unknown key")
	}
	if !env.HasProducer("aggregate") {
		t.Fatalf("expected aggregate producer to exist")
	}
	if env.HasProducer("summarize") {
		t.Fatalf("did not expect summarize producer")
	}
}

func TestEnvironmentIsEmptyAndObjects(t *testing.T) {
	env := NewEnvironment()
	if !env.IsEmpty() {
		t.Fatalf("new environment should be empty")
	}
	env.Add("retrieve", "docs", Result{Objects: []map[string]interface{}{obj("n", "1"), obj("n", "2")}})
	env.Add("aggregate", "analysis", Result{Objects: []map[string]interface{}{obj("n", "3")}})
	if env.IsEmpty() {
		t.Fatalf("environment with entries should not be empty")
	}
	all := env.Objects()
	if len(all) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(all))
	}
	if all[0]["n"] != "1" || all[2]["n"] != "3" {
		t.Fatalf("objects out of insertion order: %v", all)
	}
}

func TestEnvironmentRenderTruncatesObjects(t *testing.T) {
	env := NewEnvironment()
	env.Add("retrieve", "docs", Result{Objects: []map[string]interface{}{obj("content", strings.Repeat("x", 500))}})
	rendered := env.Render(50)
	if !strings.Contains(rendered, "retrieve / docs") {
		t.Fatalf("render missing entry header: %q", rendered)
	}
	for _, line := range strings.Split(rendered, "\n") {
		if len([]rune(line)) > 80 {
			t.Fatalf("object line not truncated: %d runes", len([]rune(line)))
		}
	}
	if NewEnvironment().Render(50) != "(empty)" {
		t.Fatalf("empty environment should render as (empty)")
	}
}
