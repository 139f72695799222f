package llm

import "testing"

func TestExtractJSONFromProse(t *testing.T) {
	response := "Sure, here is the result:\n```json\n{\"action\": \"tool\", \"target\": \"retrieve\"}\n```\nHope that helps."
	got, err := ExtractJSON(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"action": "tool", "target": "retrieve"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractJSONNestedBraces(t *testing.T) {
	response := `prefix {"outer": {"inner": {"deep": 1}}, "b": 2} suffix`
	got, err := ExtractJSON(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"outer": {"inner": {"deep": 1}}, "b": 2}` {
		t.Fatalf("nested extraction wrong: %q", got)
	}
}

func TestExtractJSONIgnoresBracesInStrings(t *testing.T) {
	response := `{"text": "a closing brace } inside a string", "ok": true}`
	got, err := ExtractJSON(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != response {
		t.Fatalf("brace inside string terminated extraction early: %q", got)
	}
}

func TestExtractJSONHandlesEscapedQuotes(t *testing.T) {
	response := `noise {"text": "she said \"hi\" {"} tail`
	got, err := ExtractJSON(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"text": "she said \"hi\" {"}` {
		t.Fatalf("escaped quote handling wrong: %q", got)
	}
}

func TestExtractJSONErrors(t *testing.T) {
	for _, response := range []string{"", "no json here", `{"unterminated": true`} {
		if _, err := ExtractJSON(response); err == nil {
			t.Fatalf("expected error for %q", response)
		}
	}
}
