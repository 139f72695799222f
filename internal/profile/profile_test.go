package profile

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNormalizeClampsInvalidValues(t *testing.T) {
	p := Profile{
		UserID:                 "alice",
		ResponseDetailLevel:    "exhaustive",
		Tone:                   "SASSY",
		Language:               " ",
		Focus:                  "Business",
		CustomInstructionsMode: "replace",
	}
	p.Normalize()
	if p.ResponseDetailLevel != "balanced" {
		t.Fatalf("invalid detail level not clamped: %q", p.ResponseDetailLevel)
	}
	if p.Tone != "professional" {
		t.Fatalf("invalid tone not clamped: %q", p.Tone)
	}
	if p.Language != "it" {
		t.Fatalf("blank language not defaulted: %q", p.Language)
	}
	if p.Focus != "business" {
		t.Fatalf("valid focus should survive case folding: %q", p.Focus)
	}
	if p.CustomInstructionsMode != "append" {
		t.Fatalf("invalid mode not clamped: %q", p.CustomInstructionsMode)
	}
}

func TestSystemPromptAppendMode(t *testing.T) {
	p := DefaultProfile("alice")
	p.ResponseDetailLevel = "concise"
	p.CustomInstructions = "cita sempre i documenti"
	prompt := p.SystemPrompt()
	if !strings.Contains(prompt, "short and to the point") {
		t.Fatalf("detail preference missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "cita sempre i documenti") {
		t.Fatalf("custom instructions missing in append mode:\n%s", prompt)
	}
	if !strings.Contains(prompt, "USER PREFERENCES") {
		t.Fatalf("generated preferences missing in append mode:\n%s", prompt)
	}
}

func TestSystemPromptOverrideMode(t *testing.T) {
	p := DefaultProfile("alice")
	p.CustomInstructionsMode = "override"
	p.CustomInstructions = "rispondi solo in inglese"
	prompt := p.SystemPrompt()
	if prompt != "rispondi solo in inglese" {
		t.Fatalf("override mode must replace generated preferences, got:\n%s", prompt)
	}

	// Override with no custom text falls back to generated preferences.
	p.CustomInstructions = ""
	if !strings.Contains(p.SystemPrompt(), "USER PREFERENCES") {
		t.Fatalf("empty override must fall back to preferences")
	}
}

type fakeRepo struct {
	profile Profile
	err     error
}

func (f *fakeRepo) Get(_ context.Context, _ string) (Profile, error) { return f.profile, f.err }
func (f *fakeRepo) Upsert(_ context.Context, _ Profile) error        { return nil }
func (f *fakeRepo) Delete(_ context.Context, _ string) error         { return nil }

func TestPrompterFailsOpenToDefaults(t *testing.T) {
	defaults := DefaultProfile("alice").SystemPrompt()

	for name, repo := range map[string]Repository{
		"nil repo":      nil,
		"not found":     &fakeRepo{err: ErrNotFound},
		"storage error": &fakeRepo{err: errors.New("connection refused")},
	} {
		pr := NewPrompter(repo, nil)
		if got := pr.SystemPrompt(context.Background(), "alice"); got != defaults {
			t.Fatalf("%s: expected default prompt, got:\n%s", name, got)
		}
	}
}

func TestPrompterUsesStoredProfile(t *testing.T) {
	stored := DefaultProfile("alice")
	stored.Tone = "friendly"
	pr := NewPrompter(&fakeRepo{profile: stored}, nil)
	if got := pr.SystemPrompt(context.Background(), "alice"); !strings.Contains(got, "friendly tone") {
		t.Fatalf("stored profile not applied:\n%s", got)
	}
}
