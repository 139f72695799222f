// Package profile stores per-user answer preferences and turns them into
// system prompts for the answering models.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Profile holds one user's answer preferences.
type Profile struct {
	UserID                 string    `json:"user_id"`
	ResponseDetailLevel    string    `json:"response_detail_level"` // concise | balanced | detailed
	Tone                   string    `json:"tone"`                  // professional | friendly | formal
	Language               string    `json:"language"`              // preferred answer language code
	Focus                  string    `json:"focus"`                 // technical | business | general
	CustomInstructions     string    `json:"custom_instructions"`
	CustomInstructionsMode string    `json:"custom_instructions_mode"` // append | override
	UpdatedAt              time.Time `json:"updated_at"`
}

// DefaultProfile is used for users with no stored profile.
func DefaultProfile(userID string) Profile {
	return Profile{
		UserID:                 userID,
		ResponseDetailLevel:    "balanced",
		Tone:                   "professional",
		Language:               "it",
		Focus:                  "technical",
		CustomInstructionsMode: "append",
	}
}

// Normalize clamps free-form fields to their allowed values.
func (p *Profile) Normalize() {
	def := DefaultProfile(p.UserID)
	p.ResponseDetailLevel = oneOf(p.ResponseDetailLevel, def.ResponseDetailLevel, "concise", "balanced", "detailed")
	p.Tone = oneOf(p.Tone, def.Tone, "professional", "friendly", "formal")
	p.Focus = oneOf(p.Focus, def.Focus, "technical", "business", "general")
	p.CustomInstructionsMode = oneOf(p.CustomInstructionsMode, def.CustomInstructionsMode, "append", "override")
	if strings.TrimSpace(p.Language) == "" {
		p.Language = def.Language
	}
}

func oneOf(value, fallback string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

// SystemPrompt renders the profile as answering-model instructions. Override
// mode replaces the generated preferences with the custom instructions alone.
func (p Profile) SystemPrompt() string {
	custom := strings.TrimSpace(p.CustomInstructions)
	if p.CustomInstructionsMode == "override" && custom != "" {
		return custom
	}
	var b strings.Builder
	b.WriteString("USER PREFERENCES:\n")
	switch p.ResponseDetailLevel {
	case "concise":
		b.WriteString("- Keep answers short and to the point; omit background the user did not ask for.\n")
	case "detailed":
		b.WriteString("- Provide thorough answers with context, caveats and examples.\n")
	default:
		b.WriteString("- Balance brevity and completeness; expand only where it helps.\n")
	}
	fmt.Fprintf(&b, "- Use a %s tone.\n", p.Tone)
	fmt.Fprintf(&b, "- Prefer answering in language %q unless the user writes in another language.\n", p.Language)
	switch p.Focus {
	case "business":
		b.WriteString("- Emphasize business impact and process over implementation detail.\n")
	case "general":
		b.WriteString("- Assume no specialist background; explain terms on first use.\n")
	default:
		b.WriteString("- Assume a technical reader; precise terminology is welcome.\n")
	}
	if custom != "" {
		b.WriteString("\nADDITIONAL INSTRUCTIONS:\n")
		b.WriteString(custom)
		b.WriteString("\n")
	}
	return b.String()
}
