package session

import (
	"strings"
	"testing"
)

func TestAssembleSystemPrompt_Defaults(t *testing.T) {
	got := AssembleSystemPrompt("", "", "", "")
	if got != defaultSystemPrompt {
		t.Errorf("prompt = %q, want the default prompt", got)
	}
	if strings.Contains(got, "##") {
		t.Error("empty sections must be omitted entirely")
	}
}

func TestAssembleSystemPrompt_AllSections(t *testing.T) {
	got := AssembleSystemPrompt(
		"You are Jarvis.",
		"- likes coffee [preference]",
		"Always answer in English.",
		"Keep answers under two sentences.",
	)

	if !strings.HasPrefix(got, "You are Jarvis.") {
		t.Errorf("prompt does not start with the base prompt: %q", got)
	}
	order := []string{
		"## User Memories (persistent across all chats):",
		"- likes coffee [preference]",
		"## Global Rules:",
		"Always answer in English.",
		"## Custom Rules for This Chat:",
		"Keep answers under two sentences.",
	}
	idx := 0
	for _, want := range order {
		pos := strings.Index(got[idx:], want)
		if pos < 0 {
			t.Fatalf("prompt missing %q (after offset %d):\n%s", want, idx, got)
		}
		idx += pos + len(want)
	}
}

func TestAssembleSystemPrompt_BlankRulesOmitted(t *testing.T) {
	got := AssembleSystemPrompt("base", "", "   \n\t", "  ")
	if got != "base" {
		t.Errorf("whitespace-only rules must be omitted, got %q", got)
	}
}

func TestAssembleSystemPrompt_OnlyConversationRules(t *testing.T) {
	got := AssembleSystemPrompt("base", "", "", "speak like a pirate")
	if strings.Contains(got, "## Global Rules:") {
		t.Error("global rules section present without global rules")
	}
	if !strings.Contains(got, "## Custom Rules for This Chat:\nspeak like a pirate") {
		t.Errorf("conversation rules missing: %q", got)
	}
}
