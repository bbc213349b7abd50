package session

import "strings"

// defaultSystemPrompt is used when the configuration provides none. Voice
// responses read poorly with markdown, so the prompt steers the model toward
// plain spoken prose.
const defaultSystemPrompt = "You are a helpful voice assistant. Keep your responses " +
	"conversational and concise since they will be spoken aloud. Avoid markdown " +
	"formatting, lists, and code blocks unless explicitly asked for code."

// memoriesSection introduces the persistent-memory block of the system
// prompt.
const memoriesSection = "\n\n## User Memories (persistent across all chats):\n" +
	"These are things the user has asked you to remember. Use this information " +
	"to provide personalized responses:\n"

// AssembleSystemPrompt builds the per-request system prompt: the base prompt,
// the persistent user memories, the global rules, and the rules configured
// for this conversation. Empty sections are omitted entirely.
func AssembleSystemPrompt(base, memoryContext, globalRules, conversationRules string) string {
	if base == "" {
		base = defaultSystemPrompt
	}

	var sb strings.Builder
	sb.WriteString(base)
	if memoryContext != "" {
		sb.WriteString(memoriesSection)
		sb.WriteString(memoryContext)
	}
	if globalRules = strings.TrimSpace(globalRules); globalRules != "" {
		sb.WriteString("\n\n## Global Rules:\n")
		sb.WriteString(globalRules)
	}
	if conversationRules = strings.TrimSpace(conversationRules); conversationRules != "" {
		sb.WriteString("\n\n## Custom Rules for This Chat:\n")
		sb.WriteString(conversationRules)
	}
	return sb.String()
}
