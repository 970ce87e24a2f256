package chat

import (
	"fmt"
	"strings"

	"ragcompare/backend/go/internal/models"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

// DefaultSystemPrompt is used when the configuration does not set one.
const DefaultSystemPrompt = "You are a helpful assistant. Answer the question using the context below " +
	"and the conversation so far. If the context does not contain the answer, say that you do not know."

// PromptBuilder assembles the model prompt. The output depends only on its inputs.
type PromptBuilder struct {
	System string
	// HistoryTurns bounds the prior turns included, counting user and assistant turns separately.
	HistoryTurns int
}

// Build renders the system instruction, the retrieved chunks in rank order, the most
// recent history and the question.
func (b PromptBuilder) Build(query string, contexts []schema.ScoredChunk, history []models.Turn) string {
	var sb strings.Builder

	system := b.System
	if system == "" {
		system = DefaultSystemPrompt
	}
	sb.WriteString(system)
	sb.WriteString("\n\n")

	if len(contexts) > 0 {
		sb.WriteString("Context:\n")
		for i, c := range contexts {
			sb.WriteString("---\n")
			sb.WriteString(fmt.Sprintf("Context %d (page %d):\n%s\n", i+1, c.Page, c.Text))
		}
		sb.WriteString("---\n\n")
	}

	if len(history) > b.HistoryTurns {
		history = history[len(history)-b.HistoryTurns:]
	}
	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, t := range history {
			sb.WriteString(fmt.Sprintf("%s: %s\n", speaker(t.Role), t.Text))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Question: %s\nAnswer:", query))
	return sb.String()
}

func speaker(role models.SpeakerRole) string {
	if role == models.SpeakerAssistant {
		return "Assistant"
	}
	return "User"
}
