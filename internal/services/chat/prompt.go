package chat

import (
	"strings"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
)

const noContextNotice = "No relevant context was found in the BeagleBoard knowledge base for this question. Say so, then give practical general guidance."

// buildPrompt assembles the initial turn: system instructions, prior
// history, then the retrieved documents and the question.
func buildPrompt(workspace string, withTools bool, result models.RetrievalResult, history []models.Message, question string) []models.Message {
	system := models.DefaultSystemPrompt(workspace, withTools)

	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: system.String()})
	for _, m := range history {
		if m.Role == models.RoleUser || m.Role == models.RoleAssistant {
			messages = append(messages, models.Message{Role: m.Role, Content: m.Content})
		}
	}

	var b strings.Builder
	if len(result) == 0 {
		b.WriteString(noContextNotice)
	} else {
		b.WriteString("Answer using the following documents from the BeagleBoard knowledge base.\n\n")
		b.WriteString(retrieval.FormatDocuments(result))
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)

	messages = append(messages, models.Message{Role: models.RoleUser, Content: b.String()})
	return messages
}
