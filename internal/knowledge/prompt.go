package knowledge

import (
	"fmt"
	"strings"

	"mmassist/internal/domain"
)

const stuffTemplate = "Use the following pieces of context to answer the question at the end. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n\n" +
	"%s\n\nQuestion: %s\nHelpful Answer:"

// BuildPrompt places every retrieved chunk, in rank order, into one prompt.
func BuildPrompt(hits []domain.SearchHit, question string) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Chunk.Text
	}
	return fmt.Sprintf(stuffTemplate, strings.Join(parts, "\n\n"), question)
}
