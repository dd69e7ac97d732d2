package retrieval

import (
	"fmt"
	"strings"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
)

// FormatDocuments renders retrieved chunks as numbered documents for a prompt
func FormatDocuments(result models.RetrievalResult) string {
	var b strings.Builder
	for i, sc := range result {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Document %d:\nSource: %s (%s)\nContent:\n%s", i+1, sc.Chunk.SourceID, sc.Chunk.SourceType, sc.Chunk.Text)
	}
	return b.String()
}

// SourceIDs lists the distinct source ids of result in order of first appearance
func SourceIDs(result models.RetrievalResult) []string {
	seen := make(map[string]struct{}, len(result))
	out := make([]string, 0, len(result))
	for _, sc := range result {
		if _, ok := seen[sc.Chunk.SourceID]; ok {
			continue
		}
		seen[sc.Chunk.SourceID] = struct{}{}
		out = append(out, sc.Chunk.SourceID)
	}
	return out
}
