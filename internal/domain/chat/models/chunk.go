package models

import "strings"

// SourceType is where an indexed chunk originally came from
type SourceType string

const (
	SourceDocs    SourceType = "docs"
	SourceForum   SourceType = "forum"
	SourceDiscord SourceType = "discord"
	SourceOther   SourceType = "other"
)

// ParseSourceType maps free-form input onto the known source types.
// Anything unrecognised becomes SourceOther.
func ParseSourceType(s string) SourceType {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceDocs:
		return SourceDocs
	case SourceForum:
		return SourceForum
	case SourceDiscord:
		return SourceDiscord
	default:
		return SourceOther
	}
}

// DocumentChunk is an embedded passage owned by a retrieval collection
type DocumentChunk struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Tags       []string   `json:"tags,omitempty"`
	Embedding  []float32  `json:"-"`
}

// ScoredChunk is a chunk paired with its similarity to a query
type ScoredChunk struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float64       `json:"score"`
}

// RetrievalResult is ordered by score, highest first
type RetrievalResult []ScoredChunk
