package retrieval

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxRecordSize = 1024 * 1024

// chunkNamespace scopes the name-based ids of dataset chunks
var chunkNamespace = uuid.MustParse("6f3c7a52-1b8e-4f0a-9c61-4d2b8be1a0c7")

var validate = validator.New()

// Record is one line of a QA dataset file
type Record struct {
	Question   string   `json:"question" validate:"required"`
	Answer     string   `json:"answer" validate:"required"`
	SourceType string   `json:"source_type"`
	SourceID   string   `json:"source_id" validate:"required"`
	Tags       []string `json:"tags"`
}

// Chunk derives the indexed chunk. The id depends only on the source and
// the content, so re-ingesting the same record is a no-op.
func (r Record) Chunk() models.DocumentChunk {
	text := fmt.Sprintf("Q: %s\nA: %s", strings.TrimSpace(r.Question), strings.TrimSpace(r.Answer))
	return models.DocumentChunk{
		ID:         uuid.NewSHA1(chunkNamespace, []byte(r.SourceID+"\n"+text)).String(),
		Text:       text,
		SourceType: models.ParseSourceType(r.SourceType),
		SourceID:   r.SourceID,
		Tags:       cleanTags(r.Tags),
	}
}

func cleanTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// LineError is a dataset line that could not be used
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// LoadDataset parses a JSON-Lines QA dataset. Bad lines are returned
// alongside the good chunks; only read failures are fatal.
func LoadDataset(r io.Reader) ([]models.DocumentChunk, []LineError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)

	var (
		chunks []models.DocumentChunk
		bad    []LineError
		line   int
	)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			bad = append(bad, LineError{Line: line, Err: fmt.Errorf("invalid JSON: %w", err)})
			continue
		}
		if err := validate.Struct(rec); err != nil {
			bad = append(bad, LineError{Line: line, Err: err})
			continue
		}
		chunks = append(chunks, rec.Chunk())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read dataset after line %d: %w", line, err)
	}

	return chunks, bad, nil
}
