package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

const (
	maxLineLength = 120
	maxIssues     = 50
)

type analyzeCodeParams struct {
	FilePath string `json:"file_path"`
}

type codeIssue struct {
	Line  int    `json:"line"`
	Issue string `json:"issue"`
}

type codeAnalysis struct {
	FilePath     string      `json:"file_path"`
	Language     string      `json:"language"`
	FileSize     int         `json:"file_size"`
	LineCount    int         `json:"line_count"`
	CommentLines int         `json:"comment_lines"`
	StyleIssues  []codeIssue `json:"style_issues"`
	Suggestions  []string    `json:"suggestions,omitempty"`
}

func analyzeCode(_ context.Context, env Env, args json.RawMessage) (string, error) {
	var params analyzeCodeParams
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if params.FilePath == "" {
		return "", fmt.Errorf("file_path is required")
	}

	path, err := resolvePath(env.Workspace, params.FilePath)
	if err != nil {
		return "", err
	}
	info, err := statRegular(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("%s is too large to analyze", params.FilePath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if isBinary(data) {
		return "", fmt.Errorf("%s looks like a binary file", params.FilePath)
	}
	content := string(data)

	lexer := lexers.Match(filepath.Base(path))
	if lexer == nil {
		lexer = lexers.Analyse(content)
	}

	result := codeAnalysis{
		FilePath:    relative(env.Workspace, path),
		Language:    "unknown",
		FileSize:    len(data),
		LineCount:   strings.Count(content, "\n"),
		StyleIssues: []codeIssue{},
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		result.LineCount++
	}

	if lexer != nil {
		result.Language = strings.ToLower(lexer.Config().Name)
		result.CommentLines = countCommentLines(lexer, content)
	} else {
		result.Suggestions = append(result.Suggestions, "Language could not be detected; only generic checks were run")
	}

	for i, line := range strings.Split(content, "\n") {
		if len(result.StyleIssues) >= maxIssues {
			break
		}
		n := i + 1
		if len(line) > maxLineLength {
			result.StyleIssues = append(result.StyleIssues, codeIssue{Line: n, Issue: fmt.Sprintf("Line too long (%d > %d characters)", len(line), maxLineLength)})
		}
		if strings.TrimRight(line, " \t") != line {
			result.StyleIssues = append(result.StyleIssues, codeIssue{Line: n, Issue: "Trailing whitespace"})
		}
		if strings.HasPrefix(line, "\t") && strings.Contains(line, "    ") && result.Language == "python" {
			result.StyleIssues = append(result.StyleIssues, codeIssue{Line: n, Issue: "Mixed tabs and spaces"})
		}
	}

	if result.LineCount > 0 && result.CommentLines == 0 && lexer != nil {
		result.Suggestions = append(result.Suggestions, "No comments found; consider documenting non-obvious parts")
	}

	return toJSON(result)
}

// countCommentLines counts the distinct lines that carry a comment token
func countCommentLines(lexer chroma.Lexer, content string) int {
	it, err := chroma.Coalesce(lexer).Tokenise(nil, content)
	if err != nil {
		return 0
	}

	lines := make(map[int]struct{})
	line := 1
	for tok := it(); tok != chroma.EOF; tok = it() {
		if tok.Type.InCategory(chroma.Comment) {
			span := strings.Count(strings.TrimRight(tok.Value, "\n"), "\n")
			for l := line; l <= line+span; l++ {
				lines[l] = struct{}{}
			}
		}
		line += strings.Count(tok.Value, "\n")
	}
	return len(lines)
}
