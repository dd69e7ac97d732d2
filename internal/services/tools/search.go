package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const defaultMaxResults = 50

var skippedDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

var errEnoughResults = errors.New("enough results")

type searchInFilesParams struct {
	Pattern        string   `json:"pattern"`
	Directory      string   `json:"directory"`
	FileExtensions []string `json:"file_extensions"`
	MaxResults     int      `json:"max_results"`
}

type searchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func searchInFiles(ctx context.Context, env Env, args json.RawMessage) (string, error) {
	var params searchInFilesParams
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if params.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	if params.MaxResults < 1 {
		params.MaxResults = defaultMaxResults
	}

	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	root, err := resolvePath(env.Workspace, params.Directory)
	if err != nil {
		return "", err
	}

	exts := make(map[string]bool, len(params.FileExtensions))
	for _, ext := range params.FileExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	var matches []searchMatch
	filesSearched := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || skippedDirs[d.Name()]) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		found, err := searchFile(path, re, params.MaxResults-len(matches))
		if err != nil {
			return nil
		}
		filesSearched++
		for _, m := range found {
			m.File = relative(env.Workspace, path)
			matches = append(matches, m)
		}
		if len(matches) >= params.MaxResults {
			return errEnoughResults
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEnoughResults) {
		return "", err
	}

	return toJSON(map[string]interface{}{
		"pattern":        params.Pattern,
		"files_searched": filesSearched,
		"matches":        matches,
		"truncated":      len(matches) >= params.MaxResults,
	})
}

func searchFile(path string, re *regexp.Regexp, limit int) ([]searchMatch, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxReadBytes {
		return nil, fmt.Errorf("skipped")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		return nil, fmt.Errorf("binary")
	}

	var out []searchMatch
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 64*1024), maxReadBytes)
	line := 0
	for scanner.Scan() && len(out) < limit {
		line++
		text := scanner.Text()
		if re.MatchString(text) {
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			out = append(out, searchMatch{Line: line, Text: text})
		}
	}
	return out, nil
}
