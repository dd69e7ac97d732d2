package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxReadBytes     = 1024 * 1024
	defaultTreeDepth = 3
	maxTreeEntries   = 500
)

type readFileParams struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func readFile(_ context.Context, env Env, args json.RawMessage) (string, error) {
	var params readFileParams
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
		return "", fmt.Errorf("%s is too large to read (%d bytes)", params.FilePath, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if isBinary(data) {
		return "", fmt.Errorf("%s looks like a binary file", params.FilePath)
	}

	if params.StartLine <= 0 && params.EndLine <= 0 {
		return string(data), nil
	}

	lines := strings.Split(string(data), "\n")
	start, end := params.StartLine, params.EndLine
	if start < 1 {
		start = 1
	}
	if end < 1 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("invalid line range %d-%d for a file of %d lines", params.StartLine, params.EndLine, len(lines))
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

type writeFileParams struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func writeFile(_ context.Context, env Env, args json.RawMessage) (string, error) {
	var params writeFileParams
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
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return "", fmt.Errorf("%s is a directory", params.FilePath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return "", err
	}

	return fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), relative(env.Workspace, path)), nil
}

type editFileLinesParams struct {
	FilePath   string `json:"file_path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	NewContent string `json:"new_content"`
}

// editFileLines replaces lines start..end (1-based, inclusive). Empty
// new_content deletes them.
func editFileLines(_ context.Context, env Env, args json.RawMessage) (string, error) {
	var params editFileLinesParams
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
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	text := string(data)
	trailingNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		lines = nil
	}

	start, end := params.StartLine, params.EndLine
	if start < 1 || end < start || end > len(lines) {
		return "", fmt.Errorf("invalid line range %d-%d for a file of %d lines", start, end, len(lines))
	}

	var replacement []string
	if params.NewContent != "" {
		replacement = strings.Split(strings.TrimSuffix(params.NewContent, "\n"), "\n")
	}

	edited := make([]string, 0, len(lines)-(end-start+1)+len(replacement))
	edited = append(edited, lines[:start-1]...)
	edited = append(edited, replacement...)
	edited = append(edited, lines[end:]...)

	out := strings.Join(edited, "\n")
	if trailingNewline && len(edited) > 0 {
		out += "\n"
	}
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return "", err
	}

	return fmt.Sprintf("Replaced lines %d-%d of %s with %d lines", start, end, relative(env.Workspace, path), len(replacement)), nil
}

type listDirectoryParams struct {
	Directory  string `json:"directory"`
	ShowHidden bool   `json:"show_hidden"`
}

type dirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

func listDirectory(_ context.Context, env Env, args json.RawMessage) (string, error) {
	var params listDirectoryParams
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}

	dir, err := resolvePath(env.Workspace, params.Directory)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	out := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		if !params.ShowHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		entry := dirEntry{Name: e.Name(), Type: "file"}
		if e.IsDir() {
			entry.Type = "directory"
		} else if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
		}
		out = append(out, entry)
	}

	return toJSON(map[string]interface{}{
		"directory": relative(env.Workspace, dir),
		"entries":   out,
	})
}

type showDirectoryTreeParams struct {
	Directory string `json:"directory"`
	MaxDepth  int    `json:"max_depth"`
}

func showDirectoryTree(_ context.Context, env Env, args json.RawMessage) (string, error) {
	var params showDirectoryTreeParams
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if params.MaxDepth < 1 {
		params.MaxDepth = defaultTreeDepth
	}

	root, err := resolvePath(env.Workspace, params.Directory)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(root); err != nil {
		return "", err
	} else if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", params.Directory)
	}

	var b strings.Builder
	b.WriteString(relative(env.Workspace, root) + "/\n")
	count := 0
	writeTree(&b, root, "", 1, params.MaxDepth, &count)
	if count >= maxTreeEntries {
		b.WriteString("... (tree truncated)\n")
	}
	return b.String(), nil
}

func writeTree(b *strings.Builder, dir, indent string, depth, maxDepth int, count *int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || skippedDirs[e.Name()] {
			continue
		}
		if *count >= maxTreeEntries {
			return
		}
		*count++

		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString(indent + "  " + name + "\n")
		if e.IsDir() && depth < maxDepth {
			writeTree(b, filepath.Join(dir, e.Name()), indent+"  ", depth+1, maxDepth, count)
		}
	}
}
