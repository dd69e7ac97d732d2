package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideWorkspace = errors.New("path is outside the working directory")

// resolvePath maps a tool path argument onto an absolute path inside the
// workspace. Relative paths are taken from the workspace root. Symlinks
// that lead out of the workspace are rejected.
func resolvePath(workspace, p string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("no working directory configured")
	}

	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "~") {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideWorkspace)
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, abs)
	}
	abs = filepath.Clean(abs)

	if !within(workspace, abs) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideWorkspace)
	}

	// check where the deepest existing ancestor really lives
	root, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	existing := abs
	for {
		real, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if !within(root, real) {
				return "", fmt.Errorf("%s: %w", p, ErrOutsideWorkspace)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}

	return abs, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// relative is p shown relative to the workspace
func relative(workspace, p string) string {
	rel, err := filepath.Rel(workspace, p)
	if err != nil {
		return p
	}
	return rel
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func toJSON(v interface{}) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(out), nil
}

func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

func statRegular(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Base(path))
	}
	return info, nil
}
