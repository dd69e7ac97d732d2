package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"regexp"
	"runtime"
	"time"
)

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandTimeout     = 120 * time.Second
)

var blockedCommands = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	regexp.MustCompile(`(?i)\bformat\s+`),
	regexp.MustCompile(`(?i)\bmkfs\.`),
	regexp.MustCompile(`(?i)\bshutdown`),
	regexp.MustCompile(`(?i)\breboot`),
	regexp.MustCompile(`(?i)\bhalt`),
	regexp.MustCompile(`(?i)>\s*/dev/`),
	regexp.MustCompile(`(?i)\bsudo\s+rm`),
	regexp.MustCompile(`(?i)\bsudo\s+dd`),
}

func getMachineInfo(_ context.Context, env Env, _ json.RawMessage) (string, error) {
	info := map[string]interface{}{
		"os":                runtime.GOOS,
		"architecture":      runtime.GOARCH,
		"cpus":              runtime.NumCPU(),
		"working_directory": env.Workspace,
	}
	if host, err := os.Hostname(); err == nil {
		info["hostname"] = host
	}
	if u, err := user.Current(); err == nil {
		info["user"] = u.Username
		info["home_directory"] = u.HomeDir
	}
	if data, err := os.ReadFile("/proc/device-tree/model"); err == nil {
		// set on BeagleBone and other device-tree boards
		info["board"] = string(bytes.TrimRight(data, "\x00\n"))
	}
	return toJSON(info)
}

type runCommandParams struct {
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
	Timeout          int    `json:"timeout"`
}

func runCommand(ctx context.Context, env Env, args json.RawMessage) (string, error) {
	var params runCommandParams
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if params.Command == "" {
		return "", fmt.Errorf("command is required")
	}
	for _, re := range blockedCommands {
		if re.MatchString(params.Command) {
			return "", fmt.Errorf("command blocked for security reasons: %s", params.Command)
		}
	}

	dir, err := resolvePath(env.Workspace, params.WorkingDirectory)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("working directory not found: %s", params.WorkingDirectory)
	}

	timeout := defaultCommandTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", params.Command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return "", fmt.Errorf("failed to run command: %w", err)
	}

	return toJSON(map[string]interface{}{
		"command":           params.Command,
		"working_directory": relative(env.Workspace, dir),
		"exit_code":         exitCode,
		"stdout":            stdout.String(),
		"stderr":            stderr.String(),
	})
}
