package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/pkg/logger"
)

const maxOutputBytes = 32 * 1024

var ErrNotApproved = errors.New("not approved by the user")

// Approver decides whether a gated tool call may run
type Approver interface {
	Approve(ctx context.Context, call models.ToolCall) (bool, error)
}

// ApproverFunc adapts a function to Approver
type ApproverFunc func(ctx context.Context, call models.ToolCall) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, call models.ToolCall) (bool, error) {
	return f(ctx, call)
}

// Executor runs tool calls for one answer run. It implements
// models.ToolExecutor.
type Executor struct {
	registry *Registry
	env      Env
}

var _ models.ToolExecutor = (*Executor)(nil)

func (e *Executor) ExecuteToolCall(ctx context.Context, call models.ToolCall) (result models.ToolResult) {
	log := logger.For(logger.TOOLS)
	result = models.ToolResult{CallID: call.ID, Name: call.Name}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("tool", call.Name).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Tool panicked")
			result.Output = ""
			result.Error = fmt.Sprintf("tool %s failed unexpectedly: %v", call.Name, p)
		}
		log.Debug().
			Str("tool", call.Name).
			Str("call_id", call.ID).
			Bool("failed", result.Failed()).
			Dur("duration", time.Since(start)).
			Msg("Tool call finished")
	}()

	def, ok := e.registry.lookup(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", call.Name)
		return result
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		result.Error = fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		return result
	}
	call.Arguments = string(args)

	if def.RequiresApproval {
		if err := e.approve(ctx, call); err != nil {
			log.Info().Str("tool", call.Name).Err(err).Msg("Tool call refused")
			result.Error = fmt.Sprintf("%s was not run: %v", call.Name, err)
			return result
		}
	}

	log.Info().Str("tool", call.Name).Msg("Executing tool call")

	out, err := def.Handler(ctx, e.env, args)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Output = truncate(out, maxOutputBytes)
	return result
}

func (e *Executor) approve(ctx context.Context, call models.ToolCall) error {
	if e.env.AllowWrites {
		return nil
	}
	if e.env.Approver == nil {
		return ErrNotApproved
	}
	ok, err := e.env.Approver.Approve(ctx, call)
	if err != nil {
		return fmt.Errorf("approval failed: %w", err)
	}
	if !ok {
		return ErrNotApproved
	}
	return nil
}

// parseArguments accepts the argument text a model produced and returns a
// JSON object. Arguments double-encoded as a JSON string, or followed by
// stray text, are repaired; anything else is rejected.
func parseArguments(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}

	if json.Valid([]byte(trimmed)) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return parseArguments(s)
		}
		return requireObject(json.RawMessage(trimmed))
	}

	// first complete value wins, e.g. `{"path":"a"}}` or `{"a":1} trailing`
	dec := json.NewDecoder(strings.NewReader(trimmed))
	var first json.RawMessage
	if err := dec.Decode(&first); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	return requireObject(first)
}

func requireObject(msg json.RawMessage) (json.RawMessage, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(msg), []byte("{")) {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return msg, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// cut on a rune boundary
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "\n... (output truncated)"
}

// Describe renders a gated call for a human approver
func Describe(call models.ToolCall) string {
	var args map[string]interface{}
	raw, err := parseArguments(call.Arguments)
	if err == nil {
		err = json.Unmarshal(raw, &args)
	}
	if err != nil {
		return fmt.Sprintf("Tool: %s\nArguments: %s", call.Name, call.Arguments)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\n", call.Name)
	switch call.Name {
	case "write_file":
		content, _ := args["content"].(string)
		lines := strings.Split(content, "\n")
		fmt.Fprintf(&b, "Target: %v\nSize: %d bytes (%d lines)\n", args["file_path"], len(content), len(lines))
		if len(lines) > 10 {
			lines = append(lines[:10], fmt.Sprintf("... (and %d more lines)", len(lines)-10))
		}
		fmt.Fprintf(&b, "Preview:\n%s", strings.Join(lines, "\n"))
	case "edit_file_lines":
		fmt.Fprintf(&b, "Target: %v\nLines: %v-%v\nReplacement:\n%v", args["file_path"], args["start_line"], args["end_line"], args["new_content"])
	case "run_command":
		fmt.Fprintf(&b, "Command: %v", args["command"])
		if wd, ok := args["working_directory"]; ok {
			fmt.Fprintf(&b, "\nDirectory: %v", wd)
		}
	default:
		fmt.Fprintf(&b, "Arguments: %s", raw)
	}
	return b.String()
}
