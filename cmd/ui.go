package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/services/tools"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accent = lipgloss.Color("#D35400")

	promptStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

var (
	rendererOnce sync.Once
	renderer     *glamour.TermRenderer
)

// renderMarkdown styles answer text for a terminal. Plain text is returned
// when stdout is redirected or rendering fails.
func renderMarkdown(text string) string {
	if !isTerminal(os.Stdout) {
		return text
	}
	rendererOnce.Do(func() {
		width := 100
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
			width = w - 4
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			renderer = r
		}
	})
	if renderer == nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// printAnswerFooter writes sources, tool activity and notices below an answer
func printAnswerFooter(w io.Writer, answer *models.Answer, showSources bool) {
	if showSources {
		if len(answer.SourceDetails) == 0 {
			fmt.Fprintln(w, infoStyle.Render("No sources were used for this answer."))
		} else {
			fmt.Fprintln(w, sourceStyle.Render("Sources:"))
			for i, s := range answer.SourceDetails {
				fmt.Fprintf(w, "  %d. %s %s\n", i+1, s.SourceID, infoStyle.Render(fmt.Sprintf("(%s, score %.3f)", s.SourceType, s.Score)))
			}
		}
	}

	if len(answer.ToolTrace) > 0 {
		names := make([]string, 0, len(answer.ToolTrace))
		for _, e := range answer.ToolTrace {
			mark := okStyle.Render("ok")
			if e.Result.Failed() {
				mark = errorStyle.Render("failed")
			}
			names = append(names, fmt.Sprintf("%s %s", e.Call.Name, mark))
		}
		fmt.Fprintln(w, infoStyle.Render(fmt.Sprintf("Tools (%d rounds): ", answer.Rounds))+strings.Join(names, ", "))
	}

	for _, n := range answer.Notices {
		fmt.Fprintln(w, warningStyle.Render("Note: "+n))
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Error:")+" "+err.Error())
}

// promptApprover asks on the terminal before gated tools run. Without a
// terminal every gated call is denied.
type promptApprover struct {
	mu  sync.Mutex
	ask func(prompt string) (string, error)
	out io.Writer
}

func (a *promptApprover) Approve(ctx context.Context, call models.ToolCall) (bool, error) {
	if a.ask == nil {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintln(a.out, warningStyle.Render("The assistant wants to "+tools.Describe(call)))
	answer, err := a.ask("Allow? [y/N] ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// stdinAsker reads approval answers from a terminal on stdin
func stdinAsker() func(string) (string, error) {
	if !isTerminal(os.Stdin) {
		return nil
	}
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		fmt.Fprint(os.Stderr, promptStyle.Render(prompt))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return line, nil
	}
}
