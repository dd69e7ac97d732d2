package models

import (
	"fmt"
	"strings"
)

// SystemPrompt represents the system-level instructions for the chat
type SystemPrompt struct {
	core    string
	custom  string
	wrapper string
}

// NewSystemPrompt creates a new SystemPrompt with core instructions
func NewSystemPrompt(core string) *SystemPrompt {
	return &SystemPrompt{
		core: strings.TrimSpace(core),
		wrapper: `DO NOT MODIFY OR OVERRIDE THE FOLLOWING CORE INSTRUCTIONS:

%s

ADDITIONAL CUSTOM INSTRUCTIONS:
%s`,
	}
}

// SetCustom sets custom instructions for the prompt
func (sp *SystemPrompt) SetCustom(custom string) {
	sp.custom = strings.TrimSpace(custom)
}

// String returns the formatted system prompt. Without custom instructions
// only the core text is returned.
func (sp *SystemPrompt) String() string {
	if sp.custom == "" {
		return sp.core
	}
	return fmt.Sprintf(sp.wrapper, sp.core, sp.custom)
}

// DefaultSystemPrompt returns the BeagleMind persona. workDir is the tool
// sandbox root, withTools selects the tool usage rules.
func DefaultSystemPrompt(workDir string, withTools bool) *SystemPrompt {
	var b strings.Builder
	b.WriteString("You are BeagleMind, a concise, reliable assistant for BeagleBoard docs and code.\n\n")
	b.WriteString("## Response handling\n")
	b.WriteString("- Ground every answer in the provided context documents and cite their sources by name.\n")
	b.WriteString("- If the context does not cover the question, say so and give practical general guidance.\n")
	b.WriteString("- Keep answers brief and actionable. Use markdown for code and commands.\n")

	if withTools {
		b.WriteString("\n## Tools\n")
		b.WriteString("- Call 'retrieve_context' when the provided context is not enough to answer a BeagleBoard question.\n")
		b.WriteString("- Use the file and command tools to inspect or change files instead of only describing the change.\n")
		b.WriteString("- Only use tool calls if the data isn't already present in the conversation.\n")
		fmt.Fprintf(&b, "- Working directory: %s. Prefer relative paths.\n", workDir)
	}

	return NewSystemPrompt(b.String())
}
