package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed tools.json
var defaultToolsConfig []byte

type ToolDefinition struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	Parameters       map[string]interface{} `json:"parameters"`
	RequiresApproval bool                   `json:"requires_approval,omitempty"`
}

type ToolsConfig struct {
	Tools []ToolDefinition `json:"tools"`
}

// LoadToolsConfig reads tool definitions from configPath, or the built-in
// catalogue when configPath is empty.
func LoadToolsConfig(configPath string) (*ToolsConfig, error) {
	data := defaultToolsConfig
	if configPath != "" {
		var err error
		data, err = os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read tools config: %w", err)
		}
	}

	var config ToolsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse tools config: %w", err)
	}

	return &config, nil
}
