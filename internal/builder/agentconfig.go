package builder

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AgentConfig holds per-agent run settings stored in the agent's directory.
type AgentConfig struct {
	Mode          string `yaml:"mode"`            // completion mode, empty = high_reasoning
	MaxInputBytes int    `yaml:"max_input_bytes"` // 0 = unlimited
}

// AgentConfigPath returns <agentDir>/config.yaml.
func AgentConfigPath(agentDir string) string {
	return filepath.Join(agentDir, "config.yaml")
}

// LoadAgentConfig loads config from <agentDir>/config.yaml. Returns nil config and nil error if the file is missing.
func LoadAgentConfig(agentDir string) (*AgentConfig, error) {
	data, err := os.ReadFile(AgentConfigPath(agentDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveAgentConfig writes the agent config to <agentDir>/config.yaml.
func SaveAgentConfig(agentDir string, cfg *AgentConfig) error {
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(AgentConfigPath(agentDir), data, 0o644)
}
