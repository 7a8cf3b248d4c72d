package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileSettings mirrors Config with pointers so an overlay can tell
// "unset" from "set to zero".
type fileSettings struct {
	Provider             *string           `json:"provider"`
	Model                *string           `json:"model"`
	MaxContextSize       *int              `json:"max_context_size"`
	MaxStepsPerTurn      *int              `json:"max_steps_per_turn"`
	MaxRetriesPerStep    *int              `json:"max_retries_per_step"`
	MaxPreservedMessages *int              `json:"max_preserved_messages_on_compact"`
	ReservedTokens       *uint64           `json:"reserved_tokens"`
	Yolo                 *bool             `json:"yolo"`
	Approvals            *ApprovalSettings `json:"approvals"`
}

// Load builds the effective configuration for a work directory:
// defaults, then ~/.kimi/settings.json, then <workDir>/.kimi/settings.json,
// then environment variables.
func Load(workDir string) (*Config, error) {
	cfg := Default()

	paths := []string{
		filepath.Join(cfg.StateDir, "settings.json"),
		filepath.Join(workDir, ".kimi", "settings.json"),
	}
	for _, path := range paths {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	overlayEnv(cfg)
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings %s: %w", path, err)
	}

	var fs fileSettings
	if err := json.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}

	if fs.Provider != nil {
		cfg.Provider = *fs.Provider
	}
	if fs.Model != nil {
		cfg.Model = *fs.Model
	}
	if fs.MaxContextSize != nil {
		cfg.MaxContextSize = *fs.MaxContextSize
	}
	if fs.MaxStepsPerTurn != nil {
		cfg.MaxStepsPerTurn = *fs.MaxStepsPerTurn
	}
	if fs.MaxRetriesPerStep != nil {
		cfg.MaxRetriesPerStep = *fs.MaxRetriesPerStep
	}
	if fs.MaxPreservedMessages != nil {
		cfg.MaxPreservedMessages = *fs.MaxPreservedMessages
	}
	if fs.ReservedTokens != nil {
		cfg.ReservedTokens = *fs.ReservedTokens
	}
	if fs.Yolo != nil {
		cfg.Yolo = *fs.Yolo
	}
	if fs.Approvals != nil {
		cfg.Approvals.Allow = append(cfg.Approvals.Allow, fs.Approvals.Allow...)
	}
	return nil
}

func overlayEnv(cfg *Config) {
	if v := os.Getenv("KIMI_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("KIMI_MODEL"); v != "" {
		cfg.Model = v
	}
	if os.Getenv("KIMI_YOLO") == "1" {
		cfg.Yolo = true
	}
	if v := os.Getenv("KIMI_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
}
