package agent

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanmxa/kimi/internal/tool"
)

//go:embed prompts/*.txt specs/*.yaml
var builtinFS embed.FS

// Agent is an immutable bundle of name, rendered system prompt, and
// instantiated tool set, executed by a Soul.
type Agent struct {
	Name         string
	Description  string
	SystemPrompt string
	Tools        []tool.Tool
	ToolIDs      []string

	// FixedSubagents are the agents declared under `subagents` in the
	// spec, built alongside the parent.
	FixedSubagents []*Agent
}

// Build instantiates an agent (and its fixed sub-agents) from a
// resolved spec.
func Build(spec *ResolvedSpec, registry *tool.Registry, deps tool.Deps, workDir string) (*Agent, error) {
	raw, err := os.ReadFile(spec.SystemPromptPath)
	if err != nil {
		return nil, fmt.Errorf("read system prompt: %w", err)
	}

	tools, err := registry.Resolve(spec.Tools, deps)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", spec.Name, err)
	}

	a := &Agent{
		Name:         spec.Name,
		SystemPrompt: RenderPrompt(string(raw), workDir, spec.SystemPromptArgs),
		Tools:        tools,
		ToolIDs:      spec.Tools,
	}

	for _, sub := range spec.Subagents {
		built, err := Build(sub, registry, deps, workDir)
		if err != nil {
			return nil, err
		}
		a.FixedSubagents = append(a.FixedSubagents, built)
	}
	return a, nil
}

// BuildDynamic creates a transient agent from runtime-supplied fields
// (the CreateSubagent tool). The system prompt is used verbatim.
func BuildDynamic(name, description, systemPrompt string, toolIDs []string,
	registry *tool.Registry, deps tool.Deps) (*Agent, error) {
	tools, err := registry.Resolve(toolIDs, deps)
	if err != nil {
		return nil, fmt.Errorf("dynamic agent %q: %w", name, err)
	}
	return &Agent{
		Name:         name,
		Description:  description,
		SystemPrompt: systemPrompt,
		Tools:        tools,
		ToolIDs:      toolIDs,
	}, nil
}

// DefaultSpecPath materializes the embedded default agent spec into the
// state dir and returns its path. Used when the CLI starts without
// --agent.
func DefaultSpecPath(stateDir string) (string, error) {
	dir := filepath.Join(stateDir, "agents", "default")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create default agent dir: %w", err)
	}

	files := map[string]string{
		"specs/default.yaml":  "default.yaml",
		"prompts/default.txt": "default.txt",
	}
	for src, dst := range files {
		data, err := builtinFS.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("embedded agent file %s: %w", src, err)
		}
		if err := os.WriteFile(filepath.Join(dir, dst), data, 0o644); err != nil {
			return "", fmt.Errorf("write default agent file: %w", err)
		}
	}
	return filepath.Join(dir, "default.yaml"), nil
}
