// Package agent loads agent specs from YAML and resolves them into
// immutable agents: a rendered system prompt plus an instantiated tool
// set. Specs may extend other specs; resolution flattens the chain and
// makes every referenced path absolute.
package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yanmxa/kimi/internal/tool"
)

const specVersion = 1

// rawSpec is the on-disk spec shape. Pointer fields distinguish "not
// set" (inherit from parent) from "set to empty".
type rawSpec struct {
	Version int      `yaml:"version"`
	Agent   rawAgent `yaml:"agent"`
}

type rawAgent struct {
	Extend           string             `yaml:"extend,omitempty"`
	Name             *string            `yaml:"name,omitempty"`
	SystemPromptPath *string            `yaml:"system_prompt_path,omitempty"`
	SystemPromptArgs map[string]string  `yaml:"system_prompt_args,omitempty"`
	Tools            *[]string          `yaml:"tools,omitempty"`
	ExcludeTools     *[]string          `yaml:"exclude_tools,omitempty"`
	Subagents        *[]rawSubagentDecl `yaml:"subagents,omitempty"`
}

type rawSubagentDecl struct {
	Name string `yaml:"name,omitempty"`
	Path string `yaml:"path"`
}

// ResolvedSpec is a spec with all inheritance flattened and all paths
// absolute.
type ResolvedSpec struct {
	Name             string
	SystemPromptPath string
	SystemPromptArgs map[string]string
	Tools            []string
	Subagents        []*ResolvedSpec
}

// LoadSpec loads and resolves the spec at path, validating tool
// references against the registry.
func LoadSpec(path string, registry *tool.Registry) (*ResolvedSpec, error) {
	return loadSpec(path, registry, map[string]bool{})
}

func loadSpec(path string, registry *tool.Registry, visiting map[string]bool) (*ResolvedSpec, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve spec path: %w", err)
	}
	if visiting[abs] {
		return nil, fmt.Errorf("agent spec cycle through %s", abs)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	merged, err := loadRaw(abs, visiting)
	if err != nil {
		return nil, err
	}
	return resolve(abs, merged, registry, visiting)
}

// loadRaw performs the first pass: recursively load and merge raw spec
// dicts, child fields overriding parent ones.
func loadRaw(abs string, visiting map[string]bool) (*rawAgent, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read agent spec: %w", err)
	}

	var spec rawSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse agent spec %s: %w", abs, err)
	}
	if spec.Version != specVersion {
		return nil, fmt.Errorf("agent spec %s: unsupported version %d", abs, spec.Version)
	}

	child := spec.Agent
	if child.Extend == "" {
		return &child, nil
	}

	parentPath := child.Extend
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(filepath.Dir(abs), parentPath)
	}
	if visiting[parentPath] {
		return nil, fmt.Errorf("agent spec cycle through %s", parentPath)
	}
	visiting[parentPath] = true
	defer delete(visiting, parentPath)

	parent, err := loadRaw(parentPath, visiting)
	if err != nil {
		return nil, err
	}

	// relative paths in the parent resolve against the parent's dir
	if parent.SystemPromptPath != nil && !filepath.IsAbs(*parent.SystemPromptPath) {
		p := filepath.Join(filepath.Dir(parentPath), *parent.SystemPromptPath)
		parent.SystemPromptPath = &p
	}

	return mergeRaw(parent, &child), nil
}

// mergeRaw overlays the child on the parent: unset child fields
// inherit, system_prompt_args merges dict-wise, tools replaces.
func mergeRaw(parent, child *rawAgent) *rawAgent {
	out := *parent
	out.Extend = ""

	if child.Name != nil {
		out.Name = child.Name
	}
	if child.SystemPromptPath != nil {
		out.SystemPromptPath = child.SystemPromptPath
	}
	if len(child.SystemPromptArgs) > 0 {
		merged := map[string]string{}
		for k, v := range parent.SystemPromptArgs {
			merged[k] = v
		}
		for k, v := range child.SystemPromptArgs {
			merged[k] = v
		}
		out.SystemPromptArgs = merged
	}
	if child.Tools != nil {
		out.Tools = child.Tools
	}
	if child.ExcludeTools != nil {
		out.ExcludeTools = child.ExcludeTools
	}
	if child.Subagents != nil {
		out.Subagents = child.Subagents
	}
	return &out
}

// resolve performs the second pass: validate the merged dict and build
// the immutable ResolvedSpec.
func resolve(abs string, raw *rawAgent, registry *tool.Registry, visiting map[string]bool) (*ResolvedSpec, error) {
	dir := filepath.Dir(abs)

	if raw.Name == nil || *raw.Name == "" {
		return nil, fmt.Errorf("agent spec %s: missing name", abs)
	}
	if raw.SystemPromptPath == nil || *raw.SystemPromptPath == "" {
		return nil, fmt.Errorf("agent spec %s: missing system_prompt_path", abs)
	}

	promptPath := *raw.SystemPromptPath
	if !filepath.IsAbs(promptPath) {
		promptPath = filepath.Join(dir, promptPath)
	}
	if _, err := os.Stat(promptPath); err != nil {
		return nil, fmt.Errorf("agent spec %s: system prompt: %w", abs, err)
	}

	var toolIDs []string
	if raw.Tools != nil {
		toolIDs = append(toolIDs, *raw.Tools...)
	} else {
		toolIDs = registry.Names()
	}
	if raw.ExcludeTools != nil {
		excluded := map[string]bool{}
		for _, id := range *raw.ExcludeTools {
			excluded[id] = true
		}
		kept := toolIDs[:0]
		for _, id := range toolIDs {
			if !excluded[id] {
				kept = append(kept, id)
			}
		}
		toolIDs = kept
	}
	for _, id := range toolIDs {
		if !registry.Known(id) {
			return nil, fmt.Errorf("agent spec %s: unknown tool identifier %q", abs, id)
		}
	}

	resolved := &ResolvedSpec{
		Name:             *raw.Name,
		SystemPromptPath: promptPath,
		SystemPromptArgs: raw.SystemPromptArgs,
		Tools:            toolIDs,
	}

	if raw.Subagents != nil {
		for _, decl := range *raw.Subagents {
			subPath := decl.Path
			if !filepath.IsAbs(subPath) {
				subPath = filepath.Join(dir, subPath)
			}
			sub, err := loadSpec(subPath, registry, visiting)
			if err != nil {
				return nil, fmt.Errorf("agent spec %s: subagent %q: %w", abs, decl.Name, err)
			}
			if decl.Name != "" {
				sub.Name = decl.Name
			}
			resolved.Subagents = append(resolved.Subagents, sub)
		}
	}

	return resolved, nil
}
