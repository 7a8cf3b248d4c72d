package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// RenderPrompt substitutes ${VAR} references in a prompt template.
// Built-in variables are computed from the work directory; user args
// override built-ins. Unknown variables are left untouched.
func RenderPrompt(template, workDir string, args map[string]string) string {
	vars := builtinVars(workDir)
	for k, v := range args {
		vars[k] = v
	}

	return varPattern.ReplaceAllStringFunc(template, func(ref string) string {
		name := varPattern.FindStringSubmatch(ref)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return ref
	})
}

// builtinVars computes the standard template variables.
func builtinVars(workDir string) map[string]string {
	return map[string]string{
		"KIMI_NOW":         time.Now().Format(time.RFC3339),
		"KIMI_WORK_DIR":    workDir,
		"KIMI_WORK_DIR_LS": shallowListing(workDir),
		"KIMI_AGENTS_MD":   agentsMD(workDir),
	}
}

// shallowListing renders the top level of the work directory.
func shallowListing(workDir string) string {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

// agentsMD loads the project's AGENTS.md if present.
func agentsMD(workDir string) string {
	data, err := os.ReadFile(filepath.Join(workDir, "AGENTS.md"))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Project notes from AGENTS.md:\n\n%s", data)
}
