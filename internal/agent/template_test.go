package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderPromptBuiltins(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "main.go"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(workDir, "internal"), 0o755); err != nil {
		t.Fatal(err)
	}

	out := RenderPrompt("at ${KIMI_NOW} in ${KIMI_WORK_DIR}:\n${KIMI_WORK_DIR_LS}", workDir, nil)
	if strings.Contains(out, "${KIMI_NOW}") {
		t.Error("KIMI_NOW not substituted")
	}
	if !strings.Contains(out, workDir) {
		t.Error("KIMI_WORK_DIR not substituted")
	}
	if !strings.Contains(out, "internal/") || !strings.Contains(out, "main.go") {
		t.Errorf("listing missing entries: %q", out)
	}
}

func TestRenderPromptAgentsMD(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "AGENTS.md"), []byte("use tabs"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := RenderPrompt("${KIMI_AGENTS_MD}", workDir, nil)
	if !strings.Contains(out, "use tabs") {
		t.Errorf("AGENTS.md not included: %q", out)
	}

	// absent AGENTS.md renders empty
	out = RenderPrompt("[${KIMI_AGENTS_MD}]", t.TempDir(), nil)
	if out != "[]" {
		t.Errorf("empty AGENTS.md render = %q", out)
	}
}

func TestRenderPromptUserArgsOverride(t *testing.T) {
	out := RenderPrompt("${KIMI_WORK_DIR} ${CUSTOM}", "/real", map[string]string{
		"KIMI_WORK_DIR": "/overridden",
		"CUSTOM":        "v",
	})
	if out != "/overridden v" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderPromptUnknownVarKept(t *testing.T) {
	out := RenderPrompt("${NOT_A_VAR}", "/w", nil)
	if out != "${NOT_A_VAR}" {
		t.Errorf("out = %q", out)
	}
}
