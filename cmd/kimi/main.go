// Command kimi is an interactive AI coding agent for the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	sdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go/v3"
	openaiopt "github.com/openai/openai-go/v3/option"
	"github.com/spf13/cobra"

	"github.com/yanmxa/kimi/internal/agent"
	"github.com/yanmxa/kimi/internal/approval"
	"github.com/yanmxa/kimi/internal/client"
	"github.com/yanmxa/kimi/internal/config"
	"github.com/yanmxa/kimi/internal/history"
	"github.com/yanmxa/kimi/internal/log"
	"github.com/yanmxa/kimi/internal/provider"
	providerAnthropic "github.com/yanmxa/kimi/internal/provider/anthropic"
	providerMoonshot "github.com/yanmxa/kimi/internal/provider/moonshot"
	"github.com/yanmxa/kimi/internal/runtime"
	"github.com/yanmxa/kimi/internal/session"
	"github.com/yanmxa/kimi/internal/soul"
	"github.com/yanmxa/kimi/internal/tool"
	"github.com/yanmxa/kimi/internal/wire"
)

const moonshotBaseURL = "https://api.moonshot.ai/v1"

var flags struct {
	agentSpec string
	model     string
	provider  string
	workDir   string
	yolo      bool
	resume    bool
}

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "kimi",
		Short:         "Interactive AI coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, args []string) error { return runREPL() },
	}
	root.Flags().StringVar(&flags.agentSpec, "agent", "", "path to an agent spec YAML")
	root.Flags().StringVar(&flags.model, "model", "", "model identifier")
	root.Flags().StringVar(&flags.provider, "provider", "", "chat provider (anthropic, moonshot)")
	root.Flags().StringVarP(&flags.workDir, "workdir", "C", "", "work directory (default: cwd)")
	root.Flags().BoolVar(&flags.yolo, "yolo", false, "auto-approve every approval request")
	root.Flags().BoolVar(&flags.resume, "resume", false, "resume the work dir's last session")

	root.AddCommand(sessionsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions for the current work directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir, err := resolveWorkDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(workDir)
			if err != nil {
				return err
			}
			store, err := session.NewStore(cfg.StateDir)
			if err != nil {
				return err
			}
			sessions, err := store.List(workDir)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions for", workDir)
				return nil
			}
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s  %s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), title)
			}
			return nil
		},
	}
}

func resolveWorkDir() (string, error) {
	if flags.workDir != "" {
		return flags.workDir, nil
	}
	return os.Getwd()
}

func runREPL() error {
	workDir, err := resolveWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.provider != "" {
		cfg.Provider = flags.provider
	}
	if flags.yolo {
		cfg.Yolo = true
	}

	if err := log.Init(cfg.StateDir); err != nil {
		return err
	}
	defer log.Sync()

	store, err := session.NewStore(cfg.StateDir)
	if err != nil {
		return err
	}

	var sess *session.Session
	if flags.resume {
		if sess, err = store.Last(workDir); err != nil {
			return err
		}
	}
	if sess == nil {
		if sess, err = store.Create(workDir); err != nil {
			return err
		}
	}

	chat, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	llm := &client.Client{
		Provider:       chat,
		Model:          cfg.Model,
		MaxContextSize: cfg.MaxContextSize,
		PromptCacheKey: sess.ID,
	}

	w := wire.New()
	defer w.Close()
	if log.IsEnabled() {
		_ = w.SetRecord(sess.Dir() + "/wire.jsonl")
	}

	gate := approval.NewGate(cfg.Yolo, cfg.Approvals.Allow, w.SoulSide())
	registry := tool.NewRegistry()

	specPath := flags.agentSpec
	if specPath == "" {
		if specPath, err = agent.DefaultSpecPath(cfg.StateDir); err != nil {
			return err
		}
	}
	spec, err := agent.LoadSpec(specPath, registry)
	if err != nil {
		return err
	}
	a, err := agent.Build(spec, registry, tool.Deps{Config: cfg, WorkDir: workDir}, workDir)
	if err != nil {
		return err
	}

	rt := runtime.New(cfg, llm, sess, store, gate, envMap())
	rt.Registry = registry

	hist, err := history.Open(sess.ContextFile)
	if err != nil {
		return err
	}
	defer hist.Close()

	s, err := soul.New(a, rt, hist, w.SoulSide())
	if err != nil {
		return err
	}
	if store.Thinking() {
		_ = s.SetThinking(true)
	}

	stdin := bufio.NewReader(os.Stdin)
	ui := newConsoleUI(os.Stdout)
	uiCtx, stopUI := context.WithCancel(context.Background())
	defer stopUI()
	go ui.run(uiCtx, w.UISide(true))
	go approvalLoop(gate, stdin, ui)

	fmt.Printf("kimi session %s in %s (model %s)\n", sess.ID[:8], workDir, cfg.Model)
	return repl(s, stdin, ui)
}

// repl reads lines and runs one turn per line. Ctrl-C cancels the
// running turn; Ctrl-D or /exit quits.
func repl(s *soul.Soul, stdin *bufio.Reader, ui *consoleUI) error {
	for {
		fmt.Print("\n> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = s.Run(ctx, soul.Input{Text: line})
		stop()
		ui.flush()

		switch {
		case err == nil:
		case errors.Is(err, soul.ErrRunCancelled):
			fmt.Println("\ninterrupted")
		default:
			fmt.Fprintln(os.Stderr, "\nturn failed:", err)
		}
	}
}

// buildProvider selects the chat provider from config and environment.
func buildProvider(cfg *config.Config) (provider.ChatProvider, error) {
	name := cfg.Provider
	if name == "" {
		switch {
		case os.Getenv("MOONSHOT_API_KEY") != "":
			name = "moonshot"
		case os.Getenv("ANTHROPIC_API_KEY") != "":
			name = "anthropic"
		default:
			return nil, fmt.Errorf("no provider configured: set MOONSHOT_API_KEY or ANTHROPIC_API_KEY")
		}
	}

	switch name {
	case "moonshot":
		key := os.Getenv("MOONSHOT_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("MOONSHOT_API_KEY is not set")
		}
		if cfg.Model == "" {
			cfg.Model = "kimi-k2-0905-preview"
		}
		oc := openai.NewClient(openaiopt.WithAPIKey(key), openaiopt.WithBaseURL(moonshotBaseURL))
		return providerMoonshot.NewClient(oc, "moonshot"), nil

	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		if cfg.Model == "" {
			cfg.Model = "claude-sonnet-4-20250514"
		}
		ac := sdk.NewClient(anthropicopt.WithAPIKey(key))
		return providerAnthropic.NewClient(ac, "anthropic"), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// approvalLoop answers approval requests from stdin.
func approvalLoop(gate *approval.Gate, stdin *bufio.Reader, ui *consoleUI) {
	for req := range gate.Requests() {
		ui.flush()
		fmt.Printf("\n%s wants to %s: %s\n", req.Sender, req.Action, req.Description)
		if req.Display != nil && req.Display.Text != "" {
			fmt.Println(req.Display.Text)
		}
		fmt.Print("approve? [y]es / [a]lways this session / [n]o: ")

		line, err := stdin.ReadString('\n')
		if err != nil {
			req.Respond(approval.Reject)
			continue
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			req.Respond(approval.Approve)
		case "a", "always":
			req.Respond(approval.ApproveForSession)
		default:
			req.Respond(approval.Reject)
		}
	}
}

func envMap() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
