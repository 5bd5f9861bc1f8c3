package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rlmrun/rlmrun/internal/config"
	"github.com/rlmrun/rlmrun/internal/eventbus"
	"github.com/rlmrun/rlmrun/internal/httpapi"
	"github.com/rlmrun/rlmrun/internal/llmclient"
	"github.com/rlmrun/rlmrun/internal/orchestrator"
	"github.com/rlmrun/rlmrun/internal/session"
	"github.com/rlmrun/rlmrun/internal/storage"
	"github.com/rlmrun/rlmrun/internal/trace"
	"github.com/rlmrun/rlmrun/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rlmrun",
		Short: "Recursive code-execution LM orchestrator",
		Long:  "rlmrun runs an LM-generated program against a context, letting that program recursively query the LM itself.",
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newTreeCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildClient resolves the configured provider credentials into an
// llmclient.Client, wrapped in the fixed retry policy. When both
// OPENAI_API_KEY and ANTHROPIC_API_KEY are set, the OpenAI key is used.
func buildClient(cfg *config.Config) (llmclient.Client, error) {
	switch {
	case cfg.OpenAIAPIKey != "":
		return llmclient.NewRetrying(llmclient.NewOpenAI(cfg.OpenAIAPIKey, cfg.BaseURLOverride)), nil
	case cfg.AnthropicAPIKey != "":
		return llmclient.NewRetrying(llmclient.NewAnthropic(cfg.AnthropicAPIKey, cfg.BaseURLOverride)), nil
	default:
		return nil, fmt.Errorf("no LM provider credentials set: export OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
}

func loadConfigAndStorage() (*config.Config, *storage.SQLite, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return cfg, store, nil
}

func newRunCommand() *cobra.Command {
	var contextFile, sessionID, model string
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run a query against a context, recursively if the generated program calls llm_query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := loadConfigAndStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := buildClient(cfg)
			if err != nil {
				return err
			}

			contextVal := ""
			if contextFile != "" {
				data, err := os.ReadFile(contextFile)
				if err != nil {
					return fmt.Errorf("failed to read context file: %w", err)
				}
				contextVal = string(data)
			}

			orch := orchestrator.New(client, cfg, session.NewInMemory())
			orch.Storage = store

			req := orchestrator.Request{Query: args[0], Context: contextVal, SessionID: sessionID, Model: model}

			if noTUI {
				tree, err := orch.Run(context.Background(), req, nil)
				if err != nil {
					return err
				}
				printExecutionSummary(tree)
				return nil
			}

			bus := eventbus.New()
			ch, unsubscribe := bus.Subscribe()
			defer unsubscribe()

			app := tui.NewApp(ch)
			program := tea.NewProgram(app, tea.WithAltScreen())

			var tree *trace.Tree
			var runErr error
			done := make(chan struct{})
			go func() {
				tree, runErr = orch.Run(context.Background(), req, bus)
				close(done)
			}()

			if _, err := program.Run(); err != nil {
				return err
			}
			<-done
			if runErr != nil {
				return runErr
			}
			printExecutionSummary(tree)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextFile, "context-file", "", "path to a file whose contents become the `context` value")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to load memory from and merge memory back into")
	cmd.Flags().StringVar(&model, "model", "", "model name override (defaults to DEFAULT_MODEL)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "skip the live tree view and print the final result and tree as plain text when the run ends")
	return cmd
}

func printExecutionSummary(tree *trace.Tree) {
	exec := tree.Execution()
	fmt.Printf("execution %s: %s\n", exec.ID, exec.Status)
	if exec.Status == trace.ExecCompleted {
		fmt.Printf("final result: %s\n", exec.FinalResult)
	} else {
		fmt.Printf("error: %s: %s\n", exec.ErrorKind, exec.ErrorMessage)
	}
	fmt.Printf("tokens: %d in / %d out, cost $%.4f\n", exec.TotalInputTokens, exec.TotalOutputTokens, exec.TotalCostUSD)
	printTree(tree, "", 0)
}

func printTree(tree *trace.Tree, parentID string, depth int) {
	for _, n := range tree.Children(parentID) {
		indent := strings.Repeat("  ", depth)
		fmt.Printf("%s[%d:%d] %s %s\n", indent, n.Depth, n.Sequence, n.NodeType, n.Status)
		printTree(tree, n.ID, depth+1)
	}
}

func newTreeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <execution-id>",
		Short: "Render a previously persisted execution's tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := loadConfigAndStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			tree, err := store.LoadTree(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load execution: %w", err)
			}
			printExecutionSummary(tree)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := loadConfigAndStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			execs, err := store.ListExecutions(context.Background(), limit)
			if err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}
			if len(execs) == 0 {
				fmt.Println("no executions yet")
				return nil
			}
			for _, e := range execs {
				fmt.Printf("%s  %-10s  %s  %s\n", e.ID, e.Status, storage.FormatTimeAgo(e.StartedAt), truncate(e.Query, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of executions to list")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP execute/execute-stream API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := loadConfigAndStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := buildClient(cfg)
			if err != nil {
				return err
			}

			orch := orchestrator.New(client, cfg, session.NewInMemory())
			orch.Storage = store

			srv := httpapi.NewServer(orch)
			httpServer := &http.Server{Addr: addr, Handler: srv.Routes()}
			fmt.Printf("listening on %s\n", addr)
			return httpServer.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}
