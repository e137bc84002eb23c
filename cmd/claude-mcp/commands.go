package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bridgekit/claude-mcp/internal/client"
	"github.com/bridgekit/claude-mcp/internal/config"
	"github.com/bridgekit/claude-mcp/internal/journal"
)

var (
	callPrompt  string
	callModel   string
	callTimeout int

	historyCount int
)

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Spawn a server and invoke one tool (smoke test)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if callPrompt == "" {
			return fmt.Errorf("--prompt is required")
		}

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve own binary: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(callTimeout+30)*time.Second)
		defer cancel()

		c, err := client.Spawn(ctx, self, "serve")
		if err != nil {
			return err
		}
		defer c.Close()

		arguments := map[string]interface{}{"prompt": callPrompt}
		if callModel != "" {
			arguments["model"] = callModel
		}
		if callTimeout > 0 {
			arguments["timeout"] = callTimeout
		}

		text, err := c.CallTool(ctx, args[0], arguments)
		if err != nil {
			return err
		}

		fmt.Println(text)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent tool invocations from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Journal.Enabled {
			return fmt.Errorf("journal is disabled in config")
		}

		store, err := journal.Open(cfg.Journal.DBPath, 0)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer store.Close()

		entries, err := store.Recent(historyCount)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no invocations recorded")
			return nil
		}

		for _, e := range entries {
			line := fmt.Sprintf("%s  %-20s %-10s attempts=%d exit=%d %s",
				e.CreatedAt.Format(time.RFC3339), e.Tool, e.Outcome,
				e.Attempts, e.ExitStatus, e.Duration.Round(time.Millisecond))
			if e.Error != "" {
				line += "  " + firstLine(e.Error)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment can run the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := false

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("config:  FAIL  %v\n", err)
			failed = true
			cfg = config.Default()
		} else {
			fmt.Println("config:  ok")
		}

		if path, err := exec.LookPath(cfg.ClaudeBinary); err != nil {
			fmt.Printf("claude:  FAIL  %q not found on PATH\n", cfg.ClaudeBinary)
			failed = true
		} else {
			out, verErr := exec.Command(path, "--version").Output()
			if verErr != nil {
				fmt.Printf("claude:  ok    %s (version check failed: %v)\n", path, verErr)
			} else {
				fmt.Printf("claude:  ok    %s (%s)\n", path, firstLine(string(out)))
			}
		}

		if cfg.Journal.Enabled {
			if err := cfg.EnsureDirectories(); err != nil {
				fmt.Printf("journal: FAIL  %v\n", err)
				failed = true
			} else if store, err := journal.Open(cfg.Journal.DBPath, 0); err != nil {
				fmt.Printf("journal: FAIL  %v\n", err)
				failed = true
			} else {
				store.Close()
				fmt.Println("journal: ok")
			}
		} else {
			fmt.Println("journal: disabled")
		}

		if failed {
			return fmt.Errorf("doctor found problems")
		}
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func init() {
	callCmd.Flags().StringVar(&callPrompt, "prompt", "", "Prompt to send")
	callCmd.Flags().StringVar(&callModel, "model", "", "Model alias")
	callCmd.Flags().IntVar(&callTimeout, "timeout", 0, "Per-attempt timeout in seconds")

	historyCmd.Flags().IntVarP(&historyCount, "count", "n", 20, "Number of entries to show")
}
