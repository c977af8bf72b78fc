package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/kira/internal/agent"
)

func newChatCommand(configPath *string) *cobra.Command {
	var sessionID string
	var message string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the agent: one message, or a REPL when no argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				message = args[0]
			}
			if message != "" {
				return runChatOnce(cmd.Context(), a, message, sessionID, dryRun)
			}
			return runChatREPL(cmd.Context(), a, sessionID, dryRun)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send (alternative to the positional argument)")
	cmd.Flags().StringVar(&sessionID, "session", "cli", "conversation session id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, never write")
	return cmd
}

func runChatOnce(ctx context.Context, a *app, message, sessionID string, dryRun bool) error {
	result, err := a.executor.Execute(ctx, agent.Request{
		Message:   message,
		SessionID: sessionID,
		DryRun:    dryRun,
	})
	if err != nil {
		return err
	}
	fmt.Println(result.Response)
	if result.Status == agent.StatusError {
		return fmt.Errorf("agent run finished with errors (trace %s)", result.TraceID)
	}
	return nil
}

func runChatREPL(ctx context.Context, a *app, sessionID string, dryRun bool) error {
	fmt.Println("kira chat. Empty line or Ctrl-D exits.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		result, err := a.executor.Execute(ctx, agent.Request{
			Message:   line,
			SessionID: sessionID,
			DryRun:    dryRun,
			Progress:  func(step string) { fmt.Println("…", step) },
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(result.Response)
	}
}
