// Command kira runs the personal knowledge and task assistant: a
// Markdown+frontmatter vault, an event bus, and an LLM-driven agent that
// plans and executes tool calls against the vault.
//
// Usage:
//
//	kira serve --config kira.yaml     # bus, scheduler, HTTP API
//	kira chat "Create task 'Buy milk'"
//	kira chat                          # interactive REPL
//	kira doctor                        # environment checks
//
// Secrets load from the environment; a .env file next to the binary is
// picked up automatically.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/kira/internal/agent"
	"github.com/haasonsaas/kira/internal/host"
	"github.com/haasonsaas/kira/internal/vault"
)

// Exit codes.
const (
	exitOK         = 0
	exitValidation = 2
	exitConflict   = 3
	exitFSM        = 4
	exitIO         = 5
	exitConfig     = 6
	exitUnknown    = 7
)

var errConfig = errors.New("configuration error")

func main() {
	// A missing .env is fine; explicit config still wins.
	_ = godotenv.Load()

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "kira",
		Short:         "Personal knowledge and task assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default kira.yaml if present)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newDoctorCommand(&configPath))
	return root
}

// exitCode maps an error to the documented CLI exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, host.ErrValidation), errors.Is(err, host.ErrNotFound):
		return exitValidation
	case errors.Is(err, host.ErrConflict), errors.Is(err, host.ErrDuplicateID):
		return exitConflict
	case errors.Is(err, host.ErrFSMGuard):
		return exitFSM
	case errors.Is(err, vault.ErrLockTimeout),
		errors.Is(err, agent.ErrSessionBusy),
		errors.Is(err, vault.ErrMalformed):
		return exitIO
	case errors.Is(err, errConfig):
		return exitConfig
	default:
		return exitUnknown
	}
}
