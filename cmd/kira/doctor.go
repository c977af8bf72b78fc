package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/kira/internal/config"
	"github.com/haasonsaas/kira/internal/host"
	"github.com/haasonsaas/kira/internal/storage"
	"github.com/haasonsaas/kira/internal/vault"
)

func newDoctorCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, vault, storage, and provider wiring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(*configPath)
		},
	}
}

type check struct {
	name string
	err  error
}

func runDoctor(configPath string) error {
	var checks []check
	add := func(name string, err error) { checks = append(checks, check{name, err}) }

	cfg, err := loadConfig(configPath)
	add("config", err)
	if err != nil {
		report(checks)
		return err
	}

	if _, tzErr := time.LoadLocation(cfg.Core.Timezone); cfg.Core.Timezone != "" && tzErr != nil {
		add("timezone", fmt.Errorf("%w: timezone %q: %v", errConfig, cfg.Core.Timezone, tzErr))
	} else {
		add("timezone", nil)
	}

	add("vault", checkVault(cfg.Vault.Path))
	add("journal", checkJournal(cfg.Vault.Path))

	dataDir := cfg.Vault.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(filepath.Dir(cfg.Vault.Path), "kira-data")
	}
	add("storage", checkStorage(dataDir))

	add("providers", checkProviders(cfg))

	report(checks)
	for _, c := range checks {
		if c.err != nil {
			return fmt.Errorf("doctor found problems")
		}
	}
	fmt.Println("All checks passed.")
	return nil
}

func checkVault(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("vault path %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault path %q is not a directory", path)
	}
	if _, err := vault.NewStore(path); err != nil {
		return fmt.Errorf("vault open: %w", err)
	}
	return nil
}

// checkJournal parses the link-journal WAL and reports entries a crashed
// write left behind; the host replays them on the next start.
func checkJournal(vaultPath string) error {
	path := filepath.Join(vaultPath, ".kira", "link_journal.jsonl")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	j, pending, err := host.OpenJournal(path)
	if err != nil {
		return fmt.Errorf("link journal: %w", err)
	}
	defer j.Close()
	if n := len(pending); n > 0 {
		fmt.Printf("  note: %d unreplayed journal entries (replayed on next start)\n", n)
	}
	return nil
}

func checkStorage(dataDir string) error {
	db, err := storage.Open(filepath.Join(dataDir, "conversations.db"))
	if err != nil {
		return fmt.Errorf("conversations db: %w", err)
	}
	defer db.Close()
	return db.Ping()
}

func checkProviders(cfg *config.Config) error {
	configured := 0
	if cfg.Provider.Anthropic.APIKey != "" {
		configured++
	}
	if cfg.Provider.OpenAI.APIKey != "" {
		configured++
	}
	if cfg.Provider.Ollama.BaseURL != "" {
		configured++
	}
	if configured == 0 {
		return fmt.Errorf("%w: no LLM provider configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or an ollama base_url", errConfig)
	}
	return nil
}

func report(checks []check) {
	for _, c := range checks {
		if c.err != nil {
			fmt.Printf("✗ %-10s %v\n", c.name, c.err)
		} else {
			fmt.Printf("✓ %s\n", c.name)
		}
	}
}
