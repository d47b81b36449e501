package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Zeeeepa/attune-ai-sub002/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "vaultd",
	Short: "vaultd - agent memory and pattern vault daemon",
	Long: `vaultd runs the two-tier agent memory service: a TTL-scoped
short-term coordination store backed by Redis (with an in-process
fallback) and an encrypted long-term pattern vault with a hash-chained
audit log. Every mutation is tier-gated and audited.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads the config file named by --config, falling back to
// defaults plus environment overrides when the file does not exist.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		path = os.Getenv("VAULT_CONFIG")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".vaultd", "vaultd.yaml")
	}
	return config.NewLoader(config.NewValidator()).LoadWithDefaults(path)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to the vaultd config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(verifyAuditCmd)
	rootCmd.AddCommand(tokenCmd)
}
