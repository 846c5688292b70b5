// Package commands wires the securing service's CLI.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkheion-systems/arkheion-securing/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "securing",
	Short: "Arkheion traceability securing service",
	Long: `securing seals journal event windows into tamper-evident, timestamped,
chain-linked archive containers and drives the per-tenant securing runs.

Run it as a long-lived service with "securing serve", or trigger one-shot
campaigns and verifications from the command line.`,
	Version: "0.1.0",
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
