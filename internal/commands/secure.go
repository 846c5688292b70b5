package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

var secureCmd = &cobra.Command{
	Use:   "secure [type]",
	Short: "Run one securing campaign",
	Long: `Run a full securing campaign for the given traceability type
(operations, unit or objectgroup) across all configured tenants, waiting
for every run to finish, and print the per-tenant report.`,
	Args: cobra.ExactArgs(1),
	RunE: runSecure,
}

func init() {
	rootCmd.AddCommand(secureCmd)
}

func runSecure(cmd *cobra.Command, args []string) error {
	typ, err := models.ParseTraceabilityType(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	svcs, err := buildServices(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer svcs.close()

	report, err := svcs.orchestrator.Secure(cmd.Context(), typ)
	if err != nil {
		return fmt.Errorf("securing campaign failed: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
