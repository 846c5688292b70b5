package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
	"github.com/arkheion-systems/arkheion-securing/internal/seeder"
)

var (
	seedTenant int
	seedType   string
	seedCount  int
	seedSpread time.Duration
	seedSeed   int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate synthetic journal records",
	Long: `Inject generated archive lifecycle events into the journal for
development and load testing.

Examples:
  # 10000 operation events spread over the last 24 hours
  securing seed --count 10000 --spread 24h

  # Reproducible unit lifecycle events for tenant 2
  securing seed --tenant 2 --type unit --count 500 --seed 42`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedTenant, "tenant", 0, "tenant id to seed")
	seedCmd.Flags().StringVar(&seedType, "type", "operations", "traceability type: operations, unit or objectgroup")
	seedCmd.Flags().IntVar(&seedCount, "count", 1000, "number of records to generate")
	seedCmd.Flags().DurationVar(&seedSpread, "spread", time.Hour, "spread the records backwards over this duration")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "random seed for reproducible runs (0 = random)")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	typ, err := models.ParseTraceabilityType(seedType)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jstore, err := journal.NewPostgresStore(cmd.Context(), cfg.Database.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to journal database: %w", err)
	}
	defer jstore.Close()

	written, err := seeder.New(jstore).Run(cmd.Context(), seeder.Options{
		Tenant:     seedTenant,
		Type:       typ,
		Count:      seedCount,
		TimeSpread: seedSpread,
		Seed:       seedSeed,
	})
	if err != nil {
		return fmt.Errorf("seeding failed after %d records: %w", written, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d %s records for tenant %d\n", written, typ, seedTenant)
	return nil
}
