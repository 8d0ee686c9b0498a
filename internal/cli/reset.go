package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"fieldimport/internal/admin"
	"fieldimport/internal/config"
)

var (
	resetYes     bool
	resetCatalog bool
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete imported records (and optionally the field catalog)",
	Long: `Reset truncates the imported record store. With --catalog it also
wipes the canonical field catalog, including usage counters.

This is destructive and cannot be undone; --yes is required.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the destructive reset")
	resetCmd.Flags().BoolVar(&resetCatalog, "catalog", false, "also wipe the field catalog")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("refusing to reset without --yes")
	}

	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), admin.ResetTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, appCfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	reset := &admin.Reset{DB: pool}
	if resetCatalog {
		if err := reset.All(); err != nil {
			return err
		}
		fmt.Println("Imported records and field catalog reset")
		return nil
	}

	if err := reset.ImportedRecords(ctx); err != nil {
		return err
	}
	fmt.Println("Imported records reset")
	return nil
}
