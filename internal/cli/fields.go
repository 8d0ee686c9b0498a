package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"fieldimport/internal/catalog"
	"fieldimport/internal/config"
)

var (
	fieldsJSON bool
	fieldsSeed bool
)

// fieldsCmd represents the fields command
var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the canonical field catalog",
	RunE:  runFields,
}

func init() {
	rootCmd.AddCommand(fieldsCmd)

	fieldsCmd.Flags().BoolVar(&fieldsJSON, "json", false, "emit the catalog as JSON (usable with import --fields)")
	fieldsCmd.Flags().BoolVar(&fieldsSeed, "seed", false, "install the starter contact and address fields first")
}

func runFields(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	pool, err := pgxpool.New(ctx, appCfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	cat := catalog.NewPostgresCatalog(pool)
	if err := cat.EnsureSchema(ctx); err != nil {
		return err
	}

	if fieldsSeed {
		created, err := catalog.SeedDefaults(ctx, cat)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Seeded %d fields\n", created)
	}

	fields, err := cat.ListFields(ctx)
	if err != nil {
		return fmt.Errorf("list fields: %w", err)
	}

	if fieldsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(fields)
	}

	fmt.Printf("%-24s %-10s %-16s %s\n", "KEY", "TYPE", "CATEGORY", "USED")
	for _, f := range fields {
		fmt.Printf("%-24s %-10s %-16s %d\n", f.FieldKey, f.Type, f.Category, f.UsageCount)
	}
	return nil
}
