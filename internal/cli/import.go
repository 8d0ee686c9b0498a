package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"fieldimport/internal/catalog"
	"fieldimport/internal/config"
	"fieldimport/internal/importer"
	"fieldimport/internal/ingest"
	"fieldimport/internal/match"
	"fieldimport/internal/transform"
)

var (
	dryRun        bool
	skipUnmatched bool
	fieldsFile    string
	batchSize     int
	autoThreshold float64
	importTimeout time.Duration
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Map and import one delimited file",
	Long: `Import reads a delimited file, auto-maps its columns against the
field catalog, and persists the transformed records in batches.

Columns below the auto-map threshold fail the run unless --skip-unmatched
is set. Use --dry-run to see the mapping and record counts without
writing anything.

Example:
  fieldimport import contacts.csv
  fieldimport import contacts.csv --dry-run --fields catalog.json
  fieldimport import contacts.csv --skip-unmatched --batch-size 500`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and transform without persisting")
	importCmd.Flags().BoolVar(&skipUnmatched, "skip-unmatched", false, "skip columns that do not auto-map instead of failing")
	importCmd.Flags().StringVar(&fieldsFile, "fields", "", "JSON field catalog file (default: load catalog from the database)")
	importCmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per persistence batch (default: from config)")
	importCmd.Flags().Float64Var(&autoThreshold, "threshold", 0, "auto-map similarity threshold (default: from config)")
	importCmd.Flags().DurationVar(&importTimeout, "timeout", 10*time.Minute, "total timeout for the import")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	table, err := ingest.Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	cat, persister, cleanup, err := buildCollaborators(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := loadImportConfig()
	if autoThreshold > 0 {
		cfg.Match.AutoThreshold = autoThreshold
	}
	if batchSize > 0 {
		cfg.Options.BatchSize = batchSize
	}

	resolver, err := match.NewResolver(ctx, cat, cfg.Match)
	if err != nil {
		return fmt.Errorf("load field catalog: %w", err)
	}
	resolution := resolver.Resolve(table.Headers)

	fmt.Fprintf(os.Stderr, "Columns:    %d (%d auto-mapped, %d unmatched, %d excluded)\n",
		len(table.Headers), len(resolution.Auto), len(resolution.Unmatched), len(resolution.Excluded))
	for _, m := range resolver.Mappings() {
		switch {
		case m.Excluded:
			fmt.Fprintf(os.Stderr, "  %-24s excluded (metadata)\n", m.Column)
		case m.HighConfidence():
			fmt.Fprintf(os.Stderr, "  %-24s -> %s (%.2f)\n", m.Column, m.FieldKey, m.Confidence)
		case m.FieldKey != "":
			fmt.Fprintf(os.Stderr, "  %-24s -> %s (%.2f, review)\n", m.Column, m.FieldKey, m.Confidence)
		default:
			fmt.Fprintf(os.Stderr, "  %-24s unmatched\n", m.Column)
		}
	}

	if unresolved := resolver.Unresolved(); len(unresolved) > 0 {
		if !skipUnmatched {
			return fmt.Errorf("unmatched columns %v: re-run with --skip-unmatched or adjust the catalog", unresolved)
		}
		for _, col := range unresolved {
			if err := resolver.SetSkip(col); err != nil {
				return err
			}
		}
	}

	output := transform.Transform(table.Rows, resolver.Mappings(), cfg.Policy)
	fmt.Fprintf(os.Stderr, "Rows:       %d (%d transformed, %d dropped, %d duplicates)\n",
		len(table.Rows), len(output.Records), output.Dropped, output.Duplicates)

	if dryRun {
		fmt.Fprintln(os.Stderr, "Dry run, nothing persisted")
		return nil
	}

	opts := cfg.Options
	opts.OnProgress = func(p importer.Progress) {
		fmt.Fprintf(os.Stderr, "  batch %d/%d (%.0f%%)\n", p.Batch, p.Batches, p.Percent)
	}

	summary := importer.Execute(ctx, output.Records, persister, opts)
	summary.Dropped = output.Dropped
	summary.Failed += output.Failed
	summary.Duplicates = output.Duplicates

	fmt.Fprintf(os.Stderr, "Imported:   %d\nFailed:     %d\n", summary.Imported, summary.Failed)
	if summary.Cancelled {
		return fmt.Errorf("import cancelled after %d of %d records", summary.Imported+summary.Failed, summary.Total)
	}
	for _, be := range summary.BatchErrors {
		fmt.Fprintf(os.Stderr, "  batch %d failed: %s\n", be.BatchIndex, be.Message)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d records failed", summary.Failed, summary.Total)
	}
	return nil
}

// buildCollaborators wires the catalog and persister. With --fields or
// --dry-run everything stays in memory; otherwise both sides hit the
// configured database.
func buildCollaborators(ctx context.Context) (catalog.Catalog, importer.Persister, func(), error) {
	noop := func() {}

	if fieldsFile != "" {
		data, err := os.ReadFile(fieldsFile)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("read fields file: %w", err)
		}
		var fields []catalog.CanonicalField
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, nil, noop, fmt.Errorf("parse fields file: %w", err)
		}
		return catalog.NewMemoryCatalog(fields...), importer.NewMemoryPersister(), noop, nil
	}

	appCfg, err := config.Load()
	if err != nil {
		return nil, nil, noop, fmt.Errorf("load configuration: %w", err)
	}

	pool, err := pgxpool.New(ctx, appCfg.Database.URL)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, noop, fmt.Errorf("ping database: %w", err)
	}

	cat := catalog.NewPostgresCatalog(pool)
	if dryRun {
		return cat, importer.NewMemoryPersister(), pool.Close, nil
	}

	if err := importer.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, noop, err
	}
	persister, err := importer.NewPgPersister(pool, uuid.NewString())
	if err != nil {
		pool.Close()
		return nil, nil, noop, err
	}
	return cat, persister, pool.Close, nil
}

// cliImportConfig bundles the pipeline settings one run needs.
type cliImportConfig struct {
	Match   match.Config
	Policy  transform.Policy
	Options importer.Options
}

// loadImportConfig pulls import settings from the environment when
// present, falling back to the shipped defaults.
func loadImportConfig() cliImportConfig {
	cfg, err := config.Load()
	if err != nil {
		// No usable environment (e.g. missing DATABASE_URL during a
		// --fields run). Defaults still apply.
		return cliImportConfig{Match: match.DefaultConfig()}
	}
	sc := importer.ServiceConfigFromApp(cfg.Import)
	return cliImportConfig{
		Match:   sc.Match,
		Policy:  sc.Policy,
		Options: sc.Options,
	}
}
