package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"fieldimport/internal/catalog"
	"fieldimport/internal/config"
	"fieldimport/internal/importer"
	"fieldimport/internal/logging"
	"fieldimport/internal/web"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve starts the HTTP API exposing the import pipeline: session
lifecycle endpoints, the field catalog, and SSE progress streams.

All settings come from the environment (see the README for the full
variable list); a .env file in the working directory is honored.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logging.FromContext(context.Background())
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"batch_size", cfg.Import.BatchSize,
		"auto_threshold", cfg.Import.AutoThreshold,
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	cat := catalog.NewPostgresCatalog(pool)
	if err := cat.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := importer.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	sessions := importer.NewService(cat,
		func(sessionID string) (importer.Persister, error) {
			return importer.NewPgPersister(pool, sessionID)
		},
		importer.ServiceConfigFromApp(cfg.Import),
	)

	server := web.NewServer(sessions, cat, cfg)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := sessions.ImportStatus(); status.Active > 0 {
			log.Info("waiting for imports to complete", "active", status.Active)
			if err := sessions.WaitForImports(shutdownCtx); err != nil {
				log.Warn("imports did not complete in time", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
