package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/travel-booking-api/internal/app"
	"github.com/josh-kwaku/travel-booking-api/internal/config"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
	"github.com/josh-kwaku/travel-booking-api/internal/repository"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operate the travel booking payment store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(statusCmd())
	return root
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Init("bookingctl", cfg.LogLevel, cfg.AppEnv), nil
}

func openDB(ctx context.Context) (*sql.DB, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnectAttempts: 1,
	})
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.MigrateUp(db); err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), db)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.MigrateDown(db, steps); err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), db)
		},
	}
	down.Flags().Int("steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func printVersion(w io.Writer, db *sql.DB) error {
	v, dirty, err := repository.MigrationVersion(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}

func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete failed and expired pending orders",
		Long: "Expires pending orders whose payment session has ended, then deletes\n" +
			"failed orders older than --older-than. Paid and refunded orders are never removed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			engines := a.Engines()
			if kind != "" {
				e, err := a.Engine(kind)
				if err != nil {
					return err
				}
				engines = []app.KindEngine{e}
			}

			for _, e := range engines {
				expired, err := e.ExpireStale(cmd.Context())
				if err != nil {
					return fmt.Errorf("%s: %w", e.Kind(), err)
				}
				deleted, err := e.Cleanup(cmd.Context(), olderThan)
				if err != nil {
					return fmt.Errorf("%s: %w", e.Kind(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s expired=%d deleted=%d\n", e.Kind(), expired, deleted)
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "", "Booking kind (tour, transfer, quick_payment, insurance); all when empty")
	cmd.Flags().Duration("older-than", 72*time.Hour, "Minimum age of rows to delete")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <ref>",
		Short: "Resolve an order's payment status, asking the gateway if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Engine(kind)
			if err != nil {
				return err
			}
			view, err := e.ResolveStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
	cmd.Flags().String("kind", "", "Booking kind (tour, transfer, quick_payment, insurance)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
