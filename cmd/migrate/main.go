package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"campuswallet.org/internal/migrate"
	"campuswallet.org/ops/migrations"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn     string
		timeout time.Duration
	)

	withManager := func(run func(ctx context.Context, mgr *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return errors.New("missing DSN: provide via --dsn or WALLET_PG_DSN")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			return run(ctx, migrate.NewManager(db, migrations.FS, migrations.MigrationsDir, migrations.SeedsDir))
		}
	}

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply campus wallet schema migrations and seeds",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("WALLET_PG_DSN"), "PostgreSQL DSN")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
				return mgr.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
				return mgr.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply seed files not yet applied",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
				return mgr.Seed(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
				applied, err := mgr.Status(ctx)
				if err != nil {
					return err
				}
				pending, err := mgr.Pending(ctx)
				if err != nil {
					return err
				}
				for _, name := range applied {
					fmt.Println("applied ", name)
				}
				for _, name := range pending {
					fmt.Println("pending ", name)
				}
				return nil
			}),
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
