package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"relief.org/internal/migrate"
	"relief.org/ops"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|seed|status]",
	Short:     "Apply or inspect the embedded SQL migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "seed", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.DSN == "" {
			return errors.New("missing DSN: set database.dsn or RELIEF_PG_DSN")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		db, err := sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		mgr := migrate.NewManager(db, ops.SQL, ops.MigrationsDir, ops.SeedsDir)
		switch args[0] {
		case "up":
			err = mgr.Up(ctx)
		case "down":
			err = mgr.Down(ctx)
		case "seed":
			err = mgr.Seed(ctx)
		case "status":
			err = printStatus(ctx, cmd, mgr)
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", args[0], err)
		}
		return nil
	},
}

func printStatus(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
	applied, err := mgr.Status(ctx)
	if err != nil {
		return err
	}
	pending, err := mgr.Pending(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range applied {
		fmt.Fprintf(out, "applied  %s\n", name)
	}
	for _, name := range pending {
		fmt.Fprintf(out, "pending  %s\n", name)
	}
	return nil
}
