package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/keygate/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the ClickHouse credential_events table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if !cfg.ClickHouse.Enabled() {
			return fmt.Errorf("clickhouse.dsn is not configured")
		}

		chDB, err := openClickHouse(cfg)
		if err != nil {
			return err
		}
		defer chDB.Close()

		stmts, err := migrations.Statements()
		if err != nil {
			return fmt.Errorf("read migrations: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		for i, stmt := range stmts {
			if _, err := chDB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec migration %d: %w", i+1, err)
			}
		}

		log.Info("migration complete", zap.Int("statements", len(stmts)))
		return nil
	},
}
