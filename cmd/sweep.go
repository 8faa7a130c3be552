package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/keygate/internal/sweeper"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deactivate expired credentials once and print sweep stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		redisClient, err := openRedis(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()

		pub, stopPublisher := startPublisher(cfg, log)
		defer stopPublisher()

		svc, err := newCredentialService(cfg, redisClient, log, pub)
		if err != nil {
			return err
		}

		sw := sweeper.New(svc, log.Named("sweeper"), sweeper.Schedule{ExpiringWithin: cfg.Sweeper.ExpiringWithin})

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if _, err := sw.RunNow(ctx); err != nil {
			return err
		}

		st, err := sw.Stats(ctx)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
