package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/keygate/internal/model"
	"github.com/jmehdipour/keygate/internal/service/credential"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Issue the well-known test credential when no credentials exist",
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

		svc, err := newCredentialService(cfg, redisClient, log, nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		id, created, err := seed(ctx, svc, cfg.Credentials.SeedID)
		if err != nil {
			return err
		}
		if !created {
			log.Info("credentials already present, nothing to seed")
			return nil
		}

		log.Info("seed credential issued", zap.String("key", model.KeyPrefix(id, 8)))
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

// seed issues the test credential only into an empty store.
func seed(ctx context.Context, svc *credential.Service, id string) (string, bool, error) {
	n, err := svc.Count(ctx)
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return "", false, nil
	}

	id, err = svc.Issue(ctx, model.OwnerData{
		OwnerName:    "Test Store",
		ContactName:  "Test Contact",
		ContactPhone: "+905550000000",
	}, credential.IssueOptions{ID: id, Term: credential.Term1Year})
	if err != nil {
		return "", false, fmt.Errorf("issue seed credential: %w", err)
	}
	return id, true, nil
}
