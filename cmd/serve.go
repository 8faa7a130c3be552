package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	httpSrv "github.com/jmehdipour/keygate/internal/http"
	"github.com/jmehdipour/keygate/internal/metrics"
	"github.com/jmehdipour/keygate/internal/repository"
	"github.com/jmehdipour/keygate/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server and expiry sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		redisClient, err := openRedis(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()

		var eventsRepo repository.CHEventsRepository
		if cfg.ClickHouse.Enabled() {
			chDB, err := openClickHouse(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = chDB.Close() }()
			eventsRepo = repository.NewCHEventsRepository(chDB)
		}

		pub, stopPublisher := startPublisher(cfg, log)
		defer stopPublisher()

		svc, err := newCredentialService(cfg, redisClient, log, pub)
		if err != nil {
			return err
		}

		sw := sweeper.New(svc, log.Named("sweeper"), sweeper.Schedule{
			StartupDelay:   cfg.Sweeper.StartupDelay,
			DailyAt:        cfg.Sweeper.DailyAt,
			Interval:       cfg.Sweeper.Interval,
			ExpiringWithin: cfg.Sweeper.ExpiringWithin,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 2)
		go func() {
			if err := sw.Run(ctx); err != nil {
				errCh <- err
			}
		}()

		server := httpSrv.NewServer(httpSrv.Deps{
			Config:      cfg,
			Redis:       redisClient,
			Credentials: svc,
			Sweeper:     sw,
			Events:      eventsRepo,
			Log:         log.Named("http"),
		})
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}

		if sw.Running() {
			log.Info("a sweep is still in progress and will be abandoned")
		}
		return nil
	},
}
