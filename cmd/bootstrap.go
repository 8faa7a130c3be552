package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/keygate/internal/breaker"
	"github.com/jmehdipour/keygate/internal/config"
	"github.com/jmehdipour/keygate/internal/db"
	"github.com/jmehdipour/keygate/internal/events"
	"github.com/jmehdipour/keygate/internal/kafka"
	"github.com/jmehdipour/keygate/internal/logger"
	"github.com/jmehdipour/keygate/internal/repository"
	"github.com/jmehdipour/keygate/internal/service/credential"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func openRedis(cfg config.Config) (*redis.Client, error) {
	rdb, err := db.NewRedisClient(db.RedisOpts{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return rdb, nil
}

func openClickHouse(cfg config.Config) (*sqlx.DB, error) {
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return chDB, nil
}

// startPublisher runs the Kafka event publisher when Kafka is configured.
// The returned stop func drains buffered events and closes the producer.
func startPublisher(cfg config.Config, log *zap.Logger) (*events.Publisher, func()) {
	if !cfg.Kafka.Enabled() {
		log.Info("kafka not configured, credential events are not published")
		return nil, func() {}
	}

	producer := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
	pub := events.NewPublisher(
		producer,
		breaker.New(cfg.Events.Breaker.FailThreshold, time.Duration(cfg.Events.Breaker.OpenForMs)*time.Millisecond),
		log.Named("events"),
		events.Options{
			BufferSize: cfg.Events.BufferSize,
			BatchSize:  cfg.Events.BatchSize,
			BatchWait:  cfg.Events.BatchWait,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Run(ctx)
	}()

	return pub, func() {
		cancel()
		<-done
		if err := producer.Close(); err != nil {
			log.Warn("close kafka producer", zap.Error(err))
		}
	}
}

func newCredentialService(cfg config.Config, rdb *redis.Client, log *zap.Logger, pub *events.Publisher) (*credential.Service, error) {
	term, err := credential.ParseTerm(cfg.Credentials.DefaultTerm)
	if err != nil {
		return nil, fmt.Errorf("credentials.default_term: %w", err)
	}

	opts := []credential.Option{
		credential.WithExpiryGrace(cfg.Credentials.ExpiryGrace),
		credential.WithDefaultTerm(term),
	}
	if pub != nil {
		opts = append(opts, credential.WithPublisher(pub))
	}

	repo := repository.NewCredentialsRepository(rdb, cfg.Credentials.KeyPrefix)
	return credential.New(repo, log.Named("credentials"), opts...), nil
}
