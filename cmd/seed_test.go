package cmd

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/keygate/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSeed_OnlyIntoEmptyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg, err := config.Load("")
	require.NoError(t, err)

	svc, err := newCredentialService(cfg, rdb, zap.NewNop(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	id, created, err := seed(ctx, svc, cfg.Credentials.SeedID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "test-keygate-seed-2025", id)
	assert.True(t, mr.Exists("keygate:credential:test-keygate-seed-2025"))

	res, err := svc.Validate(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, created, err = seed(ctx, svc, cfg.Credentials.SeedID)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestNewCredentialService_RejectsUnknownTerm(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Credentials.DefaultTerm = "decade"

	_, err = newCredentialService(cfg, nil, zap.NewNop(), nil)
	assert.Error(t, err)
}
