package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMicroBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(3, 10*time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		assert.True(t, b.TryAcquire())
		b.OnFailure()
	}
	assert.Equal(t, Closed, b.State())

	b.OnFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.TryAcquire())

	// one probe after the cool-down
	now = now.Add(11 * time.Second)
	assert.True(t, b.TryAcquire())
	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.TryAcquire())

	b.OnSuccess()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.TryAcquire())
}

func TestMicroBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(1, time.Second)
	b.now = func() time.Time { return now }

	b.OnFailure()
	now = now.Add(2 * time.Second)
	assert.True(t, b.TryAcquire())

	b.OnFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.TryAcquire())
}

func TestMicroBreaker_SuccessResetsCount(t *testing.T) {
	b := New(2, time.Minute)

	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	assert.Equal(t, Closed, b.State())
}
