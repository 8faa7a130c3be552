package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/keygate/internal/breaker"
	"github.com/jmehdipour/keygate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu      sync.Mutex
	fail    bool
	calls   int
	written []model.Event
}

func (s *fakeSink) WriteEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("broker down")
	}
	s.written = append(s.written, events...)
	return nil
}

func (s *fakeSink) snapshot() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, len(s.written)
}

func event(i int) model.Event {
	return model.Event{ID: string(rune('a' + i)), Type: model.EventValidated}
}

func TestPublisher_FlushesBySize(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher(sink, breaker.New(3, time.Minute), zap.NewNop(), Options{BatchSize: 3, BatchWait: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	for i := 0; i < 3; i++ {
		p.Publish(ctx, event(i))
	}

	require.Eventually(t, func() bool {
		_, n := sink.snapshot()
		return n == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestPublisher_FlushesByTimeAndDrainsOnStop(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher(sink, breaker.New(3, time.Minute), zap.NewNop(), Options{BatchSize: 100, BatchWait: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	p.Publish(ctx, event(0))
	require.Eventually(t, func() bool {
		_, n := sink.snapshot()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// published after stop, picked up by a second drain
	p.Publish(context.Background(), event(1))
	p.drain(nil)
	_, n := sink.snapshot()
	assert.Equal(t, 2, n)
}

func TestPublisher_PublishNeverBlocks(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher(sink, breaker.New(3, time.Minute), zap.NewNop(), Options{BufferSize: 2})

	// nobody is running the loop; the third event is dropped
	for i := 0; i < 3; i++ {
		p.Publish(context.Background(), event(i))
	}
	assert.Len(t, p.in, 2)
}

func TestPublisher_BreakerStopsCallingSink(t *testing.T) {
	sink := &fakeSink{fail: true}
	p := NewPublisher(sink, breaker.New(2, time.Hour), zap.NewNop(), Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p.write(ctx, []model.Event{event(i)})
	}

	calls, n := sink.snapshot()
	assert.Equal(t, 2, calls)
	assert.Zero(t, n)
	assert.Equal(t, breaker.Open, p.breaker.State())
}
