// Package events moves credential lifecycle events off the request path.
package events

import (
	"context"
	"time"

	"github.com/jmehdipour/keygate/internal/breaker"
	"github.com/jmehdipour/keygate/internal/metrics"
	"github.com/jmehdipour/keygate/internal/model"
	"go.uber.org/zap"
)

const flushTimeout = 5 * time.Second

// Sink is where batches end up, normally a Kafka producer.
type Sink interface {
	WriteEvents(ctx context.Context, events []model.Event) error
}

type Options struct {
	BufferSize int
	BatchSize  int
	BatchWait  time.Duration
}

// Publisher buffers events in a bounded channel and flushes them to the sink
// from a single loop. Publish never blocks: a full buffer or an open breaker
// drops events and counts them.
type Publisher struct {
	sink    Sink
	breaker *breaker.MicroBreaker
	log     *zap.Logger

	in        chan model.Event
	batchSize int
	batchWait time.Duration
}

func NewPublisher(sink Sink, br *breaker.MicroBreaker, log *zap.Logger, o Options) *Publisher {
	if o.BufferSize <= 0 {
		o.BufferSize = 4096
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.BatchWait <= 0 {
		o.BatchWait = 300 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		sink:      sink,
		breaker:   br,
		log:       log,
		in:        make(chan model.Event, o.BufferSize),
		batchSize: o.BatchSize,
		batchWait: o.BatchWait,
	}
}

func (p *Publisher) Publish(_ context.Context, e model.Event) {
	select {
	case p.in <- e:
	default:
		metrics.EventsTotal.WithLabelValues("dropped").Inc()
	}
}

// Run flushes by size or time until ctx is done, then drains what is buffered.
func (p *Publisher) Run(ctx context.Context) {
	tick := time.NewTicker(p.batchWait)
	defer tick.Stop()

	batch := make([]model.Event, 0, p.batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		p.write(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			p.drain(batch)
			return
		case e := <-p.in:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				flush(ctx)
			}
		case <-tick.C:
			flush(ctx)
		}
	}
}

func (p *Publisher) drain(batch []model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		select {
		case e := <-p.in:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				p.write(ctx, batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				p.write(ctx, batch)
			}
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, batch []model.Event) {
	n := float64(len(batch))

	if !p.breaker.TryAcquire() {
		metrics.EventsTotal.WithLabelValues("dropped").Add(n)
		return
	}

	if err := p.sink.WriteEvents(ctx, batch); err != nil {
		p.breaker.OnFailure()
		metrics.EventsTotal.WithLabelValues("failed").Add(n)
		p.log.Warn("publish events",
			zap.Int("count", len(batch)),
			zap.String("breaker", p.breaker.State().String()),
			zap.Error(err),
		)
		return
	}

	p.breaker.OnSuccess()
	metrics.EventsTotal.WithLabelValues("published").Add(n)
}
