package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/keygate/internal/kafka"
	"github.com/jmehdipour/keygate/internal/metrics"
	"github.com/jmehdipour/keygate/internal/model"
	"go.uber.org/zap"
)

const finalFlushTimeout = 10 * time.Second

type EventSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

type EventStore interface {
	InsertBatch(ctx context.Context, events []model.Event) error
}

// EventsWorker copies credential events from Kafka into ClickHouse.
// Offsets are committed only after the batch carrying them is stored.
type EventsWorker struct {
	Source EventSource
	Store  EventStore
	Log    *zap.Logger

	BatchSize int
	BatchWait time.Duration
}

func NewEventsWorker(src EventSource, store EventStore, log *zap.Logger) *EventsWorker {
	return &EventsWorker{
		Source:    src,
		Store:     store,
		Log:       log,
		BatchSize: 200,
		BatchWait: 300 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled, then flushes what it holds.
func (w *EventsWorker) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}
	if w.Log == nil {
		w.Log = zap.NewNop()
	}

	msgCh := make(chan kafka.Message, w.BatchSize)
	go w.fetch(ctx, msgCh)

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	pending := make([]kafka.Message, 0, w.BatchSize)

	for {
		// stop reading while a full batch waits to be stored
		in := msgCh
		if len(pending) >= w.BatchSize {
			in = nil
		}

		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			w.flush(fctx, pending)
			cancel()
			return nil

		case m := <-in:
			pending = append(pending, m)
			if len(pending) >= w.BatchSize {
				pending = w.flush(ctx, pending)
			}

		case <-tick.C:
			pending = w.flush(ctx, pending)
		}
	}
}

func (w *EventsWorker) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("events worker: kafka fetch", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

// flush stores and commits pending. It returns what is still pending: nothing
// on success, the same batch when the store failed.
func (w *EventsWorker) flush(ctx context.Context, pending []kafka.Message) []kafka.Message {
	if len(pending) == 0 {
		return pending
	}

	events := make([]model.Event, 0, len(pending))
	poison := 0
	for _, m := range pending {
		e, err := kafka.DecodeEvent(m)
		if err != nil {
			poison++
			w.Log.Warn("events worker: skipping bad message",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			continue
		}
		events = append(events, e)
	}

	if err := w.Store.InsertBatch(ctx, events); err != nil {
		metrics.EventsTotal.WithLabelValues("failed").Add(float64(len(events)))
		w.Log.Error("events worker: insert batch", zap.Int("count", len(events)), zap.Error(err))
		return pending
	}

	if err := w.Source.Commit(ctx, pending...); err != nil {
		// stored but not committed: redelivery is deduplicated by event id
		w.Log.Warn("events worker: commit", zap.Error(err))
	}

	metrics.EventsTotal.WithLabelValues("stored").Add(float64(len(events)))
	w.Log.Debug("events worker: flushed", zap.Int("stored", len(events)), zap.Int("skipped", poison))
	return pending[:0]
}
