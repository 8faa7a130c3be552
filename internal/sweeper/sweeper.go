// Package sweeper deactivates credentials whose subscription has ended.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/keygate/internal/metrics"
	"github.com/jmehdipour/keygate/internal/model"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("sweep already running")

// Credentials is the slice of the lifecycle manager a sweep needs.
type Credentials interface {
	List(ctx context.Context) ([]model.View, error)
	Expire(ctx context.Context, id string) (bool, error)
}

type Schedule struct {
	StartupDelay   time.Duration // 0 disables the startup sweep
	DailyAt        string        // HH:MM local time, "" disables
	Interval       time.Duration // 0 disables
	ExpiringWithin time.Duration // horizon for Stats.ExpiringSoon
}

type Result struct {
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Checked     int       `json:"checked"`
	Deactivated int       `json:"deactivated"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
}

type Stats struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	ExpiredActive int     `json:"expired_active"`
	ExpiringSoon  int     `json:"expiring_soon"`
	Running       bool    `json:"running"`
	LastRun       *Result `json:"last_run,omitempty"`
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

type Sweeper struct {
	creds    Credentials
	log      *zap.Logger
	schedule Schedule
	now      func() time.Time

	running atomic.Bool

	mu   sync.Mutex
	last *Result
}

func New(creds Credentials, log *zap.Logger, schedule Schedule, opts ...Option) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if schedule.ExpiringWithin <= 0 {
		schedule.ExpiringWithin = 7 * 24 * time.Hour
	}
	s := &Sweeper{creds: creds, log: log, schedule: schedule, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Running() bool { return s.running.Load() }

// RunNow sweeps once, unless a sweep is already in progress.
func (s *Sweeper) RunNow(ctx context.Context) (Result, error) {
	return s.sweep(ctx, "manual")
}

func (s *Sweeper) sweep(ctx context.Context, trigger string) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		return Result{}, ErrAlreadyRunning
	}
	metrics.SweepRunning.Set(1)
	defer func() {
		metrics.SweepRunning.Set(0)
		s.running.Store(false)
	}()

	res := Result{Trigger: trigger, StartedAt: s.now()}

	views, err := s.creds.List(ctx)
	if err != nil {
		res.FinishedAt = s.now()
		res.Error = err.Error()
		s.remember(res)
		metrics.SweepsTotal.WithLabelValues("failed").Inc()
		s.log.Error("sweep: list credentials", zap.String("trigger", trigger), zap.Error(err))
		return res, fmt.Errorf("sweep: %w", err)
	}

	now := s.now()
	for _, v := range views {
		res.Checked++
		if !v.Active || !now.After(v.SubscriptionEnd) {
			continue
		}

		ok, err := s.creds.Expire(ctx, v.FullKey)
		switch {
		case err != nil:
			res.Failed++
			s.log.Warn("sweep: deactivate", zap.String("key", v.Key), zap.Error(err))
		case ok:
			res.Deactivated++
		}
	}

	res.FinishedAt = s.now()
	s.remember(res)

	metrics.SweepsTotal.WithLabelValues("completed").Inc()
	metrics.SweepDeactivatedTotal.Add(float64(res.Deactivated))
	s.log.Info("sweep finished",
		zap.String("trigger", trigger),
		zap.Int("checked", res.Checked),
		zap.Int("deactivated", res.Deactivated),
		zap.Int("failed", res.Failed),
		zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (s *Sweeper) remember(r Result) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}

func (s *Sweeper) Stats(ctx context.Context) (Stats, error) {
	views, err := s.creds.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	horizon := now.Add(s.schedule.ExpiringWithin)

	st := Stats{Total: len(views), Running: s.running.Load()}
	for _, v := range views {
		if !v.Active {
			continue
		}
		st.Active++
		switch {
		case now.After(v.SubscriptionEnd):
			st.ExpiredActive++
		case !v.SubscriptionEnd.After(horizon):
			st.ExpiringSoon++
		}
	}

	s.mu.Lock()
	if s.last != nil {
		last := *s.last
		st.LastRun = &last
	}
	s.mu.Unlock()

	return st, nil
}
