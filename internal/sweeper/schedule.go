package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ParseDailyAt reads an "HH:MM" wall clock time.
func ParseDailyAt(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("daily_at %q: want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// nextDaily returns the next hour:minute strictly after now, in now's location.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run fires sweeps on the configured triggers until ctx is done. Each sweep
// runs in its own goroutine, detached from ctx, so shutdown never interrupts
// one halfway; overlapping triggers are skipped by the gate.
func (s *Sweeper) Run(ctx context.Context) error {
	var startupC, intervalC, dailyC <-chan time.Time

	if s.schedule.StartupDelay > 0 {
		t := time.NewTimer(s.schedule.StartupDelay)
		defer t.Stop()
		startupC = t.C
	}

	if s.schedule.Interval > 0 {
		t := time.NewTicker(s.schedule.Interval)
		defer t.Stop()
		intervalC = t.C
	}

	var (
		daily        *time.Timer
		hour, minute int
	)
	if s.schedule.DailyAt != "" {
		var err error
		hour, minute, err = ParseDailyAt(s.schedule.DailyAt)
		if err != nil {
			return err
		}
		now := s.now()
		daily = time.NewTimer(nextDaily(now, hour, minute).Sub(now))
		defer daily.Stop()
		dailyC = daily.C
	}

	s.log.Info("sweeper scheduled",
		zap.Duration("startup_delay", s.schedule.StartupDelay),
		zap.String("daily_at", s.schedule.DailyAt),
		zap.Duration("interval", s.schedule.Interval),
	)

	detached := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-startupC:
			s.fire(detached, "startup")
		case <-intervalC:
			s.fire(detached, "interval")
		case <-dailyC:
			s.fire(detached, "daily")
			now := s.now()
			daily.Reset(nextDaily(now, hour, minute).Sub(now))
		}
	}
}

func (s *Sweeper) fire(ctx context.Context, trigger string) {
	go func() {
		if _, err := s.sweep(ctx, trigger); errors.Is(err, ErrAlreadyRunning) {
			s.log.Info("sweep skipped, previous run still in progress", zap.String("trigger", trigger))
		}
	}()
}
