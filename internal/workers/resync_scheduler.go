package workers

import (
	"context"
	"errors"
	"time"

	"github.com/mylifebyai/mlbai/internal/cache"
	"github.com/mylifebyai/mlbai/internal/services"
	"github.com/sirupsen/logrus"
)

const DefaultResyncLockKey = "patreon:resync:lock"

// ResyncScheduler periodically runs the full Patreon resync. With a Locker
// set, only the replica holding the lock runs a given tick.
type ResyncScheduler struct {
	Sync     services.PatreonSyncService
	Locks    cache.Locker
	Interval time.Duration

	Logger *logrus.Logger

	LockKey string
	LockTTL time.Duration

	// newTicker is swapped in tests.
	newTicker func(time.Duration) (<-chan time.Time, func())
}

func (s *ResyncScheduler) Start(ctx context.Context) error {
	if s.Sync == nil {
		return errors.New("ResyncScheduler missing dependency: Sync must be set")
	}
	if s.Interval <= 0 {
		return errors.New("ResyncScheduler: Interval must be positive")
	}
	if s.LockKey == "" {
		s.LockKey = DefaultResyncLockKey
	}
	if s.LockTTL <= 0 {
		// held for the whole run; released early on completion
		s.LockTTL = s.Interval
	}
	if s.Logger == nil {
		s.Logger = logrus.New()
	}
	if s.newTicker == nil {
		s.newTicker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}

	ticks, stop := s.newTicker(s.Interval)
	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				s.tick(ctx)
			}
		}
	}()

	s.Logger.WithField("interval", s.Interval.String()).Info("patreon resync scheduler started")
	return nil
}

// tick runs one scheduled batch. It reports whether the batch ran.
func (s *ResyncScheduler) tick(ctx context.Context) bool {
	log := s.Logger.WithField("lock", s.LockKey)

	if s.Locks != nil {
		token, ok, err := s.Locks.Acquire(ctx, s.LockKey, s.LockTTL)
		if err != nil {
			log.WithError(err).Warn("resync lock unavailable; skipping tick")
			return false
		}
		if !ok {
			log.Debug("resync already running elsewhere")
			return false
		}
		defer func() {
			if err := s.Locks.Unlock(context.WithoutCancel(ctx), s.LockKey, token); err != nil {
				log.WithError(err).Warn("resync lock release failed")
			}
		}()
	}

	report, err := s.Sync.SyncBatch(ctx, services.BatchRequest{Trigger: services.TriggerScheduler})
	if err != nil {
		log.WithError(err).Error("scheduled resync failed")
		return true
	}
	ok, skipped, failed := report.Counts()
	log.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"processed": report.Processed,
		"ok":        ok,
		"skipped":   skipped,
		"errors":    failed,
	}).Info("scheduled resync finished")
	return true
}
