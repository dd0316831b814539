package duckdb

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetentionInterval is how often expired events are purged.
const DefaultRetentionInterval = time.Hour

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
	Logger   zerolog.Logger
	Clock    func() time.Time
}

type eventPurger interface {
	DeleteBefore(cutoff time.Time) (int64, error)
}

// RetentionCleaner periodically deletes events older than the configured age.
type RetentionCleaner struct {
	store    eventPurger
	maxAge   time.Duration
	interval time.Duration
	clock    func() time.Time
	logger   zerolog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetentionCleaner creates a retention cleaner that deletes expired events.
// Returns nil when MaxAge is zero or negative (retention disabled).
func NewRetentionCleaner(store eventPurger, cfg RetentionConfig) *RetentionCleaner {
	if cfg.MaxAge <= 0 {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetentionInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	rc := &RetentionCleaner{
		store:    store,
		maxAge:   cfg.MaxAge,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With().Str("component", "retention").Logger(),
		done:     make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := rc.clock().Add(-rc.maxAge)

	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		rc.logger.Error().Err(err).Msg("retention cleanup failed")
		return
	}
	if rows > 0 {
		rc.logger.Info().Int64("deleted", rows).Dur("max_age", rc.maxAge).Msg("expired events removed")
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	if rc == nil {
		return
	}
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
