package retention

import (
	"context"
	"errors"
	"log"
	"time"

	"pumpwatch/internal/observability/metrics"
)

// Pruner deletes old inactive incidents.
type Pruner interface {
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock provides time for retention runs.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Janitor periodically deletes resolved incidents older than the
// configured age. Open incidents are never touched.
type Janitor struct {
	store    Pruner
	maxAge   time.Duration
	interval time.Duration
	clock    Clock
	logger   *log.Logger
}

// Option configures the janitor.
type Option func(*Janitor)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(j *Janitor) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// WithInterval overrides the default run interval.
func WithInterval(interval time.Duration) Option {
	return func(j *Janitor) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

// NewJanitor constructs a retention janitor.
func NewJanitor(store Pruner, maxAge time.Duration, logger *log.Logger, opts ...Option) (*Janitor, error) {
	if store == nil {
		return nil, errors.New("retention: nil store")
	}
	if maxAge <= 0 {
		return nil, errors.New("retention: max age must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	j := &Janitor{
		store:    store,
		maxAge:   maxAge,
		interval: time.Hour,
		clock:    systemClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Start runs the janitor loop until the context is canceled.
func (j *Janitor) Start(ctx context.Context) {
	if j == nil {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Printf("retention: prune error: %v", err)
			}
		}
	}
}

// RunOnce deletes inactive incidents past the retention age and returns
// how many were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	if j == nil || j.store == nil {
		return 0, errors.New("retention: nil janitor")
	}
	cutoff := j.clock.Now().UTC().Add(-j.maxAge)
	removed, err := j.store.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		j.logger.Printf("retention: removed %d inactive incidents older than %s", removed, cutoff.Format(time.RFC3339))
		metrics.AddRetentionDeleted(removed)
	}
	return removed, nil
}
