package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	devices "pumpwatch/internal/devices/domain"
	incidents "pumpwatch/internal/incidents/domain"
	"pumpwatch/internal/observability/metrics"
)

// Submitter feeds condition reports into the incident tracker.
type Submitter interface {
	Submit(ctx context.Context, report incidents.Report) (incidents.Outcome, error)
}

// DeviceLister loads registered devices.
type DeviceLister interface {
	List(ctx context.Context) ([]devices.Device, error)
}

// LastSeenSource reports when each device last sent telemetry.
type LastSeenSource interface {
	LastSeen(ctx context.Context) (map[string]time.Time, error)
}

// Clock provides time for staleness checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Checker detects devices that stopped reporting and feeds synthetic
// missing-data reports through the incident tracker.
type Checker struct {
	cfg      Config
	tracker  Submitter
	devices  DeviceLister
	readings LastSeenSource
	clock    Clock
	logger   *log.Logger

	mu sync.Mutex
	// staleSince records when each currently stale device crossed its
	// threshold; absent means healthy.
	staleSince map[string]time.Time
}

// CheckerOption configures the checker.
type CheckerOption func(*Checker)

// WithClock overrides the default clock.
func WithClock(clock Clock) CheckerOption {
	return func(c *Checker) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewChecker constructs a staleness checker.
func NewChecker(cfg Config, tracker Submitter, deviceLister DeviceLister, readings LastSeenSource, logger *log.Logger, opts ...CheckerOption) (*Checker, error) {
	if tracker == nil {
		return nil, errors.New("monitor: nil tracker")
	}
	if deviceLister == nil {
		return nil, errors.New("monitor: nil device lister")
	}
	if readings == nil {
		return nil, errors.New("monitor: nil readings source")
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Checker{
		cfg:        cfg,
		tracker:    tracker,
		devices:    deviceLister,
		readings:   readings,
		clock:      systemClock{},
		logger:     logger,
		staleSince: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start runs the check loop until the context is canceled.
func (c *Checker) Start(ctx context.Context) {
	if c == nil {
		return
	}
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckOnce(ctx); err != nil {
				c.logger.Printf("monitor: check error: %v", err)
			}
		}
	}
}

// CheckOnce runs a single staleness pass over all monitored devices.
func (c *Checker) CheckOnce(ctx context.Context) error {
	if c == nil {
		return errors.New("monitor: nil checker")
	}
	registered, err := c.devices.List(ctx)
	if err != nil {
		metrics.IncStalenessCheck(metrics.ResultError)
		return fmt.Errorf("monitor: list devices: %w", err)
	}
	seen, err := c.readings.LastSeen(ctx)
	if err != nil {
		metrics.IncStalenessCheck(metrics.ResultError)
		return fmt.Errorf("monitor: last seen: %w", err)
	}

	now := c.clock.Now().UTC()
	for _, device := range registered {
		if !device.Enabled || !c.cfg.Monitored(device.ID) {
			continue
		}
		lastSeen := seen[device.ID]
		if lastSeen.IsZero() && !device.LastSeenAt.IsZero() {
			lastSeen = device.LastSeenAt
		}
		if lastSeen.IsZero() {
			// Never heard from; nothing to compare against yet.
			continue
		}
		threshold := c.cfg.ThresholdFor(device.ID)
		isStale := now.Sub(lastSeen) > threshold
		if err := c.transition(ctx, device, lastSeen, now, threshold, isStale); err != nil {
			c.logger.Printf("monitor: device %s: %v", device.ID, err)
		}
	}
	metrics.IncStalenessCheck(metrics.ResultSuccess)
	return nil
}

func (c *Checker) transition(ctx context.Context, device devices.Device, lastSeen, now time.Time, threshold time.Duration, isStale bool) error {
	c.mu.Lock()
	staleSince, wasStale := c.staleSince[device.ID]
	c.mu.Unlock()
	if isStale == wasStale {
		return nil
	}

	location := device.Location
	if location == "" {
		location = "unknown"
	}
	report := incidents.Report{
		Device:        device.ID,
		ConditionType: incidents.ConditionMissingData,
		Timestamp:     now,
		Value:         now.Sub(lastSeen).Seconds(),
		Threshold:     threshold.Seconds(),
		Active:        isStale,
		Location:      location,
	}
	if isStale {
		staleSince = lastSeen.Add(threshold)
		report.StartTime = staleSince
		report.Description = fmt.Sprintf("no telemetry received since %s", lastSeen.UTC().Format(time.RFC3339))
	} else {
		report.Description = "telemetry resumed"
		report.DurationMillis = now.Sub(staleSince).Milliseconds()
		if report.DurationMillis < 0 {
			report.DurationMillis = 0
		}
	}

	if _, err := c.tracker.Submit(ctx, report); err != nil {
		return err
	}
	c.mu.Lock()
	if isStale {
		c.staleSince[device.ID] = staleSince
	} else {
		delete(c.staleSince, device.ID)
	}
	c.mu.Unlock()
	return nil
}
