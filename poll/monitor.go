package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"termini-notifier/lock"
	"termini-notifier/metrics"
	"termini-notifier/params"
	"termini-notifier/pkg/slot"
)

var (
	// ErrCycleInProgress is returned when another cycle holds the seen-set lock.
	ErrCycleInProgress = errors.New("another cycle is in progress")
	// ErrNoWindows is returned when every queried window failed. The seen-set
	// is left untouched in that case.
	ErrNoWindows = errors.New("no calendar window could be fetched")
)

// Store interface for seen-set persistence.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Replace(ctx context.Context, keys []string) error
}

// Composer interface for rendering notification text.
type Composer interface {
	Compose(events []slot.Event, now time.Time) (string, error)
}

// Broadcaster interface for delivering notifications.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
}

// Config holds monitor dependencies and policy.
type Config struct {
	Poller     *Poller
	Store      Store
	Lock       lock.Lock
	Composer   Composer
	Notifier   Broadcaster
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Filters    params.Descriptor
	MaxWindows int
	MinEvents  int
	Location   *time.Location
}

// Monitor runs check and invalidation cycles.
type Monitor struct {
	poller     *Poller
	store      Store
	lock       lock.Lock
	composer   Composer
	notifier   Broadcaster
	logger     *slog.Logger
	metrics    *metrics.Metrics
	filters    params.Descriptor
	maxWindows int
	minEvents  int
	loc        *time.Location
	now        func() time.Time
}

// New creates a new monitor. Unset policy values take the defaults.
func New(cfg *Config) *Monitor {
	m := &Monitor{
		poller:     cfg.Poller,
		store:      cfg.Store,
		lock:       cfg.Lock,
		composer:   cfg.Composer,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		filters:    cfg.Filters,
		maxWindows: cfg.MaxWindows,
		minEvents:  cfg.MinEvents,
		loc:        cfg.Location,
		now:        time.Now,
	}
	if m.maxWindows <= 0 {
		m.maxWindows = DefaultMaxWindows
	}
	if m.minEvents <= 0 {
		m.minEvents = DefaultMinEvents
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.lock == nil {
		m.lock = &lock.Local{}
	}
	return m
}

// Check polls the source, notifies about novel slots and replaces the seen-set
// with everything observed in this cycle.
func (m *Monitor) Check(ctx context.Context) error {
	defer m.metrics.Cycle("check", time.Now())

	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	seen, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load seen-set: %w", err)
	}

	m.logger.Info("Checking for new slots", "seen", len(seen), "max_windows", m.maxWindows, "min_events", m.minEvents)

	res, err := m.poller.Poll(ctx, m.filters, m.maxWindows, m.minEvents)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	// An unreachable source keeps the old seen-set instead of replacing it with
	// an empty one, which would re-notify every slot on recovery.
	if res.Windows > 0 && res.Failed == res.Windows {
		return ErrNoWindows
	}
	m.metrics.Observed(len(res.Events))

	novel := Novel(res.Events, seen)

	keys := slot.Keys(res.Events)
	if err := m.store.Replace(ctx, keys); err != nil {
		return fmt.Errorf("replace seen-set: %w", err)
	}
	m.metrics.SeenSet(len(keys))

	if len(novel) == 0 {
		m.logger.Info("No new slots found", "observed", len(res.Events), "windows", res.Windows, "failed_windows", res.Failed)
		return nil
	}

	m.logger.Info("New slots detected",
		"count", len(novel),
		"earliest", novel[0].Key(),
		"observed", len(res.Events))
	m.metrics.Novel(len(novel))

	return m.send(ctx, novel)
}

// Invalidate drops seen-set entries whose date is today or earlier, so a
// passed slot cannot suppress a later re-appearance.
func (m *Monitor) Invalidate(ctx context.Context) error {
	defer m.metrics.Cycle("invalidate", time.Now())

	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	keys, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load seen-set: %w", err)
	}

	today := m.now().In(m.loc).Format(dateLayout)
	kept := Prune(keys, today)

	if err := m.store.Replace(ctx, kept); err != nil {
		return fmt.Errorf("replace seen-set: %w", err)
	}
	m.metrics.SeenSet(len(kept))

	m.logger.Info("Seen-set invalidated", "today", today, "kept", len(kept), "removed", len(keys)-len(kept))
	return nil
}

// TestMessage polls and sends the currently listed slots without consulting
// or updating the seen-set.
func (m *Monitor) TestMessage(ctx context.Context) error {
	res, err := m.poller.Poll(ctx, m.filters, m.maxWindows, m.minEvents)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if len(res.Events) == 0 {
		m.logger.Info("No slots listed, nothing to send", "windows", res.Windows, "failed_windows", res.Failed)
		return nil
	}
	return m.send(ctx, res.Events)
}

func (m *Monitor) send(ctx context.Context, events []slot.Event) error {
	text, err := m.composer.Compose(events, m.now().In(m.loc))
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	if err := m.notifier.Broadcast(ctx, text); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (m *Monitor) acquire(ctx context.Context) (func(), error) {
	ok, err := m.lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		m.logger.Warn("Skipping cycle, another one is still running")
		return nil, ErrCycleInProgress
	}
	return func() {
		if err := m.lock.Release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("Failed to release cycle lock", "error", err)
		}
	}, nil
}
