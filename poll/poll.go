// Package poll drives the slot discovery pipeline: it queries calendar
// windows, decides which slots are new, and keeps the seen-set current.
package poll

import (
	"context"
	"log/slog"
	"time"

	"termini-notifier/metrics"
	"termini-notifier/params"
	"termini-notifier/pkg/slot"
	"termini-notifier/scraper"
)

// Default window policy.
const (
	DefaultMaxWindows = 20
	DefaultMinEvents  = 10
)

const dateLayout = "2006-01-02"

// Source fetches and extracts one calendar window.
type Source interface {
	Window(ctx context.Context, filters params.Descriptor) ([]scraper.RawEvent, error)
}

// Result is the outcome of one multi-window poll.
type Result struct {
	Events  []slot.Event
	Windows int // windows queried
	Failed  int // windows that could not be fetched or parsed
}

// Poller walks week-sized windows forward from the current week.
type Poller struct {
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	loc     *time.Location
}

// NewPoller creates a poller. Weeks are computed in loc; m may be nil.
func NewPoller(source Source, loc *time.Location, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if loc == nil {
		loc = time.Local
	}
	return &Poller{
		source:  source,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		loc:     loc,
	}
}

// Poll queries up to maxWindows consecutive weeks, starting with the week
// containing today, and stops early once at least minEvents slots were found.
// Each window overwrites the calendar_date filter with that week's Monday.
// A failed window contributes nothing but still uses up one window.
// The returned error is non-nil only if ctx was cancelled.
func (p *Poller) Poll(ctx context.Context, filters params.Descriptor, maxWindows, minEvents int) (*Result, error) {
	res := &Result{}
	anchor := monday(p.now().In(p.loc))

	for week := 0; week < maxWindows; week++ {
		if err := ctx.Err(); err != nil {
			p.logger.Info("Context cancelled, stopping poll", "error", err, "windows", res.Windows)
			return res, err
		}

		calendarDate := anchor.AddDate(0, 0, 7*week).Format(dateLayout)
		res.Windows++

		raw, err := p.source.Window(ctx, filters.With(params.CalendarDate, params.String(calendarDate)))
		p.metrics.Window(err == nil)
		if err != nil {
			res.Failed++
			p.logger.Warn("Window fetch failed, skipping",
				"window", week+1,
				"calendar_date", calendarDate,
				"error", err)
			continue
		}

		events := p.normalize(raw)
		res.Events = append(res.Events, events...)

		p.logger.Info("Window polled",
			"window", week+1,
			"calendar_date", calendarDate,
			"found", len(events),
			"total", len(res.Events))

		if len(res.Events) >= minEvents {
			p.logger.Info("Enough slots found, stopping search", "total", len(res.Events), "windows", res.Windows)
			break
		}
	}

	return res, nil
}

func (p *Poller) normalize(raw []scraper.RawEvent) []slot.Event {
	events := make([]slot.Event, 0, len(raw))
	for _, r := range raw {
		if r.TimeLabel == "" {
			continue
		}
		date, err := slot.NormalizeDate(r.DateLabel)
		if err != nil {
			p.logger.Debug("Dropping slot with unparsable date", "date_label", r.DateLabel, "time", r.TimeLabel, "error", err)
			continue
		}
		events = append(events, slot.Event{Date: date, Time: r.TimeLabel})
	}
	return events
}

// monday returns midnight of the Monday of t's week, in t's location.
func monday(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}
