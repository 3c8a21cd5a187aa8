package poll

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"termini-notifier/params"
	"termini-notifier/pkg/slot"
	"termini-notifier/scraper"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSource serves canned windows keyed by calendar_date.
type fakeSource struct {
	mu      sync.Mutex
	windows map[string][]scraper.RawEvent
	fail    map[string]error
	calls   []string
	filters []params.Descriptor
}

func (f *fakeSource) Window(_ context.Context, filters params.Descriptor) ([]scraper.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	date := filters[params.CalendarDate].Values[0]
	f.calls = append(f.calls, date)
	f.filters = append(f.filters, filters)
	if err, ok := f.fail[date]; ok {
		return nil, err
	}
	return f.windows[date], nil
}

func newTestPoller(src Source, now time.Time) *Poller {
	p := NewPoller(src, time.UTC, testLogger(), nil)
	p.now = func() time.Time { return now }
	return p
}

// Wednesday 2025-06-04; its week starts on Monday 2025-06-02.
var wednesday = time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)

func TestMonday(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"monday", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), "2025-06-02"},
		{"wednesday", wednesday, "2025-06-02"},
		{"sunday", time.Date(2025, 6, 8, 23, 59, 0, 0, time.UTC), "2025-06-02"},
		{"across month", time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC), "2025-09-29"},
		{"across year", time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), "2025-12-29"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := monday(tt.in).Format(dateLayout); got != tt.want {
				t.Errorf("monday(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestPollStopsEarly(t *testing.T) {
	src := &fakeSource{windows: map[string][]scraper.RawEvent{
		"2025-06-02": {
			{DateLabel: "5. 6. 2025", TimeLabel: "08:00"},
			{DateLabel: "5. 6. 2025", TimeLabel: "09:00"},
		},
		"2025-06-09": {{DateLabel: "10. 6. 2025", TimeLabel: "08:00"}},
	}}

	res, err := newTestPoller(src, wednesday).Poll(context.Background(), params.Descriptor{}, 20, 2)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if len(src.calls) != 1 {
		t.Errorf("source queried %d windows (%v), want 1", len(src.calls), src.calls)
	}
	if len(res.Events) != 2 {
		t.Errorf("Poll() returned %d events, want 2", len(res.Events))
	}
}

func TestPollWalksWeeksUntilBudget(t *testing.T) {
	src := &fakeSource{windows: map[string][]scraper.RawEvent{
		"2025-06-09": {{DateLabel: "10. 6. 2025", TimeLabel: "08:00"}},
		"2025-06-16": {{DateLabel: "17. 6. 2025", TimeLabel: "12:00"}},
	}}

	filters := params.Descriptor{"cat": params.List("6"), params.CalendarDate: params.List("2025-10-28")}
	res, err := newTestPoller(src, wednesday).Poll(context.Background(), filters, 4, 10)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}

	wantCalls := []string{"2025-06-02", "2025-06-09", "2025-06-16", "2025-06-23"}
	if len(src.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", src.calls, wantCalls)
	}
	for i := range wantCalls {
		if src.calls[i] != wantCalls[i] {
			t.Errorf("call %d calendar_date = %s, want %s", i, src.calls[i], wantCalls[i])
		}
		if src.filters[i]["cat"].Values[0] != "6" {
			t.Errorf("call %d lost static filters: %v", i, src.filters[i])
		}
	}

	want := []slot.Event{{Date: "2025-06-10", Time: "08:00"}, {Date: "2025-06-17", Time: "12:00"}}
	if len(res.Events) != 2 || res.Events[0] != want[0] || res.Events[1] != want[1] {
		t.Errorf("Poll() events = %v, want %v", res.Events, want)
	}
	if res.Windows != 4 || res.Failed != 0 {
		t.Errorf("Poll() windows=%d failed=%d, want 4 and 0", res.Windows, res.Failed)
	}
	if filters[params.CalendarDate].Values[0] != "2025-10-28" {
		t.Error("Poll() mutated the caller's descriptor")
	}
}

func TestPollFailedWindowUsesBudget(t *testing.T) {
	src := &fakeSource{
		windows: map[string][]scraper.RawEvent{
			"2025-06-09": {{DateLabel: "10. 6. 2025", TimeLabel: "08:00"}},
		},
		fail: map[string]error{"2025-06-02": &scraper.HTTPStatusError{StatusCode: 503}},
	}

	res, err := newTestPoller(src, wednesday).Poll(context.Background(), params.Descriptor{}, 2, 1)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if res.Windows != 2 || res.Failed != 1 {
		t.Errorf("windows=%d failed=%d, want 2 and 1", res.Windows, res.Failed)
	}
	if len(res.Events) != 1 {
		t.Errorf("events = %v, want one event from the second window", res.Events)
	}
}

func TestPollDropsInvalidEvents(t *testing.T) {
	src := &fakeSource{windows: map[string][]scraper.RawEvent{
		"2025-06-02": {
			{DateLabel: "5. 6. 2025", TimeLabel: "08:00"},
			{DateLabel: "jutri", TimeLabel: "09:00"},
			{DateLabel: "6. 6. 2025", TimeLabel: ""},
			{DateLabel: "7. 6. 2025", TimeLabel: "10:00"},
		},
	}}

	res, err := newTestPoller(src, wednesday).Poll(context.Background(), params.Descriptor{}, 1, 10)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	want := []slot.Event{{Date: "2025-06-05", Time: "08:00"}, {Date: "2025-06-07", Time: "10:00"}}
	if len(res.Events) != 2 || res.Events[0] != want[0] || res.Events[1] != want[1] {
		t.Errorf("Poll() events = %v, want %v", res.Events, want)
	}
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{}
	_, err := newTestPoller(src, wednesday).Poll(ctx, params.Descriptor{}, 5, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want context.Canceled", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("source queried after cancel: %v", src.calls)
	}
}

func TestPollUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Ljubljana")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	// Sunday 23:30 UTC is already Monday in Ljubljana.
	now := time.Date(2025, 6, 8, 23, 30, 0, 0, time.UTC)
	src := &fakeSource{}
	p := NewPoller(src, loc, testLogger(), nil)
	p.now = func() time.Time { return now }

	if _, err := p.Poll(context.Background(), params.Descriptor{}, 1, 1); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if len(src.calls) != 1 || src.calls[0] != "2025-06-09" {
		t.Errorf("calls = %v, want [2025-06-09]", src.calls)
	}
}
