package message

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"termini-notifier/params"
	"termini-notifier/pkg/slot"
)

func testFilters() params.Descriptor {
	return params.Descriptor{
		"type":            params.List("1"),
		"cat":             params.List("6"),
		"calendar_date":   params.List("2025-10-28"),
		"offset":          params.List("0"),
		"is_ajax":         params.List("1"),
		"sentinel_type":   params.List("ok"),
		"sentinel_status": params.List("ok"),
	}
}

func TestCompose(t *testing.T) {
	c := New("https://example.com/prosti-termini.html", testFilters())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	events := []slot.Event{
		{Date: "2025-06-05", Time: "10:00"},
		{Date: "2026-01-07", Time: "08:30"},
	}

	body, err := c.Compose(events, now)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	blob := base64.StdEncoding.EncodeToString([]byte(`{"filters":{"cat":["6"],"type":["1"]}}`))
	want := "Novi termini za glavno vožnjo so na voljo\n\n" +
		"- 05. 06. ob 10:00\n" +
		"- 07. 01. 2026 ob 08:30\n\n" +
		"Poglej si več: https://example.com/prosti-termini.html?lang=si#" + blob

	if body != want {
		t.Errorf("Compose() =\n%s\nwant\n%s", body, want)
	}
}

func TestComposeEmpty(t *testing.T) {
	c := New("https://example.com", testFilters())
	if _, err := c.Compose(nil, time.Now()); !errors.Is(err, ErrNoEvents) {
		t.Errorf("Compose(nil) error = %v, want ErrNoEvents", err)
	}
}

func TestLinkExcludesDynamicFilters(t *testing.T) {
	c := New("https://example.com/map.html", testFilters())
	link, err := c.Link()
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}

	_, blob, ok := strings.Cut(link, "#")
	if !ok {
		t.Fatalf("Link() = %q, missing fragment", link)
	}
	d, err := params.Decode(blob)
	if err != nil {
		t.Fatalf("Decode(fragment) error: %v", err)
	}
	for _, name := range []string{"calendar_date", "offset", "is_ajax", "sentinel_type", "sentinel_status"} {
		if _, ok := d[name]; ok {
			t.Errorf("link descriptor still contains %q", name)
		}
	}
	if len(d) != 2 {
		t.Errorf("link descriptor = %v, want cat and type only", d)
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		date string
		year string
		want string
	}{
		{"2025-03-05", "2025", "05. 03."},
		{"2025-03-05", "2024", "05. 03. 2025"},
		{"garbage", "2025", "garbage"},
	}
	for _, tt := range tests {
		if got := formatDate(tt.date, tt.year); got != tt.want {
			t.Errorf("formatDate(%q, %q) = %q, want %q", tt.date, tt.year, got, tt.want)
		}
	}
}
