// Package slot contains the core domain types for the test-slot notification service.
package slot

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// KeySeparator joins the date and time parts of an event key.
const KeySeparator = "--"

// ErrInvalidDateFormat is returned when a date label does not match "D. M. YYYY".
var ErrInvalidDateFormat = errors.New("invalid date format")

var dateLabelRegex = regexp.MustCompile(`^(\d{1,2})\. (\d{1,2})\. (\d{4})$`)

// Event is a single appointment slot observation.
// Two events are equal iff Date and Time match exactly.
type Event struct {
	Date string // Canonical YYYY-MM-DD
	Time string // Raw time label as shown by the source, e.g. "09:30"
}

// Key returns the persisted form of the event, "date--time".
func (e Event) Key() string {
	return e.Date + KeySeparator + e.Time
}

func (e Event) String() string {
	return e.Key()
}

// Keys returns the keys of events in order.
func Keys(events []Event) []string {
	keys := make([]string, 0, len(events))
	for _, e := range events {
		keys = append(keys, e.Key())
	}
	return keys
}

// SplitKey splits a persisted key into its date and time parts.
// ok is false when the key has no date component.
func SplitKey(key string) (date, clock string, ok bool) {
	date, clock, _ = strings.Cut(key, KeySeparator)
	if date == "" {
		return "", "", false
	}
	return date, clock, true
}

// NormalizeDate converts a "D. M. YYYY" label into a canonical YYYY-MM-DD date.
// Single-digit day and month are zero-padded; surrounding whitespace is ignored.
func NormalizeDate(label string) (string, error) {
	m := dateLabelRegex.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDateFormat, label)
	}
	return m[3] + "-" + pad2(m[2]) + "-" + pad2(m[1]), nil
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
