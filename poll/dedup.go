package poll

import (
	"time"

	"termini-notifier/pkg/slot"
)

// Novel returns the events worth notifying about, given the seen-set of the
// previous cycle. An event qualifies when its key is not in seen and, if seen
// holds any dated key, its date is strictly before the earliest of them.
// Later slots are still recorded by the caller but are not urgent enough to push.
// Each key is returned at most once, in input order.
func Novel(events []slot.Event, seen []string) []slot.Event {
	known := make(map[string]struct{}, len(seen))
	earliest := ""
	for _, key := range seen {
		known[key] = struct{}{}
		if date, _, ok := slot.SplitKey(key); ok && (earliest == "" || date < earliest) {
			earliest = date
		}
	}

	var novel []slot.Event
	emitted := make(map[string]struct{})
	for _, e := range events {
		key := e.Key()
		if _, ok := known[key]; ok {
			continue
		}
		if _, ok := emitted[key]; ok {
			continue
		}
		if earliest != "" && e.Date >= earliest {
			continue
		}
		emitted[key] = struct{}{}
		novel = append(novel, e)
	}
	return novel
}

// Prune keeps the keys dated strictly after today (YYYY-MM-DD).
// Keys with a missing or unparsable date are dropped.
func Prune(keys []string, today string) []string {
	kept := make([]string, 0, len(keys))
	for _, key := range keys {
		date, _, ok := slot.SplitKey(key)
		if !ok {
			continue
		}
		if _, err := time.Parse(dateLayout, date); err != nil {
			continue
		}
		if date > today {
			kept = append(kept, key)
		}
	}
	return kept
}
