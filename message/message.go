// Package message renders notification text for newly opened slots.
package message

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"termini-notifier/params"
	"termini-notifier/pkg/slot"
)

// Header is the first line of every notification.
const Header = "Novi termini za glavno vožnjo so na voljo"

// ErrNoEvents is returned when Compose is called without events.
var ErrNoEvents = errors.New("no events to compose")

// Composer builds notification bodies with a link back to the public calendar.
type Composer struct {
	clientURL string
	filters   params.Descriptor
}

// New creates a composer. filters is the full descriptor used for polling;
// only its static part ends up in the link.
func New(clientURL string, filters params.Descriptor) *Composer {
	return &Composer{clientURL: clientURL, filters: filters}
}

// Compose renders events as of now. The year is left out for dates in now's year.
func (c *Composer) Compose(events []slot.Event, now time.Time) (string, error) {
	if len(events) == 0 {
		return "", ErrNoEvents
	}

	link, err := c.Link()
	if err != nil {
		return "", err
	}

	currentYear := strconv.Itoa(now.Year())

	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("\n\n")
	for i, e := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("- %s ob %s", formatDate(e.Date, currentYear), e.Time))
	}
	b.WriteString("\n\nPoglej si več: ")
	b.WriteString(link)

	return b.String(), nil
}

// Link returns the public calendar URL preselecting the configured search.
func (c *Composer) Link() (string, error) {
	blob, err := params.Encode(c.filters.Static())
	if err != nil {
		return "", fmt.Errorf("encode link parameters: %w", err)
	}
	return c.clientURL + "?lang=si#" + blob, nil
}

// formatDate turns YYYY-MM-DD into "DD. MM. YYYY", or "DD. MM." in the current year.
func formatDate(date, currentYear string) string {
	parts := strings.SplitN(date, "-", 3)
	if len(parts) != 3 {
		return date
	}
	year, month, day := parts[0], parts[1], parts[2]
	if year == currentYear {
		return day + ". " + month + "."
	}
	return day + ". " + month + ". " + year
}
