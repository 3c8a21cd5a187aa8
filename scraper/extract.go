package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	rowSelector  = ".js_dogodekBox.js_dicDetailsBtnRow"
	dateSelector = ".calendarBox"
	timeSelector = `td[data-th="Ura"]`
)

// RawEvent is a row as shown on the page, before date normalization.
type RawEvent struct {
	DateLabel string // e.g. "5. 3. 2025"
	TimeLabel string // e.g. "09:30"
}

// Extract reads the slot rows of a calendar page.
// Only the first row of a day carries the date (rowspan); following rows
// inherit the most recent date seen in document order. Rows without a time,
// and rows with no date before them, are skipped.
func Extract(r io.Reader) ([]RawEvent, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var events []RawEvent
	var lastDate string
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		date := ""
		if label, ok := row.Find(dateSelector).First().Attr("aria-label"); ok {
			date = strings.TrimSpace(label)
		}
		if date != "" {
			lastDate = date
		} else {
			date = lastDate
		}

		clock := strings.TrimSpace(row.Find(timeSelector).First().Text())
		if clock == "" || date == "" {
			return
		}
		events = append(events, RawEvent{DateLabel: date, TimeLabel: clock})
	})

	return events, nil
}
