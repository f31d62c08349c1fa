package authority

import (
	"fmt"
	"strings"
	"time"

	"freight_server/core/domain"
)

// isoDate is the stored form of every date field.
const isoDate = "2006-01-02"

// Slash and dot dates are read day-first.
var dateLayouts = []string{
	isoDate,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
}

// TemporalGuard rejects extracted dates outside the data collection window.
type TemporalGuard struct {
	start     time.Time
	maxFuture time.Duration
}

// NewTemporalGuard builds a guard from rule book bounds.
func NewTemporalGuard(bounds domain.TemporalBounds) (*TemporalGuard, error) {
	start, err := bounds.Start()
	if err != nil {
		return nil, fmt.Errorf("parse data collection start: %w", err)
	}
	return &TemporalGuard{
		start:     start,
		maxFuture: time.Duration(bounds.MaxFutureDays) * 24 * time.Hour,
	}, nil
}

// Check normalizes a field value. Date fields come back in ISO form or with
// ErrMalformedDate / ErrHallucinatedDate. Other fields pass through trimmed.
func (g *TemporalGuard) Check(field, value string, documentTime time.Time) (string, error) {
	value = strings.Join(strings.Fields(value), " ")
	if !domain.IsDateField(field) || value == "" {
		return value, nil
	}

	d, ok := parseDate(value)
	if !ok {
		return "", fmt.Errorf("%w: %s=%q", domain.ErrMalformedDate, field, value)
	}

	if !g.start.IsZero() && d.Before(g.start) {
		return "", fmt.Errorf("%w: %s=%s before %s", domain.ErrHallucinatedDate, field, d.Format(isoDate), g.start.Format(isoDate))
	}
	if g.maxFuture > 0 {
		ref := documentTime
		if ref.IsZero() {
			ref = time.Now()
		}
		if d.After(ref.Add(g.maxFuture)) {
			return "", fmt.Errorf("%w: %s=%s too far after %s", domain.ErrHallucinatedDate, field, d.Format(isoDate), ref.Format(isoDate))
		}
	}

	return d.Format(isoDate), nil
}

func parseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
