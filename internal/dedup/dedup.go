// Package dedup flags submitted events that look like existing listings.
package dedup

import (
	"strings"

	"github.com/sabs90/halaqas/internal/model"
)

// Candidate is the part of a submission used for matching.
type Candidate struct {
	Title       string      `json:"title"`
	MosqueID    string      `json:"mosque_id,omitempty"`
	VenueName   string      `json:"venue_name,omitempty"`
	IsRecurring bool        `json:"is_recurring"`
	FixedDate   *model.Date `json:"fixed_date,omitempty"`
}

// Matches reports whether existing could be the same event as c.
//
// Titles match case-insensitively when the existing title contains the
// candidate's. The venue must agree: the mosque when c names one, else the
// venue name. Only a non-recurring candidate with a date also has to agree
// on that date.
func Matches(c Candidate, existing model.Event) bool {
	title := strings.TrimSpace(c.Title)
	if title == "" || !strings.Contains(strings.ToLower(existing.Title), strings.ToLower(title)) {
		return false
	}

	switch {
	case c.MosqueID != "":
		if existing.MosqueID != c.MosqueID {
			return false
		}
	case strings.TrimSpace(c.VenueName) != "":
		if !strings.EqualFold(strings.TrimSpace(existing.VenueName), strings.TrimSpace(c.VenueName)) {
			return false
		}
	default:
		return false
	}

	if !c.IsRecurring && c.FixedDate != nil {
		return existing.FixedDate != nil && *existing.FixedDate == *c.FixedDate
	}
	return true
}

// FindDuplicates returns the active events matching c, in input order.
func FindDuplicates(c Candidate, events []model.Event) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.Status != model.StatusActive && ev.Status != "" {
			continue
		}
		if Matches(c, ev) {
			out = append(out, ev)
		}
	}
	return out
}
