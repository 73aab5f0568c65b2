// Package feeds ties the catalog to the generator: it picks a mosque's
// events for today and renders them.
package feeds

import (
	"context"
	"time"

	"github.com/sabs90/halaqas/internal/catalog"
	"github.com/sabs90/halaqas/internal/ics"
	"github.com/sabs90/halaqas/internal/model"
)

type Service struct {
	Store     *catalog.Store
	Generator *ics.Generator
	Location  *time.Location

	// CalendarSuffix is appended to the mosque name for X-WR-CALNAME.
	CalendarSuffix string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Feed is a rendered mosque calendar.
type Feed struct {
	Mosque      model.Mosque
	Body        string
	Stats       ics.Stats
	GeneratedAt time.Time
}

// Today is the current civil date in the deployment zone.
func (s *Service) Today() model.Date {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return model.DateOf(now(), s.Location)
}

// MosqueFeed renders the feed for one mosque. catalog.ErrNotFound is
// returned for unknown IDs.
func (s *Service) MosqueFeed(ctx context.Context, mosqueID string) (Feed, error) {
	cat := s.Store.Current()
	m, err := cat.Mosque(mosqueID)
	if err != nil {
		return Feed{}, err
	}

	today := s.Today()
	body, st := s.Generator.GenerateFeed(ctx, cat.FeedEvents(m.ID, today), m.Name+s.CalendarSuffix, today)
	return Feed{Mosque: m, Body: body, Stats: st, GeneratedAt: time.Now()}, nil
}

// EventFeed renders a single-event download.
func (s *Service) EventFeed(ctx context.Context, eventID string) (model.Event, string, error) {
	ev, err := s.Store.Current().Event(eventID)
	if err != nil {
		return model.Event{}, "", err
	}
	body, err := s.Generator.GenerateSingleEventFeed(ctx, ev, s.Today())
	return ev, body, err
}
