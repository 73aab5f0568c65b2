// Package ics writes RFC 5545 calendar feeds for directory events and reads
// them back for inspection.
package ics

import (
	"context"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/metrics"
	"github.com/sabs90/halaqas/internal/model"
	"github.com/sabs90/halaqas/internal/prayer"
	"github.com/sabs90/halaqas/internal/recurrence"
	"github.com/sabs90/halaqas/internal/resolve"
)

const (
	DefaultProdID = "-//Halaqas//EN"
	DefaultDomain = "halaqas.com"

	localLayout = "20060102T150405"
	utcLayout   = "20060102T150405Z"
)

// Generator renders feeds. It holds no per-feed state and may be shared.
type Generator struct {
	Resolver *resolve.Resolver
	Zone     Zone

	ProdID  string
	SiteURL string // event URLs are <SiteURL>/events/<id>; omitted when empty
	Footer  string // attribution appended to every DESCRIPTION
	Domain  string // UID suffix

	Metrics *metrics.Metrics
}

// Stats describes a generated feed.
type Stats struct {
	Emitted int
	Skipped []string // IDs of events left out
}

// GenerateFeed renders a multi-event feed. Events that cannot be resolved
// are left out; the rest of the feed is still produced.
func (g *Generator) GenerateFeed(ctx context.Context, events []model.Event, calendarName string, ref model.Date) (string, Stats) {
	started := time.Now()
	r := g.feedResolver()

	cal := g.newCalendar(calendarName)

	var st Stats
	for _, ev := range events {
		if err := g.addEvent(ctx, cal, r, ev, ref); err != nil {
			st.Skipped = append(st.Skipped, ev.ID)
			g.skipped(ev, err)
			continue
		}
		st.Emitted++
	}

	body := serialize(cal)
	g.Metrics.FeedGenerated("mosque", st.Emitted, time.Since(started))
	appLog.Debug("ics feed generated", "calendar", calendarName, "emitted", st.Emitted, "skipped", len(st.Skipped))
	return body, st
}

// GenerateSingleEventFeed renders a download for one event. It returns
// resolve.ErrInsufficientTimeData (wrapped) when the event has no usable time.
func (g *Generator) GenerateSingleEventFeed(ctx context.Context, ev model.Event, ref model.Date) (string, error) {
	started := time.Now()

	cal := g.newCalendar("")
	if err := g.addEvent(ctx, cal, g.feedResolver(), ev, ref); err != nil {
		g.skipped(ev, err)
		return "", err
	}

	body := serialize(cal)
	g.Metrics.FeedGenerated("event", 1, time.Since(started))
	return body, nil
}

// serialization writes CRLF content lines folded at 75 octets.
var serialization = &ical.SerializationConfiguration{
	MaxLength:         75,
	PropertyMaxLength: 75,
	NewLine:           string(ical.WithNewLineWindows),
}

func serialize(cal *ical.Calendar) string {
	var b strings.Builder
	// Writes to a strings.Builder do not fail.
	_ = cal.SerializeTo(&b, serialization)
	return b.String()
}

// feedResolver gives each feed its own memoized view of the prayer source.
func (g *Generator) feedResolver() *resolve.Resolver {
	r := g.Resolver
	if r.Prayers == nil {
		return r
	}
	src := r.Prayers
	counted := prayer.SourceFunc(func(ctx context.Context, d model.Date) (prayer.Times, error) {
		t, err := src.Times(ctx, d)
		g.Metrics.PrayerLookup(err == nil)
		return t, err
	})
	return r.WithPrayers(prayer.NewMemo(counted))
}

func (g *Generator) skipped(ev model.Event, err error) {
	reason := "error"
	if errors.Is(err, resolve.ErrInsufficientTimeData) {
		reason = "insufficient_time_data"
	}
	g.Metrics.EventSkipped(reason)
	appLog.Warn("ics: event left out of feed", "id", ev.ID, "title", ev.Title, "reason", err.Error())
}

// newCalendar starts a VCALENDAR carrying the zone definition.
func (g *Generator) newCalendar(calendarName string) *ical.Calendar {
	prodID := g.ProdID
	if prodID == "" {
		prodID = DefaultProdID
	}

	cal := ical.NewCalendar()
	cal.SetProductId(prodID)
	if calendarName != "" {
		cal.SetXWRCalName(plainText(calendarName))
		cal.SetXWRTimezone(g.Zone.TZID)
	}
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	cal.AddVTimezone(g.Zone.component())
	return cal
}

// addEvent resolves ev and appends its VEVENT. Nothing is added on error.
func (g *Generator) addEvent(ctx context.Context, cal *ical.Calendar, r *resolve.Resolver, ev model.Event, ref model.Date) error {
	occ, err := r.Resolve(ctx, ev.EventTimeSpec, ref)
	if err != nil {
		return err
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}

	ve := ical.NewEvent(g.uid(ev.ID))
	ve.SetDtStampTime(stamp(ev, occ, loc))

	if occ.AllDay {
		date := ical.WithValue(string(ical.ValueDataTypeDate))
		ve.SetProperty(ical.ComponentPropertyDtStart, occ.Date.Compact(), date)
		ve.SetProperty(ical.ComponentPropertyDtEnd, occ.EndDate().Compact(), date)
	} else {
		tzid := ical.WithTZID(g.Zone.TZID)
		ve.SetProperty(ical.ComponentPropertyDtStart, occ.Start.In(loc).Format(localLayout), tzid)
		ve.SetProperty(ical.ComponentPropertyDtEnd, occ.End.In(loc).Format(localLayout), tzid)
	}

	ve.SetSummary(plainText(ev.Title))
	if where := locationLine(ev.EventTimeSpec); where != "" {
		ve.SetLocation(plainText(where))
	}
	if desc := g.description(ev.EventTimeSpec); desc != "" {
		ve.SetDescription(plainText(desc))
	}
	if g.SiteURL != "" && ev.ID != "" {
		ve.SetURL(strings.TrimRight(g.SiteURL, "/") + "/events/" + ev.ID)
	}

	if ev.Recurs() {
		if rule, ok := recurrence.Rule(ev.RecurrencePattern, ev.RecurrenceEndDate); ok {
			ve.AddRrule(rule)
		} else {
			appLog.Debug("ics: unknown recurrence pattern, no RRULE", "id", ev.ID, "pattern", string(ev.RecurrencePattern))
		}
	}

	cal.AddVEvent(ve)
	return nil
}

// stamp is the DTSTAMP of an event: its last edit, or midnight UTC of the
// first occurrence's date for events that were never edited.
func stamp(ev model.Event, occ model.Occurrence, loc *time.Location) time.Time {
	if !ev.UpdatedAt.IsZero() {
		return ev.UpdatedAt
	}
	d := occ.Date
	if !occ.AllDay {
		d = model.DateOf(occ.Start, loc)
	}
	return d.Midnight(time.UTC)
}

func (g *Generator) uid(id string) string {
	domain := g.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	return id + "@" + domain
}

func locationLine(s model.EventTimeSpec) string {
	name := strings.TrimSpace(s.LocationName)
	if name == "" {
		return ""
	}
	if addr := strings.TrimSpace(s.LocationAddress); addr != "" {
		return name + ", " + addr
	}
	return name
}

func (g *Generator) description(s model.EventTimeSpec) string {
	parts := make([]string, 0, 3)
	if sp := strings.TrimSpace(s.Speaker); sp != "" {
		parts = append(parts, "Speaker: "+sp)
	}
	if d := strings.TrimSpace(s.Description); d != "" {
		parts = append(parts, d)
	}
	if g.Footer != "" {
		parts = append(parts, g.Footer)
	}
	return strings.Join(parts, "\n\n")
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// plainText normalizes line breaks to LF. The library escapes TEXT values
// (backslash, semicolon, comma, newline) when serializing.
func plainText(s string) string {
	return lineBreaks.Replace(s)
}
