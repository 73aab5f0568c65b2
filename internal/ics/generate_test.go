package ics

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/model"
	"github.com/sabs90/halaqas/internal/prayer"
	"github.com/sabs90/halaqas/internal/resolve"
)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func sydney(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return loc
}

type countingSource struct {
	loc   *time.Location
	calls int
}

// Times reports maghrib at 18:30 and isha at 20:00 every day.
func (c *countingSource) Times(_ context.Context, d model.Date) (prayer.Times, error) {
	c.calls++
	return prayer.Times{
		Fajr:    d.At(model.Clock{Hour: 5, Minute: 30}, c.loc),
		Dhuhr:   d.At(model.Clock{Hour: 13, Minute: 10}, c.loc),
		Asr:     d.At(model.Clock{Hour: 16, Minute: 40}, c.loc),
		Maghrib: d.At(model.Clock{Hour: 18, Minute: 30}, c.loc),
		Isha:    d.At(model.Clock{Hour: 20}, c.loc),
	}, nil
}

func newGenerator(t *testing.T) (*Generator, *countingSource) {
	t.Helper()
	loc := sydney(t)
	zone, err := LookupZone("Australia/Sydney")
	if err != nil {
		t.Fatal(err)
	}
	src := &countingSource{loc: loc}
	return &Generator{
		Resolver: &resolve.Resolver{Location: loc, Prayers: src},
		Zone:     zone,
		SiteURL:  "https://halaqas.com/",
		Footer:   "Via halaqas.com",
	}, src
}

func date(s string) *model.Date {
	d := model.MustDate(s)
	return &d
}

func clock(s string) *model.Clock {
	c, err := model.ParseClock(s)
	if err != nil {
		panic(err)
	}
	return &c
}

func allDayEvent() model.Event {
	return model.Event{
		ID: "evt-allday",
		EventTimeSpec: model.EventTimeSpec{
			TimeMode:  model.TimeModeFixed,
			FixedDate: date("2026-03-07"),
			Title:     "Community Iftar",
		},
	}
}

func maghribEvent() model.Event {
	return model.Event{
		ID:        "evt-tafsir",
		UpdatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		EventTimeSpec: model.EventTimeSpec{
			TimeMode:            model.TimeModePrayerAnchored,
			PrayerAnchor:        model.Maghrib,
			PrayerOffsetMinutes: 15,
			IsRecurring:         true,
			RecurrencePattern:   model.EveryFriday,
			RecurrenceEndDate:   date("2026-03-19"),
			Title:               "Tafsir Circle",
			Description:         "Weekly tafsir",
			Speaker:             "Sh. Ahmad",
			LocationName:        "Lakemba Mosque",
			LocationAddress:     "65 Wangee Rd, Lakemba NSW 2195",
		},
	}
}

func untimedEvent() model.Event {
	return model.Event{
		ID:            "evt-untimed",
		EventTimeSpec: model.EventTimeSpec{TimeMode: model.TimeModeFixed, Title: "Open day"},
	}
}

var ref = model.MustDate("2026-03-04") // a Wednesday

func TestAllDayBoundary(t *testing.T) {
	g, _ := newGenerator(t)
	out, st := g.GenerateFeed(context.Background(), []model.Event{allDayEvent()}, "Test", ref)

	if st.Emitted != 1 {
		t.Fatalf("emitted = %d", st.Emitted)
	}
	for _, want := range []string{
		"DTSTART;VALUE=DATE:20260307\r\n",
		"DTEND;VALUE=DATE:20260308\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestPrayerAnchoredEvent(t *testing.T) {
	g, _ := newGenerator(t)
	out, _ := g.GenerateFeed(context.Background(), []model.Event{maghribEvent()}, "Lakemba Mosque", ref)

	required := []string{
		"BEGIN:VCALENDAR\r\n",
		"VERSION:2.0\r\n",
		"PRODID:-//Halaqas//EN\r\n",
		"CALSCALE:GREGORIAN\r\n",
		"METHOD:PUBLISH\r\n",
		"X-WR-CALNAME:Lakemba Mosque\r\n",
		"UID:evt-tafsir@halaqas.com\r\n",
		"DTSTAMP:20260301T093000Z\r\n",
		// Wednesday rolls forward to Friday 2026-03-06.
		"DTSTART;TZID=Australia/Sydney:20260306T184500\r\n",
		"DTEND;TZID=Australia/Sydney:20260306T191500\r\n",
		"SUMMARY:Tafsir Circle\r\n",
		"LOCATION:Lakemba Mosque\\, 65 Wangee Rd\\, Lakemba NSW 2195\r\n",
		"DESCRIPTION:Speaker: Sh. Ahmad\\n\\nWeekly tafsir\\n\\nVia halaqas.com\r\n",
		"URL:https://halaqas.com/events/evt-tafsir\r\n",
		"RRULE:FREQ=WEEKLY;BYDAY=FR;UNTIL=20260319T235959Z\r\n",
		"END:VEVENT\r\n",
	}
	for _, s := range required {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q", s)
		}
	}
	if !strings.HasSuffix(out, "END:VCALENDAR\r\n") {
		t.Error("feed must end with END:VCALENDAR and CRLF")
	}
}

func TestTextEscapingInFeed(t *testing.T) {
	g, _ := newGenerator(t)
	ev := allDayEvent()
	ev.Title = "Class; Level 1, Intro"

	out, _ := g.GenerateFeed(context.Background(), []model.Event{ev}, "Test", ref)
	if !strings.Contains(out, "SUMMARY:Class\\; Level 1\\, Intro\r\n") {
		t.Errorf("summary not escaped:\n%s", out)
	}
}

func TestTextEscapingOrder(t *testing.T) {
	g, _ := newGenerator(t)
	g.Footer = ""
	ev := allDayEvent()
	ev.Title = `C:\path; a,b`
	ev.Description = "line one\r\nline two\rline three"

	out, _ := g.GenerateFeed(context.Background(), []model.Event{ev}, "Test", ref)
	for _, want := range []string{
		`SUMMARY:C:\\path\; a\,b` + "\r\n",
		`DESCRIPTION:line one\nline two\nline three` + "\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFeedReadsBackUnchanged(t *testing.T) {
	g, _ := newGenerator(t)
	ev := maghribEvent()
	ev.Title = `Seerah; Part 2, "Hijrah" \ Q&A`
	ev.Description = strings.Repeat("تفسير سورة الكهف ", 6)

	out, _ := g.GenerateFeed(context.Background(), []model.Event{ev}, "Test", ref)
	parsed, err := ParseICS("lakemba", []byte(out))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("parsed %d events", len(parsed))
	}
	got := parsed[0]
	if got.Summary != ev.Title {
		t.Errorf("summary = %q, want %q", got.Summary, ev.Title)
	}
	wantDesc := "Speaker: Sh. Ahmad\n\n" + strings.TrimSpace(ev.Description) + "\n\nVia halaqas.com"
	if got.Description != wantDesc {
		t.Errorf("description = %q, want %q", got.Description, wantDesc)
	}
	if got.RawRRule != "FREQ=WEEKLY;BYDAY=FR;UNTIL=20260319T235959Z" {
		t.Errorf("rrule = %q", got.RawRRule)
	}
}

func TestDTStampWithoutUpdatedAt(t *testing.T) {
	g, _ := newGenerator(t)
	timed := maghribEvent()
	timed.UpdatedAt = time.Time{}

	out, _ := g.GenerateFeed(context.Background(), []model.Event{allDayEvent(), timed}, "Test", ref)
	if n := strings.Count(out, "DTSTAMP:"); n != 2 {
		t.Fatalf("DTSTAMP count = %d, want one per VEVENT", n)
	}
	for _, want := range []string{
		"DTSTAMP:20260307T000000Z\r\n", // all-day on the 7th
		"DTSTAMP:20260306T000000Z\r\n", // first Friday
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	again, _ := g.GenerateFeed(context.Background(), []model.Event{allDayEvent(), timed}, "Test", ref)
	if again != out {
		t.Error("fallback DTSTAMP is not stable")
	}
}

func TestSilentExclusion(t *testing.T) {
	g, _ := newGenerator(t)
	events := []model.Event{allDayEvent(), untimedEvent(), maghribEvent()}

	out, st := g.GenerateFeed(context.Background(), events, "Test", ref)

	if st.Emitted != 2 {
		t.Errorf("emitted = %d, want 2", st.Emitted)
	}
	if len(st.Skipped) != 1 || st.Skipped[0] != "evt-untimed" {
		t.Errorf("skipped = %v", st.Skipped)
	}
	if n := strings.Count(out, "BEGIN:VEVENT"); n != 2 {
		t.Errorf("VEVENT count = %d, want 2", n)
	}
	if strings.Contains(out, "Open day") {
		t.Error("untimed event leaked into the feed")
	}
}

func TestUnknownPatternHasNoRRule(t *testing.T) {
	g, _ := newGenerator(t)
	ev := maghribEvent()
	ev.RecurrencePattern = "every_full_moon"

	out, st := g.GenerateFeed(context.Background(), []model.Event{ev}, "Test", ref)
	if st.Emitted != 1 {
		t.Fatalf("emitted = %d", st.Emitted)
	}
	// The VTIMEZONE carries its own transition RRULEs.
	vevent := out[strings.Index(out, "BEGIN:VEVENT"):]
	if strings.Contains(vevent, "RRULE") {
		t.Errorf("unknown pattern must not produce an RRULE:\n%s", vevent)
	}
	// Not a weekday pattern, so the reference date itself is used.
	if !strings.Contains(out, "DTSTART;TZID=Australia/Sydney:20260304T184500") {
		t.Errorf("unexpected DTSTART:\n%s", out)
	}
}

func TestSingleTimezoneBlock(t *testing.T) {
	g, _ := newGenerator(t)
	events := []model.Event{allDayEvent(), maghribEvent(), maghribEvent()}
	out, _ := g.GenerateFeed(context.Background(), events, "Test", ref)

	if n := strings.Count(out, "BEGIN:VTIMEZONE"); n != 1 {
		t.Errorf("VTIMEZONE count = %d, want 1", n)
	}
}

func TestLinesAreCRLFAndFolded(t *testing.T) {
	g, _ := newGenerator(t)
	ev := maghribEvent()
	ev.Description = strings.Repeat("تفسير سورة الكهف ", 12)

	out, _ := g.GenerateFeed(context.Background(), []model.Event{ev}, "Test", ref)

	if strings.Contains(strings.ReplaceAll(out, "\r\n", ""), "\n") {
		t.Fatal("found a bare LF line ending")
	}
	lines := strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n")
	folded := 0
	for _, line := range lines {
		if len(line) > 75 {
			t.Errorf("line of %d octets: %q", len(line), line)
		}
		if !utf8.ValidString(line) {
			t.Errorf("fold split a UTF-8 sequence: %q", line)
		}
		if strings.HasPrefix(line, " ") {
			folded++
		}
	}
	if folded == 0 {
		t.Error("expected the long description to be folded")
	}
}

func TestPrayerLookupsMemoizedPerFeed(t *testing.T) {
	g, src := newGenerator(t)
	a, b := maghribEvent(), maghribEvent()
	b.ID = "evt-other"
	b.PrayerAnchor = model.Isha

	if _, st := g.GenerateFeed(context.Background(), []model.Event{a, b}, "Test", ref); st.Emitted != 2 {
		t.Fatalf("emitted = %d", st.Emitted)
	}
	if src.calls != 1 {
		t.Errorf("prayer source called %d times, want 1", src.calls)
	}

	// A new feed does not reuse the previous feed's lookups.
	g.GenerateFeed(context.Background(), []model.Event{a}, "Test", ref)
	if src.calls != 2 {
		t.Errorf("prayer source called %d times after second feed, want 2", src.calls)
	}
}

func TestDeterministicOutput(t *testing.T) {
	g, _ := newGenerator(t)
	events := []model.Event{allDayEvent(), maghribEvent()}
	first, _ := g.GenerateFeed(context.Background(), events, "Test", ref)
	second, _ := g.GenerateFeed(context.Background(), events, "Test", ref)
	if first != second {
		t.Error("identical input produced different feeds")
	}
}

func TestGenerateSingleEventFeed(t *testing.T) {
	g, _ := newGenerator(t)

	ev := maghribEvent()
	ev.FixedDate = date("2026-03-13")
	ev.IsRecurring = false
	out, err := g.GenerateSingleEventFeed(context.Background(), ev, ref)
	if err != nil {
		t.Fatalf("GenerateSingleEventFeed: %v", err)
	}
	if strings.Contains(out, "X-WR-CALNAME") {
		t.Error("single-event download should not carry a calendar name")
	}
	if !strings.Contains(out, "DTSTART;TZID=Australia/Sydney:20260313T184500\r\n") {
		t.Errorf("unexpected DTSTART:\n%s", out)
	}
	if strings.Count(out, "BEGIN:VEVENT") != 1 || strings.Count(out, "BEGIN:VTIMEZONE") != 1 {
		t.Error("expected one VEVENT and one VTIMEZONE")
	}

	if _, err := g.GenerateSingleEventFeed(context.Background(), untimedEvent(), ref); !errors.Is(err, resolve.ErrInsufficientTimeData) {
		t.Errorf("untimed event: got %v", err)
	}
}

func TestNoSiteURLOmitsURL(t *testing.T) {
	g, _ := newGenerator(t)
	g.SiteURL = ""
	g.Footer = ""
	g.Domain = "example.org"

	out, _ := g.GenerateFeed(context.Background(), []model.Event{allDayEvent()}, "Test", ref)
	if strings.Contains(out, "URL:") || strings.Contains(out, "DESCRIPTION") {
		t.Errorf("unexpected URL or DESCRIPTION:\n%s", out)
	}
	if !strings.Contains(out, "UID:evt-allday@example.org\r\n") {
		t.Error("custom UID domain not applied")
	}
}
