package ics

import (
	"context"
	"testing"
	"time"

	"github.com/sabs90/halaqas/internal/model"
)

func TestGeneratedFeedRoundTrips(t *testing.T) {
	g, _ := newGenerator(t)
	loc := sydney(t)

	weekly := maghribEvent()
	weekly.RecurrenceEndDate = nil
	weekly.Title = "Class; Level 1, Intro"

	// Sunday 2026-03-08 rolls forward to Friday 2026-03-13.
	feed, st := g.GenerateFeed(context.Background(), []model.Event{weekly, allDayEvent()}, "Test", model.MustDate("2026-03-08"))
	if st.Emitted != 2 {
		t.Fatalf("emitted = %d", st.Emitted)
	}

	parsed, err := ParseICS("test", []byte(feed))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d events, want 2", len(parsed))
	}

	tafsir := parsed[0]
	if tafsir.Summary != "Class; Level 1, Intro" {
		t.Errorf("summary = %q", tafsir.Summary)
	}
	if tafsir.StartTZ != "Australia/Sydney" {
		t.Errorf("StartTZ = %q", tafsir.StartTZ)
	}
	if want := time.Date(2026, 3, 13, 18, 45, 0, 0, loc); !tafsir.Start.Equal(want) {
		t.Errorf("start = %v, want %v", tafsir.Start, want)
	}
	if tafsir.URL != "https://halaqas.com/events/evt-tafsir" {
		t.Errorf("URL = %q", tafsir.URL)
	}
	if !parsed[1].AllDay {
		t.Error("second event should parse as all-day")
	}

	// Expansion keeps 18:45 wall-clock time across the 5 April DST change.
	res, err := ExpandOccurrences(parsed[:1], ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      time.Date(2026, 3, 13, 0, 0, 0, 0, loc),
		RangeEnd:        time.Date(2026, 4, 11, 0, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}
	want := []string{"2026-03-13", "2026-03-20", "2026-03-27", "2026-04-03", "2026-04-10"}
	if len(res.Instances) != len(want) {
		t.Fatalf("got %d instances, want %d", len(res.Instances), len(want))
	}
	for i, inst := range res.Instances {
		if got := inst.Start.Format("2006-01-02"); got != want[i] {
			t.Errorf("instance %d date = %s, want %s", i, got, want[i])
		}
		if got := inst.Start.Format("15:04"); got != "18:45" {
			t.Errorf("instance %d time = %s, want 18:45", i, got)
		}
		if d := inst.End.Sub(inst.Start); d != 30*time.Minute {
			t.Errorf("instance %d length = %v", i, d)
		}
	}
}

func TestExpandHonoursUntilAndExDate(t *testing.T) {
	loc := sydney(t)
	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:weekly@test\r\n" +
		"DTSTART;TZID=Australia/Sydney:20260306T190000\r\n" +
		"DTEND;TZID=Australia/Sydney:20260306T193000\r\n" +
		"SUMMARY:Halaqa\r\n" +
		"RRULE:FREQ=WEEKLY;BYDAY=FR;UNTIL=20260319T235959Z\r\n" +
		"EXDATE;TZID=Australia/Sydney:20260313T190000\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	parsed, err := ParseICS("inline", []byte(body))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	res, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      time.Date(2026, 3, 1, 0, 0, 0, 0, loc),
		RangeEnd:        time.Date(2026, 4, 1, 0, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatal(err)
	}
	// 13 March is excluded and 20 March falls after UNTIL.
	if len(res.Instances) != 1 || res.Instances[0].Start.Day() != 6 {
		t.Errorf("instances = %+v", res.Instances)
	}
}

func TestExpandOverride(t *testing.T) {
	loc := sydney(t)
	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:daily@test\r\n" +
		"DTSTART;TZID=Australia/Sydney:20260301T060000\r\n" +
		"DTEND;TZID=Australia/Sydney:20260301T061000\r\n" +
		"SUMMARY:Dars\r\n" +
		"RRULE:FREQ=DAILY;COUNT=3\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:daily@test\r\n" +
		"RECURRENCE-ID;TZID=Australia/Sydney:20260302T060000\r\n" +
		"DTSTART;TZID=Australia/Sydney:20260302T070000\r\n" +
		"DTEND;TZID=Australia/Sydney:20260302T071000\r\n" +
		"SUMMARY:Dars (moved)\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	parsed, err := ParseICS("inline", []byte(body))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	res, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      time.Date(2026, 3, 1, 0, 0, 0, 0, loc),
		RangeEnd:        time.Date(2026, 3, 10, 0, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Instances) != 3 {
		t.Fatalf("got %d instances, want 3", len(res.Instances))
	}
	moved := res.Instances[1]
	if moved.Summary != "Dars (moved)" || moved.Start.Hour() != 7 {
		t.Errorf("override not applied: %+v", moved)
	}
}

func TestExpandCap(t *testing.T) {
	loc := sydney(t)
	ev := ParsedEvent{
		UID:      "daily@test",
		Start:    time.Date(2026, 1, 1, 5, 0, 0, 0, loc),
		End:      time.Date(2026, 1, 1, 5, 15, 0, 0, loc),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation:        loc,
		RangeStart:             ev.Start,
		RangeEnd:               ev.Start.AddDate(0, 1, 0),
		MaxOccurrencesPerEvent: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Instances) != 5 || len(res.TruncatedEvents) != 1 {
		t.Errorf("instances = %d, truncated = %v", len(res.Instances), res.TruncatedEvents)
	}
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	now := time.Now()
	if _, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestParseRejectsEmptyBody(t *testing.T) {
	if _, err := ParseICS("empty", nil); err == nil {
		t.Error("expected error for empty body")
	}
}
