package recurrence

import (
	"testing"

	"github.com/sabs90/halaqas/internal/model"
)

func TestRule(t *testing.T) {
	end := model.MustDate("2026-03-19")

	tests := []struct {
		pattern model.RecurrencePattern
		until   *model.Date
		want    string
		ok      bool
	}{
		{model.EveryFriday, &end, "FREQ=WEEKLY;BYDAY=FR;UNTIL=20260319T235959Z", true},
		{model.EveryMonday, nil, "FREQ=WEEKLY;BYDAY=MO", true},
		{model.EverySunday, nil, "FREQ=WEEKLY;BYDAY=SU", true},
		{model.Daily, nil, "FREQ=DAILY", true},
		{model.DailyRamadan, &end, "FREQ=DAILY;UNTIL=20260319T235959Z", true},
		{model.Weekly, nil, "FREQ=WEEKLY", true},
		{model.Fortnightly, nil, "FREQ=WEEKLY;INTERVAL=2", true},
		{model.Monthly, nil, "FREQ=MONTHLY", true},
		{"every_full_moon", &end, "", false},
		{"", nil, "", false},
	}
	for _, tt := range tests {
		got, ok := Rule(tt.pattern, tt.until)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Rule(%q) = %q, %v; want %q, %v", tt.pattern, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNextDate(t *testing.T) {
	// 2026-03-06 is a Friday.
	anchor := model.MustDate("2026-03-06")
	end := model.MustDate("2026-03-19")
	rule, _ := Rule(model.EveryFriday, &end)

	tests := []struct {
		from   string
		want   string
		wantOK bool
	}{
		{"2026-03-01", "2026-03-06", true},
		{"2026-03-06", "2026-03-06", true},
		{"2026-03-07", "2026-03-13", true},
		{"2026-03-14", "2026-03-20", false}, // past UNTIL
	}
	for _, tt := range tests {
		got, ok, err := NextDate(rule, anchor, model.MustDate(tt.from))
		if err != nil {
			t.Fatalf("NextDate: %v", err)
		}
		if ok != tt.wantOK {
			t.Errorf("from %s: ok = %v, want %v", tt.from, ok, tt.wantOK)
			continue
		}
		if ok && got.String() != tt.want {
			t.Errorf("from %s: got %s, want %s", tt.from, got, tt.want)
		}
	}
}

func TestNextDateFortnightly(t *testing.T) {
	anchor := model.MustDate("2026-03-02")
	rule, _ := Rule(model.Fortnightly, nil)

	got, ok, err := NextDate(rule, anchor, model.MustDate("2026-03-03"))
	if err != nil || !ok {
		t.Fatalf("NextDate: %v %v", ok, err)
	}
	if got.String() != "2026-03-16" {
		t.Errorf("got %s, want 2026-03-16", got)
	}
}

func TestNextDateAcrossDST(t *testing.T) {
	// Sydney leaves daylight saving on 2026-04-05; date stepping must not
	// drift across the change.
	anchor := model.MustDate("2026-03-27")
	rule, _ := Rule(model.EveryFriday, nil)

	from := anchor
	var got []string
	for n := 0; n < 4; n++ {
		d, ok, err := NextDate(rule, anchor, from)
		if err != nil || !ok {
			t.Fatalf("NextDate(%s): %v %v", from, ok, err)
		}
		got = append(got, d.String())
		from = d.AddDays(1)
	}
	want := []string{"2026-03-27", "2026-04-03", "2026-04-10", "2026-04-17"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("occurrence %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNextDateBadRule(t *testing.T) {
	if _, _, err := NextDate("FREQ=SOMETIMES", model.MustDate("2026-03-06"), model.MustDate("2026-03-06")); err == nil {
		t.Fatal("expected parse error")
	}
}
