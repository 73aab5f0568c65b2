package dedup

import (
	"testing"

	"github.com/sabs90/halaqas/internal/model"
)

func date(s string) *model.Date {
	d := model.MustDate(s)
	return &d
}

func existing() []model.Event {
	return []model.Event{
		{
			ID: "e1", MosqueID: "lakemba", Status: model.StatusActive,
			EventTimeSpec: model.EventTimeSpec{Title: "Friday Tafsir Circle", IsRecurring: true, RecurrencePattern: model.EveryFriday},
		},
		{
			ID: "e2", MosqueID: "lakemba", Status: model.StatusActive,
			EventTimeSpec: model.EventTimeSpec{Title: "Youth Night", FixedDate: date("2026-03-07")},
		},
		{
			ID: "e3", VenueName: "Auburn Town Hall", Status: model.StatusActive,
			EventTimeSpec: model.EventTimeSpec{Title: "Charity Dinner", FixedDate: date("2026-04-01")},
		},
		{
			ID: "e4", MosqueID: "lakemba", Status: model.StatusDelisted,
			EventTimeSpec: model.EventTimeSpec{Title: "Youth Night", FixedDate: date("2026-03-07")},
		},
	}
}

func ids(events []model.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestFindDuplicates(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want []string
	}{
		{"substring title, same mosque", Candidate{Title: "tafsir circle", MosqueID: "lakemba", IsRecurring: true}, []string{"e1"}},
		{"other mosque", Candidate{Title: "Tafsir", MosqueID: "auburn", IsRecurring: true}, nil},
		{"same date", Candidate{Title: "YOUTH NIGHT", MosqueID: "lakemba", FixedDate: date("2026-03-07")}, []string{"e2"}},
		{"different date", Candidate{Title: "Youth Night", MosqueID: "lakemba", FixedDate: date("2026-03-14")}, nil},
		{"recurring ignores date", Candidate{Title: "Youth Night", MosqueID: "lakemba", IsRecurring: true, FixedDate: date("2026-03-14")}, []string{"e2"}},
		{"venue name", Candidate{Title: "charity dinner", VenueName: " auburn town hall ", FixedDate: date("2026-04-01")}, []string{"e3"}},
		{"no venue", Candidate{Title: "Charity Dinner"}, nil},
		{"empty title", Candidate{Title: "  ", MosqueID: "lakemba"}, nil},
	}
	for _, tt := range tests {
		got := ids(FindDuplicates(tt.c, existing()))
		if len(got) != len(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
			}
		}
	}
}
