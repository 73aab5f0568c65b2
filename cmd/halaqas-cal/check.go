package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sabs90/halaqas/internal/ics"
)

// runCheck reads a calendar file the way a subscribing client would and
// prints the occurrences in the next days.
func runCheck(w io.Writer, path string, days int) error {
	return checkFrom(w, path, days, time.Now())
}

func checkFrom(w io.Writer, path string, days int, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	events, err := ics.ParseICS(path, data)
	if err != nil {
		return err
	}
	if days <= 0 {
		days = 30
	}

	loc := now.Location()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, days)
	res, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s: %d events, %d occurrences between %s and %s\n",
		path, len(events), len(res.Instances), start.Format("2006-01-02"), end.Format("2006-01-02"))
	for _, in := range res.Instances {
		when := in.Start.Format("Mon 2006-01-02 15:04") + "-" + in.End.Format("15:04")
		if in.AllDay {
			when = in.Start.Format("Mon 2006-01-02") + " all day"
		}
		fmt.Fprintf(w, "  %-32s %s\n", when, in.Summary)
	}
	for _, uid := range res.TruncatedEvents {
		fmt.Fprintf(w, "  truncated: %s\n", uid)
	}
	return nil
}
