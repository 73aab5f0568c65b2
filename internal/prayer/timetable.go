package prayer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sabs90/halaqas/internal/model"
)

// ErrNoTimetableEntry is returned when a timetable has no row for a date.
var ErrNoTimetableEntry = errors.New("no timetable entry for date")

// Timetable serves prayer times from a published table, one row per date:
//
//	2026-03-07:
//	  fajr: "05:32"
//	  dhuhr: "13:12"
//	  asr: "16:45"
//	  maghrib: "19:28"
//	  isha: "20:44"
type Timetable struct {
	loc  *time.Location
	days map[model.Date]Times
}

// LoadTimetable reads a YAML timetable; clock values are interpreted in loc.
func LoadTimetable(path string, loc *time.Location) (*Timetable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTimetable(data, loc)
}

func ParseTimetable(data []byte, loc *time.Location) (*Timetable, error) {
	if loc == nil {
		loc = time.Local
	}
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse timetable: %w", err)
	}

	tt := &Timetable{loc: loc, days: make(map[model.Date]Times, len(raw))}
	for key, row := range raw {
		date, err := model.ParseDate(key)
		if err != nil {
			return nil, fmt.Errorf("timetable: %w", err)
		}
		clocks := make(map[string]string, len(row))
		for k, v := range row {
			clocks[strings.ToLower(k)] = v
		}
		times, err := fromClocks(date, clocks, loc)
		if err != nil {
			return nil, fmt.Errorf("timetable: %w", err)
		}
		tt.days[date] = times
	}
	return tt, nil
}

// Times implements Source.
func (tt *Timetable) Times(_ context.Context, date model.Date) (Times, error) {
	t, ok := tt.days[date]
	if !ok {
		return Times{}, fmt.Errorf("%w: %s", ErrNoTimetableEntry, date)
	}
	return t, nil
}

// Len reports the number of dates in the table.
func (tt *Timetable) Len() int { return len(tt.days) }
