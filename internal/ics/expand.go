package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultTimedDuration          = 30 * time.Minute
)

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted to; time.Local if nil.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the window, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps each event's expansion.
	MaxOccurrencesPerEvent int
}

// Instance is one expanded occurrence of a parsed VEVENT.
type Instance struct {
	UID      string
	Summary  string
	Location string
	URL      string

	AllDay bool
	Date   model.Date // all-day instances only
	Start  time.Time
	End    time.Time
}

// ExpandResult lists instances ordered by start time.
type ExpandResult struct {
	Instances []Instance
	// TruncatedEvents records UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed events into instances within the window:
// single events, RRULE recurrences with EXDATE removal, RECURRENCE-ID
// overrides, and all-day ranges.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	for _, uid := range uids {
		ov := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			inst, hitCap, err := expandEvent(ev, ov, cfg)
			if err != nil {
				appLog.Error("expand: skipping event", err, "uid", uid, "rrule", ev.RawRRule)
				continue
			}
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, uid)
				appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			result.Instances = append(result.Instances, inst...)
		}
	}

	sort.SliceStable(result.Instances, func(i, j int) bool {
		return result.Instances[i].Start.Before(result.Instances[j].Start)
	})
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Instance, bool, error) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false, nil
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Instance {
	end := eventEnd(ev, ev.Start)
	if !timeRangesOverlap(ev.Start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		return []Instance{makeInstance(o, o.Start, eventEnd(o, o.Start), cfg.DisplayLocation)}
	}
	return []Instance{makeInstance(ev, ev.Start, end, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Instance, bool, error) {
	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		return nil, false, fmt.Errorf("parse RRULE: %w", err)
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, fmt.Errorf("build RRULE: %w", err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so instances already in
	// progress at RangeStart are kept.
	length := eventEnd(ev, ev.Start).Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-length).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]Instance, 0, len(starts))
	for _, start := range starts {
		if o, ok := findOverrideForStart(overrides, start); ok {
			out = append(out, makeInstance(o, o.Start, eventEnd(o, o.Start), cfg.DisplayLocation))
			continue
		}
		out = append(out, makeInstance(ev, start, eventEnd(ev, start), cfg.DisplayLocation))
	}
	return out, hitCap, nil
}

// eventEnd keeps the event's own length for an instance starting at start.
// All-day instances run to the next midnight; a missing DTEND gets a
// default length.
func eventEnd(ev ParsedEvent, start time.Time) time.Time {
	if ev.AllDay {
		return model.DateOf(start, start.Location()).AddDays(1).Midnight(start.Location())
	}
	if ev.End.IsZero() || ev.End.Before(ev.Start) {
		return start.Add(defaultTimedDuration)
	}
	return start.Add(ev.End.Sub(ev.Start))
}

// findOverrideForStart finds the override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeInstance(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) Instance {
	inst := Instance{
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		URL:      ev.URL,
		AllDay:   ev.AllDay,
		Start:    start.In(displayLoc),
		End:      end.In(displayLoc),
	}
	if ev.AllDay {
		// The calendar date is read in the zone the value was parsed in.
		inst.Date = model.DateOf(start, start.Location())
	}
	return inst
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
