// Package resolve turns an event time specification into a concrete
// occurrence: an all-day date, or a start/end instant in the deployment zone.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sabs90/halaqas/internal/model"
	"github.com/sabs90/halaqas/internal/prayer"
	"github.com/sabs90/halaqas/internal/recurrence"
)

var (
	// ErrInsufficientTimeData means neither a clock time nor a resolvable
	// prayer anchor is available. Callers skip the event.
	ErrInsufficientTimeData = errors.New("insufficient time data")

	// ErrNoUpcoming means the event has no occurrence on or after the
	// requested day.
	ErrNoUpcoming = errors.New("no upcoming occurrence")
)

const (
	DefaultDuration = 30 * time.Minute
	ShortDuration   = 10 * time.Minute
)

// DurationPolicy decides how long a timed occurrence lasts.
type DurationPolicy func(title string) time.Duration

var shortWord = regexp.MustCompile(`(?i)\bshort\b`)

// TitleDurationPolicy gives events whose title contains the word "short"
// ten minutes and everything else thirty.
func TitleDurationPolicy(title string) time.Duration {
	if shortWord.MatchString(title) {
		return ShortDuration
	}
	return DefaultDuration
}

// Resolver resolves specs against a single civil timezone.
type Resolver struct {
	Location *time.Location
	Prayers  prayer.Source
	Duration DurationPolicy
}

// WithPrayers returns a copy of r that reads prayer times from src.
func (r *Resolver) WithPrayers(src prayer.Source) *Resolver {
	c := *r
	c.Prayers = src
	return &c
}

// AnchorDate selects the day an occurrence is computed on: the fixed date
// if set; otherwise, for every_<weekday> patterns, ref rolled forward 0–6
// days to that weekday; otherwise ref itself.
func (r *Resolver) AnchorDate(spec model.EventTimeSpec, ref model.Date) model.Date {
	if spec.FixedDate != nil {
		return *spec.FixedDate
	}
	if spec.Recurs() {
		if wd, ok := spec.RecurrencePattern.Weekday(); ok {
			diff := (int(wd) - int(ref.Weekday()) + 7) % 7
			return ref.AddDays(diff)
		}
	}
	return ref
}

// Resolve computes the occurrence of spec for the reference date ref.
func (r *Resolver) Resolve(ctx context.Context, spec model.EventTimeSpec, ref model.Date) (model.Occurrence, error) {
	return r.resolveOn(ctx, spec, r.AnchorDate(spec, ref))
}

func (r *Resolver) resolveOn(ctx context.Context, spec model.EventTimeSpec, day model.Date) (model.Occurrence, error) {
	if spec.IsAllDay() {
		return model.Occurrence{AllDay: true, Date: day}, nil
	}

	start, err := r.startOn(ctx, spec, day)
	if err != nil {
		return model.Occurrence{}, err
	}
	return model.Occurrence{Start: start, End: start.Add(r.duration(spec.Title))}, nil
}

func (r *Resolver) startOn(ctx context.Context, spec model.EventTimeSpec, day model.Date) (time.Time, error) {
	loc := r.location()

	// A known clock time always wins over a prayer anchor.
	if spec.FixedTime != nil {
		return day.At(*spec.FixedTime, loc), nil
	}
	if !spec.PrayerAnchored() {
		return time.Time{}, ErrInsufficientTimeData
	}
	if !spec.PrayerAnchor.Valid() {
		return time.Time{}, fmt.Errorf("%w: unknown prayer anchor %q", ErrInsufficientTimeData, spec.PrayerAnchor)
	}
	if r.Prayers == nil {
		return time.Time{}, fmt.Errorf("%w: no prayer time source", ErrInsufficientTimeData)
	}

	times, err := r.Prayers.Times(ctx, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: prayer times for %s: %w", ErrInsufficientTimeData, day, err)
	}
	at, ok := times.Of(spec.PrayerAnchor)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no %s time on %s", ErrInsufficientTimeData, spec.PrayerAnchor, day)
	}

	// Offset the absolute instant, not the wall clock, so the result is
	// right even when the prayer itself straddles a DST change.
	return at.Add(time.Duration(spec.PrayerOffsetMinutes) * time.Minute).In(loc), nil
}

// Next returns the first occurrence of spec on or after today. Recurring
// events are expanded from their anchor date and resolved on the matching
// day, so prayer-anchored events carry that day's prayer time.
func (r *Resolver) Next(ctx context.Context, spec model.EventTimeSpec, today model.Date) (model.Occurrence, error) {
	rule, ok := "", false
	if spec.Recurs() {
		rule, ok = recurrence.Rule(spec.RecurrencePattern, spec.RecurrenceEndDate)
	}
	if !ok {
		if spec.FixedDate != nil && spec.FixedDate.Before(today) {
			return model.Occurrence{}, ErrNoUpcoming
		}
		return r.Resolve(ctx, spec, today)
	}

	anchor := r.AnchorDate(spec, today)
	day, found, err := recurrence.NextDate(rule, anchor, today)
	if err != nil {
		return model.Occurrence{}, err
	}
	if !found {
		return model.Occurrence{}, ErrNoUpcoming
	}
	return r.resolveOn(ctx, spec, day)
}

// Ended reports whether an event is over as of today: a one-off dated
// before today, or a recurrence whose end date has passed.
func Ended(spec model.EventTimeSpec, today model.Date) bool {
	if spec.IsRecurring {
		return spec.RecurrenceEndDate != nil && spec.RecurrenceEndDate.Before(today)
	}
	return spec.FixedDate != nil && spec.FixedDate.Before(today)
}

func (r *Resolver) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

func (r *Resolver) duration(title string) time.Duration {
	if r.Duration == nil {
		return TitleDurationPolicy(title)
	}
	return r.Duration(title)
}
