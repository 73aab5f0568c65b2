package model

import (
	"strings"
	"time"
)

type TimeMode string

const (
	TimeModeFixed          TimeMode = "fixed"
	TimeModePrayerAnchored TimeMode = "prayer_anchored"
)

// Prayer names one of the five daily prayers used as a time anchor.
type Prayer string

const (
	Fajr    Prayer = "fajr"
	Dhuhr   Prayer = "dhuhr"
	Asr     Prayer = "asr"
	Maghrib Prayer = "maghrib"
	Isha    Prayer = "isha"
)

// Prayers lists the anchors in daily order.
var Prayers = []Prayer{Fajr, Dhuhr, Asr, Maghrib, Isha}

func (p Prayer) Valid() bool {
	switch p {
	case Fajr, Dhuhr, Asr, Maghrib, Isha:
		return true
	}
	return false
}

type RecurrencePattern string

const (
	EveryMonday    RecurrencePattern = "every_monday"
	EveryTuesday   RecurrencePattern = "every_tuesday"
	EveryWednesday RecurrencePattern = "every_wednesday"
	EveryThursday  RecurrencePattern = "every_thursday"
	EveryFriday    RecurrencePattern = "every_friday"
	EverySaturday  RecurrencePattern = "every_saturday"
	EverySunday    RecurrencePattern = "every_sunday"
	Daily          RecurrencePattern = "daily"
	DailyRamadan   RecurrencePattern = "daily_ramadan"
	Weekly         RecurrencePattern = "weekly"
	Fortnightly    RecurrencePattern = "fortnightly"
	Monthly        RecurrencePattern = "monthly"
)

var patternWeekdays = map[RecurrencePattern]time.Weekday{
	EverySunday:    time.Sunday,
	EveryMonday:    time.Monday,
	EveryTuesday:   time.Tuesday,
	EveryWednesday: time.Wednesday,
	EveryThursday:  time.Thursday,
	EveryFriday:    time.Friday,
	EverySaturday:  time.Saturday,
}

// Weekday reports the day for every_<weekday> patterns.
func (p RecurrencePattern) Weekday() (time.Weekday, bool) {
	wd, ok := patternWeekdays[p]
	return wd, ok
}

func (p RecurrencePattern) Valid() bool {
	if _, ok := patternWeekdays[p]; ok {
		return true
	}
	switch p {
	case Daily, DailyRamadan, Weekly, Fortnightly, Monthly:
		return true
	}
	return false
}

// EventTimeSpec is the part of an event that determines when it happens.
type EventTimeSpec struct {
	TimeMode            TimeMode
	FixedDate           *Date
	FixedTime           *Clock
	PrayerAnchor        Prayer // empty when unset
	PrayerOffsetMinutes int    // negative = before the anchor

	IsRecurring       bool
	RecurrencePattern RecurrencePattern // may hold an unknown value from upstream
	RecurrenceEndDate *Date

	Title           string
	Description     string
	Speaker         string
	LocationName    string
	LocationAddress string
}

// PrayerAnchored reports whether the spec is anchored to a prayer.
func (s EventTimeSpec) PrayerAnchored() bool {
	return s.TimeMode == TimeModePrayerAnchored && s.PrayerAnchor != ""
}

// IsAllDay: a date, no clock time, and not prayer-anchored.
func (s EventTimeSpec) IsAllDay() bool {
	return s.FixedDate != nil && s.FixedTime == nil && !s.PrayerAnchored()
}

// Recurs reports whether the spec carries a recurrence pattern.
func (s EventTimeSpec) Recurs() bool {
	return s.IsRecurring && s.RecurrencePattern != ""
}

// Normalize zeroes the offset when no anchor is set and drops the anchor
// when a clock time is known.
func (s *EventTimeSpec) Normalize() {
	s.PrayerAnchor = Prayer(strings.ToLower(strings.TrimSpace(string(s.PrayerAnchor))))
	if s.FixedTime != nil {
		s.PrayerAnchor = ""
		s.TimeMode = TimeModeFixed
	}
	if s.PrayerAnchor == "" {
		s.PrayerOffsetMinutes = 0
	}
	if s.TimeMode == "" {
		s.TimeMode = TimeModeFixed
	}
}

type EventStatus string

const (
	StatusActive   EventStatus = "active"
	StatusArchived EventStatus = "archived"
	StatusDelisted EventStatus = "delisted"
)

// Mosque is a venue that publishes a calendar feed.
type Mosque struct {
	ID        string
	Name      string
	Address   string
	Suburb    string
	Latitude  float64
	Longitude float64
}

// Event is a directory entry: a time spec plus identity and venue.
type Event struct {
	ID       string
	MosqueID string // empty for events at other venues

	VenueName    string
	VenueAddress string

	EventType string
	Language  string
	Gender    string
	Status    EventStatus

	UpdatedAt       time.Time
	LastConfirmedAt time.Time

	EventTimeSpec
}

// StaleAfter is how long a recurring event stays trusted without someone
// confirming it still runs.
const StaleAfter = 90 * 24 * time.Hour

// Stale reports whether the listing should be shown as possibly outdated:
// archived, or recurring and unconfirmed for longer than StaleAfter.
func (e Event) Stale(now time.Time) bool {
	if e.Status == StatusArchived {
		return true
	}
	return e.IsRecurring && !e.LastConfirmedAt.IsZero() && now.Sub(e.LastConfirmedAt) > StaleAfter
}

// Occurrence is one resolved instance of an event.
type Occurrence struct {
	AllDay bool

	// Date is set for all-day occurrences; the exclusive end is Date+1.
	Date Date

	// Start / End are set for timed occurrences, in the deployment zone.
	Start time.Time
	End   time.Time
}

// EndDate returns the exclusive end date of an all-day occurrence.
func (o Occurrence) EndDate() Date {
	return o.Date.AddDays(1)
}
