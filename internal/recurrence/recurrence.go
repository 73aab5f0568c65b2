// Package recurrence maps directory recurrence patterns onto RFC 5545
// recurrence rules and expands them.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/sabs90/halaqas/internal/model"
)

var byDay = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// Rule returns the RRULE value (without the "RRULE:" name) for a pattern.
// ok is false for unknown patterns, which must not produce a rule.
// A non-nil until bounds the rule at 23:59:59 UTC of that date.
func Rule(p model.RecurrencePattern, until *model.Date) (rule string, ok bool) {
	if wd, isDay := p.Weekday(); isDay {
		rule = "FREQ=WEEKLY;BYDAY=" + byDay[wd]
	} else {
		switch p {
		case model.Daily, model.DailyRamadan:
			rule = "FREQ=DAILY"
		case model.Weekly:
			rule = "FREQ=WEEKLY"
		case model.Fortnightly:
			rule = "FREQ=WEEKLY;INTERVAL=2"
		case model.Monthly:
			rule = "FREQ=MONTHLY"
		default:
			return "", false
		}
	}
	if until != nil && !until.IsZero() {
		rule += ";UNTIL=" + Until(*until)
	}
	return rule, true
}

// Until formats the UNTIL value for an inclusive end date. UNTIL is always
// UTC even when DTSTART carries a TZID.
func Until(d model.Date) string {
	return d.Compact() + "T235959Z"
}

// NextDate returns the first occurrence date on or after from for a rule
// whose first instance is anchor. Dates are expanded at UTC midnight so
// that daylight-saving transitions in the deployment zone cannot shift a
// day boundary.
func NextDate(rule string, anchor, from model.Date) (model.Date, bool, error) {
	r, err := build(rule, anchor)
	if err != nil {
		return model.Date{}, false, err
	}

	next := r.After(from.Midnight(time.UTC), true)
	if next.IsZero() {
		return model.Date{}, false, nil
	}
	return model.DateOf(next, time.UTC), true, nil
}

func build(rule string, anchor model.Date) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", rule, err)
	}
	opt.Dtstart = anchor.Midnight(time.UTC)
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule %q: %w", rule, err)
	}
	return r, nil
}
