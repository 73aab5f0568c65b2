package ics

import (
	"errors"
	"fmt"

	ical "github.com/arran4/golang-ical"
)

// ErrUnknownZone is returned for zones without a static VTIMEZONE.
var ErrUnknownZone = errors.New("no VTIMEZONE definition for zone")

// Observance is one STANDARD or DAYLIGHT sub-component.
type Observance struct {
	Daylight   bool
	DTStart    string // local, YYYYMMDDTHHMMSS
	RRule      string // empty for zones without daylight saving
	OffsetFrom string
	OffsetTo   string
	Name       string
}

// Zone is a static VTIMEZONE definition. The transition rules are the
// current Australian ones; clients only need them for the dates a feed
// actually spans.
type Zone struct {
	TZID        string
	Observances []Observance
}

var (
	eastern = []Observance{
		{DTStart: "19700405T030000", RRule: "FREQ=YEARLY;BYDAY=1SU;BYMONTH=4", OffsetFrom: "+1100", OffsetTo: "+1000", Name: "AEST"},
		{Daylight: true, DTStart: "19701004T020000", RRule: "FREQ=YEARLY;BYDAY=1SU;BYMONTH=10", OffsetFrom: "+1000", OffsetTo: "+1100", Name: "AEDT"},
	}
	central = []Observance{
		{DTStart: "19700405T030000", RRule: "FREQ=YEARLY;BYDAY=1SU;BYMONTH=4", OffsetFrom: "+1030", OffsetTo: "+0930", Name: "ACST"},
		{Daylight: true, DTStart: "19701004T020000", RRule: "FREQ=YEARLY;BYDAY=1SU;BYMONTH=10", OffsetFrom: "+0930", OffsetTo: "+1030", Name: "ACDT"},
	}
)

func fixed(offset, name string) []Observance {
	return []Observance{{DTStart: "19700101T000000", OffsetFrom: offset, OffsetTo: offset, Name: name}}
}

var zones = map[string]Zone{
	"Australia/Sydney":    {TZID: "Australia/Sydney", Observances: eastern},
	"Australia/Melbourne": {TZID: "Australia/Melbourne", Observances: eastern},
	"Australia/Canberra":  {TZID: "Australia/Canberra", Observances: eastern},
	"Australia/Hobart":    {TZID: "Australia/Hobart", Observances: eastern},
	"Australia/Adelaide":  {TZID: "Australia/Adelaide", Observances: central},
	"Australia/Brisbane":  {TZID: "Australia/Brisbane", Observances: fixed("+1000", "AEST")},
	"Australia/Darwin":    {TZID: "Australia/Darwin", Observances: fixed("+0930", "ACST")},
	"Australia/Perth":     {TZID: "Australia/Perth", Observances: fixed("+0800", "AWST")},
}

// LookupZone returns the static definition for an IANA zone name.
func LookupZone(name string) (Zone, error) {
	z, ok := zones[name]
	if !ok {
		return Zone{}, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}
	return z, nil
}

// component builds the VTIMEZONE with one STANDARD or DAYLIGHT
// sub-component per observance.
func (z Zone) component() *ical.VTimezone {
	tz := ical.NewTimezone(z.TZID)
	for _, o := range z.Observances {
		var sub *ical.ComponentBase
		if o.Daylight {
			d := &ical.Daylight{}
			tz.Components = append(tz.Components, d)
			sub = &d.ComponentBase
		} else {
			sub = &tz.AddStandard().ComponentBase
		}
		sub.AddProperty(ical.ComponentPropertyDtStart, o.DTStart)
		if o.RRule != "" {
			sub.AddProperty(ical.ComponentPropertyRrule, o.RRule)
		}
		sub.AddProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), o.OffsetFrom)
		sub.AddProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), o.OffsetTo)
		sub.AddProperty(ical.ComponentProperty(ical.PropertyTzname), o.Name)
	}
	return tz
}
