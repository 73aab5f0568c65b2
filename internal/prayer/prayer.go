// Package prayer provides daily prayer times for a single deployment city.
//
// Prayer times are not computed here; a Source is an external collaborator
// (a remote timings API or a published mosque timetable) that is treated as
// authoritative and deterministic for a given date.
package prayer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sabs90/halaqas/internal/model"
)

// Times holds the five daily prayer instants for one date.
type Times struct {
	Fajr    time.Time
	Dhuhr   time.Time
	Asr     time.Time
	Maghrib time.Time
	Isha    time.Time
}

// Of selects the instant for p. The bool is false for an unknown prayer or
// a zero instant.
func (t Times) Of(p model.Prayer) (time.Time, bool) {
	var v time.Time
	switch p {
	case model.Fajr:
		v = t.Fajr
	case model.Dhuhr:
		v = t.Dhuhr
	case model.Asr:
		v = t.Asr
	case model.Maghrib:
		v = t.Maghrib
	case model.Isha:
		v = t.Isha
	}
	return v, !v.IsZero()
}

// Source returns the prayer times for a civil date.
type Source interface {
	Times(ctx context.Context, date model.Date) (Times, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, date model.Date) (Times, error)

func (f SourceFunc) Times(ctx context.Context, date model.Date) (Times, error) {
	return f(ctx, date)
}

// Memo memoizes a Source per date. It is meant to live for one feed
// generation so that events sharing a day share one lookup.
type Memo struct {
	src Source

	mu   sync.Mutex
	days map[model.Date]memoEntry
}

type memoEntry struct {
	times Times
	err   error
}

func NewMemo(src Source) *Memo {
	return &Memo{src: src, days: make(map[model.Date]memoEntry)}
}

func (m *Memo) Times(ctx context.Context, date model.Date) (Times, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.days[date]; ok {
		return e.times, e.err
	}
	t, err := m.src.Times(ctx, date)
	m.days[date] = memoEntry{times: t, err: err}
	return t, err
}

// parseTiming parses "18:30" or "18:30 (AEDT)" and places it on date in loc.
func parseTiming(date model.Date, raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	c, err := model.ParseClock(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("prayer timing: %w", err)
	}
	return date.At(c, loc), nil
}

// fromClocks builds Times from per-prayer clock strings keyed by lower-case
// prayer name. Every prayer must be present.
func fromClocks(date model.Date, clocks map[string]string, loc *time.Location) (Times, error) {
	var out Times
	for _, p := range model.Prayers {
		raw, ok := clocks[string(p)]
		if !ok || strings.TrimSpace(raw) == "" {
			return Times{}, fmt.Errorf("prayer timing for %s on %s missing", p, date)
		}
		at, err := parseTiming(date, raw, loc)
		if err != nil {
			return Times{}, fmt.Errorf("%s on %s: %w", p, date, err)
		}
		switch p {
		case model.Fajr:
			out.Fajr = at
		case model.Dhuhr:
			out.Dhuhr = at
		case model.Asr:
			out.Asr = at
		case model.Maghrib:
			out.Maghrib = at
		case model.Isha:
			out.Isha = at
		}
	}
	return out, nil
}
