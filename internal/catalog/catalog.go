// Package catalog loads the directory of mosques and events from YAML.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/model"
)

var ErrNotFound = errors.New("not found")

// idNamespace seeds IDs derived for records that do not carry one.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://halaqas.com/catalog"))

type fileFormat struct {
	Mosques []mosqueRecord `yaml:"mosques"`
	Events  []eventRecord  `yaml:"events"`
}

type mosqueRecord struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Address   string  `yaml:"address"`
	Suburb    string  `yaml:"suburb"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// eventRecord mirrors the directory's event row. Dates and times stay
// strings here so one malformed value does not reject the whole file.
type eventRecord struct {
	ID           string `yaml:"id"`
	MosqueID     string `yaml:"mosque_id"`
	VenueName    string `yaml:"venue_name"`
	VenueAddress string `yaml:"venue_address"`

	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Speaker     string `yaml:"speaker"`
	EventType   string `yaml:"event_type"`
	Language    string `yaml:"language"`
	Gender      string `yaml:"gender"`
	Status      string `yaml:"status"`

	TimeMode            string `yaml:"time_mode"`
	FixedDate           string `yaml:"fixed_date"`
	FixedTime           string `yaml:"fixed_time"`
	PrayerAnchor        string `yaml:"prayer_anchor"`
	PrayerOffsetMinutes int    `yaml:"prayer_offset_minutes"`
	IsRecurring         bool   `yaml:"is_recurring"`
	RecurrencePattern   string `yaml:"recurrence_pattern"`
	RecurrenceEndDate   string `yaml:"recurrence_end_date"`

	UpdatedAt       time.Time `yaml:"updated_at"`
	LastConfirmedAt time.Time `yaml:"last_confirmed_at"`
}

// Catalog is an immutable snapshot of the directory.
type Catalog struct {
	mosques  []model.Mosque
	byMosque map[string]int
	events   []model.Event // ordered by ID
	byEvent  map[string]int
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	appLog.Info("catalog loaded", "path", path, "mosques", len(c.mosques), "events", len(c.events))
	return c, nil
}

// Parse builds a catalog from YAML. Duplicate IDs are an error; malformed
// fields on a single event are logged and dropped.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	c := &Catalog{
		byMosque: make(map[string]int, len(f.Mosques)),
		byEvent:  make(map[string]int, len(f.Events)),
	}

	for _, r := range f.Mosques {
		m := model.Mosque{
			ID:        strings.TrimSpace(r.ID),
			Name:      strings.TrimSpace(r.Name),
			Address:   strings.TrimSpace(r.Address),
			Suburb:    strings.TrimSpace(r.Suburb),
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
		}
		if m.Name == "" {
			return nil, errors.New("mosque without a name")
		}
		if m.ID == "" {
			m.ID = uuid.NewSHA1(idNamespace, []byte("mosque|"+m.Name+"|"+m.Address)).String()
		}
		if _, dup := c.byMosque[m.ID]; dup {
			return nil, fmt.Errorf("duplicate mosque id %q", m.ID)
		}
		c.byMosque[m.ID] = len(c.mosques)
		c.mosques = append(c.mosques, m)
	}

	for _, r := range f.Events {
		ev := c.convertEvent(r)
		if _, dup := c.byEvent[ev.ID]; dup {
			return nil, fmt.Errorf("duplicate event id %q", ev.ID)
		}
		c.byEvent[ev.ID] = -1
		c.events = append(c.events, ev)
	}

	sort.Slice(c.events, func(i, j int) bool { return c.events[i].ID < c.events[j].ID })
	for i, ev := range c.events {
		c.byEvent[ev.ID] = i
	}
	return c, nil
}

func (c *Catalog) convertEvent(r eventRecord) model.Event {
	ev := model.Event{
		ID:              strings.TrimSpace(r.ID),
		MosqueID:        strings.TrimSpace(r.MosqueID),
		VenueName:       strings.TrimSpace(r.VenueName),
		VenueAddress:    strings.TrimSpace(r.VenueAddress),
		EventType:       r.EventType,
		Language:        r.Language,
		Gender:          r.Gender,
		Status:          model.EventStatus(strings.ToLower(strings.TrimSpace(r.Status))),
		UpdatedAt:       r.UpdatedAt,
		LastConfirmedAt: r.LastConfirmedAt,
		EventTimeSpec: model.EventTimeSpec{
			TimeMode:            model.TimeMode(strings.TrimSpace(r.TimeMode)),
			PrayerAnchor:        model.Prayer(r.PrayerAnchor),
			PrayerOffsetMinutes: r.PrayerOffsetMinutes,
			IsRecurring:         r.IsRecurring,
			RecurrencePattern:   model.RecurrencePattern(strings.TrimSpace(r.RecurrencePattern)),
			Title:               strings.TrimSpace(r.Title),
			Description:         strings.TrimSpace(r.Description),
			Speaker:             strings.TrimSpace(r.Speaker),
		},
	}
	if ev.ID == "" {
		key := strings.Join([]string{"event", ev.MosqueID, ev.VenueName, ev.Title, r.FixedDate}, "|")
		ev.ID = uuid.NewSHA1(idNamespace, []byte(key)).String()
	}
	if ev.Status == "" {
		ev.Status = model.StatusActive
	}

	ev.FixedDate = optionalDate(ev.ID, "fixed_date", r.FixedDate)
	ev.RecurrenceEndDate = optionalDate(ev.ID, "recurrence_end_date", r.RecurrenceEndDate)
	if s := strings.TrimSpace(r.FixedTime); s != "" {
		if clk, err := model.ParseClock(s); err == nil {
			ev.FixedTime = &clk
		} else {
			appLog.Warn("catalog: dropping malformed fixed_time", "id", ev.ID, "value", s)
		}
	}
	if ev.RecurrencePattern != "" && !ev.RecurrencePattern.Valid() {
		appLog.Warn("catalog: unknown recurrence pattern", "id", ev.ID, "pattern", string(ev.RecurrencePattern))
	}
	ev.Normalize()

	// The location line comes from the mosque when the event is held at one.
	if i, ok := c.byMosque[ev.MosqueID]; ok {
		m := c.mosques[i]
		ev.LocationName, ev.LocationAddress = m.Name, m.Address
	} else {
		if ev.MosqueID != "" {
			appLog.Warn("catalog: event references unknown mosque", "id", ev.ID, "mosque_id", ev.MosqueID)
		}
		ev.LocationName, ev.LocationAddress = ev.VenueName, ev.VenueAddress
	}
	return ev
}

func optionalDate(id, field, raw string) *model.Date {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		appLog.Warn("catalog: dropping malformed date", "id", id, "field", field, "value", raw)
		return nil
	}
	return &d
}

func (c *Catalog) Mosques() []model.Mosque {
	return append([]model.Mosque(nil), c.mosques...)
}

func (c *Catalog) Mosque(id string) (model.Mosque, error) {
	i, ok := c.byMosque[id]
	if !ok {
		return model.Mosque{}, fmt.Errorf("mosque %q: %w", id, ErrNotFound)
	}
	return c.mosques[i], nil
}

func (c *Catalog) Event(id string) (model.Event, error) {
	i, ok := c.byEvent[id]
	if !ok {
		return model.Event{}, fmt.Errorf("event %q: %w", id, ErrNotFound)
	}
	return c.events[i], nil
}

// Events returns every event, ordered by ID.
func (c *Catalog) Events() []model.Event {
	return append([]model.Event(nil), c.events...)
}

// FeedEvents selects a mosque's events for its calendar feed: active, and
// recurring, undated, or dated today or later. Order is by ID.
func (c *Catalog) FeedEvents(mosqueID string, today model.Date) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range c.events {
		if ev.MosqueID != mosqueID || ev.Status != model.StatusActive {
			continue
		}
		if ev.IsRecurring || ev.FixedDate == nil || !ev.FixedDate.Before(today) {
			out = append(out, ev)
		}
	}
	return out
}

// Filter narrows the public event listing. Zero fields match everything.
type Filter struct {
	EventType string
	Language  string
	Gender    string
	MosqueID  string
	Limit     int
}

// List returns active events matching f, ordered by ID.
func (c *Catalog) List(f Filter) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range c.events {
		if ev.Status != model.StatusActive {
			continue
		}
		if (f.EventType != "" && ev.EventType != f.EventType) ||
			(f.Language != "" && ev.Language != f.Language) ||
			(f.Gender != "" && ev.Gender != f.Gender) ||
			(f.MosqueID != "" && ev.MosqueID != f.MosqueID) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Store holds the current catalog and swaps in reloads atomically.
type Store struct {
	path string
	cur  atomic.Pointer[Catalog]
}

// NewStore loads path once; an initial load failure is returned.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore wraps an already-built catalog; Reload is a no-op.
func NewStaticStore(c *Catalog) *Store {
	s := &Store{}
	s.cur.Store(c)
	return s
}

// Reload re-reads the file. On failure the previous catalog stays current.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	c, err := Load(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(c)
	return nil
}

func (s *Store) Current() *Catalog {
	return s.cur.Load()
}
