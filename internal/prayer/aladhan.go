package prayer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/model"
)

const (
	DefaultAlAdhanURL = "https://api.aladhan.com"

	// MethodMuslimWorldLeague is the Al Adhan method id for MWL parameters.
	MethodMuslimWorldLeague = 3
	// SchoolStandard selects the standard (Shafi'i) Asr shadow length.
	SchoolStandard = 0
)

// AlAdhanOptions configures an AlAdhan source.
type AlAdhanOptions struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Method    int
	School    int
	Location  *time.Location
	// CacheDir holds one subdirectory per requested URL. Empty disables
	// the disk cache.
	CacheDir string
	Timeout  time.Duration
	Client   *http.Client
}

// AlAdhan fetches daily timings from the Al Adhan API, caching each
// response on disk. Timings for a fixed date and place never change, so a
// cached body is served without a network round trip.
type AlAdhan struct {
	client   *http.Client
	baseURL  string
	lat, lng float64
	method   int
	school   int
	loc      *time.Location
	cacheDir string
}

// cacheEntry holds metadata for a single cached timings response.
type cacheEntry struct {
	URL       string    `json:"url"`
	Date      string    `json:"date"`
	UpdatedAt time.Time `json:"updated_at"`
}

type timingsResponse struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
	Data   struct {
		Timings map[string]string `json:"timings"`
	} `json:"data"`
}

func NewAlAdhan(opts AlAdhanOptions) *AlAdhan {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultAlAdhanURL
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &AlAdhan{
		client:   client,
		baseURL:  base,
		lat:      opts.Latitude,
		lng:      opts.Longitude,
		method:   opts.Method,
		school:   opts.School,
		loc:      loc,
		cacheDir: opts.CacheDir,
	}
}

// Times implements Source.
func (a *AlAdhan) Times(ctx context.Context, date model.Date) (Times, error) {
	u := a.timingsURL(date)

	var cachePath string
	if a.cacheDir != "" {
		cachePath = a.cachePathForURL(u)
		if body, err := os.ReadFile(filepath.Join(cachePath, "body.json")); err == nil {
			t, perr := a.decode(date, body)
			if perr == nil {
				appLog.Debug("prayer times from cache", "date", date.String())
				return t, nil
			}
			appLog.Error("prayer cache entry unreadable; refetching", perr, "date", date.String())
		}
	}

	body, err := a.fetch(ctx, u)
	if err != nil {
		return Times{}, fmt.Errorf("aladhan %s: %w", date, err)
	}
	t, err := a.decode(date, body)
	if err != nil {
		return Times{}, fmt.Errorf("aladhan %s: %w", date, err)
	}

	if cachePath != "" {
		meta := cacheEntry{URL: u, Date: date.String()}
		if err := saveCache(cachePath, meta, body); err != nil {
			// Log but still return the freshly fetched timings.
			appLog.Error("prayer cache save failed", err, "date", date.String())
		}
	}
	return t, nil
}

func (a *AlAdhan) timingsURL(date model.Date) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(a.lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(a.lng, 'f', 4, 64))
	q.Set("method", strconv.Itoa(a.method))
	q.Set("school", strconv.Itoa(a.school))
	q.Set("timezonestring", a.loc.String())
	path := fmt.Sprintf("/v1/timings/%02d-%02d-%04d", date.Day, int(date.Month), date.Year)
	return a.baseURL + path + "?" + q.Encode()
}

func (a *AlAdhan) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func (a *AlAdhan) decode(date model.Date, body []byte) (Times, error) {
	var r timingsResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Times{}, fmt.Errorf("decode timings: %w", err)
	}
	if r.Code != 0 && r.Code != http.StatusOK {
		return Times{}, fmt.Errorf("timings api: %d %s", r.Code, r.Status)
	}
	clocks := make(map[string]string, len(r.Data.Timings))
	for k, v := range r.Data.Timings {
		clocks[strings.ToLower(k)] = v
	}
	return fromClocks(date, clocks, a.loc)
}

func (a *AlAdhan) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(a.cacheDir, hex.EncodeToString(sum[:8]))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
