// Package publish writes every mosque's feed to disk on a schedule so a
// static file server or CDN can serve them.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sabs90/halaqas/internal/feeds"
	"github.com/sabs90/halaqas/internal/fsutil"
	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/metrics"
)

type Publisher struct {
	Feeds *feeds.Service

	// OutputDir receives <mosque-id>.ics. Empty means reload only.
	OutputDir string

	// Schedule is a standard five-field cron expression.
	Schedule string

	Metrics *metrics.Metrics

	// AfterRun is called after every run, e.g. to drop HTTP caches.
	AfterRun func()
}

// Result summarizes one run.
type Result struct {
	Written []string
	Skipped int // events left out across all feeds
}

// RunOnce reloads the catalog and writes every feed. A failed reload keeps
// the previous catalog and still publishes. Per-mosque failures are joined.
func (p *Publisher) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	if err := p.Feeds.Store.Reload(); err != nil {
		appLog.Error("publish: catalog reload failed; keeping previous catalog", err)
		errs = append(errs, err)
	}
	defer func() {
		if p.AfterRun != nil {
			p.AfterRun()
		}
	}()

	if p.OutputDir == "" {
		return res, errors.Join(errs...)
	}

	for _, m := range p.Feeds.Store.Current().Mosques() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		feed, err := p.Feeds.MosqueFeed(ctx, m.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("mosque %s: %w", m.ID, err))
			continue
		}
		path := filepath.Join(p.OutputDir, m.ID+".ics")
		if err := fsutil.WriteFileAtomic(path, []byte(feed.Body), 0o644, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", path, err))
			continue
		}
		res.Written = append(res.Written, path)
		res.Skipped += len(feed.Stats.Skipped)
	}

	err := errors.Join(errs...)
	if err == nil {
		p.Metrics.Published(time.Now())
	}
	appLog.Info("publish: run finished", "written", len(res.Written), "skipped_events", res.Skipped, "errors", len(errs))
	return res, err
}

// Run publishes once immediately, then on Schedule until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(p.location()))
	_, err := c.AddFunc(p.Schedule, func() {
		if _, err := p.RunOnce(ctx); err != nil {
			appLog.Error("publish: scheduled run had errors", err)
		}
	})
	if err != nil {
		return fmt.Errorf("publish schedule %q: %w", p.Schedule, err)
	}

	if _, err := p.RunOnce(ctx); err != nil {
		appLog.Error("publish: initial run had errors", err)
	}

	c.Start()
	appLog.Info("publish: scheduler started", "schedule", p.Schedule, "output_dir", p.OutputDir)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (p *Publisher) location() *time.Location {
	if p.Feeds.Location != nil {
		return p.Feeds.Location
	}
	return time.Local
}
