package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/sabs90/halaqas/internal/catalog"
	"github.com/sabs90/halaqas/internal/config"
	"github.com/sabs90/halaqas/internal/feeds"
	"github.com/sabs90/halaqas/internal/ics"
	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/metrics"
	"github.com/sabs90/halaqas/internal/prayer"
	"github.com/sabs90/halaqas/internal/publish"
	"github.com/sabs90/halaqas/internal/resolve"
	"github.com/sabs90/halaqas/internal/web"
)

var version = "dev"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	check      string
	checkDays  int
}

func main() {
	flags := parseFlags()

	if flags.check != "" {
		if err := runCheck(os.Stdout, flags.check, flags.checkDays); err != nil {
			appLog.Error("check failed", err, "file", flags.check)
			os.Exit(1)
		}
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Warn("failed to load .env", "err", err.Error())
	}

	appLog.Info("halaqas-cal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(os.Getenv); err != nil {
		appLog.Error("invalid environment override", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"catalog", conf.CatalogPath,
		"output_dir", conf.OutputDir,
		"refresh", conf.RefreshCron,
		"prayer_source", conf.Prayer.Source,
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("halaqas-cal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("halaqas-cal exiting")
}

// run wires the application and blocks until ctx is cancelled, or returns
// after a single publish when once is set.
func run(ctx context.Context, conf *config.Config, once bool) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}
	zone, err := ics.LookupZone(conf.Timezone)
	if err != nil {
		return err
	}
	prayers, err := newPrayerSource(conf, loc)
	if err != nil {
		return err
	}
	store, err := catalog.NewStore(conf.CatalogPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	res := &resolve.Resolver{Location: loc, Prayers: prayers}
	svc := &feeds.Service{
		Store: store,
		Generator: &ics.Generator{
			Resolver: res,
			Zone:     zone,
			ProdID:   conf.ProdID,
			SiteURL:  conf.SiteURL,
			Footer:   conf.Footer,
			Domain:   conf.UIDDomain,
			Metrics:  m,
		},
		Location:       loc,
		CalendarSuffix: conf.CalendarSuffix,
	}
	pub := &publish.Publisher{
		Feeds:     svc,
		OutputDir: conf.OutputDir,
		Schedule:  conf.RefreshCron,
		Metrics:   m,
	}

	if once {
		r, err := pub.RunOnce(ctx)
		appLog.Info("single run complete", "written", len(r.Written), "skipped_events", r.Skipped)
		return err
	}

	srv := web.NewServer(conf, svc, res, m)
	pub.AfterRun = srv.InvalidateFeeds

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- pub.Run(ctx) }()
	go func() { errCh <- web.StartServer(ctx, srv, conf.Listen) }()

	var firstErr error
	for n := 0; n < 2; n++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			// One half failing takes the other down with it.
			cancel()
		}
	}
	return firstErr
}

func newPrayerSource(conf *config.Config, loc *time.Location) (prayer.Source, error) {
	p := conf.Prayer
	switch p.Source {
	case config.PrayerSourceTimetable:
		tt, err := prayer.LoadTimetable(p.TimetablePath, loc)
		if err != nil {
			return nil, err
		}
		appLog.Info("prayer timetable loaded", "path", p.TimetablePath, "days", tt.Len())
		return tt, nil
	default:
		return prayer.NewAlAdhan(prayer.AlAdhanOptions{
			BaseURL:   p.BaseURL,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Method:    p.Method,
			School:    p.School,
			Location:  loc,
			CacheDir:  p.CacheDir,
			Timeout:   time.Duration(p.TimeoutSeconds) * time.Second,
		}), nil
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Reload the catalog, publish every feed once and exit")
	flag.StringVar(&cfg.check, "check", "", "Parse an .ics file, list its upcoming occurrences and exit")
	flag.IntVar(&cfg.checkDays, "check-days", 30, "Window in days for -check")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	return cfg
}
