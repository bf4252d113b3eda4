package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"apptcal/internal/appointment"
	"apptcal/internal/calendar"
	"apptcal/internal/config"
	"apptcal/internal/ics"
	appLog "apptcal/internal/log"
	"apptcal/internal/recurrence"
	"apptcal/internal/web"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath  string
	listen      string
	debug       bool
	once        bool
	writeConfig bool
}

func main() {
	appLog.Info("apptcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.writeConfig {
		if err := conf.Save(flags.configPath); err != nil {
			appLog.Error("failed to write config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Info("config written", "config_path", flags.configPath)
		return
	}

	if lvl, ok := appLog.ParseLevel(conf.LogLevel); ok {
		appLog.SetLevel(lvl)
	}
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"max_occurrences", conf.MaxOccurrences,
		"feed_count", len(conf.Feeds),
	)

	store := calendar.NewStore()
	syncer := newSyncer(conf, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		if err := syncer.Refresh(ctx); err != nil {
			appLog.Error("refresh failed", err)
			os.Exit(1)
		}
		appLog.Info("refresh complete", "entries", store.Len())
		return
	}

	var refresher web.Refresher
	if len(syncer.Sources) > 0 {
		refresher = syncer
	}

	sched := cron.New()
	if refresher != nil {
		if _, err := sched.AddFunc(conf.RefreshCron, func() { runRefresh(ctx, syncer) }); err != nil {
			appLog.Error("failed to schedule refresh", err, "spec", conf.RefreshCron)
			os.Exit(1)
		}
		go runRefresh(ctx, syncer)
	}
	sched.Start()

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, store, refresher).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLog.Info("web server listening", "addr", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("web server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("web server shutdown", err)
	}
	appLog.Info("apptcal exiting")
}

func newSyncer(conf *config.Config, store *calendar.Store) *ics.Syncer {
	sources := make([]ics.Source, 0, len(conf.Feeds))
	for _, f := range conf.Feeds {
		sources = append(sources, ics.Source{ID: f.SourceID(), URL: f.URL})
	}
	return &ics.Syncer{
		Fetcher:  ics.NewFetcher(nil),
		Store:    store,
		Sources:  sources,
		Location: conf.Location(),
		Materializer: appointment.Materializer{
			Expander:        recurrence.Expander{MaxOccurrences: conf.MaxOccurrences},
			DefaultDuration: conf.DefaultDurationHours,
		},
		Backfill: 24 * time.Hour,
		Horizon:  time.Duration(conf.HorizonDays) * 24 * time.Hour,
	}
}

func runRefresh(ctx context.Context, s *ics.Syncer) {
	start := time.Now()
	if err := s.Refresh(ctx); err != nil {
		appLog.Warn("scheduled refresh finished with errors", "err", err.Error())
	}
	appLog.Debug("refresh pass done", "elapsed", time.Since(start).Round(time.Millisecond).String())
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/apptcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&cfg.once, "once", false, "Refresh all feeds once and exit")
	flag.BoolVar(&cfg.writeConfig, "write-config", false, "Write the normalized config (with -listen applied) back to -config and exit")

	flag.Parse()

	return cfg
}
