package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"schedmaker/internal/assemble"
	"schedmaker/internal/config"
	"schedmaker/internal/ics"
	appLog "schedmaker/internal/log"
	"schedmaker/internal/refresh"
	"schedmaker/internal/source"
	"schedmaker/internal/timetable"
	"schedmaker/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath  string
	listen      string
	once        bool
	coursesPath string
	outPath     string
}

func main() {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to read .env", "error", err.Error())
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Warn("could not write default config; continuing with defaults",
			"config_path", flags.configPath, "error", err.Error())
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("schedmaker starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"term_source", conf.TermSource,
		"slots_source", conf.SlotsSource,
		"reload", conf.Reload,
		"basic_auth", conf.BasicAuth != nil,
		"once", flags.once,
	)

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := source.NewFetcher(conf.CacheDir)
	store := timetable.NewStore(nil)
	refresher := refresh.New(store, func(ctx context.Context) (*timetable.Snapshot, error) {
		return timetable.LoadSnapshot(ctx, fetcher, conf.TermSource, conf.SlotsSource, loc)
	})

	if flags.once {
		if err := runOnce(ctx, conf, refresher, store, flags); err != nil {
			appLog.Error("one-shot run failed", err)
			os.Exit(1)
		}
		return
	}

	// The server starts even if the first load fails; /health reports 503
	// until a reload succeeds.
	_ = refresher.Reload(ctx)
	if conf.Reload != "" {
		if err := refresher.Start(ctx, conf.Reload); err != nil {
			appLog.Error("failed to schedule reload", err)
			os.Exit(1)
		}
	}

	srv := web.NewServer(conf, store, refresher.LastError)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("HTTP server error", err)
		os.Exit(1)
	}
	appLog.Info("schedmaker exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", envOr("SCHEDMAKER_CONFIG", "./config.yaml"), "Path to config file")
	flag.StringVar(&cfg.listen, "listen", os.Getenv("SCHEDMAKER_LISTEN"), "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Generate one calendar from -courses and exit")
	flag.StringVar(&cfg.coursesPath, "courses", "courses.yaml", "YAML course list used with -once")
	flag.StringVar(&cfg.outPath, "out", "", "Output .ics path used with -once (defaults to output_name)")

	flag.Parse()

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runOnce(ctx context.Context, conf *config.Config, r *refresh.Refresher, store *timetable.Store, flags flagConfig) error {
	if err := r.Reload(ctx); err != nil {
		return err
	}
	snap := store.Current()

	data, err := os.ReadFile(flags.coursesPath)
	if err != nil {
		return err
	}
	entries, err := assemble.ParseCourses(data)
	if err != nil {
		return err
	}

	events, err := assemble.Assemble(entries, snap, nil)
	if err != nil {
		return err
	}
	body, err := ics.Encode(events, ics.EncodeOptions{
		ProductID: conf.ProductID,
		Timezone:  snap.Term.Location.String(),
	})
	if err != nil {
		return err
	}

	out := flags.outPath
	if out == "" {
		out = conf.OutputName
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return err
	}
	appLog.Info("calendar written", "path", out, "events", len(events), "bytes", len(body))
	return nil
}
