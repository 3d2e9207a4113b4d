package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/darshan-rambhia/devwatch/internal/auth"
	"github.com/darshan-rambhia/devwatch/internal/config"
	"github.com/darshan-rambhia/devwatch/internal/notify"
	"github.com/darshan-rambhia/devwatch/internal/passhash"
	"github.com/darshan-rambhia/devwatch/internal/store"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// buildInfo returns version, commit, build time, and VCS details from the
// embedded Go build info. ldflags-injected values take priority; VCS info
// from debug.ReadBuildInfo fills in anything left as default.
func buildInfo() (ver, sha, built, dirty string) {
	ver = version
	sha = commit
	built = buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}

	return
}

func newLogger(cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	configPath := flag.String("config", "", "path to devwatch.yml config file")
	envFile := flag.String("env-file", "", "optional .env file loaded before DEVWATCH_* overrides")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()

	if *showVersion {
		fmt.Printf("devwatch %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Variables already set in the process environment win over the file.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: loading env file (%s): %s\n", *envFile, err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Run without -config to start with defaults, or create the file first.\n")
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg))

	slog.Info("starting devwatch",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"db_path", cfg.DBPath,
	)

	// Notification fan-out
	hub := notify.NewHub()
	hub.Subscribe(notify.LogListener{})
	var webhooks []*notify.WebhookProvider
	for _, ncfg := range cfg.Notifications {
		if ncfg.Type == "webhook" {
			w := notify.NewWebhook(ncfg.URL, ncfg.Method, ncfg.Headers)
			hub.Subscribe(w)
			webhooks = append(webhooks, w)
		}
	}

	// Initialize store
	hasher := passhash.New(cfg.PasswordPepper, passhash.Params{
		Time:    cfg.Argon2.Time,
		Memory:  cfg.Argon2.Memory,
		Threads: cfg.Argon2.Threads,
		KeyLen:  cfg.Argon2.KeyLen,
	})
	st := store.New(cfg.DBPath, store.WithHasher(hasher), store.WithNotifier(hub))
	if err := st.Open(); err != nil {
		slog.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	created, err := auth.EnsureDefaultAdmin(st, auth.BootstrapAdmin(cfg.BootstrapAdmin))
	if err != nil {
		slog.Error("bootstrapping admin account", "error", err)
		os.Exit(1)
	}

	session := auth.NewSession(st,
		auth.WithNotifier(hub),
		auth.WithTimeout(cfg.Session.Timeout.Duration),
		auth.WithWarningThreshold(cfg.Session.Warning.Duration),
		auth.WithCheckInterval(cfg.Session.CheckInterval.Duration),
	)

	// Setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return session.Run(ctx) })

	for _, w := range webhooks {
		g.Go(func() error { return w.Run(ctx) })
	}

	retention := store.RetentionConfig{
		MonitorData:    cfg.Retention.MonitorData.Duration,
		SystemLogs:     cfg.Retention.SystemLogs.Duration,
		ResolvedAlarms: cfg.Retention.ResolvedAlarms.Duration,
	}
	if retention.Enabled() {
		pruner := store.NewPruner(st, retention, cfg.Retention.Interval.Duration)
		g.Go(func() error { return pruner.Run(ctx) })
	}

	slog.Info("all components started",
		"admin_created", created,
		"schema_version", schemaVersion(st),
		"notifications", len(webhooks),
		"pruning", retention.Enabled(),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
	}

	session.Logout()
	slog.Info("devwatch stopped gracefully")
}

func schemaVersion(st *store.Store) int {
	v, err := st.SchemaVersion()
	if err != nil {
		return 0
	}
	return v
}
