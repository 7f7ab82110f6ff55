package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"homedash/internal/bot"
	"homedash/internal/config"
	"homedash/internal/filter"
	"homedash/internal/health"
	"homedash/internal/notify"
	"homedash/internal/provider"
	"homedash/internal/provider/gmail"
	"homedash/internal/provider/news"
	"homedash/internal/provider/trello"
	"homedash/internal/provider/weather"
	"homedash/internal/provider/wordpress"
	"homedash/internal/scheduler"
	"homedash/internal/state"
	"homedash/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	st := state.New(store, log.With("component", "state"))

	matcher, err := filter.NewMatcher(cfg.Dashboard.News.Rules)
	if err != nil {
		log.Error("compile news rules", "error", err)
		os.Exit(1)
	}

	api, err := bot.NewAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	providerLog := log.With("component", "provider")
	wp := wordpress.New(httpClient, provider.DefaultRetry, providerLog.With("provider", "wordpress"))
	boards := trello.New(httpClient, trello.DefaultBaseURL, provider.DefaultRetry, providerLog.With("provider", "trello"))

	dispatcher := notify.New(bot.NewSink(api, st), st, log.With("component", "notify"))

	monitor := health.New(
		cfg.Dashboard.MonitoredSites(),
		wp,
		health.NewHTTPProber(httpClient),
		dispatcher,
		log.With("component", "health"),
	)

	src := scheduler.Sources{
		Forms:   wp,
		Mail:    gmail.New(provider.DefaultRetry, providerLog.With("provider", "gmail")),
		Cards:   boards,
		Weather: weather.New(httpClient, weather.DefaultBaseURL, provider.DefaultRetry, providerLog.With("provider", "weather")),
		News:    news.New(httpClient, matcher, providerLog.With("provider", "news")),
	}

	opts := scheduler.Options{
		Interval:  cfg.PollInterval,
		MailLimit: cfg.GmailMaxResults,
		Retention: cfg.IDSetRetention,
		NewsFeeds: cfg.Dashboard.News.Feeds,
	}
	if w := cfg.Dashboard.Weather; w != nil {
		opts.Location = &scheduler.Location{Label: w.Label, Latitude: w.Latitude, Longitude: w.Longitude}
	}

	sched := scheduler.New(st, monitor, src, dispatcher, opts, log.With("component", "scheduler"))
	b := bot.New(api, st, sched, boards, cfg, log.With("component", "bot"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting dashboard",
		"sites", len(cfg.Dashboard.Sites),
		"feeds", len(cfg.Dashboard.News.Feeds),
		"interval", cfg.PollInterval,
	)

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("dashboard stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
