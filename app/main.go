package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"newshook/app/cfg"
	"newshook/app/database"
	"newshook/app/discord"
	"newshook/app/feed"
	"newshook/app/pipeline"
)

func main() {
	// Optional .env for local runs; in production everything arrives via
	// real environment variables.
	godotenv.Load()

	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	setupLogging(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("Run aborted", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting newshook run", "version", appCfg.Version, "initialize", appCfg.Initialize)

	db, err := database.Open(appCfg.DBPath, appCfg.Initialize)
	if err != nil {
		return err
	}
	defer db.Close()

	itemRepo := database.NewItemRepository(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	fetcher := feed.NewFetcher(httpClient, appCfg.UserAgent, time.Duration(appCfg.FetchTimeout)*time.Second)
	parser := feed.NewParser()
	resolver := feed.NewLinkResolver(httpClient, appCfg.OriginLink)
	client := discord.NewClient(httpClient, appCfg.WebhookURL, appCfg.Username, appCfg.AvatarURL)

	runner := pipeline.NewRunner(appCfg, fetcher, parser, resolver, itemRepo, client)

	report, err := runner.Run(context.Background())
	if err != nil {
		return err
	}

	// Per-item delivery failures are deferred to the next scheduled run,
	// not treated as a failed run.
	slog.Info("Run complete",
		"feed_url", report.FeedURL,
		"fetched", report.Fetched,
		"eligible", report.Eligible,
		"new", report.New,
		"delivered", report.Delivered,
		"failed", report.Failed)

	return nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
