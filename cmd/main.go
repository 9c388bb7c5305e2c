package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Macroscope/config"
	"github.com/Alias1177/Macroscope/internal/api/twelvedata"
	"github.com/Alias1177/Macroscope/internal/classify"
	"github.com/Alias1177/Macroscope/internal/composite"
	"github.com/Alias1177/Macroscope/internal/notify"
	"github.com/Alias1177/Macroscope/internal/pipeline"
	"github.com/Alias1177/Macroscope/internal/report"
	"github.com/Alias1177/Macroscope/internal/score"
	"github.com/Alias1177/Macroscope/internal/store"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		log.Fatal().Err(err).Str("path", configPath).Msg("Configuration invalid")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl)

	if cfg.TwelveAPIKey == "" {
		log.Fatal().Msg("TWELVE_API_KEY not set in environment")
	}

	source := twelvedata.NewClient(twelvedata.ClientOptions{
		APIKey:          cfg.TwelveAPIKey,
		RequestTimeout:  cfg.Fetch.RequestTimeout,
		RequestsPerSec:  cfg.Fetch.RequestsPerSec,
		MaxRetryTimeout: cfg.Fetch.RequestTimeout,
	})

	scorer := score.New(score.Params{
		WindowLong:        cfg.Scoring.WindowLong,
		ToleranceFraction: cfg.Scoring.ToleranceFraction,
		ClipZ:             cfg.Scoring.ClipZ,
		DispersionFloor:   cfg.Scoring.DispersionFloor,
		Robust:            cfg.Scoring.Robust,
	})

	seriesStore := store.New(source, store.Options{
		LookbackDays: cfg.Fetch.LookbackDays,
		MinPoints:    scorer.Params().MinObservations(),
		MaxAttempts:  cfg.Fetch.MaxAttempts,
		RetryDelay:   cfg.Fetch.RetryDelay,
	})

	classifier := classify.New(cfg.Thresholds)
	engine := composite.New(cfg.Weights(), cfg.Vetoes, cfg.Bands)

	dims := make([]pipeline.DimensionDef, 0, len(cfg.Dimensions))
	for _, d := range cfg.Dimensions {
		dims = append(dims, pipeline.DimensionDef{Key: d.Key, Title: d.Title, Weight: d.Weight})
	}

	p := pipeline.New(seriesStore, scorer, classifier, engine, pipeline.Options{
		Title:            cfg.Title,
		Dimensions:       dims,
		Indicators:       cfg.IndicatorModels(),
		FetchConcurrency: cfg.Fetch.Concurrency,
	})

	ctx := context.Background()
	result := p.Run(ctx)

	console := report.NewConsole(os.Stdout)
	if err := console.Publish(ctx, result); err != nil {
		log.Error().Err(err).Msg("Console output failed")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		notifier, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			log.Error().Err(err).Msg("Telegram notifier unavailable")
		} else if err := notifier.Publish(ctx, result); err != nil {
			log.Error().Err(err).Msg("Telegram alert failed")
		}
	}
}
