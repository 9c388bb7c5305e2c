package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Macroscope/models"
)

// Options configures the acquisition policy.
type Options struct {
	// LookbackDays is the calendar history requested from the provider.
	LookbackDays int
	// MinPoints rejects series too short to trust; a short result is
	// treated the same as a fetch failure.
	MinPoints int
	// MaxAttempts is the total number of fetch attempts per symbol.
	MaxAttempts int
	// RetryDelay is the constant pause between attempts.
	RetryDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.LookbackDays == 0 {
		o.LookbackDays = 730
	}
	if o.MinPoints == 0 {
		o.MinPoints = 215
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// Store fetches and caches raw daily series per symbol. Data problems
// never surface as errors: an empty series is the failure marker, and
// callers degrade the affected indicator to Gray. The cache lives for
// one run only.
type Store struct {
	source models.MarketDataSource
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]models.Series
}

// New creates a run-scoped store over a data source.
func New(source models.MarketDataSource, opts Options) *Store {
	opts.applyDefaults()
	return &Store{
		source: source,
		opts:   opts,
		logger: log.With().Str("component", "series_store").Logger(),
		cache:  make(map[string]models.Series),
	}
}

// Fetch returns the series for a symbol, retrying a few times with a
// constant backoff. Soft-fails to an empty series. Results, including
// failures, are cached so shared legs are fetched once per run.
func (s *Store) Fetch(ctx context.Context, symbol string) models.Series {
	s.mu.Lock()
	if cached, ok := s.cache[symbol]; ok {
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	series := s.fetchWithRetry(ctx, symbol)

	s.mu.Lock()
	s.cache[symbol] = series
	s.mu.Unlock()

	return series
}

// FetchSpec resolves a plain symbol spec, switching to the fallback
// symbol when the primary returns nothing or too little history. The
// returned label names whichever symbol actually served.
func (s *Store) FetchSpec(ctx context.Context, spec models.SeriesSpec) models.Series {
	series := s.Fetch(ctx, spec.Symbol)
	if series.Len() >= s.opts.MinPoints {
		return series
	}

	if spec.Fallback == "" {
		return series
	}

	s.logger.Warn().
		Str("symbol", spec.Symbol).
		Str("fallback", spec.Fallback).
		Int("points", series.Len()).
		Msg("Primary symbol invalid, switching to fallback")

	return s.Fetch(ctx, spec.Fallback)
}

// MinPoints exposes the minimum-history requirement so downstream
// stages apply the same bar.
func (s *Store) MinPoints() int { return s.opts.MinPoints }

func (s *Store) fetchWithRetry(ctx context.Context, symbol string) models.Series {
	var series models.Series
	operation := func() error {
		fetched, err := s.source.FetchHistory(ctx, symbol, s.opts.LookbackDays)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", symbol, err)
		}
		fetched = fetched.DropNonPositive()
		if fetched.Len() < s.opts.MinPoints {
			return fmt.Errorf("fetch %s: %d points, need %d", symbol, fetched.Len(), s.opts.MinPoints)
		}
		series = fetched
		return nil
	}

	strategy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(s.opts.RetryDelay),
		uint64(s.opts.MaxAttempts-1),
	)

	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Fetch failed after retries")
		return models.Series{Label: symbol}
	}

	return series
}
