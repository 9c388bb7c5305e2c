package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Alias1177/Macroscope/models"

	"github.com/Alias1177/Macroscope/internal/align"
	"github.com/Alias1177/Macroscope/internal/classify"
	"github.com/Alias1177/Macroscope/internal/composite"
	"github.com/Alias1177/Macroscope/internal/score"
	"github.com/Alias1177/Macroscope/internal/store"
)

// DimensionDef carries presentation-facing dimension metadata through
// to the report.
type DimensionDef struct {
	Key    string
	Title  string
	Weight float64
}

// Pipeline runs one finite batch: fetch everything, score every
// indicator, aggregate, hand the report off. No state survives a run.
type Pipeline struct {
	store      *store.Store
	scorer     *score.Scorer
	classifier *classify.Classifier
	engine     *composite.Engine

	title      string
	dimensions []DimensionDef
	indicators []models.Indicator
	fetchLimit int

	logger zerolog.Logger
}

// Options wires a pipeline.
type Options struct {
	Title      string
	Dimensions []DimensionDef
	Indicators []models.Indicator
	// FetchConcurrency bounds the symbol fetch pool.
	FetchConcurrency int
}

// New assembles a pipeline from its stages.
func New(st *store.Store, sc *score.Scorer, cl *classify.Classifier, en *composite.Engine, opts Options) *Pipeline {
	limit := opts.FetchConcurrency
	if limit <= 0 {
		limit = 8
	}
	return &Pipeline{
		store:      st,
		scorer:     sc,
		classifier: cl,
		engine:     en,
		title:      opts.Title,
		dimensions: opts.Dimensions,
		indicators: opts.Indicators,
		fetchLimit: limit,
		logger:     log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the batch. It never fails on data problems: every
// indicator produces exactly one scored result, Gray when its source
// degraded, and the report is always complete and consistently shaped.
func (p *Pipeline) Run(ctx context.Context) *models.Report {
	start := time.Now()
	p.prefetch(ctx)

	scored := make([]models.ScoredIndicator, 0, len(p.indicators))
	for _, ind := range p.indicators {
		scored = append(scored, p.evaluate(ctx, ind))
	}

	report := &models.Report{
		Title:       p.title,
		GeneratedAt: time.Now(),
		Sections:    p.sections(scored),
		Assessment:  p.engine.Assess(scored),
	}

	p.logger.Info().
		Int("indicators", len(scored)).
		Float64("score", report.Assessment.WeightedScore).
		Str("level", string(report.Assessment.OverallLevel)).
		Dur("elapsed", time.Since(start)).
		Msg("Batch run complete")

	return report
}

// prefetch warms the store for every unique primary symbol and derived
// leg through a bounded pool. Fetching is the only parallel phase;
// failures only empty that symbol's cache slot.
func (p *Pipeline) prefetch(ctx context.Context) {
	symbols := p.uniqueSymbols()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetchLimit)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			p.store.Fetch(gctx, symbol)
			return nil
		})
	}
	// Fetch tasks never return errors; data failures are soft.
	_ = g.Wait()

	p.logger.Debug().Int("symbols", len(symbols)).Msg("Prefetch complete")
}

func (p *Pipeline) uniqueSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(symbol string) {
		if symbol != "" && !seen[symbol] {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	for _, ind := range p.indicators {
		if ind.Spec.Derived != nil {
			add(ind.Spec.Derived.Left)
			add(ind.Spec.Derived.Right)
			continue
		}
		add(ind.Spec.Symbol)
	}
	return out
}

// evaluate resolves and scores one indicator. Any data failure along
// the way degrades this indicator alone.
func (p *Pipeline) evaluate(ctx context.Context, ind models.Indicator) models.ScoredIndicator {
	series := p.resolve(ctx, ind.Spec)

	res := p.scorer.Score(series, ind.Direction)
	level, status := p.classifier.Classify(res, ind)

	ticker := series.Label
	if ticker == "" {
		ticker = ind.Spec.Symbol
	}

	return models.ScoredIndicator{
		Name:      ind.Name,
		Ticker:    ticker,
		Current:   res.Current,
		Bias:      res.Bias,
		RiskZ:     res.RiskZ,
		Level:     level,
		Status:    status,
		Rationale: ind.Rationale,
		Dimension: ind.Dimension,
	}
}

func (p *Pipeline) resolve(ctx context.Context, spec models.SeriesSpec) models.Series {
	if spec.Derived != nil {
		left := p.store.Fetch(ctx, spec.Derived.Left)
		right := p.store.Fetch(ctx, spec.Derived.Right)
		return align.Synthesize(spec.Derived.Op, left, right, p.store.MinPoints())
	}
	return p.store.FetchSpec(ctx, spec)
}

// sections groups scored indicators by configured dimension order.
func (p *Pipeline) sections(scored []models.ScoredIndicator) []models.DimensionSection {
	byDim := make(map[string][]models.ScoredIndicator)
	for _, item := range scored {
		byDim[item.Dimension] = append(byDim[item.Dimension], item)
	}

	out := make([]models.DimensionSection, 0, len(p.dimensions))
	for _, dim := range p.dimensions {
		out = append(out, models.DimensionSection{
			Key:        dim.Key,
			Title:      dim.Title,
			Weight:     dim.Weight,
			Indicators: byDim[dim.Key],
		})
	}
	return out
}
