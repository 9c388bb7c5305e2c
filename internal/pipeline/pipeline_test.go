package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Macroscope/models"

	"github.com/Alias1177/Macroscope/internal/classify"
	"github.com/Alias1177/Macroscope/internal/composite"
	"github.com/Alias1177/Macroscope/internal/score"
	"github.com/Alias1177/Macroscope/internal/store"
)

type stubSource struct {
	mu     sync.Mutex
	series map[string]models.Series
}

func (s *stubSource) FetchHistory(_ context.Context, symbol string, _ int) (models.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if series, ok := s.series[symbol]; ok {
		return series, nil
	}
	return models.Series{}, errors.New("unknown symbol")
}

func genSeries(label string, n int, f func(i int) float64) models.Series {
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	points := make([]models.PricePoint, n)
	for i := 0; i < n; i++ {
		points[i] = models.PricePoint{Date: base.AddDate(0, 0, i), Value: f(i)}
	}
	return models.NewSeries(label, points)
}

func flatSeries(label string, n int, v float64) models.Series {
	return genSeries(label, n, func(int) float64 { return v })
}

// spikeSeries ends with one extreme final observation.
func spikeSeries(label string, n int, base, last float64) models.Series {
	return genSeries(label, n, func(i int) float64 {
		if i == n-1 {
			return last
		}
		return base
	})
}

func newTestPipeline(source models.MarketDataSource, weights map[string]float64, vetoes []composite.VetoRule, dims []DimensionDef, indicators []models.Indicator) *Pipeline {
	scorer := score.New(score.Params{WindowLong: 40})
	st := store.New(source, store.Options{
		MinPoints:   scorer.Params().MinObservations(),
		MaxAttempts: 1,
		RetryDelay:  time.Millisecond,
	})
	return New(st, scorer, classify.New(models.Thresholds{}), composite.New(weights, vetoes, composite.Bands{}), Options{
		Title:      "test dashboard",
		Dimensions: dims,
		Indicators: indicators,
	})
}

func TestRun_VetoForcesCrisisOverLowScore(t *testing.T) {
	source := &stubSource{series: map[string]models.Series{
		"VIX": spikeSeries("VIX", 200, 20, 80),  // spike up: red for high_is_risk
		"HYG": spikeSeries("HYG", 200, 100, 40), // crash: red for low_is_risk
		"TNX": flatSeries("TNX", 200, 4.2),
		"BTC": flatSeries("BTC", 200, 60000),
	}}

	dims := []DimensionDef{
		{Key: "E", Title: "Expectation", Weight: 0.1},
		{Key: "S", Title: "Structure", Weight: 0.1},
		{Key: "P", Title: "Power", Weight: 0.4},
		{Key: "T", Title: "Technology", Weight: 0.4},
	}
	indicators := []models.Indicator{
		{Name: "fear", Dimension: "E", Spec: models.SeriesSpec{Symbol: "VIX"}, Direction: models.HighIsRisk},
		{Name: "credit", Dimension: "S", Spec: models.SeriesSpec{Symbol: "HYG"}, Direction: models.LowIsRisk},
		{Name: "rates", Dimension: "P", Spec: models.SeriesSpec{Symbol: "TNX"}, Direction: models.HighIsRisk},
		{Name: "crypto", Dimension: "T", Spec: models.SeriesSpec{Symbol: "BTC"}, Direction: models.LowIsRisk},
	}
	vetoes := []composite.VetoRule{{
		Message: "liquidity shock",
		Conditions: []composite.VetoCondition{
			{Indicator: "fear", MinLevel: models.LevelRed},
			{Indicator: "credit", MinLevel: models.LevelRed},
		},
	}}

	p := newTestPipeline(source, map[string]float64{"E": 0.1, "S": 0.1, "P": 0.4, "T": 0.4}, vetoes, dims, indicators)
	report := p.Run(context.Background())

	byName := indexByName(report)
	assert.Equal(t, models.LevelRed, byName["fear"].Level)
	assert.Equal(t, models.LevelRed, byName["credit"].Level)

	a := report.Assessment
	require.True(t, a.VetoTriggered())
	assert.Contains(t, a.TriggeredVetoes, "liquidity shock")
	assert.Equal(t, models.LevelRed, a.OverallLevel)
	assert.Less(t, a.WeightedScore, 6.0, "crisis must come from the veto, not the score")
}

func TestRun_FailingSourceDegradesOnlyItsIndicator(t *testing.T) {
	source := &stubSource{series: map[string]models.Series{
		"SPY": flatSeries("SPY", 200, 450),
	}}

	dims := []DimensionDef{{Key: "E", Title: "Expectation", Weight: 1.0}}
	indicators := []models.Indicator{
		{Name: "alive", Dimension: "E", Spec: models.SeriesSpec{Symbol: "SPY"}, Direction: models.HighIsRisk},
		{Name: "dead", Dimension: "E", Spec: models.SeriesSpec{Symbol: "NOPE"}, Direction: models.HighIsRisk},
	}

	p := newTestPipeline(source, map[string]float64{"E": 1.0}, nil, dims, indicators)
	report := p.Run(context.Background())

	require.Len(t, report.Sections, 1)
	require.Len(t, report.Sections[0].Indicators, 2)

	byName := indexByName(report)
	assert.Equal(t, models.LevelYellow, byName["alive"].Level)
	assert.Equal(t, models.LevelGray, byName["dead"].Level)
	assert.Zero(t, byName["dead"].RiskZ)

	// yellow 3 and gray 5 average to 4
	assert.InDelta(t, 4.0, report.Assessment.WeightedScore, 1e-12)
}

func TestRun_RatioIndicator(t *testing.T) {
	wave := func(i int) float64 { return 50 + float64(i%9) }
	source := &stubSource{series: map[string]models.Series{
		"XLY": genSeries("XLY", 200, func(i int) float64 { return 2 * wave(i) }),
		"XLP": genSeries("XLP", 200, wave),
	}}

	dims := []DimensionDef{{Key: "E", Title: "Expectation", Weight: 1.0}}
	indicators := []models.Indicator{{
		Name:      "recession trade",
		Dimension: "E",
		Spec: models.SeriesSpec{Derived: &models.DerivedSpec{
			Op: models.OpRatio, Left: "XLY", Right: "XLP",
		}},
		Direction: models.LowIsRisk,
	}}

	p := newTestPipeline(source, map[string]float64{"E": 1.0}, nil, dims, indicators)
	report := p.Run(context.Background())

	got := report.Sections[0].Indicators[0]
	assert.Equal(t, "XLY/XLP", got.Ticker)
	assert.Equal(t, models.LevelYellow, got.Level)
	assert.Zero(t, got.RiskZ)
	assert.InDelta(t, 2.0, got.Current, 1e-12)
}

func TestRun_FallbackLabelSurfacesInReport(t *testing.T) {
	source := &stubSource{series: map[string]models.Series{
		"VIX":  flatSeries("VIX", 10, 15), // too short to trust
		"VIXY": flatSeries("VIXY", 200, 14),
	}}

	dims := []DimensionDef{{Key: "E", Title: "Expectation", Weight: 1.0}}
	indicators := []models.Indicator{{
		Name:      "fear",
		Dimension: "E",
		Spec:      models.SeriesSpec{Symbol: "VIX", Fallback: "VIXY"},
		Direction: models.HighIsRisk,
	}}

	p := newTestPipeline(source, map[string]float64{"E": 1.0}, nil, dims, indicators)
	report := p.Run(context.Background())

	got := report.Sections[0].Indicators[0]
	assert.Equal(t, "VIXY", got.Ticker)
	assert.Equal(t, models.LevelYellow, got.Level)
}

func TestRun_SectionsFollowConfigOrder(t *testing.T) {
	source := &stubSource{series: map[string]models.Series{
		"A": flatSeries("A", 200, 1),
		"B": flatSeries("B", 200, 1),
	}}

	dims := []DimensionDef{
		{Key: "S", Title: "Structure", Weight: 0.5},
		{Key: "E", Title: "Expectation", Weight: 0.5},
	}
	indicators := []models.Indicator{
		{Name: "one", Dimension: "E", Spec: models.SeriesSpec{Symbol: "A"}, Direction: models.HighIsRisk},
		{Name: "two", Dimension: "S", Spec: models.SeriesSpec{Symbol: "B"}, Direction: models.HighIsRisk},
	}

	p := newTestPipeline(source, map[string]float64{"E": 0.5, "S": 0.5}, nil, dims, indicators)
	report := p.Run(context.Background())

	require.Len(t, report.Sections, 2)
	assert.Equal(t, "S", report.Sections[0].Key)
	assert.Equal(t, "E", report.Sections[1].Key)
	assert.Equal(t, "test dashboard", report.Title)
}

func indexByName(report *models.Report) map[string]models.ScoredIndicator {
	out := make(map[string]models.ScoredIndicator)
	for _, section := range report.Sections {
		for _, item := range section.Indicators {
			out[item.Name] = item
		}
	}
	return out
}
