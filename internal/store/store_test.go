package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Macroscope/models"
)

// stubSource scripts per-symbol responses and counts calls.
type stubSource struct {
	mu       sync.Mutex
	calls    map[string]int
	series   map[string]models.Series
	failures map[string]int // fail the first N calls for a symbol
}

func newStubSource() *stubSource {
	return &stubSource{
		calls:    make(map[string]int),
		series:   make(map[string]models.Series),
		failures: make(map[string]int),
	}
}

func (s *stubSource) FetchHistory(_ context.Context, symbol string, _ int) (models.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[symbol]++
	if s.failures[symbol] >= s.calls[symbol] {
		return models.Series{}, errors.New("provider unavailable")
	}

	series, ok := s.series[symbol]
	if !ok {
		return models.Series{}, errors.New("unknown symbol")
	}
	return series, nil
}

func (s *stubSource) callCount(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

func genSeries(label string, n int) models.Series {
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	points := make([]models.PricePoint, n)
	for i := 0; i < n; i++ {
		points[i] = models.PricePoint{Date: base.AddDate(0, 0, i), Value: 100 + float64(i)}
	}
	return models.NewSeries(label, points)
}

func testOptions() Options {
	return Options{
		MinPoints:   20,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	source := newStubSource()
	source.series["SPY"] = genSeries("SPY", 30)
	source.failures["SPY"] = 2

	s := New(source, testOptions())
	got := s.Fetch(context.Background(), "SPY")

	assert.Equal(t, 30, got.Len())
	assert.Equal(t, 3, source.callCount("SPY"))
}

func TestFetch_SoftFailAfterRetries(t *testing.T) {
	source := newStubSource()
	source.failures["DOOM"] = 99

	s := New(source, testOptions())
	got := s.Fetch(context.Background(), "DOOM")

	assert.True(t, got.Empty())
	assert.Equal(t, "DOOM", got.Label)
	assert.Equal(t, 3, source.callCount("DOOM"))
}

func TestFetch_ShortSeriesTreatedAsFailure(t *testing.T) {
	source := newStubSource()
	source.series["THIN"] = genSeries("THIN", 5)

	s := New(source, testOptions())
	got := s.Fetch(context.Background(), "THIN")

	assert.True(t, got.Empty())
}

func TestFetch_StripsNonPositiveValues(t *testing.T) {
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	points := make([]models.PricePoint, 0, 30)
	for i := 0; i < 25; i++ {
		points = append(points, models.PricePoint{Date: base.AddDate(0, 0, i), Value: 100})
	}
	points = append(points,
		models.PricePoint{Date: base.AddDate(0, 0, 25), Value: 0},
		models.PricePoint{Date: base.AddDate(0, 0, 26), Value: -3},
	)

	source := newStubSource()
	source.series["MIX"] = models.NewSeries("MIX", points)

	s := New(source, testOptions())
	got := s.Fetch(context.Background(), "MIX")

	require.Equal(t, 25, got.Len())
	for _, p := range got.Points {
		assert.Positive(t, p.Value)
	}
}

func TestFetch_CachesWithinRun(t *testing.T) {
	source := newStubSource()
	source.series["SPY"] = genSeries("SPY", 30)

	s := New(source, testOptions())
	s.Fetch(context.Background(), "SPY")
	s.Fetch(context.Background(), "SPY")

	assert.Equal(t, 1, source.callCount("SPY"))
}

func TestFetch_CachesFailures(t *testing.T) {
	source := newStubSource()
	source.failures["DOOM"] = 99

	s := New(source, testOptions())
	s.Fetch(context.Background(), "DOOM")
	s.Fetch(context.Background(), "DOOM")

	// 3 attempts from the first call, none from the second.
	assert.Equal(t, 3, source.callCount("DOOM"))
}

func TestFetchSpec_PrimaryPreferred(t *testing.T) {
	source := newStubSource()
	source.series["VIX"] = genSeries("VIX", 30)
	source.series["VIXY"] = genSeries("VIXY", 30)

	s := New(source, testOptions())
	got := s.FetchSpec(context.Background(), models.SeriesSpec{Symbol: "VIX", Fallback: "VIXY"})

	assert.Equal(t, "VIX", got.Label)
	assert.Zero(t, source.callCount("VIXY"))
}

func TestFetchSpec_FallbackOnShortPrimary(t *testing.T) {
	source := newStubSource()
	source.series["VIX"] = genSeries("VIX", 10) // under MinPoints
	source.series["VIXY"] = genSeries("VIXY", 30)

	s := New(source, testOptions())
	got := s.FetchSpec(context.Background(), models.SeriesSpec{Symbol: "VIX", Fallback: "VIXY"})

	require.Equal(t, 30, got.Len())
	assert.Equal(t, "VIXY", got.Label)
}

func TestFetchSpec_FallbackOnDeadPrimary(t *testing.T) {
	source := newStubSource()
	source.failures["VIX"] = 99
	source.series["VIXY"] = genSeries("VIXY", 30)

	s := New(source, testOptions())
	got := s.FetchSpec(context.Background(), models.SeriesSpec{Symbol: "VIX", Fallback: "VIXY"})

	assert.Equal(t, "VIXY", got.Label)
}

func TestFetchSpec_NoFallbackConfigured(t *testing.T) {
	source := newStubSource()
	source.failures["VIX"] = 99

	s := New(source, testOptions())
	got := s.FetchSpec(context.Background(), models.SeriesSpec{Symbol: "VIX"})

	assert.True(t, got.Empty())
}
