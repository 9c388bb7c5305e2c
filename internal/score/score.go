package score

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Macroscope/models"
)

// madScale converts a median absolute deviation into a standard
// deviation equivalent under normality.
const madScale = 1.4826

// Params tunes the robust deviation scoring.
type Params struct {
	// WindowLong is the rolling window for both the trend and the bias
	// distribution, in trading days.
	WindowLong int
	// ToleranceFraction relaxes the window: a rolling statistic emits a
	// value once this fraction of the window has observations, so the
	// score activates slightly before a full year of history exists.
	ToleranceFraction float64
	// ClipZ bounds the final Z symmetrically (Winsorization).
	ClipZ float64
	// DispersionFloor is the minimum dispersion used as a divisor, in
	// bias units. Pegged or tightly managed instruments otherwise
	// produce divide-by-near-zero spikes that are noise, not signal.
	DispersionFloor float64
	// Robust switches the dispersion estimate from rolling mean/std to
	// rolling median/MAD.
	Robust bool
}

func (p *Params) applyDefaults() {
	if p.WindowLong == 0 {
		p.WindowLong = 252
	}
	if p.ToleranceFraction == 0 {
		p.ToleranceFraction = 0.85
	}
	if p.ClipZ == 0 {
		p.ClipZ = 4.0
	}
	if p.DispersionFloor == 0 {
		p.DispersionFloor = 0.005
	}
}

// MinObservations is the tolerance floor: the fewest observations a
// rolling window needs before it emits a value, and the minimum series
// length the scorer accepts at all.
func (p Params) MinObservations() int {
	n := int(math.Ceil(float64(p.WindowLong) * p.ToleranceFraction))
	if n < 2 {
		n = 2
	}
	return n
}

// Result is one scored evaluation. When Insufficient is set the numbers
// are neutral placeholders, never computed values.
type Result struct {
	RiskZ        float64
	Bias         float64
	Current      float64
	Insufficient bool
}

// Scorer computes the robust standardized deviation of a series against
// its own history: trend, bias off trend, then the bias standardized
// against its own rolling distribution. The second stage is what makes
// assets of very different absolute volatility comparable on one scale.
type Scorer struct {
	params Params
	logger zerolog.Logger
}

// New creates a scorer; zero-valued params take defaults.
func New(params Params) *Scorer {
	params.applyDefaults()
	return &Scorer{
		params: params,
		logger: log.With().Str("component", "deviation_scorer").Logger(),
	}
}

// Params returns the effective parameters after defaulting.
func (s *Scorer) Params() Params { return s.params }

// Score evaluates the latest point of a series. Soft inputs produce
// neutral results: a short series is marked Insufficient, a degenerate
// dispersion yields zero Z. No input produces a NaN or an error.
func (s *Scorer) Score(series models.Series, direction models.Direction) Result {
	minObs := s.params.MinObservations()
	if series.Len() < minObs {
		return Result{Insufficient: true, Current: series.Last().Value}
	}

	values := series.Values()
	current := values[len(values)-1]

	trend := rollingMean(values, s.params.WindowLong, minObs)
	if math.IsNaN(trend[len(trend)-1]) {
		// Rolling window never activated at the evaluation point;
		// treat like insufficient history.
		return Result{Insufficient: true, Current: current}
	}

	// Bias series over the trend-valid region only.
	bias := make([]float64, 0, len(values))
	for i, t := range trend {
		if math.IsNaN(t) || t == 0 {
			continue
		}
		bias = append(bias, values[i]/t-1)
	}
	if len(bias) == 0 {
		return Result{Insufficient: true, Current: current}
	}

	curBias := bias[len(bias)-1]

	var center, disp float64
	if s.params.Robust {
		center = lastRolling(bias, s.params.WindowLong, minObs, median)
		disp = lastRolling(bias, s.params.WindowLong, minObs, func(w []float64) float64 {
			return mad(w) * madScale
		})
	} else {
		center = lastRolling(bias, s.params.WindowLong, minObs, mean)
		disp = lastRolling(bias, s.params.WindowLong, minObs, sampleStd)
	}

	var z float64
	switch {
	case math.IsNaN(disp) || math.IsNaN(center):
		z = 0
	default:
		effective := disp
		if effective < s.params.DispersionFloor {
			effective = s.params.DispersionFloor
		}
		z = (curBias - center) / effective
	}

	// Winsorizing
	z = clamp(z, -s.params.ClipZ, s.params.ClipZ)

	// Positive risk Z must always mean "more dangerous", whichever way
	// the raw price moves.
	if direction == models.LowIsRisk {
		z = -z
	}

	return Result{RiskZ: z, Bias: curBias, Current: current}
}

// rollingMean computes a rolling mean with a minimum-observation count;
// positions where the window has fewer observations are NaN.
func rollingMean(values []float64, window, minPeriods int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i := range values {
		sum += values[i]
		if i >= window {
			sum -= values[i-window]
		}

		n := i + 1
		if n > window {
			n = window
		}
		if n < minPeriods {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// lastRolling evaluates a window statistic at the final position only,
// which is all a single-run evaluation needs.
func lastRolling(values []float64, window, minPeriods int, stat func([]float64) float64) float64 {
	start := len(values) - window
	if start < 0 {
		start = 0
	}
	w := values[start:]
	if len(w) < minPeriods {
		return math.NaN()
	}
	return stat(w)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the n-1 denominator standard deviation.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// mad is the median absolute deviation around the median.
func mad(values []float64) float64 {
	m := median(values)
	if math.IsNaN(m) {
		return math.NaN()
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - m)
	}
	return median(devs)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
