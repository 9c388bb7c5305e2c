package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// RiskLevel is the discrete severity assigned to an indicator or to the
// whole dashboard. Gray means the score could not be computed.
type RiskLevel string

const (
	LevelRed    RiskLevel = "red"
	LevelOrange RiskLevel = "orange"
	LevelYellow RiskLevel = "yellow"
	LevelGreen  RiskLevel = "green"
	LevelGray   RiskLevel = "gray"
)

// Rank orders levels by severity: Gray < Green < Yellow < Orange < Red.
func (l RiskLevel) Rank() int {
	switch l {
	case LevelRed:
		return 4
	case LevelOrange:
		return 3
	case LevelYellow:
		return 2
	case LevelGreen:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// Direction declares which way danger points for an indicator. It is
// explicit per-indicator configuration and is never inferred from the
// instrument type.
type Direction string

const (
	HighIsRisk Direction = "high_is_risk"
	LowIsRisk  Direction = "low_is_risk"
	TwoSided   Direction = "two_sided"
)

// DeriveOp is an elementwise synthesis operation over two aligned series.
type DeriveOp string

const (
	OpRatio   DeriveOp = "ratio"
	OpProduct DeriveOp = "product"
	OpSum     DeriveOp = "sum"
	OpSpread  DeriveOp = "spread"
)

// PricePoint is a single daily observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is an ordered daily price series with strictly increasing,
// timezone-naive calendar dates.
type Series struct {
	Label  string       `json:"label"`
	Points []PricePoint `json:"points"`
}

// NormalizeDate drops intraday and timezone components so that series
// from different exchanges compare by calendar date only.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewSeries builds a Series from raw points: dates are normalized to
// calendar days, points are sorted ascending and duplicate dates are
// collapsed (last observation wins).
func NewSeries(label string, points []PricePoint) Series {
	byDate := make(map[time.Time]float64, len(points))
	for _, p := range points {
		byDate[NormalizeDate(p.Date)] = p.Value
	}

	out := make([]PricePoint, 0, len(byDate))
	for d, v := range byDate {
		out = append(out, PricePoint{Date: d, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	return Series{Label: label, Points: out}
}

// DropNonPositive returns a copy without zero or negative values. Raw
// price feeds occasionally report them; they are invalid and must be
// discarded before any statistics run.
func (s Series) DropNonPositive() Series {
	out := make([]PricePoint, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Value > 0 {
			out = append(out, p)
		}
	}
	return Series{Label: s.Label, Points: out}
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Points) }

// Empty reports whether the series carries no observations. An empty
// series is the soft-failure marker throughout the pipeline.
func (s Series) Empty() bool { return len(s.Points) == 0 }

// Last returns the most recent observation. Zero value when empty.
func (s Series) Last() PricePoint {
	if len(s.Points) == 0 {
		return PricePoint{}
	}
	return s.Points[len(s.Points)-1]
}

// Values returns the observation values in date order.
func (s Series) Values() []float64 {
	vals := make([]float64, len(s.Points))
	for i, p := range s.Points {
		vals[i] = p.Value
	}
	return vals
}

// DerivedSpec constructs a series from two named legs, e.g. a ratio
// XLY/XLP or a yield-curve spread ^TNX-^FVX.
type DerivedSpec struct {
	Op    DeriveOp `yaml:"op" json:"op"`
	Left  string   `yaml:"left" json:"left"`
	Right string   `yaml:"right" json:"right"`
}

// Label is the display ticker for the derived series.
func (d DerivedSpec) Label() string {
	sep := map[DeriveOp]string{
		OpRatio:   "/",
		OpProduct: "*",
		OpSum:     "+",
		OpSpread:  "-",
	}[d.Op]
	return fmt.Sprintf("%s%s%s", d.Left, sep, d.Right)
}

// SeriesSpec identifies how to obtain a series: a primary symbol with an
// optional fallback, or a derived construction over two legs.
type SeriesSpec struct {
	Symbol   string       `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Fallback string       `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Derived  *DerivedSpec `yaml:"derived,omitempty" json:"derived,omitempty"`
}

// Thresholds are the Z-score cut points for classification. Red and
// Orange bound abnormal deviation from above, Green bounds the safely
// quiet zone from below.
type Thresholds struct {
	Red    float64 `yaml:"red" json:"red"`
	Orange float64 `yaml:"orange" json:"orange"`
	Green  float64 `yaml:"green" json:"green"`
}

// Indicator is one named analytical unit of the dashboard. Immutable
// configuration, created at startup.
type Indicator struct {
	Name       string
	Dimension  string
	Spec       SeriesSpec
	Direction  Direction
	Rationale  string
	Thresholds *Thresholds // nil means global defaults
}

// ScoredIndicator is the runtime result of evaluating an Indicator.
// Exactly one is produced per indicator per run, Gray on data failure.
type ScoredIndicator struct {
	Name      string    `json:"name"`
	Ticker    string    `json:"ticker"`
	Current   float64   `json:"current"`
	Bias      float64   `json:"bias"`
	RiskZ     float64   `json:"risk_z"`
	Level     RiskLevel `json:"level"`
	Status    string    `json:"status"`
	Rationale string    `json:"rationale"`
	Dimension string    `json:"dimension"`
}

// HasData reports whether the score was actually computed.
func (s ScoredIndicator) HasData() bool { return s.Level != LevelGray }

// DimensionScore is the per-dimension slice of a composite assessment.
type DimensionScore struct {
	Dimension   string  `json:"dimension"`
	Weight      float64 `json:"weight"`
	AvgSeverity float64 `json:"avg_severity"`
}

// CompositeAssessment is the dashboard-level verdict: a weighted 0-10
// score, the overall band, and any triggered circuit-breaker messages.
type CompositeAssessment struct {
	WeightedScore   float64          `json:"weighted_score"`
	OverallLevel    RiskLevel        `json:"overall_level"`
	OverallLabel    string           `json:"overall_label"`
	Advice          string           `json:"advice"`
	TriggeredVetoes []string         `json:"triggered_vetoes,omitempty"`
	Insights        []string         `json:"insights,omitempty"`
	Dimensions      []DimensionScore `json:"dimensions"`
}

// VetoTriggered reports whether any circuit breaker fired.
func (a CompositeAssessment) VetoTriggered() bool { return len(a.TriggeredVetoes) > 0 }

// DimensionSection groups scored indicators for presentation.
type DimensionSection struct {
	Key        string            `json:"key"`
	Title      string            `json:"title"`
	Weight     float64           `json:"weight"`
	Indicators []ScoredIndicator `json:"indicators"`
}

// Report is the full output handed to report adapters. It carries only
// semantic levels and numbers, no presentation formatting.
type Report struct {
	Title       string              `json:"title"`
	GeneratedAt time.Time           `json:"generated_at"`
	Sections    []DimensionSection  `json:"sections"`
	Assessment  CompositeAssessment `json:"assessment"`
}

// FormatBias renders a bias fraction as a signed percentage for status
// texts and alerts.
func FormatBias(bias float64) string {
	if math.IsNaN(bias) {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", bias*100)
}
