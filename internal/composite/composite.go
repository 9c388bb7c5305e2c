package composite

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Macroscope/models"
)

// insightZ is the |Z| above which an indicator is called out in the
// assessment's insight list.
const insightZ = 1.5

// severity maps a level to its numeric contribution. Gray sits at the
// neutral midpoint so missing data neither clears nor inflates risk.
var severity = map[models.RiskLevel]float64{
	models.LevelRed:    10,
	models.LevelOrange: 6,
	models.LevelYellow: 3,
	models.LevelGreen:  0,
	models.LevelGray:   5,
}

// Severity exposes the level-to-score mapping for tests and adapters.
func Severity(level models.RiskLevel) float64 { return severity[level] }

// VetoCondition is one leg of a circuit-breaker predicate: a named
// indicator must be at least this severe.
type VetoCondition struct {
	Indicator string           `yaml:"indicator"`
	MinLevel  models.RiskLevel `yaml:"min_level"`
}

// VetoRule fires when every condition holds. Vetoes are evaluated over
// named indicator levels, never over the aggregate score: some signal
// combinations are categorically dangerous no matter how the average
// nets out.
type VetoRule struct {
	Message    string          `yaml:"message"`
	Conditions []VetoCondition `yaml:"conditions"`
}

// Band describes one overall risk band.
type Band struct {
	Level  models.RiskLevel `yaml:"level"`
	Label  string           `yaml:"label"`
	Advice string           `yaml:"advice"`
}

// Bands holds the final banding policy: numeric cut points over the
// weighted score plus the labels/advice per band. A triggered veto
// forces Crisis regardless of the score.
type Bands struct {
	HighThreshold float64 `yaml:"high_threshold"`
	MidThreshold  float64 `yaml:"mid_threshold"`
	Crisis        Band    `yaml:"crisis"`
	High          Band    `yaml:"high"`
	Mid           Band    `yaml:"mid"`
	Low           Band    `yaml:"low"`
}

// DefaultBands mirrors the original deployment policy.
func DefaultBands() Bands {
	return Bands{
		HighThreshold: 6,
		MidThreshold:  3,
		Crisis: Band{
			Level:  models.LevelRed,
			Label:  "crisis",
			Advice: "Circuit breaker triggered: systemic risk release signal. Cut risk exposure hard.",
		},
		High: Band{
			Level:  models.LevelOrange,
			Label:  "elevated",
			Advice: "Financial conditions tightening. Reduce exposure, raise defensives and cash.",
		},
		Mid: Band{
			Level:  models.LevelYellow,
			Label:  "contested",
			Advice: "Mixed signals. Barbell exposure between risk leaders and defensive carry.",
		},
		Low: Band{
			Level:  models.LevelGreen,
			Label:  "risk-on",
			Advice: "Liquidity ample, trend healthy. Stay with risk assets.",
		},
	}
}

// Engine aggregates classified indicators two independent ways: a
// weighted 0-10 score over dimensions, and hard veto rules over named
// indicator levels.
type Engine struct {
	weights map[string]float64
	vetoes  []VetoRule
	bands   Bands
	logger  zerolog.Logger
}

// New creates an engine. Weights map dimension keys to their share of
// the composite score; they conventionally sum to 1.
func New(weights map[string]float64, vetoes []VetoRule, bands Bands) *Engine {
	if bands == (Bands{}) {
		bands = DefaultBands()
	}
	return &Engine{
		weights: weights,
		vetoes:  vetoes,
		bands:   bands,
		logger:  log.With().Str("component", "composite_engine").Logger(),
	}
}

// Assess combines one run's scored indicators into a composite
// assessment. It always succeeds; Gray indicators contribute their
// neutral severity.
func (e *Engine) Assess(indicators []models.ScoredIndicator) models.CompositeAssessment {
	assessment := models.CompositeAssessment{
		WeightedScore: e.weightedScore(indicators),
		Insights:      e.insights(indicators),
	}

	assessment.TriggeredVetoes = e.evaluateVetoes(indicators)

	band := e.band(assessment)
	assessment.OverallLevel = band.Level
	assessment.OverallLabel = band.Label
	assessment.Advice = band.Advice
	assessment.Dimensions = e.dimensionScores(indicators)

	if assessment.VetoTriggered() {
		e.logger.Warn().
			Strs("vetoes", assessment.TriggeredVetoes).
			Float64("score", assessment.WeightedScore).
			Msg("Circuit breaker triggered")
	}

	return assessment
}

func (e *Engine) weightedScore(indicators []models.ScoredIndicator) float64 {
	var total float64
	for dim, items := range groupByDimension(indicators) {
		weight, ok := e.weights[dim]
		if !ok {
			continue
		}
		var dimScore float64
		for _, item := range items {
			dimScore += severity[item.Level]
		}
		total += (dimScore / float64(len(items))) * weight
	}
	return total
}

func (e *Engine) dimensionScores(indicators []models.ScoredIndicator) []models.DimensionScore {
	grouped := groupByDimension(indicators)

	dims := make([]string, 0, len(grouped))
	for dim := range grouped {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	out := make([]models.DimensionScore, 0, len(dims))
	for _, dim := range dims {
		items := grouped[dim]
		var sum float64
		for _, item := range items {
			sum += severity[item.Level]
		}
		out = append(out, models.DimensionScore{
			Dimension:   dim,
			Weight:      e.weights[dim],
			AvgSeverity: sum / float64(len(items)),
		})
	}
	return out
}

func (e *Engine) evaluateVetoes(indicators []models.ScoredIndicator) []string {
	levels := make(map[string]models.RiskLevel, len(indicators))
	for _, item := range indicators {
		levels[item.Name] = item.Level
	}

	var triggered []string
	for _, rule := range e.vetoes {
		if len(rule.Conditions) == 0 {
			continue
		}
		fires := true
		for _, cond := range rule.Conditions {
			level, ok := levels[cond.Indicator]
			if !ok || !level.AtLeast(cond.MinLevel) {
				fires = false
				break
			}
		}
		if fires {
			triggered = append(triggered, rule.Message)
		}
	}
	return triggered
}

func (e *Engine) band(a models.CompositeAssessment) Band {
	switch {
	case a.VetoTriggered():
		return e.bands.Crisis
	case a.WeightedScore > e.bands.HighThreshold:
		return e.bands.High
	case a.WeightedScore > e.bands.MidThreshold:
		return e.bands.Mid
	default:
		return e.bands.Low
	}
}

func (e *Engine) insights(indicators []models.ScoredIndicator) []string {
	var out []string
	for _, item := range indicators {
		if !item.HasData() {
			continue
		}
		if item.RiskZ > insightZ || item.RiskZ < -insightZ {
			out = append(out, fmt.Sprintf("[%s] strong signal: Z=%+.2f, bias=%s",
				item.Name, item.RiskZ, models.FormatBias(item.Bias)))
		}
	}
	return out
}

func groupByDimension(indicators []models.ScoredIndicator) map[string][]models.ScoredIndicator {
	grouped := make(map[string][]models.ScoredIndicator)
	for _, item := range indicators {
		grouped[item.Dimension] = append(grouped[item.Dimension], item)
	}
	return grouped
}
