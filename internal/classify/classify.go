package classify

import (
	"github.com/Alias1177/Macroscope/models"

	"github.com/Alias1177/Macroscope/internal/score"
)

// Status texts are semantic only; color and markup belong to report
// adapters.
const (
	StatusExtreme      = "extremely abnormal"
	StatusSignificant  = "significant deviation"
	StatusNearMean     = "near mean"
	StatusSafelyLow    = "safely low"
	StatusInsufficient = "insufficient data"
)

// Classifier maps a risk Z-score to a discrete level using ordered
// thresholds. Per-indicator overrides beat the global defaults.
type Classifier struct {
	defaults models.Thresholds
}

// DefaultThresholds are the cut points the original deployments all
// converged on.
func DefaultThresholds() models.Thresholds {
	return models.Thresholds{Red: 2.0, Orange: 1.0, Green: -1.0}
}

// New creates a classifier with the given default thresholds. A zero
// value falls back to DefaultThresholds.
func New(defaults models.Thresholds) *Classifier {
	if defaults == (models.Thresholds{}) {
		defaults = DefaultThresholds()
	}
	return &Classifier{defaults: defaults}
}

// Classify maps a scored result to a level and status text. An
// indicator whose score could not be computed is always Gray,
// independent of thresholds.
func (c *Classifier) Classify(res score.Result, ind models.Indicator) (models.RiskLevel, string) {
	if res.Insufficient {
		return models.LevelGray, StatusInsufficient
	}

	th := c.defaults
	if ind.Thresholds != nil {
		th = *ind.Thresholds
	}

	z := res.RiskZ

	if ind.Direction == models.TwoSided {
		// Both tails are risk states: runaway moves in either direction
		// of a managed instrument read as abnormal.
		switch {
		case z > th.Red || z < -th.Red:
			return models.LevelRed, StatusExtreme
		case z > th.Orange || z < -th.Orange:
			return models.LevelOrange, StatusSignificant
		default:
			return models.LevelYellow, StatusNearMean
		}
	}

	switch {
	case z > th.Red:
		return models.LevelRed, StatusExtreme
	case z > th.Orange:
		return models.LevelOrange, StatusSignificant
	case z < th.Green:
		return models.LevelGreen, StatusSafelyLow
	default:
		return models.LevelYellow, StatusNearMean
	}
}
