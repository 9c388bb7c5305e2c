package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Alias1177/Macroscope/models"

	"github.com/Alias1177/Macroscope/internal/composite"
)

// ConfigurationError is a startup-time validation failure. It is the
// only error class that is fatal to a run, and it is reported before
// any fetch begins.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Scoring tunes the deviation scorer.
type Scoring struct {
	WindowLong        int     `yaml:"window_long" default:"252" validate:"min=20"`
	ToleranceFraction float64 `yaml:"tolerance_fraction" default:"0.85" validate:"gt=0,lte=1"`
	ClipZ             float64 `yaml:"clip_z" default:"4.0" validate:"gt=0"`
	DispersionFloor   float64 `yaml:"dispersion_floor" default:"0.005" validate:"gt=0"`
	Robust            bool    `yaml:"robust"`
}

// Fetch tunes acquisition: provider transport, retry policy and the
// bounded fetch pool.
type Fetch struct {
	LookbackDays   int           `yaml:"lookback_days" default:"730" validate:"min=30"`
	MaxAttempts    int           `yaml:"max_attempts" default:"3" validate:"min=1,max=10"`
	RetryDelay     time.Duration `yaml:"retry_delay" default:"1s"`
	Concurrency    int           `yaml:"concurrency" default:"8" validate:"min=1,max=64"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"30s"`
	RequestsPerSec int           `yaml:"requests_per_sec" default:"5" validate:"min=1"`
}

// Dimension is one taxonomy bucket with its weight in the composite
// score.
type Dimension struct {
	Key    string  `yaml:"key" validate:"required"`
	Title  string  `yaml:"title" validate:"required"`
	Weight float64 `yaml:"weight" validate:"gte=0"`
}

// IndicatorSpec is the YAML form of one indicator.
type IndicatorSpec struct {
	Name       string              `yaml:"name" validate:"required"`
	Dimension  string              `yaml:"dimension" validate:"required"`
	Symbol     string              `yaml:"symbol"`
	Fallback   string              `yaml:"fallback"`
	Derived    *models.DerivedSpec `yaml:"derived"`
	Direction  models.Direction    `yaml:"direction" validate:"required,oneof=high_is_risk low_is_risk two_sided"`
	Rationale  string              `yaml:"rationale"`
	Thresholds *models.Thresholds  `yaml:"thresholds"`
}

// Telegram enables the optional veto alert notifier. Token comes from
// the environment, never from the file.
type Telegram struct {
	Enabled bool  `yaml:"enabled"`
	ChatID  int64 `yaml:"chat_id"`
	Token   string
}

// Config is the full static configuration of one dashboard run.
type Config struct {
	Title      string               `yaml:"title" default:"Macro Risk Dashboard"`
	LogLevel   string               `yaml:"log_level" default:"info"`
	Scoring    Scoring              `yaml:"scoring"`
	Fetch      Fetch                `yaml:"fetch"`
	Thresholds models.Thresholds    `yaml:"thresholds"`
	Dimensions []Dimension          `yaml:"dimensions" validate:"required,min=1,dive"`
	Indicators []IndicatorSpec      `yaml:"indicators" validate:"required,min=1,dive"`
	Vetoes     []composite.VetoRule `yaml:"vetoes"`
	Bands      composite.Bands      `yaml:"bands"`
	Telegram   Telegram             `yaml:"telegram"`

	TwelveAPIKey string
}

// Load reads and validates a YAML configuration file, then applies
// environment overrides for secrets. Any problem is a
// ConfigurationError; nothing is fetched until it passes.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("reading %s: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, configErrorf("parsing %s: %v", path, err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, configErrorf("applying defaults: %v", err)
	}

	if cfg.Thresholds == (models.Thresholds{}) {
		cfg.Thresholds = models.Thresholds{Red: 2.0, Orange: 1.0, Green: -1.0}
	}
	if cfg.Bands == (composite.Bands{}) {
		cfg.Bands = composite.DefaultBands()
	}

	cfg.TwelveAPIKey = os.Getenv("TWELVE_API_KEY")
	cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structure and cross-references: every indicator needs
// exactly one source, dimensions must be declared, and veto conditions
// must name declared indicators.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return configErrorf("%v", err)
	}

	dims := make(map[string]bool, len(c.Dimensions))
	for _, d := range c.Dimensions {
		if dims[d.Key] {
			return configErrorf("duplicate dimension %q", d.Key)
		}
		dims[d.Key] = true
	}

	names := make(map[string]bool, len(c.Indicators))
	for _, ind := range c.Indicators {
		if names[ind.Name] {
			return configErrorf("duplicate indicator %q", ind.Name)
		}
		names[ind.Name] = true

		if !dims[ind.Dimension] {
			return configErrorf("indicator %q references unknown dimension %q", ind.Name, ind.Dimension)
		}

		hasSymbol := ind.Symbol != ""
		hasDerived := ind.Derived != nil
		if hasSymbol == hasDerived {
			return configErrorf("indicator %q needs exactly one of symbol or derived", ind.Name)
		}
		if hasSymbol && ind.Fallback == ind.Symbol && ind.Fallback != "" {
			return configErrorf("indicator %q: fallback equals primary symbol", ind.Name)
		}
		if hasDerived {
			if ind.Fallback != "" {
				return configErrorf("indicator %q: fallback is only valid with a plain symbol", ind.Name)
			}
			switch ind.Derived.Op {
			case models.OpRatio, models.OpProduct, models.OpSum, models.OpSpread:
			default:
				return configErrorf("indicator %q: unknown derive op %q", ind.Name, ind.Derived.Op)
			}
			if ind.Derived.Left == "" || ind.Derived.Right == "" {
				return configErrorf("indicator %q: derived spec needs both legs", ind.Name)
			}
		}
	}

	for _, rule := range c.Vetoes {
		if rule.Message == "" {
			return configErrorf("veto rule without message")
		}
		if len(rule.Conditions) == 0 {
			return configErrorf("veto rule %q has no conditions", rule.Message)
		}
		for _, cond := range rule.Conditions {
			if !names[cond.Indicator] {
				return configErrorf("veto rule %q references unknown indicator %q", rule.Message, cond.Indicator)
			}
			if cond.MinLevel.Rank() == 0 && cond.MinLevel != models.LevelGray {
				return configErrorf("veto rule %q: unknown level %q", rule.Message, cond.MinLevel)
			}
		}
	}

	return nil
}

// IndicatorModels converts the YAML specs into the immutable runtime
// indicator list, preserving file order.
func (c *Config) IndicatorModels() []models.Indicator {
	out := make([]models.Indicator, 0, len(c.Indicators))
	for _, spec := range c.Indicators {
		out = append(out, models.Indicator{
			Name:      spec.Name,
			Dimension: spec.Dimension,
			Spec: models.SeriesSpec{
				Symbol:   spec.Symbol,
				Fallback: spec.Fallback,
				Derived:  spec.Derived,
			},
			Direction:  spec.Direction,
			Rationale:  spec.Rationale,
			Thresholds: spec.Thresholds,
		})
	}
	return out
}

// Weights returns the dimension weight map for the composite engine.
func (c *Config) Weights() map[string]float64 {
	weights := make(map[string]float64, len(c.Dimensions))
	for _, d := range c.Dimensions {
		weights[d.Key] = d.Weight
	}
	return weights
}
