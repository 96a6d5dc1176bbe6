package credit

import (
	"fmt"
	"log/slog"
	"math"
)

// TaylorConfig parameterises the central bank's rate rule.
type TaylorConfig struct {
	Neutral    float64 `yaml:"neutral" toml:"neutral" json:"neutral"`
	Target     float64 `yaml:"target" toml:"target" json:"target"` // annual inflation target
	Alpha      float64 `yaml:"alpha" toml:"alpha" json:"alpha"`    // inflation response
	Beta       float64 `yaml:"beta" toml:"beta" json:"beta"`       // output gap response
	Smoothing  float64 `yaml:"smoothing" toml:"smoothing" json:"smoothing"`
	MaxStep    float64 `yaml:"max_step" toml:"max_step" json:"max_step"`
	Min        float64 `yaml:"min" toml:"min" json:"min"`
	Max        float64 `yaml:"max" toml:"max" json:"max"`
	Interval   int     `yaml:"interval" toml:"interval" json:"interval"` // cycles between decisions
	GapClamp   float64 `yaml:"gap_clamp" toml:"gap_clamp" json:"gap_clamp"`
	TrendAlpha float64 `yaml:"trend_alpha" toml:"trend_alpha" json:"trend_alpha"` // EMA weight for trend GDP
	HoldBand   float64 `yaml:"hold_band" toml:"hold_band" json:"hold_band"`       // smaller moves are labelled hold
}

// DefaultTaylorConfig returns the built-in policy rule.
func DefaultTaylorConfig() TaylorConfig {
	return TaylorConfig{
		Neutral:    0.025,
		Target:     0.025,
		Alpha:      1.5,
		Beta:       0.5,
		Smoothing:  0.8,
		MaxStep:    0.005,
		Min:        0,
		Max:        0.15,
		Interval:   3,
		GapClamp:   0.1,
		TrendAlpha: 0.2,
		HoldBand:   0.0025,
	}
}

// Validate checks the configuration.
func (c TaylorConfig) Validate() error {
	if c.Min > c.Max {
		return fmt.Errorf("central bank: rate bounds [%v, %v] are inverted", c.Min, c.Max)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("central bank: smoothing must be in [0,1), got %v", c.Smoothing)
	}
	if c.MaxStep <= 0 {
		return fmt.Errorf("central bank: max_step must be positive, got %v", c.MaxStep)
	}
	if c.Interval < 1 {
		return fmt.Errorf("central bank: interval must be at least 1, got %d", c.Interval)
	}
	if c.TrendAlpha <= 0 || c.TrendAlpha > 1 {
		return fmt.Errorf("central bank: trend_alpha must be in (0,1], got %v", c.TrendAlpha)
	}
	return nil
}

// Action labels a rate decision.
type Action string

const (
	ActionHold  Action = "hold"
	ActionRaise Action = "raise"
	ActionCut   Action = "cut"
)

// Decision is one recorded policy rate decision.
type Decision struct {
	Cycle     uint64  `json:"cycle" db:"cycle"`
	Previous  float64 `json:"previous" db:"previous"`
	Rule      float64 `json:"rule" db:"rule"` // unsmoothed Taylor rate
	Rate      float64 `json:"rate" db:"rate"`
	Inflation float64 `json:"inflation" db:"inflation"` // annualised
	Gap       float64 `json:"gap" db:"gap"`
	Action    Action  `json:"action" db:"action"`
	Clamped   bool    `json:"clamped" db:"clamped"`
}

// CentralBank sets the policy rate on a fixed schedule.
type CentralBank struct {
	cfg           TaylorConfig
	cyclesPerYear int
	rate          float64
	trend         float64
	gap           float64
	observed      bool
	decisions     []Decision
}

// NewCentralBank creates a central bank starting at the given rate.
func NewCentralBank(cfg TaylorConfig, initial float64, cyclesPerYear int) *CentralBank {
	if cyclesPerYear < 1 {
		cyclesPerYear = 12
	}
	return &CentralBank{cfg: cfg, rate: initial, cyclesPerYear: cyclesPerYear}
}

// Rate returns the current policy rate (annual).
func (c *CentralBank) Rate() float64 { return c.rate }

// Gap returns the last measured output gap.
func (c *CentralBank) Gap() float64 { return c.gap }

// Decisions returns the decision log.
func (c *CentralBank) Decisions() []Decision {
	out := make([]Decision, len(c.decisions))
	copy(out, c.decisions)
	return out
}

// Observe feeds this cycle's GDP. The gap is measured against the trend
// before the trend absorbs the new observation.
func (c *CentralBank) Observe(gdp float64) {
	if !c.observed {
		c.trend = gdp
		c.observed = true
		c.gap = 0
		return
	}
	if c.trend > 0 {
		c.gap = (gdp - c.trend) / c.trend
	} else {
		c.gap = 0
	}
	c.gap = math.Max(-c.cfg.GapClamp, math.Min(c.cfg.GapClamp, c.gap))
	c.trend = c.cfg.TrendAlpha*gdp + (1-c.cfg.TrendAlpha)*c.trend
}

// Annualise compounds a per-cycle inflation rate to a yearly one.
func (c *CentralBank) Annualise(perCycle float64) float64 {
	if perCycle <= -1 {
		return -1
	}
	return math.Pow(1+perCycle, float64(c.cyclesPerYear)) - 1
}

// Due reports whether the cycle is a decision cycle.
func (c *CentralBank) Due(cycle uint64) bool {
	return cycle > 0 && cycle%uint64(c.cfg.Interval) == 0
}

// Decide applies the Taylor rule if the cycle is a decision cycle.
func (c *CentralBank) Decide(cycle uint64, inflationPerCycle float64) (Decision, bool) {
	if !c.Due(cycle) {
		return Decision{}, false
	}
	infl := c.Annualise(inflationPerCycle)
	rule := c.cfg.Neutral + c.cfg.Alpha*(infl-c.cfg.Target) + c.cfg.Beta*c.gap

	next := c.cfg.Smoothing*c.rate + (1-c.cfg.Smoothing)*rule
	clamped := false
	if d := next - c.rate; d > c.cfg.MaxStep {
		next, clamped = c.rate+c.cfg.MaxStep, true
	} else if d < -c.cfg.MaxStep {
		next, clamped = c.rate-c.cfg.MaxStep, true
	}
	if next > c.cfg.Max {
		next, clamped = c.cfg.Max, true
	} else if next < c.cfg.Min {
		next, clamped = c.cfg.Min, true
	}

	action := ActionHold
	switch d := next - c.rate; {
	case d >= c.cfg.HoldBand:
		action = ActionRaise
	case d <= -c.cfg.HoldBand:
		action = ActionCut
	}

	dec := Decision{
		Cycle:     cycle,
		Previous:  c.rate,
		Rule:      rule,
		Rate:      next,
		Inflation: infl,
		Gap:       c.gap,
		Action:    action,
		Clamped:   clamped,
	}
	c.rate = next
	c.decisions = append(c.decisions, dec)

	if clamped {
		slog.Info("policy rate clamped", "cycle", cycle, "rule", rule, "rate", next)
	}
	slog.Info("policy rate decision", "cycle", cycle, "action", string(action),
		"previous", dec.Previous, "rate", next, "inflation", infl, "gap", c.gap)
	return dec, true
}
