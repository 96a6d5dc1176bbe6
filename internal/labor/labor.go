// Package labor matches job seekers to firm vacancies and updates wages and
// the unemployment rate from live counts.
package labor

import (
	"fmt"

	"github.com/talgya/mini-economy/internal/ledger"
)

// Sector is a production sector. Firms belong to one sector; workers carry
// a skill level per sector.
type Sector uint8

// Worker is a labor market participant. Employer is zero when unemployed.
type Worker struct {
	ID       ledger.AgentID `json:"id"`
	Home     Sector         `json:"home"`   // sector the worker trained in
	Skills   []float64      `json:"skills"` // indexed by Sector, 0..1
	Employer ledger.AgentID `json:"employer"`
	Wage     float64        `json:"wage"`
}

// Employed reports whether the worker currently holds a job.
func (w Worker) Employed() bool { return w.Employer != 0 }

// Skill returns the worker's fit for a sector.
func (w Worker) Skill(s Sector) float64 {
	if int(s) < len(w.Skills) {
		return w.Skills[s]
	}
	return 0
}

// FirmPlan is a firm's view of its labor needs for the cycle.
type FirmPlan struct {
	ID             ledger.AgentID
	Sector         Sector
	Employees      []ledger.AgentID // hire order, oldest first
	ExpectedDemand float64          // units it expects to sell
	Productivity   float64          // units per worker per cycle
	Wage           float64
	CanAfford      int // headcount the firm can pay this cycle
	MinHeadcount   int // forced minimum under an emergency production order
}

// Target returns the headcount the firm wants: enough to cover expected
// demand plus a headroom share, at least one worker, never more than it can
// pay.
func (p FirmPlan) Target(headroom float64) int {
	target := 1
	if p.Productivity > 0 {
		need := p.ExpectedDemand * (1 + headroom) / p.Productivity
		target = int(need)
		if float64(target) < need {
			target++
		}
	}
	if target < 1 {
		target = 1
	}
	if target < p.MinHeadcount {
		target = p.MinHeadcount
	}
	if target > p.CanAfford {
		target = p.CanAfford
	}
	return target
}

// Config tunes the matcher.
type Config struct {
	MaxHires         int     `yaml:"max_hires" toml:"max_hires" json:"max_hires"`                         // per firm per cycle
	MaxLayoffs       int     `yaml:"max_layoffs" toml:"max_layoffs" json:"max_layoffs"`                   // voluntary layoffs per firm per cycle
	MatchThreshold   float64 `yaml:"match_threshold" toml:"match_threshold" json:"match_threshold"`       // minimum compatibility
	MobilityFriction float64 `yaml:"mobility_friction" toml:"mobility_friction" json:"mobility_friction"` // chance a cross-sector move fails
	WageSensitivity  float64 `yaml:"wage_sensitivity" toml:"wage_sensitivity" json:"wage_sensitivity"`
	MaxWageStep      float64 `yaml:"max_wage_step" toml:"max_wage_step" json:"max_wage_step"`
	PoachPremium     float64 `yaml:"poach_premium" toml:"poach_premium" json:"poach_premium"` // wage gain an employed worker needs to switch
	MinWage          float64 `yaml:"min_wage" toml:"min_wage" json:"min_wage"`
	Separation       float64 `yaml:"separation" toml:"separation" json:"separation"`                      // chance a settled job ends each cycle
	DownwardRigidity float64 `yaml:"downward_rigidity" toml:"downward_rigidity" json:"downward_rigidity"` // share of a wage cut that does not happen
	Headroom         float64 `yaml:"headroom" toml:"headroom" json:"headroom"`                            // staff above expected demand, as a share
}

// DefaultConfig returns the built-in labor market parameters.
func DefaultConfig() Config {
	return Config{
		MaxHires:         5,
		MaxLayoffs:       3,
		MatchThreshold:   0.3,
		MobilityFriction: 0.9,
		WageSensitivity:  0.02,
		MaxWageStep:      0.02,
		PoachPremium:     0.1,
		MinWage:          1,
		Separation:       0.03,
		DownwardRigidity: 0.9,
		Headroom:         0.1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxHires < 1 {
		return fmt.Errorf("labor: max_hires must be at least 1, got %d", c.MaxHires)
	}
	if c.MaxLayoffs < 0 {
		return fmt.Errorf("labor: max_layoffs must not be negative, got %d", c.MaxLayoffs)
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("labor: match_threshold must be in [0,1], got %v", c.MatchThreshold)
	}
	if c.MobilityFriction < 0 || c.MobilityFriction > 1 {
		return fmt.Errorf("labor: mobility_friction must be in [0,1], got %v", c.MobilityFriction)
	}
	if c.MaxWageStep < 0 {
		return fmt.Errorf("labor: max_wage_step must not be negative, got %v", c.MaxWageStep)
	}
	if c.Separation < 0 || c.Separation >= 1 {
		return fmt.Errorf("labor: separation must be in [0,1), got %v", c.Separation)
	}
	if c.DownwardRigidity < 0 || c.DownwardRigidity > 1 {
		return fmt.Errorf("labor: downward_rigidity must be in [0,1], got %v", c.DownwardRigidity)
	}
	if c.Headroom < 0 {
		return fmt.Errorf("labor: headroom must not be negative, got %v", c.Headroom)
	}
	if c.MinWage <= 0 {
		return fmt.Errorf("labor: min_wage must be positive, got %v", c.MinWage)
	}
	return nil
}

// MoveKind labels an employment change.
type MoveKind uint8

const (
	MoveHire MoveKind = iota
	MoveLayoff
	MoveForcedLayoff
	MoveSwitch
	MoveSeparation
)

func (k MoveKind) String() string {
	switch k {
	case MoveHire:
		return "hire"
	case MoveLayoff:
		return "layoff"
	case MoveForcedLayoff:
		return "forced_layoff"
	case MoveSwitch:
		return "switch"
	case MoveSeparation:
		return "separation"
	default:
		return "unknown"
	}
}

// Move is one employment change.
type Move struct {
	Kind   MoveKind       `json:"kind"`
	Worker ledger.AgentID `json:"worker"`
	From   ledger.AgentID `json:"from"` // zero for a hire out of unemployment
	To     ledger.AgentID `json:"to"`   // zero for a layoff
}

// WageUpdate is a firm's wage change for the cycle.
type WageUpdate struct {
	Firm ledger.AgentID `json:"firm"`
	Old  float64        `json:"old"`
	New  float64        `json:"new"`
}

// Result is the matcher's proposal. Workers and Rosters follow the order of
// the inputs they were derived from.
type Result struct {
	Workers          []Worker
	Rosters          [][]ledger.AgentID // per firm, hire order
	Wages            []WageUpdate       // per firm
	Moves            []Move
	Vacancies        int     // posted before matching
	Unfilled         int     // left open after matching
	Seekers          int     // unemployed before matching
	Tightness        float64 // vacancies / seekers
	Employed         int
	UnemploymentRate float64
}

// Count returns how many moves of a kind the result holds.
func (r Result) Count(kind MoveKind) int {
	n := 0
	for _, m := range r.Moves {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Rate computes the unemployment rate from live worker records.
func Rate(workers []Worker) (employed int, rate float64) {
	for _, w := range workers {
		if w.Employed() {
			employed++
		}
	}
	if len(workers) == 0 {
		return 0, 0
	}
	return employed, float64(len(workers)-employed) / float64(len(workers))
}
