// Package credit implements commercial banks, loan underwriting, deposits
// and the central bank's policy rate.
package credit

import (
	"math"

	"github.com/talgya/mini-economy/internal/ledger"
)

// Tier is a creditworthiness bucket used to price loans.
type Tier uint8

const (
	TierA Tier = iota
	TierB
	TierC
	TierD
)

func (t Tier) String() string {
	switch t {
	case TierA:
		return "A"
	case TierB:
		return "B"
	case TierC:
		return "C"
	case TierD:
		return "D"
	default:
		return "?"
	}
}

// Profile is what the underwriter knows about a borrower. The engine fills
// in the agent side; the credit system adds the borrower's loan history.
type Profile struct {
	Kind     ledger.Kind
	Income   float64 // per cycle: wage for consumers, revenue for firms
	Balance  float64 // cash on hand, used as collateral
	Employed bool
	Age      int // cycles in business, firms only

	Debt     float64 // outstanding with all banks
	Missed   int     // missed installments, lifetime
	Defaults int
}

// RiskConfig holds the reference levels scores are normalised against.
type RiskConfig struct {
	IncomeRef  float64 `yaml:"income_ref" toml:"income_ref" json:"income_ref"`
	SavingsRef float64 `yaml:"savings_ref" toml:"savings_ref" json:"savings_ref"`
	CapitalRef float64 `yaml:"capital_ref" toml:"capital_ref" json:"capital_ref"`
	SalesRef   float64 `yaml:"sales_ref" toml:"sales_ref" json:"sales_ref"`
	MatureAge  int     `yaml:"mature_age" toml:"mature_age" json:"mature_age"`
}

// DefaultRiskConfig returns the built-in normalisation levels.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		IncomeRef:  60,
		SavingsRef: 600,
		CapitalRef: 5000,
		SalesRef:   1500,
		MatureAge:  24,
	}
}

// Score maps a profile into [0.1, 1]; higher is safer.
func (c RiskConfig) Score(p Profile) float64 {
	var score float64
	switch p.Kind {
	case ledger.KindFirm:
		score = 0.5*ratio(p.Balance, c.CapitalRef) +
			0.3*ratio(p.Income, c.SalesRef) +
			0.2*ratio(float64(p.Age), float64(c.MatureAge))
	default:
		employment := 0.0
		if p.Employed {
			employment = 1
		}
		leverage := 1.0
		if p.Debt > 0 {
			leverage = 1 - ratio(p.Debt, p.Income*12+p.Balance)
		}
		score = 0.4*ratio(p.Income, c.IncomeRef) +
			0.3*employment +
			0.2*ratio(p.Balance, c.SavingsRef) +
			0.1*leverage
	}
	score -= 0.05*float64(p.Missed) + 0.25*float64(p.Defaults)
	return math.Max(0.1, math.Min(1, score))
}

// TierFor buckets a score.
func TierFor(score float64) Tier {
	switch {
	case score >= 0.8:
		return TierA
	case score >= 0.6:
		return TierB
	case score >= 0.4:
		return TierC
	default:
		return TierD
	}
}

func ratio(v, ref float64) float64 {
	if ref <= 0 || v <= 0 {
		return 0
	}
	return math.Min(1, v/ref)
}
