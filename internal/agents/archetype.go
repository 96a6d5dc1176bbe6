package agents

import "fmt"

// Archetype is a household's spending temperament.
type Archetype uint8

const (
	ArchSteady Archetype = iota
	ArchFrugal
	ArchSpendthrift
)

func (a Archetype) String() string {
	switch a {
	case ArchSteady:
		return "steady"
	case ArchFrugal:
		return "frugal"
	case ArchSpendthrift:
		return "spendthrift"
	default:
		return "unknown"
	}
}

// MarshalText encodes the archetype by name.
func (a Archetype) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText decodes an archetype name.
func (a *Archetype) UnmarshalText(b []byte) error {
	for _, v := range []Archetype{ArchSteady, ArchFrugal, ArchSpendthrift} {
		if v.String() == string(b) {
			*a = v
			return nil
		}
	}
	return fmt.Errorf("unknown archetype %q", b)
}

// Template shifts the base behavior for an archetype.
type Template struct {
	Propensity float64 // multiplier on the scenario propensity
	Saving     float64 // multiplier on the deposited share of surplus
	Borrowing  float64 // multiplier on the chance of asking for credit
}

var templates = map[Archetype]Template{
	ArchSteady:      {Propensity: 1, Saving: 1, Borrowing: 1},
	ArchFrugal:      {Propensity: 0.9, Saving: 1.6, Borrowing: 0.4},
	ArchSpendthrift: {Propensity: 1.1, Saving: 0.4, Borrowing: 2},
}

// TemplateFor returns the archetype's template, steady when unknown.
func TemplateFor(a Archetype) Template {
	if t, ok := templates[a]; ok {
		return t
	}
	return templates[ArchSteady]
}
