// Package crisis holds the systemic crisis state machine. The machine owns the
// single crisis state; other components only read it.
package crisis

import (
	"fmt"
	"math"
	"log/slog"
	"strings"
)

// State is a crisis level.
type State uint8

const (
	Stable State = iota
	Warning
	Active
	Recovering
)

var stateNames = [...]string{"stable", "warning", "active", "recovering"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown crisis state %q", b)
}

// allowed lists the only legal transitions.
var allowed = map[State][]State{
	Stable:     {Warning},
	Warning:    {Active},
	Active:     {Recovering},
	Recovering: {Stable, Active},
}

// Allowed reports whether from → to is a legal transition.
func Allowed(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Metrics are the system-wide readings evaluated each cycle.
type Metrics struct {
	Cycle        uint64  `json:"cycle"`
	GDP          float64 `json:"gdp"`
	Growth       float64 `json:"growth"` // filled in by the machine
	Transactions int     `json:"transactions"`
	DefaultRate  float64 `json:"default_rate"`
	NewDefaults  int     `json:"new_defaults"`
	MinSolvency  float64 `json:"min_solvency"`
	LowActivity  bool    `json:"low_activity"`
	LiveLoans    int     `json:"live_loans"`    // loans live at the start of the credit phase
	PriceIndex   float64 `json:"price_index"`   // 0 when unknown
	SystemicRisk float64 `json:"systemic_risk"` // see SystemicRisk
}

// BankReading is one bank's contribution to the systemic risk index.
type BankReading struct {
	Solvency float64 // reserves over deposit claims
	Exposure float64 // outstanding loans over capital
}

// SystemicRisk averages, over banks, the shortfall in solvency and the
// leverage of the loan book, each capped at 1. It is 0 with no banks.
func SystemicRisk(banks []BankReading) float64 {
	if len(banks) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range banks {
		sol := math.Min(math.Max(b.Solvency, 0), 1)
		exp := math.Min(math.Max(b.Exposure, 0), 1)
		sum += ((1 - sol) + exp) / 2
	}
	return sum / float64(len(banks))
}

// Thresholds configure indicators and state timing.
type Thresholds struct {
	MinSolvency         float64 `yaml:"min_solvency" toml:"min_solvency" json:"min_solvency"`
	HardSolvency        float64 `yaml:"hard_solvency" toml:"hard_solvency" json:"hard_solvency"`
	DefaultSpike        float64 `yaml:"default_spike" toml:"default_spike" json:"default_spike"`
	HardDefault         float64 `yaml:"hard_default" toml:"hard_default" json:"hard_default"`
	DeclineCycles       int     `yaml:"decline_cycles" toml:"decline_cycles" json:"decline_cycles"`
	DeclineTolerance    float64 `yaml:"decline_tolerance" toml:"decline_tolerance" json:"decline_tolerance"` // a cycle declines when growth falls below -tolerance
	MinLoans            int     `yaml:"min_loans" toml:"min_loans" json:"min_loans"`                         // default-rate indicators need this many live loans
	BubbleWindow        int     `yaml:"bubble_window" toml:"bubble_window" json:"bubble_window"`
	BubbleGrowth        float64 `yaml:"bubble_growth" toml:"bubble_growth" json:"bubble_growth"` // price index rise over the window
	SystemicRisk        float64 `yaml:"systemic_risk" toml:"systemic_risk" json:"systemic_risk"`
	CollapseDrop        float64 `yaml:"collapse_drop" toml:"collapse_drop" json:"collapse_drop"` // one-cycle GDP fall
	MinTransactions     int     `yaml:"min_transactions" toml:"min_transactions" json:"min_transactions"`
	HardMinTransactions int     `yaml:"hard_min_transactions" toml:"hard_min_transactions" json:"hard_min_transactions"`
	EscalateAfter       int     `yaml:"escalate_after" toml:"escalate_after" json:"escalate_after"`
	RecoveryGrowth      int     `yaml:"recovery_growth" toml:"recovery_growth" json:"recovery_growth"` // cycles of non-negative growth
	Cooldown            int     `yaml:"cooldown" toml:"cooldown" json:"cooldown"`
	MaxActiveCycles     int     `yaml:"max_active_cycles" toml:"max_active_cycles" json:"max_active_cycles"`
	TightenBy           float64 `yaml:"tighten_by" toml:"tighten_by" json:"tighten_by"`
	StimulusCycles      int     `yaml:"stimulus_cycles" toml:"stimulus_cycles" json:"stimulus_cycles"`
}

// DefaultThresholds returns the built-in crisis thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSolvency:         0.2,
		HardSolvency:        0.08,
		DefaultSpike:        0.05,
		HardDefault:         0.2,
		DeclineCycles:       3,
		DeclineTolerance:    0.02,
		MinLoans:            10,
		BubbleWindow:        5,
		BubbleGrowth:        0.15,
		SystemicRisk:        0.5,
		CollapseDrop:        0.3,
		MinTransactions:     50,
		HardMinTransactions: 10,
		EscalateAfter:       3,
		RecoveryGrowth:      2,
		Cooldown:            4,
		MaxActiveCycles:     10,
		TightenBy:           0.15,
		StimulusCycles:      3,
	}
}

// Validate checks the thresholds.
func (t Thresholds) Validate() error {
	if t.HardSolvency > t.MinSolvency {
		return fmt.Errorf("crisis: hard_solvency %v above min_solvency %v", t.HardSolvency, t.MinSolvency)
	}
	if t.HardDefault < t.DefaultSpike {
		return fmt.Errorf("crisis: hard_default %v below default_spike %v", t.HardDefault, t.DefaultSpike)
	}
	if t.HardMinTransactions > t.MinTransactions {
		return fmt.Errorf("crisis: hard_min_transactions %d above min_transactions %d", t.HardMinTransactions, t.MinTransactions)
	}
	if t.EscalateAfter < 1 || t.Cooldown < 1 || t.MaxActiveCycles < 1 || t.RecoveryGrowth < 1 {
		return fmt.Errorf("crisis: escalate_after, cooldown, max_active_cycles and recovery_growth must be at least 1")
	}
	if t.DeclineCycles < 1 {
		return fmt.Errorf("crisis: decline_cycles must be at least 1, got %d", t.DeclineCycles)
	}
	if t.DeclineTolerance < 0 || t.MinLoans < 0 {
		return fmt.Errorf("crisis: decline_tolerance and min_loans must not be negative")
	}
	if t.BubbleWindow < 1 || t.BubbleGrowth <= 0 {
		return fmt.Errorf("crisis: bubble_window must be at least 1 and bubble_growth positive")
	}
	if t.SystemicRisk <= 0 || t.SystemicRisk > 1 {
		return fmt.Errorf("crisis: systemic_risk must be in (0,1], got %v", t.SystemicRisk)
	}
	return nil
}

// Status is the current crisis state with the metrics that caused entry.
type Status struct {
	State         State    `json:"state"`
	EnteredCycle  uint64   `json:"entered_cycle"`
	CyclesInState int      `json:"cycles_in_state"`
	Trigger       Metrics  `json:"trigger"`
	Indicators    []string `json:"indicators,omitempty"`
}

// Transition records one state change.
type Transition struct {
	Cycle      uint64   `json:"cycle"`
	From       State    `json:"from"`
	To         State    `json:"to"`
	Reason     string   `json:"reason"`
	Forced     bool     `json:"forced"`
	Indicators []string `json:"indicators,omitempty"`
	Metrics    Metrics  `json:"metrics"`
}

// Directive lists measures to apply on the following cycle.
type Directive struct {
	TightenCredit   float64 `json:"tighten_credit"`
	InjectLiquidity bool    `json:"inject_liquidity"`
	Stimulus        bool    `json:"stimulus"`
	StimulusCycles  int     `json:"stimulus_cycles"`
}

// Any reports whether the directive asks for anything.
func (d Directive) Any() bool {
	return d.TightenCredit > 0 || d.InjectLiquidity || d.Stimulus
}

type indicators struct {
	soft []string
	hard []string
}

func (i indicators) any() bool { return len(i.soft) > 0 || len(i.hard) > 0 }

func (i indicators) all() []string {
	out := make([]string, 0, len(i.soft)+len(i.hard))
	out = append(out, i.hard...)
	return append(out, i.soft...)
}

// Machine evaluates indicators once per cycle and moves between states.
type Machine struct {
	th     Thresholds
	status Status

	prevGDP     float64
	havePrev    bool
	declineRun  int
	growthRun   int
	softRun     int
	cleanRun    int
	prices      []float64 // recent price index levels, oldest first
	transitions []Transition
}

// New creates a machine in the Stable state.
func New(th Thresholds) *Machine {
	return &Machine{th: th, status: Status{State: Stable}}
}

// Status returns the current status.
func (m *Machine) Status() Status { return m.status }

// State returns the current state.
func (m *Machine) State() State { return m.status.State }

// Transitions returns every transition so far.
func (m *Machine) Transitions() []Transition {
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

func (m *Machine) measure(met *Metrics) indicators {
	if m.havePrev && m.prevGDP > 0 {
		met.Growth = (met.GDP - m.prevGDP) / m.prevGDP
	}
	if m.havePrev {
		if met.Growth < 0 {
			m.growthRun = 0
		} else {
			m.growthRun++
		}
		if met.Growth < -m.th.DeclineTolerance {
			m.declineRun++
		} else {
			m.declineRun = 0
		}
	}
	m.prevGDP, m.havePrev = met.GDP, true

	var ind indicators
	if met.MinSolvency < m.th.HardSolvency {
		ind.hard = append(ind.hard, "solvency_collapse")
	} else if met.MinSolvency < m.th.MinSolvency {
		ind.soft = append(ind.soft, "low_solvency")
	}
	// A handful of loans makes the default rate meaningless.
	if met.LiveLoans >= m.th.MinLoans {
		if met.DefaultRate >= m.th.HardDefault {
			ind.hard = append(ind.hard, "default_wave")
		} else if met.DefaultRate >= m.th.DefaultSpike {
			ind.soft = append(ind.soft, "default_spike")
		}
	}
	if met.Growth <= -m.th.CollapseDrop {
		ind.hard = append(ind.hard, "gdp_collapse")
	} else if m.declineRun >= m.th.DeclineCycles {
		ind.soft = append(ind.soft, "gdp_decline")
	}
	if met.Transactions < m.th.HardMinTransactions {
		ind.hard = append(ind.hard, "trade_freeze")
	} else if met.LowActivity || met.Transactions < m.th.MinTransactions {
		ind.soft = append(ind.soft, "low_activity")
	}
	if m.bubble(met.PriceIndex) {
		ind.soft = append(ind.soft, "price_bubble")
	}
	if met.SystemicRisk >= m.th.SystemicRisk {
		ind.soft = append(ind.soft, "systemic_risk")
	}
	return ind
}

// bubble records the price level and reports whether it rose by more than
// BubbleGrowth over the last BubbleWindow cycles.
func (m *Machine) bubble(level float64) bool {
	if level <= 0 {
		return false
	}
	m.prices = append(m.prices, level)
	if len(m.prices) > m.th.BubbleWindow+1 {
		m.prices = m.prices[1:]
	}
	if len(m.prices) <= m.th.BubbleWindow {
		return false
	}
	return level/m.prices[0]-1 >= m.th.BubbleGrowth
}

// Evaluate reads this cycle's metrics, makes at most one transition, and
// returns the directive for the next cycle.
func (m *Machine) Evaluate(met Metrics) (Directive, *Transition) {
	ind := m.measure(&met)
	m.status.CyclesInState++

	var tr *Transition
	switch m.status.State {
	case Stable:
		if ind.any() {
			tr = m.move(Warning, met, ind, "risk indicators crossed", false)
			m.softRun = 1
		}

	case Warning:
		switch {
		case len(ind.hard) > 0:
			tr = m.move(Active, met, ind, "hard threshold crossed", false)
		case len(ind.soft) > 0:
			m.softRun++
			if m.softRun >= m.th.EscalateAfter {
				tr = m.move(Active, met, ind, fmt.Sprintf("indicators seen %d cycles", m.softRun), false)
			}
		}

	case Active:
		// Growth is counted from entry, and nothing hard may still stand.
		recovered := len(ind.hard) == 0 &&
			m.growthRun >= m.th.RecoveryGrowth &&
			met.Transactions >= m.th.MinTransactions &&
			met.NewDefaults == 0
		switch {
		case recovered:
			tr = m.move(Recovering, met, ind, "growth restored", false)
		case m.status.CyclesInState > m.th.MaxActiveCycles:
			tr = m.move(Recovering, met, ind, fmt.Sprintf("forced exit after %d cycles", m.status.CyclesInState-1), true)
		}

	case Recovering:
		switch {
		case len(ind.hard) > 0:
			tr = m.move(Active, met, ind, "relapse", false)
		case len(ind.soft) > 0:
			m.cleanRun = 0
		default:
			m.cleanRun++
			if m.cleanRun >= m.th.Cooldown {
				tr = m.move(Stable, met, ind, "cooldown elapsed", false)
			}
		}
	}

	var dir Directive
	if m.status.State == Active {
		dir.TightenCredit = m.th.TightenBy
		dir.InjectLiquidity = true
	}
	if tr != nil && tr.Forced {
		dir.Stimulus = true
		dir.StimulusCycles = m.th.StimulusCycles
		slog.Info("emergency stimulus ordered", "cycle", met.Cycle, "cycles", m.th.StimulusCycles)
	}
	return dir, tr
}

func (m *Machine) move(to State, met Metrics, ind indicators, reason string, forced bool) *Transition {
	from := m.status.State
	if !Allowed(from, to) {
		// Unreachable by construction; refuse rather than corrupt the state.
		slog.Error("illegal crisis transition refused", "from", from.String(), "to", to.String())
		return nil
	}
	names := ind.all()
	tr := Transition{
		Cycle:      met.Cycle,
		From:       from,
		To:         to,
		Reason:     reason,
		Forced:     forced,
		Indicators: names,
		Metrics:    met,
	}
	m.transitions = append(m.transitions, tr)
	m.status = Status{State: to, EnteredCycle: met.Cycle, Trigger: met, Indicators: names}
	m.softRun, m.cleanRun = 0, 0
	if to == Active {
		m.growthRun = 0
	}

	slog.Info("crisis transition",
		"cycle", met.Cycle,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
		"forced", forced,
		"indicators", strings.Join(names, ","),
		"gdp", met.GDP,
		"growth", met.Growth,
		"transactions", met.Transactions,
		"default_rate", met.DefaultRate,
		"min_solvency", met.MinSolvency,
	)
	return &tr
}
