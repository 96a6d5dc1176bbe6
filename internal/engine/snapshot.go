package engine

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/crisis"
)

// Snapshot is the macro record of one cycle. Every figure is computed fresh
// from the ledger and the components at the end of the cycle.
type Snapshot struct {
	Cycle  uint64 `json:"cycle" db:"cycle"`
	Season string `json:"season" db:"season"`

	GDP         decimal.Decimal `json:"gdp" db:"gdp"`
	Consumption decimal.Decimal `json:"consumption" db:"consumption"`
	Investment  decimal.Decimal `json:"investment" db:"investment"`
	Government  decimal.Decimal `json:"government" db:"government"`

	Inflation    float64 `json:"inflation" db:"inflation"` // cycle over cycle
	PriceIndex   float64 `json:"price_index" db:"price_index"`
	Unemployment float64 `json:"unemployment" db:"unemployment"`
	Employed     int     `json:"employed" db:"employed"`
	MeanWage     float64 `json:"mean_wage" db:"mean_wage"`

	Transactions int             `json:"transactions" db:"transactions"`
	Volume       decimal.Decimal `json:"volume" db:"volume"`
	Rejected     int             `json:"rejected" db:"rejected"` // orders that found no stock or no cash

	PolicyRate    float64         `json:"policy_rate" db:"policy_rate"`
	LoansApproved int             `json:"loans_approved" db:"loans_approved"`
	LoansRejected int             `json:"loans_rejected" db:"loans_rejected"`
	Defaults      int             `json:"defaults" db:"defaults"`
	Originated    decimal.Decimal `json:"originated" db:"originated"`
	Deposits      decimal.Decimal `json:"deposits" db:"deposits"`
	MinSolvency   float64         `json:"min_solvency" db:"min_solvency"`
	SystemicRisk  float64         `json:"systemic_risk" db:"systemic_risk"`
	Bankruptcies  int             `json:"bankruptcies" db:"bankruptcies"` // firms liquidated or merged away
	Rescues       int             `json:"rescues" db:"rescues"`

	MoneySupply decimal.Decimal `json:"money_supply" db:"money_supply"`
	Created     decimal.Decimal `json:"created" db:"created"`
	Destroyed   decimal.Decimal `json:"destroyed" db:"destroyed"`

	Crisis      crisis.State `json:"crisis" db:"crisis"`
	Shock       bool         `json:"shock" db:"shock"`
	Stimulus    bool         `json:"stimulus" db:"stimulus"`
	LowActivity bool         `json:"low_activity" db:"low_activity"`
	Partial     bool         `json:"partial" db:"partial"`
}

// Event is a notable occurrence in the economy.
type Event struct {
	Cycle       uint64 `json:"cycle" db:"cycle"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"` // "crisis", "credit", "labor", "shock", "policy", "firm"
}

const maxEvents = 500

// SnapshotLog is the append-only record of a run. It is safe for concurrent
// readers while the simulation appends.
type SnapshotLog struct {
	mu          sync.RWMutex
	snapshots   []Snapshot
	transitions []crisis.Transition
	decisions   []credit.Decision
	events      []Event
}

// NewSnapshotLog creates an empty log.
func NewSnapshotLog() *SnapshotLog {
	return &SnapshotLog{}
}

func (l *SnapshotLog) append(s Snapshot) {
	l.mu.Lock()
	l.snapshots = append(l.snapshots, s)
	l.mu.Unlock()
}

func (l *SnapshotLog) appendTransition(t crisis.Transition) {
	l.mu.Lock()
	l.transitions = append(l.transitions, t)
	l.mu.Unlock()
}

func (l *SnapshotLog) appendDecision(d credit.Decision) {
	l.mu.Lock()
	l.decisions = append(l.decisions, d)
	l.mu.Unlock()
}

func (l *SnapshotLog) appendEvent(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	if len(l.events) > maxEvents {
		l.events = l.events[len(l.events)-maxEvents:]
	}
	l.mu.Unlock()
}

// Len returns the number of snapshots.
func (l *SnapshotLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.snapshots)
}

// All returns a copy of every snapshot in order.
func (l *SnapshotLog) All() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, len(l.snapshots))
	copy(out, l.snapshots)
	return out
}

// Since returns the snapshots from position n on.
func (l *SnapshotLog) Since(n int) []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(l.snapshots) {
		return nil
	}
	out := make([]Snapshot, len(l.snapshots)-n)
	copy(out, l.snapshots[n:])
	return out
}

// Last returns the newest snapshot.
func (l *SnapshotLog) Last() (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.snapshots) == 0 {
		return Snapshot{}, false
	}
	return l.snapshots[len(l.snapshots)-1], true
}

// LastComplete returns the newest snapshot that is not partial.
func (l *SnapshotLog) LastComplete() (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.snapshots) - 1; i >= 0; i-- {
		if !l.snapshots[i].Partial {
			return l.snapshots[i], true
		}
	}
	return Snapshot{}, false
}

// At returns the snapshot for a cycle.
func (l *SnapshotLog) At(cycle uint64) (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.snapshots) - 1; i >= 0; i-- {
		if l.snapshots[i].Cycle == cycle {
			return l.snapshots[i], true
		}
	}
	return Snapshot{}, false
}

// Transitions returns every crisis transition so far.
func (l *SnapshotLog) Transitions() []crisis.Transition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]crisis.Transition, len(l.transitions))
	copy(out, l.transitions)
	return out
}

// Decisions returns every policy rate decision so far.
func (l *SnapshotLog) Decisions() []credit.Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]credit.Decision, len(l.decisions))
	copy(out, l.decisions)
	return out
}

// Events returns the most recent events, oldest first.
func (l *SnapshotLog) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
