package labor

import (
	"sort"

	"github.com/talgya/mini-economy/internal/ledger"
)

// Rand is the random source the matcher draws mobility checks from.
type Rand interface {
	Float64() float64
}

// Matcher runs one labor market round per cycle.
type Matcher struct {
	cfg Config
}

// NewMatcher creates a matcher.
func NewMatcher(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Config returns the matcher configuration.
func (m *Matcher) Config() Config { return m.cfg }

type firmState struct {
	plan      FirmPlan
	roster    []ledger.AgentID
	vacancies int
	wage      float64
}

// Match runs layoffs, wage updates, matching and separations. Inputs are not modified;
// the returned Result carries the proposed new state.
func (m *Matcher) Match(firms []FirmPlan, workers []Worker, rng Rand) Result {
	res := Result{
		Workers: make([]Worker, len(workers)),
		Rosters: make([][]ledger.AgentID, len(firms)),
		Wages:   make([]WageUpdate, len(firms)),
	}
	copy(res.Workers, workers)

	index := make(map[ledger.AgentID]int, len(workers))
	for i, w := range res.Workers {
		index[w.ID] = i
	}

	states := make([]*firmState, len(firms))
	byID := make(map[ledger.AgentID]*firmState, len(firms))
	for i, p := range firms {
		st := &firmState{plan: p, wage: p.Wage}
		// Only keep roster entries that agree with the worker records.
		for _, id := range p.Employees {
			if wi, ok := index[id]; ok && res.Workers[wi].Employer == p.ID {
				st.roster = append(st.roster, id)
			}
		}
		states[i] = st
		byID[p.ID] = st
	}

	// Layoffs come first. A firm that cannot pay its wage bill sheds workers
	// and hires nobody this cycle.
	for _, st := range states {
		head := len(st.roster)
		if head > st.plan.CanAfford {
			m.layoff(&res, index, st, head-st.plan.CanAfford, MoveForcedLayoff)
			continue
		}
		target := st.plan.Target(m.cfg.Headroom)
		switch {
		case head > target:
			m.layoff(&res, index, st, min(head-target, m.cfg.MaxLayoffs), MoveLayoff)
		case head < target:
			st.vacancies = min(target-head, m.cfg.MaxHires)
		}
	}

	for _, w := range res.Workers {
		if !w.Employed() {
			res.Seekers++
		}
	}
	for _, st := range states {
		res.Vacancies += st.vacancies
	}

	// Wage pressure follows vacancies per seeker.
	switch {
	case res.Seekers > 0:
		res.Tightness = float64(res.Vacancies) / float64(res.Seekers)
	case res.Vacancies > 0:
		res.Tightness = float64(res.Vacancies)
	default:
		res.Tightness = 1
	}
	step := m.cfg.WageSensitivity * (res.Tightness - 1)
	if step > m.cfg.MaxWageStep {
		step = m.cfg.MaxWageStep
	} else if step < -m.cfg.MaxWageStep {
		step = -m.cfg.MaxWageStep
	}
	if step < 0 {
		step *= 1 - m.cfg.DownwardRigidity
	}
	for i, st := range states {
		st.wage = st.plan.Wage * (1 + step)
		if st.wage < m.cfg.MinWage {
			st.wage = m.cfg.MinWage
		}
		res.Wages[i] = WageUpdate{Firm: st.plan.ID, Old: st.plan.Wage, New: st.wage}
	}

	// Best-paying vacancies pick first.
	order := make([]*firmState, 0, len(states))
	for _, st := range states {
		if st.vacancies > 0 {
			order = append(order, st)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].wage != order[j].wage {
			return order[i].wage > order[j].wage
		}
		return order[i].plan.ID < order[j].plan.ID
	})

	moved := make(map[ledger.AgentID]bool)
	for _, st := range order {
		declined := make(map[ledger.AgentID]bool)
		for st.vacancies > 0 {
			wi, ok := m.bestCandidate(res.Workers, st, byID, moved, declined)
			if !ok {
				break
			}
			w := &res.Workers[wi]
			if w.Home != st.plan.Sector && rng.Float64() < m.cfg.MobilityFriction {
				declined[w.ID] = true
				continue
			}
			from := w.Employer
			if from != 0 {
				old := byID[from]
				old.roster = removeID(old.roster, w.ID)
				res.Moves = append(res.Moves, Move{Kind: MoveSwitch, Worker: w.ID, From: from, To: st.plan.ID})
			} else {
				res.Moves = append(res.Moves, Move{Kind: MoveHire, Worker: w.ID, To: st.plan.ID})
			}
			w.Employer = st.plan.ID
			st.roster = append(st.roster, w.ID)
			st.vacancies--
			moved[w.ID] = true
		}
		res.Unfilled += st.vacancies
	}

	// Some settled jobs end for reasons outside the firm's plan. Workers
	// placed this round are spared.
	if m.cfg.Separation > 0 {
		for i := range res.Workers {
			w := &res.Workers[i]
			if !w.Employed() || moved[w.ID] {
				continue
			}
			st, ok := byID[w.Employer]
			if !ok || rng.Float64() >= m.cfg.Separation {
				continue
			}
			st.roster = removeID(st.roster, w.ID)
			res.Moves = append(res.Moves, Move{Kind: MoveSeparation, Worker: w.ID, From: st.plan.ID})
			w.Employer = 0
		}
	}

	// Everyone employed is paid their employer's current wage.
	for i := range res.Workers {
		w := &res.Workers[i]
		if st, ok := byID[w.Employer]; ok && w.Employed() {
			w.Wage = st.wage
		} else {
			w.Employer = 0
			w.Wage = 0
		}
	}
	for i, st := range states {
		res.Rosters[i] = st.roster
	}
	res.Employed, res.UnemploymentRate = Rate(res.Workers)
	return res
}

// layoff releases the n most recent hires.
func (m *Matcher) layoff(res *Result, index map[ledger.AgentID]int, st *firmState, n int, kind MoveKind) {
	for ; n > 0 && len(st.roster) > 0; n-- {
		last := st.roster[len(st.roster)-1]
		st.roster = st.roster[:len(st.roster)-1]
		w := &res.Workers[index[last]]
		w.Employer = 0
		w.Wage = 0
		res.Moves = append(res.Moves, Move{Kind: kind, Worker: last, From: st.plan.ID})
	}
}

// bestCandidate picks the seeker with the highest compatibility for the
// firm's sector, ties by lowest ID. Unemployed workers are preferred; an
// employed worker qualifies only for a sufficiently better wage.
func (m *Matcher) bestCandidate(workers []Worker, st *firmState, byID map[ledger.AgentID]*firmState,
	moved, declined map[ledger.AgentID]bool) (int, bool) {
	best, bestScore := -1, -1.0
	bestEmployed := true
	for i, w := range workers {
		if moved[w.ID] || declined[w.ID] || w.Employer == st.plan.ID {
			continue
		}
		score := w.Skill(st.plan.Sector)
		if score < m.cfg.MatchThreshold {
			continue
		}
		employed := w.Employed()
		if employed {
			cur, ok := byID[w.Employer]
			if !ok || st.wage < cur.wage*(1+m.cfg.PoachPremium) {
				continue
			}
		}
		better := false
		switch {
		case best < 0:
			better = true
		case bestEmployed && !employed:
			better = true
		case bestEmployed != employed:
			better = false
		case score > bestScore:
			better = true
		case score == bestScore && w.ID < workers[best].ID:
			better = true
		}
		if better {
			best, bestScore, bestEmployed = i, score, employed
		}
	}
	return best, best >= 0
}

func removeID(ids []ledger.AgentID, id ledger.AgentID) []ledger.AgentID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
