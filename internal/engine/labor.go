package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/labor"
	"github.com/talgya/mini-economy/internal/ledger"
)

// hire runs the labor phase. Firms size their staff to expected demand and
// to the wages they can pay; the matcher proposes layoffs, wage moves and
// hires, and the engine applies them to the agent records.
func (s *Simulation) hire(_ context.Context, cs *cycleState) error {
	floor := s.ledger.Floor()
	plans := make([]labor.FirmPlan, len(s.firms))
	for i, f := range s.firms {
		cash := s.ledger.Balance(f.ID).Sub(floor).InexactFloat64()
		minHead := 0
		if cs.stimulus {
			minHead = f.Headcount()
		}
		plans[i] = f.LaborPlan(cash, minHead)
	}

	res := s.matcher.Match(plans, s.workers(), s.rand.Stream("labor", cs.cycle))

	for i, w := range res.Workers {
		c := s.consumers[i]
		c.Employer = w.Employer
		c.Wage = w.Wage
		if c.Employed() {
			c.Idle = 0
		} else {
			c.Idle++
		}
	}
	for i, f := range s.firms {
		f.Employees = res.Rosters[i]
		f.Wage = res.Wages[i].New
	}

	for _, m := range res.Moves {
		c, ok := s.consumerIndex[m.Worker]
		if !ok {
			continue
		}
		switch m.Kind {
		case labor.MoveHire:
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Hired by %s", s.firmName(m.To)), 0.6)
		case labor.MoveSwitch:
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Left %s for %s", s.firmName(m.From), s.firmName(m.To)), 0.5)
		case labor.MoveLayoff:
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Laid off by %s", s.firmName(m.From)), 0.7)
		case labor.MoveForcedLayoff:
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Let go by %s, which could not pay wages", s.firmName(m.From)), 0.8)
		case labor.MoveSeparation:
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Left %s", s.firmName(m.From)), 0.4)
		}
	}
	if n := res.Count(labor.MoveForcedLayoff); n > 0 {
		s.emit(cs.cycle, "labor", "%d workers let go by firms that could not pay wages", n)
	}

	cs.labor = &res
	slog.Debug("labor market cleared",
		"cycle", cs.cycle,
		"vacancies", res.Vacancies,
		"unfilled", res.Unfilled,
		"hires", res.Count(labor.MoveHire),
		"layoffs", res.Count(labor.MoveLayoff)+res.Count(labor.MoveForcedLayoff),
		"separations", res.Count(labor.MoveSeparation),
		"unemployment", res.UnemploymentRate,
	)
	return nil
}

func (s *Simulation) firmName(id ledger.AgentID) string {
	if f, ok := s.firmIndex[id]; ok {
		return f.Name
	}
	return fmt.Sprintf("firm %d", id)
}
