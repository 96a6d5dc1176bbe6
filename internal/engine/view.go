package engine

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/ledger"
)

// economyView gives the credit system read access to balances and borrower
// profiles.
type economyView struct {
	s *Simulation
}

func (v economyView) Balance(id ledger.AgentID) decimal.Decimal {
	return v.s.ledger.Balance(id)
}

func (v economyView) Profile(id ledger.AgentID) (credit.Profile, bool) {
	bal := v.s.ledger.Balance(id).InexactFloat64()
	if c, ok := v.s.consumerIndex[id]; ok {
		return credit.Profile{
			Kind:     ledger.KindConsumer,
			Income:   c.Wage,
			Balance:  bal,
			Employed: c.Employed(),
		}, true
	}
	if f, ok := v.s.firmIndex[id]; ok {
		return credit.Profile{
			Kind:     ledger.KindFirm,
			Income:   f.Revenue,
			Balance:  bal,
			Employed: f.Headcount() > 0,
			Age:      f.Age,
		}, true
	}
	return credit.Profile{}, false
}
