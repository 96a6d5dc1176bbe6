// Population setup: catalog, banks, households, firms and the government,
// their opening balances, opening stock and initial staffing.
package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/labor"
	"github.com/talgya/mini-economy/internal/ledger"
)

func (s *Simulation) populate() error {
	scn := s.scn
	for i, gs := range scn.Goods {
		cat, err := economy.ParseCategory(gs.Category)
		if err != nil {
			return err
		}
		params := economy.DefaultCategoryParams(cat)
		if gs.Params != nil {
			params = *gs.Params
		}
		g := economy.NewGood(ledger.GoodID(i+1), gs.Name, cat, params, gs.Price, scn.DemandWindow)
		s.goods = append(s.goods, g)
		s.basePrice = append(s.basePrice, gs.Price)
	}

	spawner := agents.NewSpawner(scn.Seed)

	var bankIDs []ledger.AgentID
	var banks []*credit.Bank
	for i := 0; i < scn.Banks; i++ {
		id := spawner.Allocate()
		bankIDs = append(bankIDs, id)
		banks = append(banks, credit.NewBank(id, scn.BankMinSolvency))
		if err := s.ledger.Open(id, ledger.KindBank, decimal.NewFromFloat(scn.BankReserves)); err != nil {
			return err
		}
	}
	s.credit = credit.NewSystem(scn.Credit, banks...)

	// Opening demand per seller, and the staff that covers it. Households
	// train in sectors in proportion to that staff. Demand is what settled
	// households want at base prices plus the government's procurement.
	perGood := make([]int, len(s.goods))
	for i := 0; i < scn.Firms; i++ {
		perGood[i%len(s.goods)]++
	}
	weights := 0.0
	for _, g := range s.goods {
		weights += g.Params.IndexWeight
	}
	expected := make([]float64, scn.Firms)
	reserve := make([]float64, scn.Firms)
	var sectors []labor.Sector
	for i := 0; i < scn.Firms; i++ {
		gi := i % len(s.goods)
		g := s.goods[gi]
		units := float64(scn.Consumers) * g.Params.Appetite * agents.SettledUrgency(agents.NeedFor(g.Category))
		if weights > 0 {
			units += scn.Government.Cash * scn.Government.Procurement * g.Params.IndexWeight / weights / g.Price
		}
		expected[i] = units / float64(perGood[gi])
		productivity := math.Max(0.1, scn.Behavior.OutputValue/g.Price)
		need := max(1, int(math.Ceil(expected[i]/productivity)))
		reserve[i] = scn.FirmReserve * float64(need) * scn.Wage
		for j := 0; j < need; j++ {
			sectors = append(sectors, labor.Sector(g.Category))
		}
	}

	s.consumers = spawner.SpawnConsumers(scn.Consumers, sectors, scn.Behavior, bankIDs, append([]float64(nil), s.basePrice...))
	for _, c := range s.consumers {
		s.consumerIndex[c.ID] = c
		if err := s.ledger.Open(c.ID, ledger.KindConsumer, decimal.NewFromFloat(scn.ConsumerCash)); err != nil {
			return err
		}
	}

	s.firms = spawner.SpawnFirms(scn.Firms, s.goods, scn.Wage, scn.Behavior, bankIDs)
	for i, f := range s.firms {
		s.firmIndex[f.ID] = f
		s.sellers[f.Good] = append(s.sellers[f.Good], f)
		f.Listing.DemandEMA = expected[i]
		if err := s.ledger.Open(f.ID, ledger.KindFirm, ledger.Cents(reserve[i])); err != nil {
			return err
		}
		stock := int(math.Ceil(expected[i] * scn.InitialStock))
		if stock > 0 {
			if _, err := s.commit(0, "setup", true, ledger.NewPosting(0, "opening stock", ledger.Produce(f.ID, f.Good, stock))); err != nil {
				return err
			}
		}
	}

	s.gov = spawner.NewGovernment(scn.Government)
	if err := s.ledger.Open(s.gov.ID, ledger.KindGovernment, decimal.NewFromFloat(scn.Government.Cash)); err != nil {
		return err
	}

	// Opening income stands in for a cycle zero; the first cycle rolls it
	// into LastIncome.
	s.staff()
	for _, c := range s.consumers {
		if c.Employed() {
			c.Income = c.Wage * (1 - s.gov.TaxRate)
		} else {
			c.Income = s.gov.Benefit * scn.Wage
		}
	}
	return s.ledger.CheckConservation()
}

// staff fills each firm's opening headcount, home-sector workers first.
func (s *Simulation) staff() {
	for _, f := range s.firms {
		need := max(1, int(math.Ceil(f.Expected()/f.Productivity)))
		candidates := make([]*agents.Consumer, 0, len(s.consumers))
		for _, c := range s.consumers {
			if !c.Employed() {
				candidates = append(candidates, c)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			hi, hj := candidates[i].Home == f.Sector, candidates[j].Home == f.Sector
			if hi != hj {
				return hi
			}
			return candidates[i].ID < candidates[j].ID
		})
		for _, c := range candidates {
			if len(f.Employees) >= need {
				break
			}
			c.Employer = f.ID
			c.Wage = f.Wage
			f.Employees = append(f.Employees, c.ID)
		}
	}
}

// offers is what buyers see of the catalog this cycle.
func (s *Simulation) offers() []agents.Offer {
	out := make([]agents.Offer, len(s.goods))
	for i, g := range s.goods {
		out[i] = agents.Offer{
			Good:     g.ID,
			Category: g.Category,
			Params:   g.Params,
			Price:    g.Price,
			Base:     s.basePrice[i],
		}
	}
	return out
}

func (s *Simulation) good(id ledger.GoodID) (*economy.Good, error) {
	i := int(id) - 1
	if i < 0 || i >= len(s.goods) {
		return nil, fmt.Errorf("unknown good %d", id)
	}
	return s.goods[i], nil
}
