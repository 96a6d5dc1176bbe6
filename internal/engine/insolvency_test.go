package engine

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/ledger"
)

// drain moves all of an agent's cash to the government.
func drain(t *testing.T, sim *Simulation, id ledger.AgentID) {
	t.Helper()
	if bal := sim.ledger.Balance(id); bal.IsPositive() {
		require.NoError(t, sim.ledger.Commit(ledger.NewPosting(sim.cycle, "test drain", ledger.Transfer(id, sim.gov.ID, bal))))
	}
}

// borrow books a working-capital loan for a firm outside the normal cycle.
func borrow(t *testing.T, sim *Simulation, f *agents.Firm, amount string) {
	t.Helper()
	out, err := sim.credit.ProcessCycle(sim.cycle, sim.central.Rate(), []credit.Request{{
		Borrower: f.ID, Bank: f.Bank, Amount: decimal.RequireFromString(amount), Purpose: "working capital",
	}}, nil, credit.Directives{}, economyView{sim})
	require.NoError(t, err)
	require.IsType(t, credit.Approved{}, out.Results[0])
	for _, p := range out.Postings {
		require.NoError(t, sim.ledger.Commit(p))
	}
}

func events(sim *Simulation, category string) []string {
	var out []string
	for _, e := range sim.Log().Events() {
		if e.Category == category {
			out = append(out, e.Description)
		}
	}
	return out
}

func TestLiquidationWritesOffLoansAndReleasesStaff(t *testing.T) {
	scn := smallScenario()
	scn.Credit.MinScore = 0
	scn.Credit.MaxDebtService = 1000
	sim := newSim(t, scn)
	run(t, sim, 3)

	var f *agents.Firm
	for _, c := range sim.firms {
		if f == nil || c.Revenue > f.Revenue {
			f = c
		}
	}
	require.Positive(t, f.Revenue)
	borrow(t, sim, f, "5000")
	drain(t, sim, f.ID)

	staff := append([]ledger.AgentID(nil), f.Employees...)
	require.NotEmpty(t, staff)
	stock := sim.ledger.Stock(f.ID, f.Good)
	treasury := sim.ledger.Balance(sim.gov.ID)

	cs := newCycleState(sim.cycle)
	out := credit.Outcome{}
	require.NoError(t, sim.liquidate(cs, &out, f))
	require.NoError(t, sim.ledger.CheckConservation())

	assert.NotContains(t, sim.firms, f)
	assert.NotContains(t, sim.sellers[f.Good], f)
	_, listed := sim.firmIndex[f.ID]
	assert.False(t, listed)
	assert.Zero(t, sim.ledger.Stock(f.ID, f.Good))
	assert.True(t, sim.ledger.Balance(f.ID).IsZero())
	assert.Equal(t, 1, cs.bankruptcies)

	require.NotEmpty(t, out.WriteOffs)
	for _, w := range out.WriteOffs {
		assert.Equal(t, f.ID, w.Borrower)
		assert.True(t, w.Amount.IsPositive())
	}
	debt, _ := sim.credit.Debt(f.ID)
	assert.True(t, debt.IsZero(), "no loan survives the firm")

	if stock > 0 {
		assert.True(t, sim.ledger.Balance(sim.gov.ID).LessThan(treasury), "the treasury paid for the stock")
	}
	for _, id := range staff {
		c := sim.consumerIndex[id]
		assert.False(t, c.Employed(), "worker %d released", id)
		assert.Zero(t, c.Wage)
	}

	closed := events(sim, "firm")
	require.Len(t, closed, 1)
	assert.Contains(t, closed[0], f.Name+" liquidated")

	// The economy carries on without the firm.
	run(t, sim, 2)
}

func TestRescueDrawsOnTreasuryOutsideACrisis(t *testing.T) {
	sim := newSim(t, smallScenario())
	run(t, sim, 2)
	f := sim.firms[0]
	f.Distress = 5
	drain(t, sim, f.ID)

	cs := newCycleState(sim.cycle)
	cs.gdp = decimal.NewFromInt(100000)
	ok, err := sim.rescue(cs, f)
	require.NoError(t, err)
	require.True(t, ok)

	bill := math.Max(float64(f.Headcount())*f.Wage, f.Wage)
	want := ledger.Cents(sim.scn.Insolvency.RescueCycles * bill)
	assert.True(t, sim.ledger.Balance(f.ID).Equal(want), "got %s, want %s", sim.ledger.Balance(f.ID), want)
	assert.Equal(t, 1, f.Rescues)
	assert.Zero(t, f.Distress)
	assert.Equal(t, 1, cs.rescues)
	require.Len(t, events(sim, "firm"), 1)

	// A capped rescue below one wage bill is not worth making.
	cs.gdp = decimal.NewFromInt(10)
	ok, err = sim.rescue(cs, f)
	require.NoError(t, err)
	assert.False(t, ok)

	// An empty treasury cannot rescue without an active crisis.
	cs.gdp = decimal.NewFromInt(100000)
	drain(t, sim, sim.gov.ID)
	created := sim.ledger.Created()
	ok, err = sim.rescue(cs, f)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, sim.ledger.Created().Equal(created), "no money is created outside a crisis")
}

func TestRescueInActiveCrisisIgnoresGDPAndMintsShortfall(t *testing.T) {
	sim := newSim(t, smallScenario())
	run(t, sim, 2)
	// A solvency collapse moves the machine to Warning, then to Active.
	for i := 0; i < 2; i++ {
		sim.crisis.Evaluate(crisis.Metrics{Cycle: sim.cycle, GDP: 1, Transactions: 100})
	}
	require.Equal(t, crisis.Active, sim.crisis.State())

	f := sim.firms[0]
	drain(t, sim, f.ID)
	drain(t, sim, sim.gov.ID)
	created := sim.ledger.Created()

	// Trade has stopped, so this cycle's GDP would cap the rescue at nothing.
	cs := newCycleState(sim.cycle)
	ok, err := sim.rescue(cs, f)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sim.ledger.CheckConservation())

	bill := math.Max(float64(f.Headcount())*f.Wage, f.Wage)
	want := ledger.Cents(sim.scn.Insolvency.RescueCycles * bill)
	assert.True(t, sim.ledger.Balance(f.ID).Equal(want), "got %s, want %s", sim.ledger.Balance(f.ID), want)
	assert.True(t, sim.ledger.Created().Sub(created).Equal(want), "the shortfall is minted")
	assert.Equal(t, 1, cs.rescues)
}

func TestRescuesAreLimited(t *testing.T) {
	sim := newSim(t, smallScenario())
	run(t, sim, 2)
	f := sim.firms[0]
	f.Rescues = sim.scn.Insolvency.MaxRescues

	cs := newCycleState(sim.cycle)
	cs.gdp = decimal.NewFromInt(100000)
	ok, err := sim.rescue(cs, f)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistressedFirmIsTakenOverByHealthyRival(t *testing.T) {
	scn := smallScenario()
	scn.Firms = 20
	sim := newSim(t, scn)
	run(t, sim, 2)

	sellers := sim.sellers[sim.goods[0].ID]
	require.Len(t, sellers, 2)
	f, rival := sellers[0], sellers[1]
	require.NoError(t, sim.ledger.Commit(ledger.NewPosting(sim.cycle, "test capital", ledger.Mint(rival.ID, decimal.NewFromInt(50000)))))
	drain(t, sim, f.ID)
	f.Distress = sim.scn.Insolvency.After - 1

	staff := append([]ledger.AgentID(nil), f.Employees...)
	before := sim.ledger.Stock(rival.ID, f.Good) + sim.ledger.Stock(f.ID, f.Good)
	headcount := rival.Headcount()

	cs := newCycleState(sim.cycle)
	out := credit.Outcome{}
	require.NoError(t, sim.resolveInsolvent(cs, &out))
	require.NoError(t, sim.ledger.CheckConservation())

	assert.NotContains(t, sim.firms, f)
	assert.Equal(t, []*agents.Firm{rival}, sim.sellers[f.Good])
	assert.Equal(t, before, sim.ledger.Stock(rival.ID, f.Good), "the rival takes over the stock")
	assert.Equal(t, headcount+len(staff), rival.Headcount())
	for _, id := range staff {
		c := sim.consumerIndex[id]
		assert.Equal(t, rival.ID, c.Employer)
		assert.Equal(t, rival.Wage, c.Wage)
	}
	assert.Equal(t, 1, cs.bankruptcies)

	found := false
	for _, e := range events(sim, "firm") {
		if strings.Contains(e, f.Name+" taken over by "+rival.Name) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHealthyFirmsAreLeftAlone(t *testing.T) {
	sim := newSim(t, smallScenario())
	run(t, sim, 2)
	n := len(sim.firms)
	f := sim.firms[0]
	require.NoError(t, sim.ledger.Commit(ledger.NewPosting(sim.cycle, "test capital", ledger.Mint(f.ID, decimal.NewFromInt(10000)))))
	f.Distress = 7
	f.Unpaid = 0

	cs := newCycleState(sim.cycle)
	require.NoError(t, sim.resolveInsolvent(cs, &credit.Outcome{}))
	assert.Zero(t, f.Distress, "distress clears once the firm can pay")
	assert.Len(t, sim.firms, n)
	assert.Zero(t, cs.bankruptcies)
}
