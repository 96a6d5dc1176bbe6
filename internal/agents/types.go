// Package agents provides the consumer, firm and government records and the
// rule-based behaviors that feed the cycle engine with orders, deposits and
// loan requests.
package agents

import (
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/labor"
	"github.com/talgya/mini-economy/internal/ledger"
)

// Consumer is a household: it works, spends, saves and borrows.
// Cash lives in the ledger, not here.
type Consumer struct {
	ID   ledger.AgentID `json:"id"`
	Name string         `json:"name"`

	// Labor
	Home     labor.Sector   `json:"home"`   // sector the consumer trained in
	Skills   []float64      `json:"skills"` // per sector, 0..1
	Employer ledger.AgentID `json:"employer,omitempty"`
	Wage     float64        `json:"wage"`
	Idle     int            `json:"idle"` // consecutive cycles unemployed

	// Spending
	Archetype  Archetype      `json:"archetype"`
	Propensity float64        `json:"propensity"` // share of last cycle's income budgeted for goods
	Needs      NeedsState     `json:"needs"`
	Bank       ledger.AgentID `json:"bank"`
	Income     float64        `json:"income"`      // received so far this cycle
	LastIncome float64        `json:"last_income"` // received over the previous cycle
	Allowance  []float64      `json:"allowance"`   // budget set aside per good, by catalog position

	Memories []Memory `json:"memories,omitempty"`
}

// Employed reports whether the consumer has a job.
func (c *Consumer) Employed() bool { return c.Employer != 0 }

// Earn records money received this cycle.
func (c *Consumer) Earn(amount float64) { c.Income += amount }

// RollIncome closes the income period at the start of a cycle.
func (c *Consumer) RollIncome() {
	c.LastIncome = c.Income
	c.Income = 0
}

// Worker returns the labor-market view of the consumer.
func (c *Consumer) Worker() labor.Worker {
	return labor.Worker{ID: c.ID, Home: c.Home, Skills: c.Skills, Employer: c.Employer, Wage: c.Wage}
}

// Firm produces a single good and sells it through one listing.
type Firm struct {
	ID     ledger.AgentID `json:"id"`
	Name   string         `json:"name"`
	Sector labor.Sector   `json:"sector"`
	Good   ledger.GoodID  `json:"good"`
	Bank   ledger.AgentID `json:"bank"`

	Productivity float64          `json:"productivity"` // units per worker per cycle
	Markup       float64          `json:"markup"`       // opening price over unit labor cost
	Wage         float64          `json:"wage"`
	Employees    []ledger.AgentID `json:"employees"`
	Age          int              `json:"age"` // cycles in business

	Listing *economy.Listing `json:"listing"`

	Revenue  float64 `json:"revenue"`  // last cycle's sales
	WageBill float64 `json:"wage_bill"` // last cycle's wages paid
	Produced int     `json:"produced"`  // units produced last cycle
	Unpaid   int     `json:"unpaid"`    // workers the firm could not pay last cycle

	Distress int `json:"distress"` // consecutive cycles short of cash
	Rescues  int `json:"rescues"`  // government rescues received
}

// Headcount returns the number of employees.
func (f *Firm) Headcount() int { return len(f.Employees) }

// Capacity is the most the firm can produce with its current staff.
func (f *Firm) Capacity() int {
	return int(float64(len(f.Employees)) * f.Productivity)
}

// CostPrice is the price that keeps the opening margin over the current unit
// labor cost, 0 when unknown.
func (f *Firm) CostPrice() float64 {
	if f.Productivity <= 0 || f.Markup <= 0 {
		return 0
	}
	return f.Wage / f.Productivity * f.Markup
}

// Expected is the firm's demand estimate for its good.
func (f *Firm) Expected() float64 {
	if f.Listing == nil {
		return 0
	}
	return f.Listing.DemandEMA
}

// Government collects income tax, pays benefits, buys goods and delivers
// emergency stimulus.
type Government struct {
	ID          ledger.AgentID `json:"id"`
	TaxRate     float64        `json:"tax_rate"`
	Benefit     float64        `json:"benefit"`     // share of the average wage
	Procurement float64        `json:"procurement"` // share of cash spent on goods

	StimulusLeft int     `json:"stimulus_left"` // cycles of stimulus still owed
	Collected    float64 `json:"collected"`     // taxes last cycle
	Paid         float64 `json:"paid"`          // benefits and transfers last cycle
}

// Stimulating reports whether emergency measures are in force.
func (g *Government) Stimulating() bool { return g.StimulusLeft > 0 }
