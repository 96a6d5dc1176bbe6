package agents

import (
	"math"
	"sort"

	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/labor"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/scenario"
)

// Rand is the slice of *rand.Rand the behaviors draw from.
type Rand interface {
	Float64() float64
}

// Offer is what a buyer sees of one good when planning purchases.
type Offer struct {
	Good     ledger.GoodID
	Category economy.Category
	Params   economy.CategoryParams
	Price    float64 // reference price
	Base     float64 // reference price when the run started
}

// Order is a buyer's intent to purchase. The engine routes it to a seller.
type Order struct {
	Buyer    ledger.AgentID `json:"buyer"`
	Good     ledger.GoodID  `json:"good"`
	Quantity int            `json:"quantity"`
}

// priceResponse is demand relative to the base price, following the
// category's elasticity.
func priceResponse(o Offer) float64 {
	if o.Base <= 0 || o.Price <= 0 {
		return 1
	}
	f := math.Pow(o.Price/o.Base, o.Params.Elasticity)
	return math.Max(0.2, math.Min(3, f))
}

// Budget is what a household means to spend on goods this cycle: most of
// last cycle's income plus a slice of its wealth.
func Budget(c *Consumer, wealth float64, beh scenario.Behavior) float64 {
	b := c.Propensity*c.LastIncome + beh.WealthPropensity*math.Max(0, wealth)
	return math.Max(0, b)
}

// PlanOrders decides what a consumer buys this cycle. offers are in catalog
// order, matching c.Allowance. Goods serving lower needs are budgeted first;
// each good's spending plan follows its category appetite, the season, the
// household's unmet needs, smooth noise and the price relative to its base.
// The plan is set aside in the good's allowance and whole units are bought
// once the allowance covers them, so a good costing more than a cycle's
// plan is bought every few cycles instead of never. Spending never exceeds
// the smaller of the budget and cash.
func PlanOrders(c *Consumer, cash, wealth float64, offers []Offer, season uint8, noise float64, beh scenario.Behavior) []Order {
	budget := math.Min(Budget(c, wealth, beh), cash)
	if len(c.Allowance) < len(offers) {
		grown := make([]float64, len(offers))
		copy(grown, c.Allowance)
		c.Allowance = grown
	}

	order := make([]int, len(offers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return NeedFor(offers[order[i]].Category) < NeedFor(offers[order[j]].Category)
	})

	mood := 1 + beh.DemandNoise*noise
	left := cash
	var orders []Order
	for _, i := range order {
		o := offers[i]
		if o.Price <= 0 {
			continue
		}
		plan := o.Params.Appetite *
			economy.SeasonalDemandMod(season, o.Category) *
			c.Needs.Urgency(NeedFor(o.Category)) *
			mood *
			priceResponse(o) *
			o.Price
		plan = math.Max(0, math.Min(plan, budget))
		budget -= plan

		a := c.Allowance[i] + plan
		a = math.Min(a, 2*math.Max(o.Price, plan))
		qty := int(math.Min(math.Floor(a/o.Price), math.Floor(left/o.Price)))
		if qty > 0 {
			spent := float64(qty) * o.Price
			a -= spent
			left -= spent
			orders = append(orders, Order{Buyer: c.ID, Good: o.Good, Quantity: qty})
		}
		c.Allowance[i] = a
	}
	return orders
}

// PlanProcurement spreads the government's purchasing budget across the
// catalog in proportion to index weights.
func PlanProcurement(g *Government, cash float64, offers []Offer) []Order {
	budget := cash * g.Procurement
	if budget <= 0 {
		return nil
	}
	total := 0.0
	for _, o := range offers {
		total += o.Params.IndexWeight
	}
	if total <= 0 {
		return nil
	}
	var orders []Order
	for _, o := range offers {
		if o.Price <= 0 {
			continue
		}
		qty := int(budget * o.Params.IndexWeight / total / o.Price)
		if qty > 0 {
			orders = append(orders, Order{Buyer: g.ID, Good: o.Good, Quantity: qty})
		}
	}
	return orders
}

// SavingsPlan is a household's deposit decision.
type SavingsPlan struct {
	Amount   float64
	Withdraw bool
}

// PlanSavings deposits part of the cash held above a buffer of a few cycles
// of income, or draws on savings when cash runs below one cycle's income.
func PlanSavings(c *Consumer, cash, claim, refWage float64, beh scenario.Behavior) (SavingsPlan, bool) {
	income := c.Wage
	if !c.Employed() || income <= 0 {
		income = refWage
	}
	buffer := beh.SavingsBuffer * income
	if cash > buffer {
		amt := math.Floor(beh.DepositShare * TemplateFor(c.Archetype).Saving * (cash - buffer))
		if amt >= 1 {
			return SavingsPlan{Amount: amt}, true
		}
		return SavingsPlan{}, false
	}
	if cash < income && claim > 0 {
		return SavingsPlan{Amount: math.Min(claim, math.Ceil(income-cash)), Withdraw: true}, true
	}
	return SavingsPlan{}, false
}

// PlanConsumerLoan asks for a loan worth two cycles of wages when an
// employed household holds less than its savings buffer. Only wage earners
// borrow. The draw is taken every call so the stream stays aligned across
// households.
func PlanConsumerLoan(c *Consumer, cash float64, beh scenario.Behavior, rng Rand) (float64, bool) {
	roll := rng.Float64()
	if !c.Employed() || c.Wage <= 0 {
		return 0, false
	}
	if cash >= beh.SavingsBuffer*c.Wage {
		return 0, false
	}
	if roll >= beh.BorrowChance*TemplateFor(c.Archetype).Borrowing {
		return 0, false
	}
	return math.Round(2 * c.Wage), true
}

// PlanFirmLoan asks for working capital when the firm holds less than two
// cycles of its wage bill, enough to restore three cycles but never more
// than maxLoan.
func PlanFirmLoan(f *Firm, cash, maxLoan float64) (float64, bool) {
	bill := float64(f.Headcount()) * f.Wage
	if bill <= 0 {
		bill = f.Wage
	}
	if cash >= 2*bill {
		return 0, false
	}
	amt := math.Ceil(3*bill - cash)
	if maxLoan > 0 {
		amt = math.Min(amt, maxLoan)
	}
	return amt, amt > 0
}

// ProductionTarget is how many units the firm makes this cycle: enough to
// restore its inventory cover, never more than capacity. Under an emergency
// production order the firm runs at capacity.
func ProductionTarget(f *Firm, stock int, cover float64, forced bool) int {
	capacity := f.Capacity()
	if forced {
		return capacity
	}
	want := int(math.Ceil(f.Expected()*cover)) - stock
	if want < 0 {
		return 0
	}
	if want > capacity {
		return capacity
	}
	return want
}

// LaborPlan is the firm's input to the labor market. minHead is the
// headcount an emergency production order requires, zero otherwise.
func (f *Firm) LaborPlan(cash float64, minHead int) labor.FirmPlan {
	afford := 0
	if f.Wage > 0 && cash > 0 {
		afford = int(cash / f.Wage)
	}
	employees := make([]ledger.AgentID, len(f.Employees))
	copy(employees, f.Employees)
	return labor.FirmPlan{
		ID:             f.ID,
		Sector:         f.Sector,
		Employees:      employees,
		ExpectedDemand: f.Expected(),
		Productivity:   f.Productivity,
		Wage:           f.Wage,
		CanAfford:      afford,
		MinHeadcount:   minHead,
	}
}

// Dividend is the share of a firm's cash above its reserve that it pays out
// to households. The reserve covers a few cycles of wages.
func Dividend(f *Firm, cash float64, beh scenario.Behavior) float64 {
	bill := math.Max(float64(f.Headcount())*f.Wage, f.Wage)
	surplus := cash - beh.CashReserve*bill
	if surplus <= 0 {
		return 0
	}
	return math.Floor(surplus * beh.DividendShare)
}
