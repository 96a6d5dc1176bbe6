// Package scenario holds the in-memory run configuration: population sizes,
// goods catalog, component parameters, shocks and the random seed.
package scenario

import (
	"errors"
	"fmt"

	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/labor"
)

// GoodSpec describes one catalog entry.
type GoodSpec struct {
	Name     string                  `yaml:"name" toml:"name" json:"name"`
	Category string                  `yaml:"category" toml:"category" json:"category"`
	Price    float64                 `yaml:"price" toml:"price" json:"price"`
	Params   *economy.CategoryParams `yaml:"params,omitempty" toml:"params,omitempty" json:"params,omitempty"` // overrides the category defaults
}

// Shock kinds.
const (
	ShockSupply  = "supply"
	ShockBankRun = "bank_run"
)

// DefaultRunIntensity is the share of deposits a bank run pulls per cycle
// when the shock does not say.
const DefaultRunIntensity = 0.3

// Shock is a scheduled disruption lasting Duration cycles from Cycle. A
// supply shock (the default kind) wipes firm inventories and halts
// production. A bank run has depositors pull Intensity of their claims
// every cycle it lasts.
type Shock struct {
	Cycle     uint64  `yaml:"cycle" toml:"cycle" json:"cycle"`
	Duration  int     `yaml:"duration" toml:"duration" json:"duration"`
	Kind      string  `yaml:"kind,omitempty" toml:"kind,omitempty" json:"kind,omitempty"`
	Intensity float64 `yaml:"intensity,omitempty" toml:"intensity,omitempty" json:"intensity,omitempty"`
}

// Covers reports whether the shock is in force at a cycle.
func (s Shock) Covers(cycle uint64) bool {
	return cycle >= s.Cycle && cycle < s.Cycle+uint64(s.Duration)
}

// KindOrDefault returns the shock kind, supply when unset.
func (s Shock) KindOrDefault() string {
	if s.Kind == "" {
		return ShockSupply
	}
	return s.Kind
}

// Government configures the fiscal side.
type Government struct {
	Cash        float64 `yaml:"cash" toml:"cash" json:"cash"`
	TaxRate     float64 `yaml:"tax_rate" toml:"tax_rate" json:"tax_rate"`         // withheld on wages
	Benefit     float64 `yaml:"benefit" toml:"benefit" json:"benefit"`            // share of the average wage paid to the unemployed
	Procurement float64 `yaml:"procurement" toml:"procurement" json:"procurement"` // share of its cash spent on goods each cycle
}

// Insolvency configures what happens to firms that cannot pay their way.
type Insolvency struct {
	After            int     `yaml:"after" toml:"after" json:"after"`                                 // consecutive distressed cycles before resolution
	RescueCycles     float64 `yaml:"rescue_cycles" toml:"rescue_cycles" json:"rescue_cycles"`         // rescue size, in cycles of the firm's wage bill
	RescueShare      float64 `yaml:"rescue_share" toml:"rescue_share" json:"rescue_share"`            // cap on one rescue outside an active crisis, as a share of GDP
	MaxRescues       int     `yaml:"max_rescues" toml:"max_rescues" json:"max_rescues"`               // rescues one firm may receive
	LiquidationValue float64 `yaml:"liquidation_value" toml:"liquidation_value" json:"liquidation_value"` // share of the list price stock fetches in a fire sale
}

// Behavior tunes the rule-based agents.
type Behavior struct {
	Propensity       float64 `yaml:"propensity" toml:"propensity" json:"propensity"`                      // share of last cycle's income a consumer budgets for goods
	WealthPropensity float64 `yaml:"wealth_propensity" toml:"wealth_propensity" json:"wealth_propensity"` // share of cash and deposits added to the budget
	SavingsBuffer  float64 `yaml:"savings_buffer" toml:"savings_buffer" json:"savings_buffer"`    // cycles of wage kept as cash before depositing
	DepositShare   float64 `yaml:"deposit_share" toml:"deposit_share" json:"deposit_share"`       // share of the surplus deposited
	BorrowChance   float64 `yaml:"borrow_chance" toml:"borrow_chance" json:"borrow_chance"`       // per-cycle chance a short consumer asks for a loan
	DemandNoise    float64 `yaml:"demand_noise" toml:"demand_noise" json:"demand_noise"`          // amplitude of simplex noise on appetite
	DemandAlpha    float64 `yaml:"demand_alpha" toml:"demand_alpha" json:"demand_alpha"`          // EMA weight of firm demand estimates
	InventoryCover float64 `yaml:"inventory_cover" toml:"inventory_cover" json:"inventory_cover"` // stock firms aim to hold, in cycles of demand
	OutputValue    float64 `yaml:"output_value" toml:"output_value" json:"output_value"`          // value of one worker's output per cycle at base prices
	CashReserve    float64 `yaml:"cash_reserve" toml:"cash_reserve" json:"cash_reserve"`          // cycles of wages a firm keeps before paying dividends
	DividendShare  float64 `yaml:"dividend_share" toml:"dividend_share" json:"dividend_share"`    // share of the surplus paid out to households
}

// Scenario is everything the engine needs to run.
type Scenario struct {
	Name   string `yaml:"name" toml:"name" json:"name"`
	Seed   int64  `yaml:"seed" toml:"seed" json:"seed"`
	Cycles int    `yaml:"cycles" toml:"cycles" json:"cycles"`

	Consumers int `yaml:"consumers" toml:"consumers" json:"consumers"`
	Firms     int `yaml:"firms" toml:"firms" json:"firms"`
	Banks     int `yaml:"banks" toml:"banks" json:"banks"`

	ConsumerCash float64 `yaml:"consumer_cash" toml:"consumer_cash" json:"consumer_cash"`
	FirmReserve  float64 `yaml:"firm_reserve" toml:"firm_reserve" json:"firm_reserve"` // opening firm cash, in cycles of its opening wage bill
	BankReserves float64 `yaml:"bank_reserves" toml:"bank_reserves" json:"bank_reserves"`
	BalanceFloor float64 `yaml:"balance_floor" toml:"balance_floor" json:"balance_floor"`
	InitialStock float64 `yaml:"initial_stock" toml:"initial_stock" json:"initial_stock"` // cycles of expected demand each firm starts with
	Wage         float64 `yaml:"wage" toml:"wage" json:"wage"`

	PolicyRate         float64 `yaml:"policy_rate" toml:"policy_rate" json:"policy_rate"`
	BankMinSolvency    float64 `yaml:"bank_min_solvency" toml:"bank_min_solvency" json:"bank_min_solvency"`
	InvestmentFraction float64 `yaml:"investment_fraction" toml:"investment_fraction" json:"investment_fraction"`
	MinTransactions    int     `yaml:"min_transactions" toml:"min_transactions" json:"min_transactions"`
	DemandWindow       int     `yaml:"demand_window" toml:"demand_window" json:"demand_window"`

	Goods      []GoodSpec            `yaml:"goods" toml:"goods" json:"goods"`
	Government Government            `yaml:"government" toml:"government" json:"government"`
	Behavior   Behavior              `yaml:"behavior" toml:"behavior" json:"behavior"`
	Insolvency Insolvency            `yaml:"insolvency" toml:"insolvency" json:"insolvency"`
	Pricing    economy.PricingConfig `yaml:"pricing" toml:"pricing" json:"pricing"`
	Labor      labor.Config          `yaml:"labor" toml:"labor" json:"labor"`
	Credit     credit.Config         `yaml:"credit" toml:"credit" json:"credit"`
	Taylor     credit.TaylorConfig   `yaml:"taylor" toml:"taylor" json:"taylor"`
	Crisis     crisis.Thresholds     `yaml:"crisis" toml:"crisis" json:"crisis"`
	Shocks     []Shock               `yaml:"shocks" toml:"shocks" json:"shocks"`
}

// Default returns the reference scenario: 250 consumers, 13 firms, one bank,
// a 3% policy rate and no shocks.
func Default() Scenario {
	return Scenario{
		Name:   "baseline",
		Seed:   42,
		Cycles: 50,

		Consumers: 250,
		Firms:     13,
		Banks:     1,

		ConsumerCash: 600,
		FirmReserve:  4,
		BankReserves: 60000,
		InitialStock: 0.5,
		Wage:         120,

		PolicyRate:         0.03,
		BankMinSolvency:    0.1,
		InvestmentFraction: 0.05,
		MinTransactions:    50,
		DemandWindow:       6,

		Goods: []GoodSpec{
			{Name: "bread", Category: "basic_food", Price: 2},
			{Name: "rice", Category: "basic_food", Price: 2.5},
			{Name: "produce", Category: "basic_food", Price: 3},
			{Name: "wine", Category: "luxury_food", Price: 8},
			{Name: "chocolate", Category: "luxury_food", Price: 5},
			{Name: "furniture", Category: "durable", Price: 60},
			{Name: "appliances", Category: "durable", Price: 120},
			{Name: "haircut", Category: "services", Price: 10},
			{Name: "repairs", Category: "services", Price: 15},
			{Name: "phone", Category: "technology", Price: 200},
		},
		Government: Government{
			Cash:        12000,
			TaxRate:     0.15,
			Benefit:     0.5,
			Procurement: 0.05,
		},
		Behavior: Behavior{
			Propensity:       0.9,
			WealthPropensity: 0.05,
			SavingsBuffer:    3,
			DepositShare:     0.3,
			BorrowChance:     0.05,
			DemandNoise:      0.2,
			DemandAlpha:      0.4,
			InventoryCover:   1.5,
			OutputValue:      150,
			CashReserve:      4,
			DividendShare:    0.5,
		},
		Insolvency: Insolvency{
			After:            4,
			RescueCycles:     3,
			RescueShare:      0.05,
			MaxRescues:       2,
			LiquidationValue: 0.3,
		},
		Pricing: economy.DefaultPricingConfig(),
		Labor:   labor.DefaultConfig(),
		Credit:  credit.DefaultConfig(),
		Taylor:  credit.DefaultTaylorConfig(),
		Crisis:  crisis.DefaultThresholds(),
	}
}

// ShockAt returns whether a supply shock is in force at a cycle.
func (s Scenario) ShockAt(cycle uint64) bool {
	for _, sh := range s.Shocks {
		if sh.KindOrDefault() == ShockSupply && sh.Covers(cycle) {
			return true
		}
	}
	return false
}

// RunAt returns the share of deposits a bank run pulls at a cycle, 0 when
// no run is on. Overlapping runs do not add up; the strongest wins.
func (s Scenario) RunAt(cycle uint64) float64 {
	run := 0.0
	for _, sh := range s.Shocks {
		if sh.KindOrDefault() != ShockBankRun || !sh.Covers(cycle) {
			continue
		}
		in := sh.Intensity
		if in == 0 {
			in = DefaultRunIntensity
		}
		run = max(run, in)
	}
	return run
}

// Validate checks the scenario, collecting every problem found.
func (s Scenario) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if s.Consumers < 1 {
		add("consumers must be at least 1, got %d", s.Consumers)
	}
	if s.Firms < 1 {
		add("firms must be at least 1, got %d", s.Firms)
	}
	if s.Banks < 1 {
		add("banks must be at least 1, got %d", s.Banks)
	}
	if s.Cycles < 1 {
		add("cycles must be at least 1, got %d", s.Cycles)
	}
	if len(s.Goods) == 0 {
		add("at least one good is required")
	}
	seen := make(map[string]bool, len(s.Goods))
	for _, g := range s.Goods {
		if seen[g.Name] {
			add("duplicate good %q", g.Name)
		}
		seen[g.Name] = true
		if g.Price <= 0 {
			add("good %q price must be positive, got %v", g.Name, g.Price)
		}
		if _, err := economy.ParseCategory(g.Category); err != nil {
			add("good %q: %v", g.Name, err)
		}
	}
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"consumer_cash", s.ConsumerCash},
		{"firm_reserve", s.FirmReserve},
		{"initial_stock", s.InitialStock},
		{"behavior.wealth_propensity", s.Behavior.WealthPropensity},
		{"bank_reserves", s.BankReserves},
		{"government.cash", s.Government.Cash},
		{"policy_rate", s.PolicyRate},
		{"investment_fraction", s.InvestmentFraction},
	} {
		if v.val < 0 {
			add("%s must not be negative, got %v", v.name, v.val)
		}
	}
	if s.BalanceFloor > 0 {
		add("balance_floor must not be positive, got %v", s.BalanceFloor)
	}
	if s.Wage <= 0 {
		add("wage must be positive, got %v", s.Wage)
	}
	if s.BankMinSolvency <= 0 {
		add("bank_min_solvency must be positive, got %v", s.BankMinSolvency)
	}
	if s.DemandWindow < 2 {
		add("demand_window must be at least 2, got %d", s.DemandWindow)
	}
	if s.Government.TaxRate < 0 || s.Government.TaxRate >= 1 {
		add("government.tax_rate must be in [0,1), got %v", s.Government.TaxRate)
	}
	if s.Behavior.Propensity <= 0 || s.Behavior.Propensity > 1 {
		add("behavior.propensity must be in (0,1], got %v", s.Behavior.Propensity)
	}
	if s.Behavior.DividendShare < 0 || s.Behavior.DividendShare > 1 {
		add("behavior.dividend_share must be in [0,1], got %v", s.Behavior.DividendShare)
	}
	if s.Behavior.OutputValue <= 0 {
		add("behavior.output_value must be positive, got %v", s.Behavior.OutputValue)
	}
	for _, sh := range s.Shocks {
		if sh.Duration < 1 {
			add("shock at cycle %d must last at least one cycle", sh.Cycle)
		}
		switch sh.KindOrDefault() {
		case ShockSupply, ShockBankRun:
		default:
			add("shock at cycle %d has unknown kind %q", sh.Cycle, sh.Kind)
		}
		if sh.Intensity < 0 || sh.Intensity > 1 {
			add("shock at cycle %d intensity must be in [0,1], got %v", sh.Cycle, sh.Intensity)
		}
	}
	in := s.Insolvency
	if in.After < 1 {
		add("insolvency.after must be at least 1, got %d", in.After)
	}
	if in.RescueCycles < 0 || in.RescueShare < 0 || in.MaxRescues < 0 {
		add("insolvency.rescue_cycles, rescue_share and max_rescues must not be negative")
	}
	if in.LiquidationValue < 0 || in.LiquidationValue > 1 {
		add("insolvency.liquidation_value must be in [0,1], got %v", in.LiquidationValue)
	}
	if s.Taylor.Interval > 0 && s.Credit.CyclesPerYear != economy.CyclesPerYear {
		add("credit.cycles_per_year must be %d, got %d", economy.CyclesPerYear, s.Credit.CyclesPerYear)
	}

	for _, v := range []interface{ Validate() error }{s.Pricing, s.Labor, s.Credit, s.Taylor, s.Crisis} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
