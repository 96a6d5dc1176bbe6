// Simulation is the cycle orchestrator: it owns the ledger and the snapshot
// log, runs every phase in order and commits what the components propose.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/entropy"
	"github.com/talgya/mini-economy/internal/labor"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/scenario"
)

// Phase names, in execution order.
const (
	PhaseProduction   = "production"
	PhaseTransactions = "transactions"
	PhasePricing      = "pricing"
	PhaseLabor        = "labor"
	PhaseCredit       = "credit"
	PhaseCrisis       = "crisis"
	PhaseSnapshot     = "snapshot"
)

// Simulation holds the complete economy and runs it one cycle at a time.
// RunCycle must not be called concurrently; the read accessors that take the
// lock may be called from other goroutines.
type Simulation struct {
	mu sync.RWMutex

	scn    scenario.Scenario
	ledger *ledger.Ledger
	rand   *entropy.Source
	log    *SnapshotLog

	goods     []*economy.Good
	basePrice []float64 // by position in goods
	sellers   map[ledger.GoodID][]*agents.Firm

	consumers     []*agents.Consumer
	consumerIndex map[ledger.AgentID]*agents.Consumer
	firms         []*agents.Firm
	firmIndex     map[ledger.AgentID]*agents.Firm
	gov           *agents.Government

	pricing *economy.PricingEngine
	index   *economy.PriceIndex
	matcher *labor.Matcher
	credit  *credit.System
	central *credit.CentralBank
	crisis  *crisis.Machine

	cycle   uint64
	pending crisis.Directive // measures ordered last cycle
}

// cycleState collects one cycle's figures as the phases run.
type cycleState struct {
	cycle    uint64
	shock    bool
	stimulus bool

	wages    decimal.Decimal
	taxes    decimal.Decimal
	benefits decimal.Decimal

	consumption decimal.Decimal
	govSpending decimal.Decimal
	investment  decimal.Decimal
	volume      decimal.Decimal
	gdp         decimal.Decimal
	tx          int
	rejected    int

	inflation float64
	labor     *labor.Result
	credit    *credit.Outcome
	risk      float64

	bankruptcies int
	rescues      int
}

func newCycleState(cycle uint64) *cycleState {
	return &cycleState{
		cycle:       cycle,
		wages:       decimal.Zero,
		taxes:       decimal.Zero,
		benefits:    decimal.Zero,
		consumption: decimal.Zero,
		govSpending: decimal.Zero,
		investment:  decimal.Zero,
		volume:      decimal.Zero,
		gdp:         decimal.Zero,
	}
}

// New builds a simulation from a validated scenario.
func New(scn scenario.Scenario) (*Simulation, error) {
	if err := scn.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	s := &Simulation{
		scn:           scn,
		ledger:        ledger.New(decimal.NewFromFloat(scn.BalanceFloor)),
		rand:          entropy.New(scn.Seed),
		log:           NewSnapshotLog(),
		sellers:       make(map[ledger.GoodID][]*agents.Firm),
		consumerIndex: make(map[ledger.AgentID]*agents.Consumer),
		firmIndex:     make(map[ledger.AgentID]*agents.Firm),
		pricing:       economy.NewPricingEngine(scn.Pricing),
		index:         economy.NewPriceIndex(),
		matcher:       labor.NewMatcher(scn.Labor),
		central:       credit.NewCentralBank(scn.Taylor, scn.PolicyRate, scn.Credit.CyclesPerYear),
		crisis:        crisis.New(scn.Crisis),
	}
	if err := s.populate(); err != nil {
		return nil, fmt.Errorf("engine: populate: %w", err)
	}
	// Base prices for the index.
	if _, err := s.index.Update(s.goods); err != nil {
		return nil, fmt.Errorf("engine: price index: %w", err)
	}

	slog.Info("simulation created",
		"scenario", scn.Name,
		"seed", scn.Seed,
		"consumers", len(s.consumers),
		"firms", len(s.firms),
		"banks", len(s.credit.Banks()),
		"goods", len(s.goods),
		"money_supply", humanize.CommafWithDigits(s.ledger.Total().InexactFloat64(), 2),
	)
	return s, nil
}

// Scenario returns the configuration the simulation was built from.
func (s *Simulation) Scenario() scenario.Scenario { return s.scn }

// Log returns the snapshot log.
func (s *Simulation) Log() *SnapshotLog { return s.log }

// Cycle returns the most recently run cycle.
func (s *Simulation) Cycle() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycle
}

// CrisisStatus returns the crisis machine's current status.
func (s *Simulation) CrisisStatus() crisis.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.crisis.Status()
}

// PolicyRate returns the current policy rate.
func (s *Simulation) PolicyRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.central.Rate()
}

// Consumer returns a copy of one household's record.
func (s *Simulation) Consumer(id ledger.AgentID) (agents.Consumer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consumerIndex[id]
	if !ok {
		return agents.Consumer{}, false
	}
	out := *c
	out.Skills = append([]float64(nil), c.Skills...)
	out.Memories = append([]agents.Memory(nil), c.Memories...)
	return out, true
}

// Balance returns an agent's ledger balance.
func (s *Simulation) Balance(id ledger.AgentID) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Balance(id)
}

// Goods returns a copy of the catalog with current reference prices.
func (s *Simulation) Goods() []economy.Good {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]economy.Good, len(s.goods))
	for i, g := range s.goods {
		out[i] = *g
		out[i].Demand = nil
	}
	return out
}

// RunCycle advances the economy by one cycle and returns its snapshot.
//
// The context bounds the cycle's wall-clock time. It is checked between
// phases: once it is done, the phase in progress completes, a partial
// snapshot is logged and ErrCycleAborted is returned. A *ConsistencyError
// means the run must stop.
func (s *Simulation) RunCycle(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycle++
	cs := newCycleState(s.cycle)

	phases := []struct {
		name string
		run  func(context.Context, *cycleState) error
	}{
		{PhaseProduction, s.produce},
		{PhaseTransactions, s.trade},
		{PhasePricing, s.price},
		{PhaseLabor, s.hire},
		{PhaseCredit, s.lend},
		{PhaseCrisis, s.evaluate},
	}
	for i, p := range phases {
		if err := p.run(ctx, cs); err != nil {
			return Snapshot{}, err
		}
		if err := s.checkConservation(cs.cycle, p.name); err != nil {
			return Snapshot{}, err
		}
		if i < len(phases)-1 && ctx.Err() != nil {
			snap := s.snapshot(cs, true)
			s.log.append(snap)
			slog.Warn("cycle aborted", "cycle", cs.cycle, "after_phase", p.name, "reason", ctx.Err())
			s.emit(cs.cycle, "engine", "cycle aborted after %s phase", p.name)
			return snap, fmt.Errorf("cycle %d after %s phase: %w", cs.cycle, p.name, ErrCycleAborted)
		}
	}

	for _, f := range s.firms {
		f.Age++
	}
	snap := s.snapshot(cs, false)
	s.log.append(snap)
	return snap, nil
}

// commit applies postings. Rejections of strict postings break an
// invariant; others are logged and counted.
func (s *Simulation) commit(cycle uint64, phase string, strict bool, ps ...ledger.Posting) (int, error) {
	rejected := 0
	for _, p := range ps {
		if err := s.ledger.Commit(p); err != nil {
			if strict {
				return rejected, s.inconsistent(cycle, phase, InvariantPosting, fmt.Sprintf("posting %q rejected", p.Reason), err)
			}
			rejected++
			verr := &ValidationError{Cycle: cycle, Subject: p.Reason, Err: err}
			slog.Debug("posting rejected", "phase", phase, "error", verr)
		}
	}
	return rejected, nil
}

func (s *Simulation) checkConservation(cycle uint64, phase string) error {
	if err := s.ledger.CheckConservation(); err != nil {
		return s.inconsistent(cycle, phase, InvariantConservation, "ledger total drifted from recorded supply", err)
	}
	return nil
}

func (s *Simulation) inconsistent(cycle uint64, phase, invariant, detail string, err error) error {
	cerr := &ConsistencyError{Cycle: cycle, Phase: phase, Invariant: invariant, Detail: detail, Err: err}
	if last, ok := s.log.LastComplete(); ok {
		cerr.LastGood = &last
	}
	slog.Error("consistency error", "cycle", cycle, "phase", phase, "invariant", invariant, "detail", detail, "error", err)
	return cerr
}

func (s *Simulation) emit(cycle uint64, category, format string, args ...any) {
	s.log.appendEvent(Event{Cycle: cycle, Category: category, Description: fmt.Sprintf(format, args...)})
}

// snapshot derives the macro record from live state.
func (s *Simulation) snapshot(cs *cycleState, partial bool) Snapshot {
	employed, rate := labor.Rate(s.workers())
	snap := Snapshot{
		Cycle:        cs.cycle,
		Season:       economy.SeasonName(economy.SeasonOf(cs.cycle)),
		GDP:          cs.gdp,
		Consumption:  cs.consumption,
		Investment:   cs.investment,
		Government:   cs.govSpending,
		Inflation:    cs.inflation,
		PriceIndex:   s.index.Level,
		Unemployment: rate,
		Employed:     employed,
		MeanWage:     s.meanWage(),
		Transactions: cs.tx,
		Volume:       cs.volume,
		Rejected:     cs.rejected,
		PolicyRate:   s.central.Rate(),
		Originated:   decimal.Zero,
		Deposits:     decimal.Zero,
		MoneySupply:  s.ledger.Total(),
		Created:      s.ledger.Created(),
		Destroyed:    s.ledger.Destroyed(),
		Crisis:       s.crisis.State(),
		Shock:        cs.shock,
		Stimulus:     cs.stimulus,
		LowActivity:  cs.tx < s.scn.MinTransactions,
		Partial:      partial,
		MinSolvency:  1,
		SystemicRisk: cs.risk,
		Bankruptcies: cs.bankruptcies,
		Rescues:      cs.rescues,
	}
	if out := cs.credit; out != nil {
		snap.LoansApproved = out.Approvals()
		snap.LoansRejected = out.Rejections()
		snap.Defaults = len(out.WriteOffs)
		snap.Originated = out.Originated()
	}
	for _, b := range s.credit.Banks() {
		snap.Deposits = snap.Deposits.Add(b.Deposits)
	}
	if m, err := s.minSolvency(); err == nil {
		snap.MinSolvency = m
	}
	return snap
}

func (s *Simulation) workers() []labor.Worker {
	out := make([]labor.Worker, len(s.consumers))
	for i, c := range s.consumers {
		out[i] = c.Worker()
	}
	return out
}

// meanWage is the average wage of the employed, or the scenario wage when
// nobody works.
func (s *Simulation) meanWage() float64 {
	sum, n := 0.0, 0
	for _, c := range s.consumers {
		if c.Employed() {
			sum += c.Wage
			n++
		}
	}
	if n == 0 {
		return s.scn.Wage
	}
	return sum / float64(n)
}

func (s *Simulation) minSolvency() (float64, error) {
	lowest := 1.0
	for i, b := range s.credit.Banks() {
		r, err := b.Solvency(s.ledger.Balance(b.ID))
		if err != nil {
			return 0, fmt.Errorf("bank %d: %w", b.ID, err)
		}
		if i == 0 || r < lowest {
			lowest = r
		}
	}
	return lowest, nil
}

// LogYear writes the yearly summary.
func (s *Simulation) LogYear(cycle uint64) {
	snap, ok := s.log.Last()
	if !ok {
		return
	}
	year := cycle / economy.CyclesPerYear
	slog.Info("year report",
		"year", year,
		"cycle", cycle,
		"gdp", humanize.CommafWithDigits(snap.GDP.InexactFloat64(), 2),
		"price_index", fmt.Sprintf("%.2f", snap.PriceIndex),
		"unemployment", fmt.Sprintf("%.1f%%", snap.Unemployment*100),
		"policy_rate", fmt.Sprintf("%.2f%%", snap.PolicyRate*100),
		"crisis", snap.Crisis.String(),
		"money_supply", humanize.CommafWithDigits(snap.MoneySupply.InexactFloat64(), 2),
		"events", humanize.Comma(int64(len(s.log.Events()))),
	)
}
