// Package report exports the snapshot log as CSV and JSON and renders a
// short human summary of a run.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/engine"
)

// Header is the CSV column order.
var Header = []string{
	"cycle", "season", "gdp", "consumption", "investment", "government",
	"inflation", "price_index", "unemployment", "employed", "mean_wage",
	"transactions", "volume", "rejected",
	"policy_rate", "loans_approved", "loans_rejected", "defaults", "originated", "deposits", "min_solvency",
	"money_supply", "crisis", "shock", "stimulus", "low_activity", "partial",
}

// WriteCSV writes one row per snapshot.
func WriteCSV(w io.Writer, snaps []engine.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, s := range snaps {
		if err := cw.Write(row(s)); err != nil {
			return fmt.Errorf("write cycle %d: %w", s.Cycle, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(s engine.Snapshot) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	d := func(v decimal.Decimal) string { return v.StringFixed(2) }
	return []string{
		strconv.FormatUint(s.Cycle, 10), s.Season,
		d(s.GDP), d(s.Consumption), d(s.Investment), d(s.Government),
		f(s.Inflation), f(s.PriceIndex), f(s.Unemployment), strconv.Itoa(s.Employed), f(s.MeanWage),
		strconv.Itoa(s.Transactions), d(s.Volume), strconv.Itoa(s.Rejected),
		f(s.PolicyRate), strconv.Itoa(s.LoansApproved), strconv.Itoa(s.LoansRejected), strconv.Itoa(s.Defaults),
		d(s.Originated), d(s.Deposits), f(s.MinSolvency),
		d(s.MoneySupply), s.Crisis.String(),
		strconv.FormatBool(s.Shock), strconv.FormatBool(s.Stimulus),
		strconv.FormatBool(s.LowActivity), strconv.FormatBool(s.Partial),
	}
}

// Document is the JSON export of a run.
type Document struct {
	RunID       string              `json:"run_id,omitempty"`
	Scenario    string              `json:"scenario"`
	Seed        int64               `json:"seed"`
	Snapshots   []engine.Snapshot   `json:"snapshots"`
	Transitions []crisis.Transition `json:"transitions"`
	Events      []engine.Event      `json:"events"`
	Summary     Summary             `json:"summary"`
}

// NewDocument assembles the export from a snapshot log.
func NewDocument(runID, scenario string, seed int64, log *engine.SnapshotLog) Document {
	snaps := log.All()
	return Document{
		RunID:       runID,
		Scenario:    scenario,
		Seed:        seed,
		Snapshots:   snaps,
		Transitions: log.Transitions(),
		Events:      log.Events(),
		Summary:     Summarize(snaps, log.Transitions()),
	}
}

// WriteJSON writes the document, indented.
func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Summary condenses a run.
type Summary struct {
	Cycles       int             `json:"cycles"`
	Partial      int             `json:"partial"`
	TotalGDP     decimal.Decimal `json:"total_gdp"`
	PeakGDP      decimal.Decimal `json:"peak_gdp"`
	TroughGDP    decimal.Decimal `json:"trough_gdp"`
	FinalIndex   float64         `json:"final_price_index"`
	MeanUnemp    float64         `json:"mean_unemployment"`
	PeakUnemp    float64         `json:"peak_unemployment"`
	MinRate      float64         `json:"min_policy_rate"`
	MaxRate      float64         `json:"max_policy_rate"`
	Defaults     int             `json:"defaults"`
	CrisisCycles int             `json:"crisis_cycles"` // cycles not in Stable
	Transitions  int             `json:"transitions"`
	FinalState   crisis.State    `json:"final_state"`
	MoneySupply  decimal.Decimal `json:"money_supply"`
}

// Summarize computes the summary over complete snapshots. Partial ones are
// only counted.
func Summarize(snaps []engine.Snapshot, transitions []crisis.Transition) Summary {
	sum := Summary{
		TotalGDP:    decimal.Zero,
		PeakGDP:     decimal.Zero,
		TroughGDP:   decimal.Zero,
		MoneySupply: decimal.Zero,
		Transitions: len(transitions),
	}
	first := true
	for _, s := range snaps {
		if s.Partial {
			sum.Partial++
			continue
		}
		sum.Cycles++
		sum.TotalGDP = sum.TotalGDP.Add(s.GDP)
		sum.MeanUnemp += s.Unemployment
		sum.Defaults += s.Defaults
		if s.Crisis != crisis.Stable {
			sum.CrisisCycles++
		}
		if first {
			sum.PeakGDP, sum.TroughGDP = s.GDP, s.GDP
			sum.MinRate, sum.MaxRate = s.PolicyRate, s.PolicyRate
			first = false
		}
		if s.GDP.GreaterThan(sum.PeakGDP) {
			sum.PeakGDP = s.GDP
		}
		if s.GDP.LessThan(sum.TroughGDP) {
			sum.TroughGDP = s.GDP
		}
		sum.PeakUnemp = max(sum.PeakUnemp, s.Unemployment)
		sum.MinRate = min(sum.MinRate, s.PolicyRate)
		sum.MaxRate = max(sum.MaxRate, s.PolicyRate)
		sum.FinalIndex = s.PriceIndex
		sum.FinalState = s.Crisis
		sum.MoneySupply = s.MoneySupply
	}
	if sum.Cycles > 0 {
		sum.MeanUnemp /= float64(sum.Cycles)
	}
	return sum
}

// Text renders the summary for a terminal.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycles run:        %d", s.Cycles)
	if s.Partial > 0 {
		fmt.Fprintf(&b, " (+%d aborted)", s.Partial)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Total GDP:         %s\n", money(s.TotalGDP))
	fmt.Fprintf(&b, "GDP peak/trough:   %s / %s\n", money(s.PeakGDP), money(s.TroughGDP))
	fmt.Fprintf(&b, "Price index:       %.2f\n", s.FinalIndex)
	fmt.Fprintf(&b, "Unemployment:      %.1f%% mean, %.1f%% peak\n", s.MeanUnemp*100, s.PeakUnemp*100)
	fmt.Fprintf(&b, "Policy rate:       %.2f%% to %.2f%%\n", s.MinRate*100, s.MaxRate*100)
	fmt.Fprintf(&b, "Loan defaults:     %s\n", humanize.Comma(int64(s.Defaults)))
	fmt.Fprintf(&b, "Crisis:            %d cycles, %d transitions, ending %s\n", s.CrisisCycles, s.Transitions, s.FinalState)
	fmt.Fprintf(&b, "Money supply:      %s\n", money(s.MoneySupply))
	return b.String()
}

func money(d decimal.Decimal) string {
	return humanize.CommafWithDigits(d.InexactFloat64(), 2)
}
