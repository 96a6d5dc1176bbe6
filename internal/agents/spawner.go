// Agent spawning: creates the initial households and firms with skills,
// temperaments and starting needs.
package agents

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/labor"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/scenario"
)

// Spawner creates agents for the simulation.
type Spawner struct {
	rng    *rand.Rand
	nextID ledger.AgentID
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id ledger.AgentID) {
	s.nextID = id
}

// Allocate issues the next agent ID.
func (s *Spawner) Allocate() ledger.AgentID {
	id := s.nextID
	s.nextID++
	return id
}

// SpawnConsumers creates n households. Each trains in one of the given
// sectors (drawn uniformly from the list, so sectors with more firms get more
// workers) and banks with one of banks in turn. prices are the catalog's
// opening prices; each household starts part way to its next purchase of
// every good so lumpy purchases are spread over cycles.
func (s *Spawner) SpawnConsumers(n int, sectors []labor.Sector, beh scenario.Behavior, banks []ledger.AgentID, prices []float64) []*Consumer {
	out := make([]*Consumer, 0, n)
	for i := 0; i < n; i++ {
		home := labor.Sector(0)
		if len(sectors) > 0 {
			home = sectors[s.rng.Intn(len(sectors))]
		}
		arch := s.archetype()
		tmpl := TemplateFor(arch)
		propensity := beh.Propensity * tmpl.Propensity * (0.9 + s.rng.Float64()*0.2)

		c := &Consumer{
			ID:         s.Allocate(),
			Name:       s.generateName(),
			Home:       home,
			Skills:     s.skillsFor(home),
			Archetype:  arch,
			Propensity: math.Min(1, propensity),
			Needs: NeedsState{
				Subsistence: 0.85 + s.rng.Float64()*0.15,
				Comfort:     0.85 + s.rng.Float64()*0.15,
				Esteem:      0.85 + s.rng.Float64()*0.15,
			},
			Allowance: make([]float64, len(prices)),
		}
		for j, p := range prices {
			c.Allowance[j] = s.rng.Float64() * p
		}
		if len(banks) > 0 {
			c.Bank = banks[i%len(banks)]
		}
		out = append(out, c)
	}
	return out
}

// SpawnFirms creates n firms assigned round-robin over the catalog, so every
// good has at least one producer when n ≥ len(goods). A firm's productivity
// is the value one worker produces per cycle divided by the good's price.
func (s *Spawner) SpawnFirms(n int, goods []*economy.Good, wage float64, beh scenario.Behavior, banks []ledger.AgentID) []*Firm {
	out := make([]*Firm, 0, n)
	if len(goods) == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		g := goods[i%len(goods)]
		productivity := math.Max(0.1, beh.OutputValue/g.Price)
		id := s.Allocate()
		f := &Firm{
			ID:           id,
			Name:         fmt.Sprintf("%s %s", lastNames[s.rng.Intn(len(lastNames))], firmSuffix(g.Category)),
			Sector:       labor.Sector(g.Category),
			Good:         g.ID,
			Productivity: productivity,
			Markup:       g.Price * productivity / wage,
			Wage:         wage,
			Listing:      &economy.Listing{Firm: id, Good: g.ID, Price: g.Price},
		}
		if len(banks) > 0 {
			f.Bank = banks[i%len(banks)]
		}
		out = append(out, f)
	}
	return out
}

// NewGovernment creates the fiscal agent.
func (s *Spawner) NewGovernment(cfg scenario.Government) *Government {
	return &Government{
		ID:          s.Allocate(),
		TaxRate:     cfg.TaxRate,
		Benefit:     cfg.Benefit,
		Procurement: cfg.Procurement,
	}
}

func (s *Spawner) archetype() Archetype {
	r := s.rng.Float64()
	switch {
	case r < 0.6:
		return ArchSteady
	case r < 0.85:
		return ArchFrugal
	default:
		return ArchSpendthrift
	}
}

// skillsFor gives a strong skill in the home sector and weak ones elsewhere.
func (s *Spawner) skillsFor(home labor.Sector) []float64 {
	skills := make([]float64, len(economy.Categories()))
	for i := range skills {
		skills[i] = 0.1 + s.rng.Float64()*0.25
	}
	if int(home) < len(skills) {
		skills[home] = 0.6 + s.rng.Float64()*0.35
	}
	return skills
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

func firmSuffix(c economy.Category) string {
	switch c {
	case economy.CategoryBasicFood:
		return "Provisions"
	case economy.CategoryLuxuryFood:
		return "Fine Foods"
	case economy.CategoryDurable:
		return "Works"
	case economy.CategoryServices:
		return "Services"
	case economy.CategoryTechnology:
		return "Labs"
	default:
		return "& Co"
	}
}

// Name pools for procedural generation.
var firstNames = []string{
	"Ada", "Bram", "Calla", "Doran", "Elara", "Finn", "Greta",
	"Hugo", "Iris", "Jasper", "Kira", "Leif", "Mira", "Nils",
	"Olwen", "Petra", "Quinn", "Runa", "Stellan", "Thea", "Ulric",
	"Vera", "Wren", "Yara", "Zander",
}

var lastNames = []string{
	"Voss", "Ashford", "Dunmore", "Greenvale", "Millward", "Copperfield",
	"Silverdale", "Deepwell", "Brightwater", "Redforge", "Windholm",
	"Goldhaven", "Riverstone", "Holloway", "Farrow", "Thatcher",
	"Caldwell", "Harper", "Mercer", "Ward", "Cross",
}
