// Package economy provides the goods catalog, seller listings, demand
// history, the price index and the pricing engine.
package economy

import (
	"fmt"

	"github.com/talgya/mini-economy/internal/ledger"
)

// Category groups goods that share elasticity and inertia parameters.
type Category uint8

const (
	CategoryBasicFood Category = iota
	CategoryLuxuryFood
	CategoryDurable
	CategoryServices
	CategoryTechnology
	CategoryIntermediate
	numCategories
)

var categoryNames = [numCategories]string{
	"basic_food",
	"luxury_food",
	"durable",
	"services",
	"technology",
	"intermediate",
}

func (c Category) String() string {
	if c < numCategories {
		return categoryNames[c]
	}
	return "unknown"
}

// ParseCategory maps a category name to its value.
func ParseCategory(name string) (Category, error) {
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown good category %q", name)
}

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, numCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// CategoryParams are the per-category behavioral parameters.
type CategoryParams struct {
	Elasticity  float64 `yaml:"elasticity" toml:"elasticity" json:"elasticity"`       // price elasticity of demand (negative)
	Inertia     float64 `yaml:"inertia" toml:"inertia" json:"inertia"`                // weight on the prior price, 0..1
	IndexWeight float64 `yaml:"index_weight" toml:"index_weight" json:"index_weight"` // fallback weight in the price index
	Appetite    float64 `yaml:"appetite" toml:"appetite" json:"appetite"`             // units a consumer wants per cycle
}

// DefaultCategoryParams returns the built-in parameters for a category.
func DefaultCategoryParams(c Category) CategoryParams {
	switch c {
	case CategoryBasicFood:
		return CategoryParams{Elasticity: -0.3, Inertia: 0.85, IndexWeight: 3.0, Appetite: 3}
	case CategoryLuxuryFood:
		return CategoryParams{Elasticity: -0.8, Inertia: 0.88, IndexWeight: 1.5, Appetite: 1}
	case CategoryDurable:
		return CategoryParams{Elasticity: -1.2, Inertia: 0.92, IndexWeight: 1.0, Appetite: 0.2}
	case CategoryServices:
		return CategoryParams{Elasticity: -0.6, Inertia: 0.9, IndexWeight: 1.0, Appetite: 1}
	case CategoryTechnology:
		return CategoryParams{Elasticity: -1.5, Inertia: 0.93, IndexWeight: 1.0, Appetite: 0.1}
	default:
		return CategoryParams{Elasticity: -0.5, Inertia: 0.9, IndexWeight: 1.0, Appetite: 0.5}
	}
}

// Good is one entry of the catalog. Price is the reference price: the mean
// of the live seller listings, refreshed after every pricing phase.
type Good struct {
	ID       ledger.GoodID  `json:"id"`
	Name     string         `json:"name"`
	Category Category       `json:"category"`
	Params   CategoryParams `json:"params"`
	Price    float64        `json:"price"`
	Demand   *DemandHistory `json:"-"`

	// Quantities settled this cycle and last cycle, used as index weights.
	Sold     int `json:"sold"`
	PrevSold int `json:"prev_sold"`
}

// NewGood creates a catalog entry with an empty demand window.
func NewGood(id ledger.GoodID, name string, cat Category, params CategoryParams, price float64, window int) *Good {
	return &Good{
		ID:       id,
		Name:     name,
		Category: cat,
		Params:   params,
		Price:    price,
		Demand:   NewDemandHistory(window),
	}
}

// Listing is one firm's offer of one good.
type Listing struct {
	Firm              ledger.AgentID `json:"firm"`
	Good              ledger.GoodID  `json:"good"`
	Price             float64        `json:"price"`
	CyclesSinceChange int            `json:"cycles_since_change"`
	Sold              int            `json:"sold"`      // units settled this cycle
	Requested         int            `json:"requested"` // units buyers asked for this cycle
	DemandEMA         float64        `json:"demand_ema"`
}

// RollDemand folds this cycle's requests into the listing's demand estimate.
func (l *Listing) RollDemand(alpha float64) {
	if l.DemandEMA == 0 {
		l.DemandEMA = float64(l.Requested)
	} else {
		l.DemandEMA = alpha*float64(l.Requested) + (1-alpha)*l.DemandEMA
	}
}

// RefreshReferencePrices sets each good's price to the mean of its listings.
// Goods with no listings keep their previous price.
func RefreshReferencePrices(goods []*Good, listings []*Listing) {
	sums := make(map[ledger.GoodID]float64, len(goods))
	counts := make(map[ledger.GoodID]int, len(goods))
	for _, l := range listings {
		sums[l.Good] += l.Price
		counts[l.Good]++
	}
	for _, g := range goods {
		if n := counts[g.ID]; n > 0 {
			g.Price = sums[g.ID] / float64(n)
		}
	}
}
