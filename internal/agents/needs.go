package agents

import "github.com/talgya/mini-economy/internal/economy"

// NeedsState tracks how satisfied a household is at each layer.
// All values range from 0.0 (completely unmet) to 1.0 (fully satisfied).
// Lower needs dominate spending when unmet.
type NeedsState struct {
	Subsistence float64 `json:"subsistence"` // basic food
	Comfort     float64 `json:"comfort"`     // durables and services
	Esteem      float64 `json:"esteem"`      // luxury food and technology
}

// NeedType enumerates the layers.
type NeedType uint8

const (
	NeedSubsistence NeedType = iota
	NeedComfort
	NeedEsteem
)

const needDecay = 0.25

// NeedFor maps a good category onto the need it serves.
func NeedFor(c economy.Category) NeedType {
	switch c {
	case economy.CategoryBasicFood, economy.CategoryIntermediate:
		return NeedSubsistence
	case economy.CategoryDurable, economy.CategoryServices:
		return NeedComfort
	default:
		return NeedEsteem
	}
}

// Level returns the satisfaction of one layer.
func (n *NeedsState) Level(t NeedType) float64 {
	switch t {
	case NeedSubsistence:
		return n.Subsistence
	case NeedComfort:
		return n.Comfort
	default:
		return n.Esteem
	}
}

// Urgency scales appetite for goods serving a need: 1 when satisfied, up to
// 1.5 when the need is completely unmet.
func (n *NeedsState) Urgency(t NeedType) float64 {
	return 1 + 0.5*(1-n.Level(t))
}

func decayOf(t NeedType) float64 {
	switch t {
	case NeedSubsistence:
		return needDecay
	case NeedComfort:
		return needDecay / 2
	default:
		return needDecay / 3
	}
}

// SettledUrgency is the urgency felt just before buying by a household that
// meets the need in full every cycle.
func SettledUrgency(t NeedType) float64 {
	return 1 + 0.5*decayOf(t)
}

// Decay wears every layer down at the start of a cycle.
func (n *NeedsState) Decay() {
	n.Subsistence = clamp01(n.Subsistence - decayOf(NeedSubsistence))
	n.Comfort = clamp01(n.Comfort - decayOf(NeedComfort))
	n.Esteem = clamp01(n.Esteem - decayOf(NeedEsteem))
}

// Satisfy credits purchases against the need they serve. wanted is what the
// household set out to buy, got what it received.
func (n *NeedsState) Satisfy(t NeedType, got, wanted float64) {
	if wanted <= 0 {
		return
	}
	gain := got / wanted
	switch t {
	case NeedSubsistence:
		n.Subsistence = clamp01(n.Subsistence + gain)
	case NeedComfort:
		n.Comfort = clamp01(n.Comfort + gain)
	default:
		n.Esteem = clamp01(n.Esteem + gain)
	}
}

// Overall returns a weighted average, with lower needs weighted more heavily.
func (n *NeedsState) Overall() float64 {
	return (n.Subsistence*3 + n.Comfort*2 + n.Esteem) / 6
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
