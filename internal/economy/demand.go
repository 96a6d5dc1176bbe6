package economy

// DemandHistory is a fixed-size rolling window of per-cycle demand.
type DemandHistory struct {
	values []float64
	next   int
	filled int
}

// NewDemandHistory creates a window holding the last size observations.
func NewDemandHistory(size int) *DemandHistory {
	if size < 2 {
		size = 2
	}
	return &DemandHistory{values: make([]float64, size)}
}

// Observe records this cycle's demand. A cycle with no demand decays the
// last observation geometrically instead of leaving the window untouched.
func (h *DemandHistory) Observe(qty float64, decay float64) {
	if qty <= 0 {
		qty = h.Last() * decay
	}
	h.values[h.next] = qty
	h.next = (h.next + 1) % len(h.values)
	if h.filled < len(h.values) {
		h.filled++
	}
}

// Len returns the number of observations held.
func (h *DemandHistory) Len() int { return h.filled }

// Last returns the most recent observation.
func (h *DemandHistory) Last() float64 {
	if h.filled == 0 {
		return 0
	}
	idx := (h.next - 1 + len(h.values)) % len(h.values)
	return h.values[idx]
}

// Mean returns the window average.
func (h *DemandHistory) Mean() float64 {
	if h.filled == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < h.filled; i++ {
		idx := (h.next - 1 - i + 2*len(h.values)) % len(h.values)
		sum += h.values[idx]
	}
	return sum / float64(h.filled)
}

// Trend is the relative deviation of the latest observation from the
// window mean, clamped to [-1, 1].
func (h *DemandHistory) Trend() float64 {
	mean := h.Mean()
	if h.filled < 2 || mean <= 0 {
		return 0
	}
	return clamp((h.Last()-mean)/mean, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
