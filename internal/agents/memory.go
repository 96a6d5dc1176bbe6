package agents

import "sort"

// MaxMemories bounds each consumer's event stream.
const MaxMemories = 20

// Memory records a notable event in a household's life: a hire, a layoff,
// a loan decision.
type Memory struct {
	Cycle      uint64  `json:"cycle"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"` // 0..1
}

// AddMemory appends a memory to the consumer's stream. When full, drops the
// lowest-importance memory to make room.
func AddMemory(c *Consumer, cycle uint64, content string, importance float64) {
	m := Memory{Cycle: cycle, Content: content, Importance: importance}

	if len(c.Memories) < MaxMemories {
		c.Memories = append(c.Memories, m)
		return
	}

	minIdx := 0
	for i := 1; i < len(c.Memories); i++ {
		if c.Memories[i].Importance < c.Memories[minIdx].Importance {
			minIdx = i
		}
	}
	if m.Importance >= c.Memories[minIdx].Importance {
		c.Memories[minIdx] = m
	}
}

// RecentMemories returns the most recent N memories, newest first.
func RecentMemories(c *Consumer, count int) []Memory {
	if len(c.Memories) == 0 {
		return nil
	}

	sorted := make([]Memory, len(c.Memories))
	copy(sorted, c.Memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Cycle > sorted[j].Cycle
	})

	if count > len(sorted) {
		count = len(sorted)
	}
	return sorted[:count]
}
