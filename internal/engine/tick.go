package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/talgya/mini-economy/internal/economy"
)

// Engine drives a Simulation forward one cycle at a time.
type Engine struct {
	Sim      *Simulation
	Speed    float64       // multiplier on Interval: 1.0 = paced, 0 = paused
	Interval time.Duration // pause between cycles, 0 runs flat out
	Budget   time.Duration // wall-clock limit per cycle, 0 for none

	// Callbacks, populated during setup.
	OnCycle func(snap Snapshot) // after every complete cycle
	OnAbort func(snap Snapshot) // after a cycle cut short by its budget
	OnYear  func(cycle uint64)  // every CyclesPerYear cycles

	running atomic.Bool
}

// NewEngine creates an engine with default settings.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{
		Sim:   sim,
		Speed: 1.0,
	}
}

// Run advances the simulation until it has run the given number of cycles,
// ctx is done or Stop is called. cycles <= 0 runs until stopped. A
// consistency error ends the run and is returned; aborted cycles are logged
// and the run goes on.
func (e *Engine) Run(ctx context.Context, cycles int) error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "cycle", e.Sim.Cycle(), "cycles", cycles, "budget", e.Budget)

	for done := 0; cycles <= 0 || done < cycles; {
		if !e.running.Load() || ctx.Err() != nil {
			break
		}
		if e.Speed <= 0 {
			if !sleep(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		snap, err := e.step(ctx)
		done++
		switch {
		case errors.Is(err, ErrCycleAborted):
			slog.Warn("cycle over budget", "cycle", snap.Cycle, "elapsed", time.Since(start))
			if e.OnAbort != nil {
				e.OnAbort(snap)
			}
		case err != nil:
			slog.Error("simulation halted", "cycle", e.Sim.Cycle(), "error", err)
			return err
		default:
			if e.OnCycle != nil {
				e.OnCycle(snap)
			}
		}
		if snap.Cycle%economy.CyclesPerYear == 0 && e.OnYear != nil {
			e.OnYear(snap.Cycle)
		}

		if e.Interval > 0 {
			target := time.Duration(float64(e.Interval) / e.Speed)
			if elapsed := time.Since(start); elapsed < target {
				if !sleep(ctx, target-elapsed) {
					break
				}
			}
		}
	}

	slog.Info("simulation engine stopped", "cycle", e.Sim.Cycle())
	return nil
}

// Stop halts the loop after the cycle in progress.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

func (e *Engine) step(ctx context.Context) (Snapshot, error) {
	if e.Budget <= 0 {
		return e.Sim.RunCycle(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, e.Budget)
	defer cancel()
	return e.Sim.RunCycle(cctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// CycleTime returns a human-readable calendar position for a cycle.
func CycleTime(cycle uint64) string {
	if cycle == 0 {
		return "Opening"
	}
	year := (cycle-1)/economy.CyclesPerYear + 1
	month := (cycle-1)%economy.CyclesPerYear + 1
	return fmt.Sprintf("%s, Month %d Year %d", economy.SeasonName(economy.SeasonOf(cycle)), month, year)
}
