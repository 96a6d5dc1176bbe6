package economy

// Seasons of the simulated year. A year is CyclesPerYear cycles long and each
// season covers a quarter of it.
const (
	SeasonSpring = 0
	SeasonSummer = 1
	SeasonAutumn = 2
	SeasonWinter = 3

	CyclesPerYear = 12
)

// SeasonOf returns the season a cycle falls in.
func SeasonOf(cycle uint64) uint8 {
	return uint8((cycle % CyclesPerYear) / (CyclesPerYear / 4))
}

// SeasonName returns a human-readable season name.
func SeasonName(season uint8) string {
	switch season {
	case SeasonSpring:
		return "spring"
	case SeasonSummer:
		return "summer"
	case SeasonAutumn:
		return "autumn"
	case SeasonWinter:
		return "winter"
	default:
		return "unknown"
	}
}

// SeasonalDemandMod returns a multiplier on consumer appetite for a
// category in a given season.
func SeasonalDemandMod(season uint8, c Category) float64 {
	switch season {
	case SeasonWinter:
		switch c {
		case CategoryBasicFood:
			return 1.15 // heating and stockpiling
		case CategoryDurable:
			return 1.1
		case CategoryLuxuryFood:
			return 1.25 // holidays
		default:
			return 1.0
		}
	case SeasonSpring:
		switch c {
		case CategoryDurable:
			return 1.05
		default:
			return 1.0
		}
	case SeasonSummer:
		switch c {
		case CategoryServices:
			return 1.2 // travel
		case CategoryBasicFood:
			return 0.95
		default:
			return 1.0
		}
	case SeasonAutumn:
		switch c {
		case CategoryBasicFood:
			return 0.9 // harvest abundance
		case CategoryTechnology:
			return 1.1
		default:
			return 1.0
		}
	}
	return 1.0
}
