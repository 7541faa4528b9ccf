package indicator

import "math"

// Phase is the categorical market-regime classification. Strategies gate
// entries on membership (e.g. only open longs during a bull phase).
type Phase int8

const (
	PhaseUnknown Phase = iota
	PhaseBullStrong
	PhaseBullWarning
	PhaseConsolidation
	PhaseBearWarning
	PhaseBearStrong
)

func (p Phase) String() string {
	switch p {
	case PhaseBullStrong:
		return "bull_strong"
	case PhaseBullWarning:
		return "bull_warning"
	case PhaseConsolidation:
		return "consolidation"
	case PhaseBearWarning:
		return "bear_warning"
	case PhaseBearStrong:
		return "bear_strong"
	default:
		return "unknown"
	}
}

// ParsePhase maps a config string to a Phase. Unknown strings map to
// PhaseUnknown, which no snapshot ever carries once warm, so a typo'd phase
// name can never trigger a condition.
func ParsePhase(s string) Phase {
	switch s {
	case "bull_strong":
		return PhaseBullStrong
	case "bull_warning":
		return PhaseBullWarning
	case "consolidation":
		return PhaseConsolidation
	case "bear_warning":
		return PhaseBearWarning
	case "bear_strong":
		return PhaseBearStrong
	default:
		return PhaseUnknown
	}
}

// classifyPhases derives the regime per candle from the EMA pair and
// momentum. Trend direction comes from fast vs slow EMA; momentum magnitude
// splits strong from warning; a flat EMA pair reads as consolidation.
func classifyPhases(set *Set, params Params) []Phase {
	phases := make([]Phase, len(set.closes))
	for i := range set.closes {
		fast := set.emaFast[i]
		slow := set.emaSlow[i]
		mom := set.momentum[i]

		if math.IsNaN(fast) || math.IsNaN(slow) || math.IsNaN(mom) {
			phases[i] = PhaseUnknown
			continue
		}

		spread := (fast - slow) / slow
		band := params.PhaseWarningBand

		switch {
		case spread > band && mom > 0:
			phases[i] = PhaseBullStrong
		case spread > band:
			phases[i] = PhaseBullWarning
		case spread < -band && mom < 0:
			phases[i] = PhaseBearStrong
		case spread < -band:
			phases[i] = PhaseBearWarning
		default:
			phases[i] = PhaseConsolidation
		}
	}
	return phases
}
