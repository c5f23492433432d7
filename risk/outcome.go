package risk

import "github.com/dnldd/fxsignal/shared"

// Action represents the kind of validation outcome.
type Action int

const (
	// Accept admits the signal at full size.
	Accept Action = iota
	// Resize admits the signal at a reduced position size.
	Resize
	// Reject vetoes the signal.
	Reject
)

// String stringifies the provided action.
func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Resize:
		return "resize"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Outcome represents the tagged result of validating a signal.
type Outcome struct {
	Action Action
	// Reason records why a signal was rejected.
	Reason string
	// SizeMultiplier is the position size multiplier for admitted signals.
	SizeMultiplier float64
	// Level is the emergency level the outcome was decided under, so callers
	// stamp signals with the same level that gated and sized them.
	Level shared.EmergencyLevel
}

// accepted builds an accept outcome at full size.
func accepted() Outcome {
	return Outcome{Action: Accept, SizeMultiplier: 1.0}
}

// resized builds a resize outcome with the provided multiplier.
func resized(multiplier float64) Outcome {
	return Outcome{Action: Resize, SizeMultiplier: multiplier}
}

// rejected builds a reject outcome with the provided reason.
func rejected(reason string) Outcome {
	return Outcome{Action: Reject, Reason: reason}
}
