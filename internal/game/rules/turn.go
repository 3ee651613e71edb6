package rules

import (
	"fmt"
	"strings"
)

// Phase represents one step of the seven-phase turn cycle.
type Phase int

const (
	PhaseMaintenance Phase = iota
	PhaseEvent
	PhaseMalososPrep
	PhaseMalososAttack
	PhaseBuenososResponse
	PhaseCascadeEval
	PhaseTurnEnd
)

var phaseNames = map[Phase]string{
	PhaseMaintenance:      "MAINTENANCE",
	PhaseEvent:            "EVENT",
	PhaseMalososPrep:      "MALOSOS_PREP",
	PhaseMalososAttack:    "MALOSOS_ATTACK",
	PhaseBuenososResponse: "BUENOSOS_RESPONSE",
	PhaseCascadeEval:      "CASCADE_EVAL",
	PhaseTurnEnd:          "TURN_END",
}

// turnSequence is the strict phase order of a turn.
var turnSequence = []Phase{
	PhaseMaintenance,
	PhaseEvent,
	PhaseMalososPrep,
	PhaseMalososAttack,
	PhaseBuenososResponse,
	PhaseCascadeEval,
	PhaseTurnEnd,
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// Valid reports whether p is one of the seven known phases.
func (p Phase) Valid() bool {
	_, ok := phaseNames[p]
	return ok
}

// IsAutomatic reports whether the engine processes the phase on entry
// without waiting for a player action.
func (p Phase) IsAutomatic() bool {
	switch p {
	case PhaseMaintenance, PhaseEvent, PhaseCascadeEval, PhaseTurnEnd:
		return true
	default:
		return false
	}
}

// Next returns the phase that follows p, wrapping TURN_END to MAINTENANCE.
func (p Phase) Next() Phase {
	for i, phase := range turnSequence {
		if phase == p {
			return turnSequence[(i+1)%len(turnSequence)]
		}
	}
	return PhaseMaintenance
}

// AllowsCardsFor reports whether seat may play cards during p.
func (p Phase) AllowsCardsFor(seat Seat) bool {
	switch seat {
	case SeatMalosos:
		return p == PhaseMalososPrep || p == PhaseMalososAttack
	case SeatBuenosos:
		return p == PhaseBuenososResponse
	default:
		return false
	}
}

// MarshalText encodes the phase by its wire name.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("unknown phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase from its wire name.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase converts a wire name such as "MALOSOS_ATTACK" into a Phase.
func ParsePhase(name string) (Phase, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for phase, phaseName := range phaseNames {
		if phaseName == normalized {
			return phase, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// Phases returns the turn cycle in order.
func Phases() []Phase {
	sequence := make([]Phase, len(turnSequence))
	copy(sequence, turnSequence)
	return sequence
}
