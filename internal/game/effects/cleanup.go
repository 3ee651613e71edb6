package effects

import (
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// Kind tags a temporary effect.
type Kind string

const (
	KindBasicMonitoring               Kind = "basicMonitoring"
	KindDamageReductionService        Kind = "damageReductionService"
	KindSOCMonitoring                 Kind = "socMonitoring"
	KindIgnoreDamageReduction         Kind = "ignoreDamageReduction"
	KindBCPManualOp                   Kind = "bcpManualOp"
	KindBCPPrioritization             Kind = "bcpPrioritization"
	KindBlockIntermittentPropagation  Kind = "blockIntermittentPropagation"
	KindIgnoreCascadeEdge             Kind = "ignoreCascadeEdge"
	KindIgnoreTrustPenalty            Kind = "ignoreTrustPenalty"
	KindDRPCostReduction              Kind = "drpCostReduction"
	KindDetectionResponseCostIncrease Kind = "detectionResponseCostIncrease"
	KindLimitDetectionResponse        Kind = "limitDetectionResponse"
	KindAddBudgetModifier             Kind = "addBudgetModifier"
	KindLatentEvent                   Kind = "latentEvent"
)

// TemporaryEffect is a time- or phase-scoped modifier attached to game state.
// Optional fields are pointers so that "unset" survives a JSON round trip.
type TemporaryEffect struct {
	ID             string       `json:"id"`
	Type           Kind         `json:"type"`
	TargetID       string       `json:"targetId,omitempty"`
	ExpiresAtPhase *rules.Phase `json:"expiresAtPhase,omitempty"`
	ExpiresAtTurn  *int         `json:"expiresAtTurn,omitempty"`
	Value          *int         `json:"value,omitempty"`

	// ignoreCascadeEdge
	FromServiceID string `json:"fromServiceId,omitempty"`
	ToServiceID   string `json:"toServiceId,omitempty"`
	// bcpPrioritization
	Targets []string `json:"targets,omitempty"`
	// socMonitoring
	BudgetPenalty   *int `json:"budgetPenalty,omitempty"`
	DamageReduction *int `json:"damageReduction,omitempty"`
	// latentEvent
	ActivationTurn *int `json:"activationTurn,omitempty"`

	// Extra carries catalog fields with no dedicated slot.
	Extra map[string]any `json:"extra,omitempty"`
}

// ValueOr returns the effect's value or fallback when unset.
func (e TemporaryEffect) ValueOr(fallback int) int {
	if e.Value == nil {
		return fallback
	}
	return *e.Value
}

// ExpiredAt reports whether the effect is dropped when phase is entered on turn.
func (e TemporaryEffect) ExpiredAt(phase rules.Phase, turn int) bool {
	if e.ExpiresAtPhase != nil && *e.ExpiresAtPhase == phase {
		return true
	}
	if e.ExpiresAtTurn != nil && *e.ExpiresAtTurn <= turn {
		return true
	}
	return false
}

// Clone returns a deep copy of the effect.
func (e TemporaryEffect) Clone() TemporaryEffect {
	out := e
	out.ExpiresAtPhase = clonePtr(e.ExpiresAtPhase)
	out.ExpiresAtTurn = clonePtr(e.ExpiresAtTurn)
	out.Value = clonePtr(e.Value)
	out.BudgetPenalty = clonePtr(e.BudgetPenalty)
	out.DamageReduction = clonePtr(e.DamageReduction)
	out.ActivationTurn = clonePtr(e.ActivationTurn)
	if e.Targets != nil {
		out.Targets = append([]string(nil), e.Targets...)
	}
	if e.Extra != nil {
		out.Extra = make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// List is the ordered set of active temporary effects.
type List []TemporaryEffect

// Expire returns the effects that survive entering phase on turn.
func (l List) Expire(phase rules.Phase, turn int) List {
	kept := make(List, 0, len(l))
	for _, effect := range l {
		if effect.ExpiredAt(phase, turn) {
			continue
		}
		kept = append(kept, effect)
	}
	return kept
}

// Has reports whether an effect of kind exists.
func (l List) Has(kind Kind) bool {
	_, ok := l.First(kind)
	return ok
}

// HasFor reports whether an effect of kind targets targetID.
func (l List) HasFor(kind Kind, targetID string) bool {
	for _, effect := range l {
		if effect.Type == kind && effect.TargetID == targetID {
			return true
		}
	}
	return false
}

// First returns the first effect of kind.
func (l List) First(kind Kind) (TemporaryEffect, bool) {
	for _, effect := range l {
		if effect.Type == kind {
			return effect, true
		}
	}
	return TemporaryEffect{}, false
}

// OfKind returns every effect of kind in order.
func (l List) OfKind(kind Kind) List {
	var out List
	for _, effect := range l {
		if effect.Type == kind {
			out = append(out, effect)
		}
	}
	return out
}

// Without returns the list minus the effect with id.
func (l List) Without(id string) List {
	out := make(List, 0, len(l))
	for _, effect := range l {
		if effect.ID != id {
			out = append(out, effect)
		}
	}
	return out
}

// Clone returns a deep copy of the list.
func (l List) Clone() List {
	if l == nil {
		return List{}
	}
	out := make(List, len(l))
	for i, effect := range l {
		out[i] = effect.Clone()
	}
	return out
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// PhasePtr returns a pointer to p.
func PhasePtr(p rules.Phase) *rules.Phase {
	return &p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
