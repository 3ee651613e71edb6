package game

import (
	"fmt"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

const (
	basePenaltyCap            = -25
	trustPenaltyCap           = -15
	trustCitizenDownPenalty   = -3
	trustZeroStabilityPenalty = -5
)

var baseStatePenalty = map[rules.ServiceState]int{
	rules.StateDegraded:     -2,
	rules.StateIntermittent: -3,
	rules.StateDown:         -6,
}

var criticalityPenalty = map[int]int{
	4: -2,
	5: -4,
}

// MarkerUpdate is the end-of-turn marker delta with a readable breakdown.
type MarkerUpdate struct {
	StabilityDelta int      `json:"stabilityDelta"`
	TrustDelta     int      `json:"trustDelta"`
	Details        []string `json:"details"`
}

// CalculateTurnMarkers computes the turn's stability and trust deltas from
// scratch. The four steps run in a fixed order because later caps and the
// trust check depend on earlier results.
func CalculateTurnMarkers(s *GameState) MarkerUpdate {
	update := MarkerUpdate{Details: []string{}}
	ids := s.ServiceIDs()

	// 1. base penalties, capped
	base := 0
	for _, id := range ids {
		svc := s.Services[id]
		if svc.State == rules.StateOK {
			continue
		}
		state := effectiveMarkerState(svc, s.TemporaryEffects)
		penalty := baseStatePenalty[state]
		base += penalty
		update.Details = append(update.Details, fmt.Sprintf("%s (%s): %d stability", id, state, penalty))
	}
	if base < basePenaltyCap {
		update.Details = append(update.Details, fmt.Sprintf("Base penalty capped at %d (was %d)", basePenaltyCap, base))
		base = basePenaltyCap
	}
	update.StabilityDelta += base

	// 2. criticality surcharge, uncapped
	for _, id := range ids {
		svc := s.Services[id]
		if svc.State == rules.StateOK {
			continue
		}
		if penalty := criticalityPenalty[svc.Crit]; penalty != 0 {
			update.StabilityDelta += penalty
			update.Details = append(update.Details, fmt.Sprintf("%s crit=%d: %d stability", id, svc.Crit, penalty))
		}
	}

	// 3. trust
	trust := 0
	for _, id := range ids {
		svc := s.Services[id]
		if svc.CitizenFacing && svc.State == rules.StateDown {
			trust += trustCitizenDownPenalty
			update.Details = append(update.Details, fmt.Sprintf("%s (citizen, DOWN): %d trust", id, trustCitizenDownPenalty))
		}
	}
	if trust < trustPenaltyCap {
		update.Details = append(update.Details, fmt.Sprintf("Trust penalty capped at %d (was %d)", trustPenaltyCap, trust))
		trust = trustPenaltyCap
	}
	update.TrustDelta += trust

	if max(0, s.Markers.Trust+update.TrustDelta) == 0 {
		if s.TemporaryEffects.Has(effects.KindIgnoreTrustPenalty) {
			update.Details = append(update.Details, "Trust=0 stability penalty ignored")
		} else {
			update.StabilityDelta += trustZeroStabilityPenalty
			update.Details = append(update.Details, fmt.Sprintf("Trust=0: %d stability (panic)", trustZeroStabilityPenalty))
		}
	}

	// 4. BCP prioritization gives back half of each target's own penalty
	for _, effect := range s.TemporaryEffects.OfKind(effects.KindBCPPrioritization) {
		for _, id := range effect.Targets {
			svc, ok := s.Services[id]
			if !ok || svc.State == rules.StateOK {
				continue
			}
			total := baseStatePenalty[effectiveMarkerState(svc, s.TemporaryEffects)] + criticalityPenalty[svc.Crit]
			relief := -total / 2
			update.StabilityDelta += relief
			update.Details = append(update.Details, fmt.Sprintf("BCP prioritization on %s: +%d stability", id, relief))
		}
	}

	return update
}

// effectiveMarkerState counts a manually operated DOWN service as DEGRADED.
func effectiveMarkerState(svc Service, active effects.List) rules.ServiceState {
	if svc.State == rules.StateDown && active.HasFor(effects.KindBCPManualOp, svc.ID) {
		return rules.StateDegraded
	}
	return svc.State
}

// ApplyMarkerUpdate adds the deltas and clamps both markers.
func ApplyMarkerUpdate(m Markers, update MarkerUpdate) Markers {
	m.Stability = clamp(m.Stability+update.StabilityDelta, 0, StabilityMax)
	m.Trust = clamp(m.Trust+update.TrustDelta, 0, TrustMax)
	return m
}

func modifyTrust(m Markers, amount int) Markers {
	m.Trust = clamp(m.Trust+amount, 0, TrustMax)
	return m
}

func modifyStability(m Markers, amount int) Markers {
	m.Stability = clamp(m.Stability+amount, 0, StabilityMax)
	return m
}

// EffectiveDamageReduction sums every reduction currently protecting serviceID.
func EffectiveDamageReduction(serviceID string, active effects.List) int {
	reduction := 0
	for _, effect := range active {
		if effect.TargetID != serviceID {
			continue
		}
		switch effect.Type {
		case effects.KindDamageReductionService:
			reduction += effect.ValueOr(0)
		case effects.KindSOCMonitoring:
			if effect.DamageReduction != nil {
				reduction += *effect.DamageReduction
			}
		case effects.KindBasicMonitoring:
			reduction++
		}
	}
	return reduction
}
