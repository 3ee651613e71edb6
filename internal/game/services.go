package game

import (
	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// Service mutations. Every helper here keeps State == DOWN iff Int == 0,
// keeps Int within [0, IntMax] and maintains the went-down/recovered lists.

// damageService removes amount INT from id after damage reduction, unless
// ignoreReduction is set. DOWN services take no further damage.
func damageService(s *GameState, id string, amount int, ignoreReduction bool) {
	svc, ok := s.Services[id]
	if !ok || svc.State == rules.StateDown {
		return
	}
	damage := amount
	if !ignoreReduction {
		damage = max(0, amount-EffectiveDamageReduction(id, s.TemporaryEffects))
		if amount > 0 {
			consumeBasicMonitoring(s, id)
		}
	}
	svc.Int = max(0, svc.Int-damage)
	if svc.Int == 0 {
		svc.State = rules.StateDown
	}
	s.Services[id] = svc
	trackTransition(s, id, false)
}

// consumeBasicMonitoring drops the first monitoring effect on id; it only
// ever reduces one damage instance.
func consumeBasicMonitoring(s *GameState, id string) {
	for _, effect := range s.TemporaryEffects {
		if effect.Type == effects.KindBasicMonitoring && effect.TargetID == id {
			s.TemporaryEffects = s.TemporaryEffects.Without(effect.ID)
			return
		}
	}
}

// healService restores INT, capped at IntMax. A DOWN service that regains
// INT comes back DEGRADED, never OK.
func healService(s *GameState, id string, amount int) {
	svc, ok := s.Services[id]
	if !ok {
		return
	}
	wasDown := svc.State == rules.StateDown
	svc.Int = clamp(svc.Int+amount, 0, svc.IntMax)
	switch {
	case svc.Int == 0:
		svc.State = rules.StateDown
	case wasDown:
		svc.State = rules.StateDegraded
	}
	s.Services[id] = svc
	trackTransition(s, id, wasDown)
}

// setServiceState forces state. Forcing DOWN zeroes INT; lifting a service
// out of DOWN leaves it with at least 1 INT.
func setServiceState(s *GameState, id string, state rules.ServiceState) {
	svc, ok := s.Services[id]
	if !ok || !state.Valid() {
		return
	}
	wasDown := svc.State == rules.StateDown
	svc.State = state
	if state == rules.StateDown {
		svc.Int = 0
	} else if svc.Int == 0 {
		svc.Int = 1
	}
	s.Services[id] = svc
	trackTransition(s, id, wasDown)
}

// setServiceInt forces INT and derives the state from it.
func setServiceInt(s *GameState, id string, value int) {
	svc, ok := s.Services[id]
	if !ok {
		return
	}
	wasDown := svc.State == rules.StateDown
	svc.Int = clamp(value, 0, svc.IntMax)
	switch {
	case svc.Int == 0:
		svc.State = rules.StateDown
	case wasDown:
		svc.State = rules.StateDegraded
	}
	s.Services[id] = svc
	trackTransition(s, id, wasDown)
}

// trackTransition records first entry into DOWN and recovery out of it.
func trackTransition(s *GameState, id string, wasDown bool) {
	svc := s.Services[id]
	if svc.State == rules.StateDown {
		markWentDown(s, id)
		return
	}
	if wasDown && contains(s.ServicesThatWentDown, id) && !contains(s.ServicesRecovered, id) {
		s.ServicesRecovered = append(s.ServicesRecovered, id)
	}
}

func markWentDown(s *GameState, id string) {
	if !contains(s.ServicesThatWentDown, id) {
		s.ServicesThatWentDown = append(s.ServicesThatWentDown, id)
	}
}

func degradedOrWorse(s *GameState, id string) bool {
	svc, ok := s.Services[id]
	return ok && svc.State.DegradedOrWorse()
}

func intermittentOrDown(s *GameState, id string) bool {
	svc, ok := s.Services[id]
	return ok && (svc.State == rules.StateIntermittent || svc.State == rules.StateDown)
}
