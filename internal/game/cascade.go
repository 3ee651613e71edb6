package game

import (
	"sort"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// MaxCascadeWaves bounds propagation per evaluation. Whatever instability
// remains after the last wave is picked up by the next turn's evaluation.
const MaxCascadeWaves = 3

const intermittenceDamage = 2

// ResolveCascades propagates degradation along dependency edges in waves.
// Each wave reads the previous wave's result, so cycles in the graph
// cannot loop within a wave and the wave cap bounds the whole run.
func ResolveCascades(services map[string]Service, active effects.List) map[string]Service {
	current := cloneServices(services)
	ids := sortedServiceIDs(services)

	for wave := 0; wave < MaxCascadeWaves; wave++ {
		next := cloneServices(current)
		changed := false
		for _, id := range ids {
			if updated, ok := cascadeImpact(current[id], current, active); ok {
				next[id] = updated
				changed = true
			}
		}
		if !changed {
			break
		}
		current = next
	}
	return current
}

// cascadeImpact computes one service's wave outcome. It reports false when
// the service is unchanged.
func cascadeImpact(svc Service, services map[string]Service, active effects.List) (Service, bool) {
	if svc.State == rules.StateDown {
		return svc, false
	}

	damage, affected := 0, 0
	forceDegrade := false
	for _, depID := range svc.Dependencies {
		dep, ok := services[depID]
		if !ok || edgeIgnored(active, depID, svc.ID) {
			continue
		}
		switch dep.State {
		case rules.StateDegraded, rules.StateIntermittent:
			damage++
			affected++
		case rules.StateDown:
			damage += 2
			affected++
			if svc.State == rules.StateOK {
				forceDegrade = true
			}
		}
	}
	if damage == 0 && !forceDegrade && affected < 2 {
		return svc, false
	}

	updated := svc
	if damage > 0 {
		updated.Int = max(0, updated.Int-damage)
		if updated.Int == 0 {
			updated.State = rules.StateDown
		}
	}
	if forceDegrade && updated.State == rules.StateOK {
		updated.State = rules.StateDegraded
	}
	if affected >= 2 && updated.State != rules.StateDown {
		updated.State = rules.StateIntermittent
	}

	if updated.Int == svc.Int && updated.State == svc.State {
		return svc, false
	}
	return updated, true
}

func edgeIgnored(active effects.List, from, to string) bool {
	for _, effect := range active {
		if effect.Type == effects.KindIgnoreCascadeEdge && effect.FromServiceID == from && effect.ToServiceID == to {
			return true
		}
	}
	return false
}

// ResolveIntermittence lets every INTERMITTENT service damage exactly one
// dependent: the most critical one, ties broken by lowest INT. In
// deterministic mode it runs on odd turns only; in random mode it runs
// every turn and each source fires with probability 1/2.
func ResolveIntermittence(services map[string]Service, turn int, active effects.List, mode IntermittenceMode, rnd Random) map[string]Service {
	if mode != IntermittenceRandom && turn%2 == 0 {
		return services
	}

	updated := cloneServices(services)
	ids := sortedServiceIDs(services)

	for _, id := range ids {
		if services[id].State != rules.StateIntermittent {
			continue
		}
		if active.HasFor(effects.KindBlockIntermittentPropagation, id) {
			continue
		}
		if mode == IntermittenceRandom && rnd.Intn(2) != 0 {
			continue
		}

		var dependents []Service
		for _, depID := range ids {
			candidate := updated[depID]
			if depID != id && candidate.DependsOn(id) && candidate.State != rules.StateDown {
				dependents = append(dependents, candidate)
			}
		}
		if len(dependents) == 0 {
			continue
		}
		sort.SliceStable(dependents, func(i, j int) bool {
			if dependents[i].Crit != dependents[j].Crit {
				return dependents[i].Crit > dependents[j].Crit
			}
			return dependents[i].Int < dependents[j].Int
		})

		target := dependents[0]
		target.Int = max(0, target.Int-intermittenceDamage)
		if target.Int == 0 {
			target.State = rules.StateDown
		}
		updated[target.ID] = target
	}
	return updated
}
