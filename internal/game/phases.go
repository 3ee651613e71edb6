package game

import (
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

const downTriggerDamage = 2

// downTriggers maps a service to the dependents it hits when it goes DOWN.
var downTriggers = map[string][]string{
	"S1": {"S2"},
	"S5": {"S6", "S7"},
}

// ProcessAutomaticPhase runs the current phase if it is automatic and moves
// the game to the following phase. Manual phases are returned unchanged.
func (e *Engine) ProcessAutomaticPhase(state *GameState) (*GameState, error) {
	if !state.Running() {
		return nil, newError(CodeGameNotRunning, "game is not running")
	}
	s := state.Clone()
	e.processPhase(s)
	return s, nil
}

// processPhase mutates s, which must already be a private clone.
func (e *Engine) processPhase(s *GameState) {
	phase := s.Markers.Phase
	switch phase {
	case rules.PhaseMaintenance:
		e.processMaintenance(s)
	case rules.PhaseEvent:
		e.processEvent(s)
	case rules.PhaseCascadeEval:
		e.processCascadeEval(s)
	case rules.PhaseTurnEnd:
		e.processTurnEnd(s)
	default:
		return
	}
	e.logger.Debug("phase processed",
		zap.String("game_id", s.ID),
		zap.String("phase", phase.String()),
		zap.Int("turn", s.Markers.Turn),
		zap.String("status", string(s.Status)),
	)
}

func (e *Engine) processMaintenance(s *GameState) {
	before := snapshotServices(s)

	for _, id := range s.ServiceIDs() {
		svc := s.Services[id]
		if svc.State != rules.StateDegraded {
			continue
		}
		svc.Int = max(0, svc.Int-1)
		if svc.Int == 0 {
			svc.State = rules.StateDown
			markWentDown(s, id)
		}
		s.Services[id] = svc
	}

	for _, seat := range rules.Seats {
		st := s.Seats.Get(seat)
		st.BudgetRemaining = s.Config.BudgetPerTurn
		st.BasicActionUsed = false
		e.drawTo(st, handTarget)
		trimHand(st, handLimit)
	}

	s.Campaign = resetTurnCampaign(s.Campaign)
	s.TemporaryEffects = s.TemporaryEffects.Expire(rules.PhaseMaintenance, s.Markers.Turn)
	enterPhase(s, rules.PhaseEvent)
	s.UpdatedAt = e.timestamp()

	e.appendLog(s, rules.PhaseMaintenance, ActionMaintenanceDone, "", map[string]any{
		"beforeServices": before,
		"afterServices":  snapshotServices(s),
	})
	settleAttackerVictory(s)
}

func (e *Engine) processEvent(s *GameState) {
	if len(s.EventDeck) == 0 {
		if len(s.EventDiscard) == 0 {
			enterPhase(s, rules.PhaseMalososPrep)
			return
		}
		s.EventDeck = shuffled(e.random, s.EventDiscard)
		s.EventDiscard = []string{}
	}

	eventID := s.EventDeck[0]
	s.EventDeck = s.EventDeck[1:]
	card, ok := e.catalog.Card(eventID)
	if !ok {
		e.logger.Debug("event card missing from catalog", zap.String("game_id", s.ID), zap.String("card_id", eventID))
		enterPhase(s, rules.PhaseMalososPrep)
		return
	}

	e.applyEffects(s, card.Effects, effectContext{})
	s.EventDiscard = append(s.EventDiscard, eventID)
	enterPhase(s, rules.PhaseMalososPrep)
	s.UpdatedAt = e.timestamp()

	e.appendLog(s, rules.PhaseEvent, ActionEventDrawn, "", map[string]any{
		"cardId":   eventID,
		"cardName": card.Name,
	})
	settleAttackerVictory(s)
}

func (e *Engine) processCascadeEval(s *GameState) {
	before := snapshotServices(s)
	beforeMarkers := s.Markers

	services := ResolveCascades(s.Services, s.TemporaryEffects)
	services = ResolveIntermittence(services, s.Markers.Turn, s.TemporaryEffects, s.Config.IntermittenceMode, e.random)
	s.Services = services

	var wentDown []string
	for _, id := range s.ServiceIDs() {
		if s.Services[id].State != rules.StateDown {
			continue
		}
		markWentDown(s, id)
		if before[id].State != rules.StateDown {
			wentDown = append(wentDown, id)
		}
	}

	update := CalculateTurnMarkers(s)
	s.Markers = ApplyMarkerUpdate(s.Markers, update)

	// triggers fire for services that fell during cascade only; a victim
	// knocked DOWN by a trigger does not fire its own
	for _, id := range wentDown {
		for _, victim := range downTriggers[id] {
			damageService(s, victim, downTriggerDamage, false)
		}
	}

	enterPhase(s, rules.PhaseTurnEnd)
	s.UpdatedAt = e.timestamp()
	settleVictory(s)

	e.appendLog(s, rules.PhaseCascadeEval, ActionCascadeEvaluated, "", map[string]any{
		"markerUpdate":   update,
		"beforeServices": before,
		"afterServices":  snapshotServices(s),
		"beforeMarkers":  beforeMarkers,
		"afterMarkers":   s.Markers,
	})
}

func (e *Engine) processTurnEnd(s *GameState) {
	if settleVictory(s) {
		return
	}
	s.Markers.Turn++
	enterPhase(s, rules.PhaseMaintenance)
	s.UpdatedAt = e.timestamp()
	e.appendLog(s, rules.PhaseTurnEnd, ActionTurnEnded, "", map[string]any{"newTurn": s.Markers.Turn})
}

// Advance moves the game forward. An automatic current phase is processed
// and any requested phase ignored. Otherwise the game moves to requested,
// or to the next phase in the cycle, processing it on entry if automatic.
func (e *Engine) Advance(state *GameState, requested *rules.Phase) (*GameState, error) {
	if !state.Running() {
		return nil, newError(CodeGameNotRunning, "game is not running")
	}
	current := state.Markers.Phase
	if current.IsAutomatic() {
		return e.ProcessAutomaticPhase(state)
	}

	next := current.Next()
	if requested != nil {
		if !requested.Valid() {
			return nil, newError(CodeInvalidPhase, "unknown phase %d", int(*requested))
		}
		next = *requested
	}

	s := state.Clone()
	enterPhase(s, next)
	if next.IsAutomatic() {
		e.processPhase(s)
	}
	s.UpdatedAt = e.timestamp()
	e.appendLog(s, s.Markers.Phase, ActionPhaseAdvanced, "", map[string]any{
		"from": current.String(),
		"to":   next.String(),
	})
	return s, nil
}

// enterPhase moves s to phase and drops effects scoped to it.
func enterPhase(s *GameState, phase rules.Phase) {
	s.Markers.Phase = phase
	s.TemporaryEffects = s.TemporaryEffects.Expire(phase, s.Markers.Turn)
}
