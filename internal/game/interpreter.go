package game

import (
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// effectContext is who applied an effect list and what they aimed it at.
type effectContext struct {
	actor   rules.Seat
	targets []string
}

func (c effectContext) target() string {
	if len(c.targets) == 0 {
		return ""
	}
	return c.targets[0]
}

// targetOr returns the descriptor's own target, falling back to the first
// declared target.
func (c effectContext) targetOr(id string) string {
	if id != "" {
		return id
	}
	return c.target()
}

// applyEffects threads s through list in order; later descriptors see the
// results of earlier ones. s must already be a private clone.
func (e *Engine) applyEffects(s *GameState, list []effects.Descriptor, ctx effectContext) {
	for _, d := range list {
		e.applyEffect(s, d, ctx)
	}
}

func (e *Engine) applyEffect(s *GameState, d effects.Descriptor, ctx effectContext) {
	switch d := d.(type) {
	case effects.DamageInt:
		id := ctx.targetOr(d.TargetID)
		ignore := s.TemporaryEffects.HasFor(effects.KindIgnoreDamageReduction, id)
		if d.TargetAll && len(ctx.targets) > 0 {
			for _, target := range ctx.targets {
				damageService(s, target, d.Amount, ignore)
			}
		} else if id != "" {
			damageService(s, id, d.Amount, ignore)
		}

	case effects.HealInt:
		if id := ctx.targetOr(d.TargetID); id != "" {
			healService(s, id, d.Amount)
		}

	case effects.SetState:
		if id := ctx.targetOr(d.TargetID); id != "" {
			setServiceState(s, id, d.State)
		}

	case effects.SetInt:
		if id := ctx.targetOr(d.TargetID); id != "" {
			setServiceInt(s, id, d.Value)
		}

	case effects.SetStateIfAlready:
		id := ctx.targetOr(d.TargetID)
		if svc, ok := s.Services[id]; ok && svc.State == d.CurrentState {
			setServiceState(s, id, d.NewState)
		}

	case effects.SetStateIfInt0:
		id := ctx.targetOr(d.TargetID)
		if svc, ok := s.Services[id]; ok && svc.Int == 0 {
			setServiceState(s, id, d.State)
		}

	case effects.ConditionalDamage:
		if d.Condition == effects.ConditionTargetDown {
			if svc, ok := s.Services[d.ConditionTargetID]; ok && svc.State == rules.StateDown {
				for _, victim := range d.Victims {
					damageService(s, victim, d.Amount, false)
				}
			}
		}

	case effects.SetStateIfCondition:
		id := ctx.targetOr(d.TargetID)
		met := false
		switch d.Condition {
		case effects.ConditionS11DegradedOrWorse:
			met = degradedOrWorse(s, "S11")
		case effects.ConditionS1DegradedOrWorse:
			met = degradedOrWorse(s, "S1")
		}
		if met && id != "" {
			setServiceState(s, id, d.NewState)
		}

	case effects.ModifyTrust:
		s.Markers = modifyTrust(s.Markers, d.Amount)

	case effects.ConditionalTrust:
		if d.Condition == effects.ConditionS7orS10IntermittentOrDown &&
			(intermittentOrDown(s, "S7") || intermittentOrDown(s, "S10")) {
			s.Markers = modifyTrust(s.Markers, d.Amount)
		}

	case effects.ModifyStability:
		s.Markers = modifyStability(s.Markers, d.Amount)
		settleVictory(s)

	case effects.MarkCampaignPhase:
		if rules.IsCampaignPhase(string(d.Phase)) {
			s.Campaign = CompleteCampaignPhase(s.Campaign, d.Phase)
		}

	case effects.RollbackCampaignPhase:
		if len(d.Choices) == 0 {
			s.Campaign = RollbackCampaignPhase(s.Campaign, "")
			break
		}
		for _, choice := range d.Choices {
			if s.Campaign.Completed(choice) {
				s.Campaign = RollbackCampaignPhase(s.Campaign, choice)
				break
			}
		}

	case effects.SetBackupsVerified:
		s.BackupsVerified = d.Value

	case effects.DiscardOpponentCard:
		e.discardOpponent(s, d, ctx)

	case effects.AddTempEffect:
		e.addTempEffect(s, d, ctx)

	case effects.EventActivation:
		branch := d.IfFalse
		if e.activationHolds(s, d.Condition) {
			branch = d.IfTrue
		}
		e.applyEffects(s, branch, ctx)

	case effects.SetLatent:
		s.TemporaryEffects = append(s.TemporaryEffects, effects.TemporaryEffect{
			ID:             e.newID(),
			Type:           effects.KindLatentEvent,
			ActivationTurn: effects.IntPtr(d.ActivationTurn),
		})

	default:
		e.logger.Debug("skipping unknown effect", zap.String("game_id", s.ID), zap.String("type", d.Type()))
	}
}

func (e *Engine) activationHolds(s *GameState, condition string) bool {
	switch condition {
	case effects.ConditionTurnAtLeast5:
		return s.Markers.Turn >= 5
	case effects.ConditionS11DegradedOrWorse:
		return degradedOrWorse(s, "S11")
	case effects.ConditionS7orS10DegradedOrWorse:
		return degradedOrWorse(s, "S7") || degradedOrWorse(s, "S10")
	case effects.ConditionS12DegradedOrWorse:
		return degradedOrWorse(s, "S12")
	default:
		return false
	}
}

func (e *Engine) discardOpponent(s *GameState, d effects.DiscardOpponentCard, ctx effectContext) {
	opponent := d.Opponent
	if !opponent.Valid() {
		opponent = rules.SeatMalosos
		if ctx.actor == rules.SeatMalosos {
			opponent = rules.SeatBuenosos
		}
	}
	seat := s.Seats.Get(opponent)
	for i := 0; i < d.Count && len(seat.Hand) > 0; i++ {
		var idx int
		if d.Mode == effects.DiscardHighestCost {
			idx = e.highestCostIndex(seat.Hand)
		} else {
			idx = e.random.Intn(len(seat.Hand))
		}
		cardID := seat.Hand[idx]
		seat.Hand = append(seat.Hand[:idx:idx], seat.Hand[idx+1:]...)
		seat.Discard = append(seat.Discard, cardID)
	}
}

// highestCostIndex returns the first card of maximal cost.
func (e *Engine) highestCostIndex(hand []string) int {
	best, bestCost := 0, -1
	for i, id := range hand {
		cost := 0
		if card, ok := e.catalog.Card(id); ok {
			cost = card.Cost
		}
		if cost > bestCost {
			best, bestCost = i, cost
		}
	}
	return best
}

func (e *Engine) addTempEffect(s *GameState, d effects.AddTempEffect, ctx effectContext) {
	turn := s.Markers.Turn

	if d.EffectType == effects.KindAddBudgetModifier {
		// stored as a one-turn surcharge on the defender's detection/response cards
		amount := 1
		if d.Amount != nil {
			amount = *d.Amount
		}
		s.TemporaryEffects = append(s.TemporaryEffects, effects.TemporaryEffect{
			ID:            e.newID(),
			Type:          effects.KindDetectionResponseCostIncrease,
			ExpiresAtTurn: effects.IntPtr(turn + 1),
			Value:         effects.IntPtr(amount),
		})
		return
	}

	effect := effects.TemporaryEffect{
		ID:              e.newID(),
		Type:            d.EffectType,
		TargetID:        ctx.targetOr(d.TargetID),
		Value:           d.Value,
		FromServiceID:   d.FromServiceID,
		ToServiceID:     d.ToServiceID,
		Targets:         append([]string(nil), d.Targets...),
		BudgetPenalty:   d.BudgetPenalty,
		DamageReduction: d.DamageReduction,
		Extra:           d.Extra,
	}
	if d.Duration == rules.DurationTurn {
		effect.ExpiresAtTurn = effects.IntPtr(turn + 1)
	}

	target := ctx.target()
	switch d.EffectType {
	case effects.KindBCPManualOp, effects.KindBlockIntermittentPropagation, effects.KindSOCMonitoring:
		if target != "" {
			effect.TargetID = target
		}
	case effects.KindBCPPrioritization:
		if len(ctx.targets) > 0 {
			effect.Targets = append([]string(nil), ctx.targets[:min(2, len(ctx.targets))]...)
		}
	case effects.KindIgnoreCascadeEdge:
		if len(ctx.targets) >= 2 {
			effect.FromServiceID = ctx.targets[0]
			effect.ToServiceID = ctx.targets[1]
		}
	}
	s.TemporaryEffects = append(s.TemporaryEffects, effect.Clone())
}
