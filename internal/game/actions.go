package game

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// PlayCard plays cardID from seat's hand against targets. Every check runs
// against the input state before anything is copied; on success the
// returned entry is the CARD_PLAYED record appended to the new state.
func (e *Engine) PlayCard(state *GameState, seat rules.Seat, cardID string, targets []string) (*GameState, LogEntry, error) {
	if !state.Running() {
		return nil, LogEntry{}, newError(CodeGameNotRunning, "game is not running")
	}
	if !seat.Valid() {
		return nil, LogEntry{}, newError(CodeNotAuthorized, "unknown seat %q", seat)
	}
	card, ok := e.catalog.Card(cardID)
	if !ok {
		return nil, LogEntry{}, newError(CodeInvalidTarget, "card %q not found", cardID)
	}
	if card.Side != rules.SideOf(seat) {
		return nil, LogEntry{}, newError(CodeNotAuthorized, "card %q does not belong to %s", cardID, seat)
	}
	if !state.Seats.Get(seat).InHand(cardID) {
		return nil, LogEntry{}, newError(CodeInvalidTarget, "card %q is not in %s's hand", cardID, seat)
	}
	if !state.Markers.Phase.AllowsCardsFor(seat) {
		return nil, LogEntry{}, newError(CodeInvalidPhase, "%s cannot play cards in phase %s", seat, state.Markers.Phase)
	}

	cost := e.effectiveCost(state, seat, card)
	if seat == rules.SeatBuenosos && card.Category == rules.CategoryDetectionResponse &&
		state.TemporaryEffects.Has(effects.KindLimitDetectionResponse) && detectionPlaysThisTurn(state) >= 1 {
		return nil, LogEntry{}, newError(CodeInvalidPhase, "only one detection/response card may be played this turn")
	}
	if budget := state.Seats.Get(seat).BudgetRemaining; cost > budget {
		return nil, LogEntry{}, newError(CodeInsufficientBudget, "needs %d, has %d", cost, budget)
	}
	if err := CanPlayCard(card, state); err != nil {
		return nil, LogEntry{}, err
	}
	for _, target := range targets {
		if _, ok := state.Services[target]; !ok {
			return nil, LogEntry{}, newError(CodeInvalidTarget, "service %q not found", target)
		}
	}

	s := state.Clone()
	before := snapshotServices(s)

	st := s.Seats.Get(seat)
	st.BudgetRemaining -= cost
	idx := indexOf(st.Hand, cardID)
	st.Hand = append(st.Hand[:idx:idx], st.Hand[idx+1:]...)
	st.Discard = append(st.Discard, cardID)

	e.applyEffects(s, card.Effects, effectContext{actor: seat, targets: targets})

	if seat == rules.SeatMalosos {
		if phase, ok := rules.CampaignPhaseFor(card.Category); ok {
			s.Campaign = CompleteCampaignPhase(s.Campaign, phase)
		}
	}
	settleVictory(s)
	s.UpdatedAt = e.timestamp()

	entry := LogEntry{
		ID:        e.newID(),
		Turn:      s.Markers.Turn,
		Phase:     s.Markers.Phase,
		Timestamp: s.UpdatedAt,
		Action:    ActionCardPlayed,
		Actor:     seat,
		Details: map[string]any{
			"cardId":        card.ID,
			"cardName":      card.Name,
			"category":      string(card.Category),
			"targets":       cloneStrings(targets),
			"effectiveCost": cost,
		},
		Before: before,
		After:  snapshotServices(s),
	}
	s.Log = append(s.Log, entry)

	e.logger.Debug("card played",
		zap.String("game_id", s.ID),
		zap.String("seat", string(seat)),
		zap.String("card_id", cardID),
		zap.Int("turn", s.Markers.Turn),
		zap.Int("cost", cost),
	)
	return s, entry, nil
}

// effectiveCost applies the active cost modifiers to card. A cost increase
// taxes every detection/response play until it expires.
func (e *Engine) effectiveCost(s *GameState, seat rules.Seat, card *catalog.Card) int {
	cost := card.Cost
	if seat != rules.SeatBuenosos {
		return cost
	}
	switch card.Category {
	case rules.CategoryDRP:
		if reduction, ok := s.TemporaryEffects.First(effects.KindDRPCostReduction); ok {
			cost = max(1, cost-reduction.ValueOr(1))
		}
	case rules.CategoryDetectionResponse:
		if increase, ok := s.TemporaryEffects.First(effects.KindDetectionResponseCostIncrease); ok {
			cost += increase.ValueOr(1)
		}
	}
	return cost
}

// UseBasicAction spends seat's once-per-turn basic action. The attacker
// gets recon for this turn only; the defender puts one-turn monitoring on
// target that absorbs 1 point of the next damage to it.
func (e *Engine) UseBasicAction(state *GameState, seat rules.Seat, target string) (*GameState, error) {
	if !state.Running() {
		return nil, newError(CodeGameNotRunning, "game is not running")
	}
	if !seat.Valid() {
		return nil, newError(CodeNotAuthorized, "unknown seat %q", seat)
	}
	if state.Seats.Get(seat).BasicActionUsed {
		return nil, newError(CodeInvalidPhase, "basic action already used this turn")
	}
	if seat == rules.SeatBuenosos {
		if target == "" {
			return nil, newError(CodeInvalidTarget, "basic monitoring requires a target service")
		}
		if _, ok := state.Services[target]; !ok {
			return nil, newError(CodeInvalidTarget, "service %q not found", target)
		}
	}

	s := state.Clone()
	s.Seats.Get(seat).BasicActionUsed = true
	s.UpdatedAt = e.timestamp()

	if seat == rules.SeatMalosos {
		s.Campaign.ReconThisTurn = true
		e.appendLog(s, s.Markers.Phase, ActionBasicRecon, seat, map[string]any{
			"description": "Basic recon: RECON counts as completed this turn only",
		})
	} else {
		s.TemporaryEffects = append(s.TemporaryEffects, effects.TemporaryEffect{
			ID:            e.newID(),
			Type:          effects.KindBasicMonitoring,
			TargetID:      target,
			ExpiresAtTurn: effects.IntPtr(s.Markers.Turn + 1),
			Value:         effects.IntPtr(1),
		})
		e.appendLog(s, s.Markers.Phase, ActionBasicMonitoring, seat, map[string]any{
			"target":      target,
			"description": fmt.Sprintf("Basic monitoring on %s: next damage reduced by 1", target),
		})
	}

	e.logger.Debug("basic action used",
		zap.String("game_id", s.ID),
		zap.String("seat", string(seat)),
		zap.Int("turn", s.Markers.Turn),
	)
	return s, nil
}
