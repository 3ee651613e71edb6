package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

func attackerCtx(targets ...string) effectContext {
	return effectContext{actor: rules.SeatMalosos, targets: targets}
}

// TestDamageConsumesBasicMonitoring verifies monitoring absorbs one point
// of the first hit only.
func TestDamageConsumesBasicMonitoring(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)
	s.TemporaryEffects = effects.List{{ID: "mon", Type: effects.KindBasicMonitoring, TargetID: "S1", Value: effects.IntPtr(1)}}

	e.applyEffect(s, effects.DamageInt{Amount: 3}, attackerCtx("S1"))
	assert.Equal(t, 8, s.Services["S1"].Int)
	assert.Empty(t, s.TemporaryEffects)

	e.applyEffect(s, effects.DamageInt{Amount: 3}, attackerCtx("S1"))
	assert.Equal(t, 5, s.Services["S1"].Int)
	assert.Equal(t, rules.StateOK, s.Services["S1"].State, "damage alone does not change state above zero")
}

// TestDamageIgnoresReduction verifies ignoreDamageReduction bypasses every
// reduction and leaves monitoring in place.
func TestDamageIgnoresReduction(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)
	s.TemporaryEffects = effects.List{
		{ID: "red", Type: effects.KindDamageReductionService, TargetID: "S1", Value: effects.IntPtr(2)},
		{ID: "mon", Type: effects.KindBasicMonitoring, TargetID: "S1"},
		{ID: "ign", Type: effects.KindIgnoreDamageReduction, TargetID: "S1"},
	}

	e.applyEffect(s, effects.DamageInt{Amount: 3}, attackerCtx("S1"))
	assert.Equal(t, 7, s.Services["S1"].Int)
	assert.Len(t, s.TemporaryEffects, 3)
}

// TestDamageAllTargets verifies targetAll hits every declared target.
func TestDamageAllTargets(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)

	e.applyEffect(s, effects.DamageInt{Amount: 2, TargetAll: true}, attackerCtx("S2", "S9"))
	assert.Equal(t, 8, s.Services["S2"].Int)
	assert.Equal(t, 4, s.Services["S9"].Int)
	assert.Equal(t, 10, s.Services["S1"].Int)
}

// TestDownAndRecovery verifies the DOWN transition and the recovery
// bookkeeping.
func TestDownAndRecovery(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)

	e.applyEffect(s, effects.DamageInt{Amount: 20}, attackerCtx("S6"))
	assert.Equal(t, 0, s.Services["S6"].Int)
	assert.Equal(t, rules.StateDown, s.Services["S6"].State)
	assert.Equal(t, []string{"S6"}, s.ServicesThatWentDown)

	e.applyEffect(s, effects.DamageInt{Amount: 2}, attackerCtx("S6"))
	assert.Equal(t, 0, s.Services["S6"].Int)

	e.applyEffect(s, effects.HealInt{Amount: 2}, effectContext{actor: rules.SeatBuenosos, targets: []string{"S6"}})
	assert.Equal(t, 2, s.Services["S6"].Int)
	assert.Equal(t, rules.StateDegraded, s.Services["S6"].State)
	assert.Equal(t, []string{"S6"}, s.ServicesRecovered)

	e.applyEffect(s, effects.HealInt{Amount: 50}, effectContext{targets: []string{"S6"}})
	assert.Equal(t, 6, s.Services["S6"].Int)
	assert.Equal(t, []string{"S6"}, s.ServicesRecovered, "recovery is recorded once")
}

// TestSetStateAndSetInt verifies forced state and INT keep DOWN iff INT==0.
func TestSetStateAndSetInt(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)

	e.applyEffect(s, effects.SetState{TargetID: "S3", State: rules.StateDown}, attackerCtx())
	assert.Equal(t, 0, s.Services["S3"].Int)

	e.applyEffect(s, effects.SetState{TargetID: "S3", State: rules.StateOK}, attackerCtx())
	assert.Equal(t, 1, s.Services["S3"].Int)
	assert.Equal(t, rules.StateOK, s.Services["S3"].State)

	e.applyEffect(s, effects.SetInt{TargetID: "S4", Value: 0}, attackerCtx())
	assert.Equal(t, rules.StateDown, s.Services["S4"].State)

	e.applyEffect(s, effects.SetInt{TargetID: "S4", Value: 99}, attackerCtx())
	assert.Equal(t, 8, s.Services["S4"].Int)
	assert.Equal(t, rules.StateDegraded, s.Services["S4"].State)

	assertInvariants(t, s)
}

// TestConditionalEffects verifies the conditional descriptors only fire
// when their condition holds.
func TestConditionalEffects(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)

	damage := effects.ConditionalDamage{
		Condition: effects.ConditionTargetDown, ConditionTargetID: "S1", Victims: []string{"S2", "S4"}, Amount: 1,
	}
	e.applyEffect(s, damage, attackerCtx())
	assert.Equal(t, 10, s.Services["S2"].Int)

	withService(s, "S1", 0, rules.StateDown)
	e.applyEffect(s, damage, attackerCtx())
	assert.Equal(t, 9, s.Services["S2"].Int)
	assert.Equal(t, 7, s.Services["S4"].Int)

	e.applyEffect(s, effects.SetStateIfCondition{
		TargetID: "S9", Condition: effects.ConditionS1DegradedOrWorse, NewState: rules.StateDegraded,
	}, attackerCtx())
	assert.Equal(t, rules.StateDegraded, s.Services["S9"].State)

	e.applyEffect(s, effects.SetStateIfAlready{
		TargetID: "S9", CurrentState: rules.StateOK, NewState: rules.StateDown,
	}, attackerCtx())
	assert.Equal(t, rules.StateDegraded, s.Services["S9"].State)

	trust := s.Markers.Trust
	e.applyEffect(s, effects.ConditionalTrust{Condition: effects.ConditionS7orS10IntermittentOrDown, Amount: -4}, attackerCtx())
	assert.Equal(t, trust, s.Markers.Trust)
	withService(s, "S10", 3, rules.StateIntermittent)
	e.applyEffect(s, effects.ConditionalTrust{Condition: effects.ConditionS7orS10IntermittentOrDown, Amount: -4}, attackerCtx())
	assert.Equal(t, trust-4, s.Markers.Trust)
}

// TestModifyStabilityFinishesGame verifies a game that hits zero stays
// finished even when stability later rises.
func TestModifyStabilityFinishesGame(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)

	e.applyEffects(s, []effects.Descriptor{
		effects.ModifyStability{Amount: -100},
		effects.ModifyStability{Amount: 50},
	}, attackerCtx())

	assert.Equal(t, rules.StatusFinished, s.Status)
	assert.Equal(t, rules.SeatMalosos, s.Winner)
	assert.Equal(t, 50, s.Markers.Stability)
}

// TestCampaignDescriptors verifies mark and rollback descriptors.
func TestCampaignDescriptors(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)
	s.Campaign.CompletedPhases = []rules.CampaignPhase{rules.CampaignRecon, rules.CampaignAccess}

	e.applyEffect(s, effects.RollbackCampaignPhase{
		Choices: []rules.CampaignPhase{rules.CampaignPersistence, rules.CampaignAccess},
	}, attackerCtx())
	assert.Equal(t, []rules.CampaignPhase{rules.CampaignRecon}, s.Campaign.CompletedPhases)

	e.applyEffect(s, effects.MarkCampaignPhase{Phase: "NOT_A_PHASE"}, attackerCtx())
	e.applyEffect(s, effects.MarkCampaignPhase{Phase: rules.CampaignPersistence}, attackerCtx())
	assert.Equal(t, []rules.CampaignPhase{rules.CampaignRecon, rules.CampaignPersistence}, s.Campaign.CompletedPhases)

	e.applyEffect(s, effects.RollbackCampaignPhase{}, attackerCtx())
	assert.Equal(t, []rules.CampaignPhase{rules.CampaignRecon}, s.Campaign.CompletedPhases)
}

// TestDiscardHighestCost verifies the first maximal-cost card is discarded
// and the rest of the hand keeps its order.
func TestDiscardHighestCost(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)
	s.Seats.Buenosos.Hand = []string{"B02", "B10", "B16", "B01"}
	s.Seats.Buenosos.Discard = nil

	e.applyEffect(s, effects.DiscardOpponentCard{Count: 1, Mode: effects.DiscardHighestCost}, attackerCtx())
	assert.Equal(t, []string{"B02", "B16", "B01"}, s.Seats.Buenosos.Hand)
	assert.Equal(t, []string{"B10"}, s.Seats.Buenosos.Discard)
}

// TestDiscardDefaultsToActorOpponent verifies the discarding seat is the
// actor's opponent when none is named, and an empty hand is tolerated.
func TestDiscardDefaultsToActorOpponent(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)
	malosos := len(s.Seats.Malosos.Hand)

	e.applyEffect(s, effects.DiscardOpponentCard{Count: 2, Mode: effects.DiscardRandom},
		effectContext{actor: rules.SeatBuenosos})
	assert.Len(t, s.Seats.Malosos.Hand, malosos-2)
	assert.Len(t, s.Seats.Malosos.Discard, 2)

	s.Seats.Buenosos.Hand = nil
	e.applyEffect(s, effects.DiscardOpponentCard{Count: 3}, attackerCtx())
	assert.Empty(t, s.Seats.Buenosos.Hand)
}

// TestAddTempEffectShapes verifies the per-kind post-processing.
func TestAddTempEffectShapes(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)

	e.applyEffect(s, effects.AddTempEffect{EffectType: effects.KindAddBudgetModifier, Amount: effects.IntPtr(2)}, attackerCtx())
	e.applyEffect(s, effects.AddTempEffect{EffectType: effects.KindIgnoreCascadeEdge}, attackerCtx("S1", "S2"))
	e.applyEffect(s, effects.AddTempEffect{EffectType: effects.KindBCPPrioritization, Duration: rules.DurationTurn},
		attackerCtx("S1", "S2", "S3"))
	e.applyEffect(s, effects.AddTempEffect{EffectType: effects.KindSOCMonitoring, TargetID: "S9",
		DamageReduction: effects.IntPtr(1)}, attackerCtx("S4"))

	require.Len(t, s.TemporaryEffects, 4)

	surcharge := s.TemporaryEffects[0]
	assert.Equal(t, effects.KindDetectionResponseCostIncrease, surcharge.Type)
	assert.Equal(t, 2, surcharge.ValueOr(0))
	require.NotNil(t, surcharge.ExpiresAtTurn)
	assert.Equal(t, 2, *surcharge.ExpiresAtTurn)

	edge := s.TemporaryEffects[1]
	assert.Equal(t, "S1", edge.FromServiceID)
	assert.Equal(t, "S2", edge.ToServiceID)
	assert.Nil(t, edge.ExpiresAtTurn)

	bcp := s.TemporaryEffects[2]
	assert.Equal(t, []string{"S1", "S2"}, bcp.Targets)
	require.NotNil(t, bcp.ExpiresAtTurn)

	soc := s.TemporaryEffects[3]
	assert.Equal(t, "S4", soc.TargetID, "the declared target wins for monitoring")
	assert.Equal(t, 1, EffectiveDamageReduction("S4", s.TemporaryEffects))

	ids := map[string]bool{}
	for _, effect := range s.TemporaryEffects {
		assert.NotEmpty(t, effect.ID)
		ids[effect.ID] = true
	}
	assert.Len(t, ids, 4)
}

// TestEventActivationBranches verifies the branch is chosen from the
// condition at application time.
func TestEventActivationBranches(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)
	activation := effects.EventActivation{
		Condition: effects.ConditionTurnAtLeast5,
		IfTrue:    []effects.Descriptor{effects.ModifyTrust{Amount: -5}},
		IfFalse:   []effects.Descriptor{effects.ModifyTrust{Amount: -1}},
	}

	e.applyEffect(s, activation, effectContext{})
	assert.Equal(t, TrustMax-1, s.Markers.Trust)

	s.Markers.Turn = 5
	e.applyEffect(s, activation, effectContext{})
	assert.Equal(t, TrustMax-6, s.Markers.Trust)
}

// TestSetLatentAndUnknown verifies latent markers are recorded and unknown
// descriptors change nothing.
func TestSetLatentAndUnknown(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)
	before := s.Clone()

	e.applyEffect(s, effects.Unknown{Kind: "summonKraken"}, attackerCtx("S1"))
	assert.Equal(t, before, s.Clone())

	e.applyEffect(s, effects.SetLatent{ActivationTurn: 5}, effectContext{})
	require.Len(t, s.TemporaryEffects, 1)
	latent := s.TemporaryEffects[0]
	assert.Equal(t, effects.KindLatentEvent, latent.Type)
	require.NotNil(t, latent.ActivationTurn)
	assert.Equal(t, 5, *latent.ActivationTurn)
}

// TestSetBackupsVerified verifies the global flag.
func TestSetBackupsVerified(t *testing.T) {
	e := newTestEngine(t)
	s := startedGame(t, e)

	e.applyEffect(s, effects.SetBackupsVerified{Value: true}, effectContext{})
	assert.True(t, s.BackupsVerified)
}
