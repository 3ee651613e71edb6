package game

import (
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// CanPlayCard checks every requirement token on card against s. It returns
// nil when the card may be played, or a CARD_REQUIREMENTS_NOT_MET error
// naming the first failed token.
func CanPlayCard(card *catalog.Card, s *GameState) error {
	for _, req := range card.Requirements {
		switch {
		case rules.IsCampaignPhase(req):
			phase := rules.CampaignPhase(req)
			if s.Campaign.Completed(phase) {
				continue
			}
			if phase == rules.CampaignRecon && s.Campaign.ReconThisTurn {
				continue
			}
			return newError(CodeCardRequirementsNotMet,
				"campaign phase %s not completed; use the basic recon action or play a recon card first", phase)

		case req == rules.RequirementBackupsVerified:
			if !s.BackupsVerified {
				return newError(CodeCardRequirementsNotMet, "backups not verified")
			}

		case req == rules.RequirementPrevDetection:
			if !playedDetectionBefore(s) {
				return newError(CodeCardRequirementsNotMet,
					"a detection/response card must have been played in a previous turn")
			}

		case req == rules.RequirementTwoServicesDegraded:
			count := 0
			for _, svc := range s.Services {
				if svc.State.DegradedOrWorse() {
					count++
				}
			}
			if count < 2 {
				return newError(CodeCardRequirementsNotMet, "requires at least 2 services degraded or worse")
			}
		}
	}
	return nil
}

// playedDetectionBefore reports whether the defender logged a
// detection/response card on an earlier turn.
func playedDetectionBefore(s *GameState) bool {
	for _, entry := range s.Log {
		if entry.Actor == rules.SeatBuenosos &&
			entry.Category() == rules.CategoryDetectionResponse &&
			entry.Turn < s.Markers.Turn {
			return true
		}
	}
	return false
}

// detectionPlaysThisTurn counts defender detection/response plays this turn.
func detectionPlaysThisTurn(s *GameState) int {
	count := 0
	for _, entry := range s.Log {
		if entry.Turn == s.Markers.Turn &&
			entry.Actor == rules.SeatBuenosos &&
			entry.Category() == rules.CategoryDetectionResponse {
			count++
		}
	}
	return count
}

// CompleteCampaignPhase marks phase complete. It is a no-op when the phase
// is already complete or a phase was already completed this turn.
func CompleteCampaignPhase(c CampaignState, phase rules.CampaignPhase) CampaignState {
	if c.Completed(phase) || c.PhasesCompletedThisTurn >= 1 {
		return c
	}
	c = c.clone()
	c.CompletedPhases = append(c.CompletedPhases, phase)
	c.PhasesCompletedThisTurn++
	return c
}

// RollbackCampaignPhase removes phase from the completed list, or the most
// recently completed phase when phase is empty.
func RollbackCampaignPhase(c CampaignState, phase rules.CampaignPhase) CampaignState {
	if len(c.CompletedPhases) == 0 {
		return c
	}
	if phase == "" {
		phase = c.CompletedPhases[len(c.CompletedPhases)-1]
	}
	kept := make([]rules.CampaignPhase, 0, len(c.CompletedPhases))
	for _, p := range c.CompletedPhases {
		if p != phase {
			kept = append(kept, p)
		}
	}
	c.CompletedPhases = kept
	return c
}

func resetTurnCampaign(c CampaignState) CampaignState {
	c.ReconThisTurn = false
	c.PhasesCompletedThisTurn = 0
	return c
}
