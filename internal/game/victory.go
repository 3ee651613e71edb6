package game

import "github.com/buenosos/buenosos-server-go/internal/game/rules"

const (
	criticalDownToWin      = 3
	defenderStabilityFloor = 30
	recoveriesToWin        = 2
)

// CheckVictory returns the winning seat, or "" while the game goes on.
// It only ever reports a winner for a running game.
func CheckVictory(s *GameState) rules.Seat {
	if s.Status != rules.StatusRunning {
		return ""
	}

	if s.Markers.Stability == 0 {
		return rules.SeatMalosos
	}
	criticalDown := 0
	for _, svc := range s.Services {
		if svc.Crit == 5 && svc.State == rules.StateDown {
			criticalDown++
		}
	}
	if criticalDown >= criticalDownToWin {
		return rules.SeatMalosos
	}

	if s.Markers.Turn >= s.Config.TurnLimit &&
		s.Markers.Stability > defenderStabilityFloor &&
		len(s.ServicesRecovered) >= recoveriesToWin {
		return rules.SeatBuenosos
	}
	return ""
}

// settleVictory finishes the game when CheckVictory names a winner.
func settleVictory(s *GameState) bool {
	winner := CheckVictory(s)
	if winner == "" {
		return false
	}
	s.Winner = winner
	s.Status = rules.StatusFinished
	return true
}

// settleAttackerVictory finishes the game on an attacker win only. The
// phases that open a turn use it so the final turn is played before the
// defender's turn-limit win is decided.
func settleAttackerVictory(s *GameState) bool {
	if CheckVictory(s) != rules.SeatMalosos {
		return false
	}
	return settleVictory(s)
}
