package main

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game"
)

// playback walks a recorded replay entry by entry, pausing delay between
// entries, and logs a per-turn summary at the end. It returns the number of
// entries shown.
func playback(ctx context.Context, logger *zap.Logger, replay *game.Replay, delay time.Duration) int {
	logger.Info("replay opened",
		zap.String("game_id", replay.GameID),
		zap.Int("entries", replay.Size()),
	)

	shown := 0
	replay.Start()
	for {
		entry, ok := replay.Next()
		if !ok {
			break
		}
		logger.Info("log entry",
			zap.Int("turn", entry.Turn),
			zap.Stringer("phase", entry.Phase),
			zap.String("action", entry.Action),
			zap.String("actor", string(entry.Actor)),
			zap.Any("details", entry.Details),
		)
		shown++

		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return shown
		case <-time.After(delay):
		}
	}

	turns := replay.Turns()
	numbers := make([]int, 0, len(turns))
	for turn := range turns {
		numbers = append(numbers, turn)
	}
	sort.Ints(numbers)
	for _, turn := range numbers {
		logger.Info("turn summary", zap.Int("turn", turn), zap.Int("entries", len(turns[turn])))
	}
	return shown
}
