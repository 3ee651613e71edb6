package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// playedState returns a running game with a few actions already taken so
// every part of the canonical form is populated.
func playedState(t *testing.T) *GameState {
	t.Helper()
	e := newTestEngine(t)
	s := startedGame(t, e)

	s, err := e.Advance(s, nil)
	require.NoError(t, err)
	s.Markers.Phase = rules.PhaseMalososAttack
	s, err = e.UseBasicAction(s, rules.SeatMalosos, "")
	require.NoError(t, err)
	s.TemporaryEffects = append(s.TemporaryEffects,
		effects.TemporaryEffect{ID: "e1", Type: effects.KindBCPPrioritization, Targets: []string{"S1"}, ExpiresAtTurn: effects.IntPtr(3)},
		effects.TemporaryEffect{ID: "e2", Type: effects.KindIgnoreCascadeEdge, FromServiceID: "S1", ToServiceID: "S2",
			ExpiresAtPhase: effects.PhasePtr(rules.PhaseTurnEnd)},
	)
	return s
}

// TestComputeChecksum verifies that checksums are computed correctly
func TestComputeChecksum(t *testing.T) {
	s := playedState(t)

	checksum, err := ComputeChecksum(s)
	require.NoError(t, err)
	assert.Len(t, checksum.Hash, 64)
	assert.Equal(t, 1, checksum.Version)

	hash, err := Checksum(s)
	require.NoError(t, err)
	assert.Equal(t, checksum.Hash, hash)
}

// TestDeterministicChecksum verifies that identical games produce identical
// checksums regardless of map iteration order
func TestDeterministicChecksum(t *testing.T) {
	first, err := Checksum(playedState(t))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Checksum(playedState(t))
		require.NoError(t, err)
		assert.Equal(t, first, again, "checksum %d is not deterministic", i)
	}
}

// TestChecksumIgnoresIdentifiersAndTimestamps verifies that ids and clock
// values do not affect the checksum
func TestChecksumIgnoresIdentifiersAndTimestamps(t *testing.T) {
	s := playedState(t)
	want, err := Checksum(s)
	require.NoError(t, err)

	other := s.Clone()
	other.UpdatedAt += 5000
	other.TemporaryEffects[0].ID = "renamed"
	other.TemporaryEffects[0], other.TemporaryEffects[1] = other.TemporaryEffects[1], other.TemporaryEffects[0]
	for i := range other.Log {
		other.Log[i].ID = "x"
		other.Log[i].Timestamp = 0
	}

	got, err := Checksum(other)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestChecksumDetectsChanges verifies that every gameplay-relevant field
// affects the checksum
func TestChecksumDetectsChanges(t *testing.T) {
	base := playedState(t)
	want, err := Checksum(base)
	require.NoError(t, err)

	changes := map[string]func(*GameState){
		"stability": func(s *GameState) { s.Markers.Stability-- },
		"trust":     func(s *GameState) { s.Markers.Trust-- },
		"phase":     func(s *GameState) { s.Markers.Phase = rules.PhaseBuenososResponse },
		"service int": func(s *GameState) {
			withService(s, "S3", 5, rules.StateOK)
		},
		"service state": func(s *GameState) {
			withService(s, "S3", 8, rules.StateDegraded)
		},
		"hand order": func(s *GameState) {
			h := s.Seats.Buenosos.Hand
			h[0], h[1] = h[1], h[0]
		},
		"deck": func(s *GameState) {
			s.Seats.Malosos.Deck = s.Seats.Malosos.Deck[1:]
		},
		"budget":   func(s *GameState) { s.Seats.Malosos.BudgetRemaining-- },
		"campaign": func(s *GameState) { s.Campaign.ReconThisTurn = false },
		"effect":   func(s *GameState) { s.TemporaryEffects[0].TargetID = "S12" },
		"backups":  func(s *GameState) { s.BackupsVerified = true },
		"recovery": func(s *GameState) { s.ServicesRecovered = append(s.ServicesRecovered, "S1") },
		"log": func(s *GameState) {
			s.Log = append(s.Log, LogEntry{Turn: 1, Action: ActionGamePaused})
		},
	}

	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			s := base.Clone()
			change(s)
			got, err := Checksum(s)
			require.NoError(t, err)
			assert.NotEqual(t, want, got)
		})
	}
}

// TestMarshalUnmarshalState verifies the stored form round trips
func TestMarshalUnmarshalState(t *testing.T) {
	s := playedState(t)

	data, err := MarshalState(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"MALOSOS_ATTACK"`)
	assert.Contains(t, string(data), `"MALOSOS":{`)

	decoded, err := UnmarshalState(data)
	require.NoError(t, err)
	assert.Equal(t, s.ID, decoded.ID)
	assert.Equal(t, s.Markers, decoded.Markers)
	assert.Equal(t, s.Services, decoded.Services)
	assert.Equal(t, s.Seats, decoded.Seats)
	assert.Equal(t, s.TemporaryEffects, decoded.TemporaryEffects)
	assert.Len(t, decoded.Log, len(s.Log))
}

// TestUnmarshalStateNormalizesCollections verifies absent collections come
// back empty
func TestUnmarshalStateNormalizesCollections(t *testing.T) {
	decoded, err := UnmarshalState([]byte(`{"id":"g","status":"lobby","markers":{"phase":"MAINTENANCE"}}`))
	require.NoError(t, err)

	assert.NotNil(t, decoded.Services)
	assert.NotNil(t, decoded.Seats.Malosos.Hand)
	assert.NotNil(t, decoded.TemporaryEffects)
	assert.NotNil(t, decoded.Log)
	assert.Equal(t, rules.PhaseMaintenance, decoded.Markers.Phase)

	_, err = UnmarshalState([]byte(`{"markers":{"phase":"LUNCH"}}`))
	assert.Error(t, err)

	_, err = UnmarshalState([]byte(`not json`))
	assert.Error(t, err)
}

// TestRoundtripPreservesChecksum verifies that serialization keeps every
// gameplay-relevant field
func TestRoundtripPreservesChecksum(t *testing.T) {
	e := newTestEngine(t)
	for _, s := range []*GameState{playedState(t), e.Initialize(DefaultConfig(), "lobby")} {
		want, err := Checksum(s)
		require.NoError(t, err)

		data, err := MarshalState(s)
		require.NoError(t, err)
		decoded, err := UnmarshalState(data)
		require.NoError(t, err)

		got, err := Checksum(decoded)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
