package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
)

// checksumVersion changes whenever the canonical representation does.
const checksumVersion = 1

// StateChecksum is a deterministic fingerprint of a game state. Two states
// that play out identically hash the same regardless of ids, timestamps or
// map iteration order.
type StateChecksum struct {
	Hash    string `json:"hash"`
	Version int    `json:"version"`
}

// ComputeChecksum hashes the canonical representation of s.
func ComputeChecksum(s *GameState) (*StateChecksum, error) {
	hash := sha256.New()
	if _, err := hash.Write([]byte(canonicalRepresentation(s))); err != nil {
		return nil, fmt.Errorf("failed to compute hash: %w", err)
	}
	return &StateChecksum{
		Hash:    hex.EncodeToString(hash.Sum(nil)),
		Version: checksumVersion,
	}, nil
}

// Checksum returns the hex hash of s.
func Checksum(s *GameState) (string, error) {
	sum, err := ComputeChecksum(s)
	if err != nil {
		return "", err
	}
	return sum.Hash, nil
}

// canonicalRepresentation writes the gameplay-relevant part of s as text.
// Card zones keep their order because draw order is game state; effects are
// sorted because their ids are random.
func canonicalRepresentation(s *GameState) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "GAME:%s|%s|%s|%t\n", s.ID, s.Status, s.Winner, s.BackupsVerified)
	fmt.Fprintf(&buf, "CONFIG:%d|%d|%s|%s\n",
		s.Config.TurnLimit, s.Config.BudgetPerTurn, s.Config.IntermittenceMode, s.Config.MapID)
	fmt.Fprintf(&buf, "MARKERS:%d|%d|%d|%s\n",
		s.Markers.Stability, s.Markers.Trust, s.Markers.Turn, s.Markers.Phase)

	for _, id := range s.ServiceIDs() {
		svc := s.Services[id]
		fmt.Fprintf(&buf, "SERVICE:%s|%d|%d|%d|%s\n", id, svc.Crit, svc.Int, svc.IntMax, svc.State)
	}

	for _, name := range []string{"MALOSOS", "BUENOSOS"} {
		seat := s.Seats.Malosos
		if name == "BUENOSOS" {
			seat = s.Seats.Buenosos
		}
		fmt.Fprintf(&buf, "SEAT:%s|%d|%t\n", name, seat.BudgetRemaining, seat.BasicActionUsed)
		fmt.Fprintf(&buf, "  HAND:%s\n", strings.Join(seat.Hand, ","))
		fmt.Fprintf(&buf, "  DECK:%s\n", strings.Join(seat.Deck, ","))
		fmt.Fprintf(&buf, "  DISCARD:%s\n", strings.Join(seat.Discard, ","))
	}
	fmt.Fprintf(&buf, "EVENTS:%s|%s\n", strings.Join(s.EventDeck, ","), strings.Join(s.EventDiscard, ","))

	phases := make([]string, len(s.Campaign.CompletedPhases))
	for i, p := range s.Campaign.CompletedPhases {
		phases[i] = string(p)
	}
	fmt.Fprintf(&buf, "CAMPAIGN:%s|%t|%d\n",
		strings.Join(phases, ","), s.Campaign.ReconThisTurn, s.Campaign.PhasesCompletedThisTurn)

	effectLines := make([]string, 0, len(s.TemporaryEffects))
	for _, effect := range s.TemporaryEffects {
		effectLines = append(effectLines, effectLine(effect))
	}
	sort.Strings(effectLines)
	for _, line := range effectLines {
		buf.WriteString("EFFECT:")
		buf.WriteString(line)
		buf.WriteString("\n")
	}

	fmt.Fprintf(&buf, "WENT_DOWN:%s\n", strings.Join(s.ServicesThatWentDown, ","))
	fmt.Fprintf(&buf, "RECOVERED:%s\n", strings.Join(s.ServicesRecovered, ","))

	// log order matters; ids and timestamps do not
	buf.WriteString("LOG:\n")
	for i, entry := range s.Log {
		fmt.Fprintf(&buf, "  %d:%d|%s|%s|%s\n", i, entry.Turn, entry.Phase, entry.Action, entry.Actor)
	}

	return buf.String()
}

func effectLine(effect effects.TemporaryEffect) string {
	optional := func(p *int) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprint(*p)
	}
	phase := "-"
	if effect.ExpiresAtPhase != nil {
		phase = effect.ExpiresAtPhase.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s>%s|%s|%s|%s|%s",
		effect.Type,
		effect.TargetID,
		phase,
		optional(effect.ExpiresAtTurn),
		optional(effect.Value),
		effect.FromServiceID,
		effect.ToServiceID,
		strings.Join(effect.Targets, ","),
		optional(effect.BudgetPenalty),
		optional(effect.DamageReduction),
		optional(effect.ActivationTurn),
	)
}

// MarshalState encodes s in its wire and storage form.
func MarshalState(s *GameState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// UnmarshalState decodes a stored state. Absent collections come back
// empty rather than nil so decoded states compare equal to fresh ones.
func UnmarshalState(data []byte) (*GameState, error) {
	var s GameState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if s.Services == nil {
		s.Services = map[string]Service{}
	}
	for _, seat := range []*SeatState{&s.Seats.Malosos, &s.Seats.Buenosos} {
		*seat = seat.clone()
	}
	s.EventDeck = cloneStrings(s.EventDeck)
	s.EventDiscard = cloneStrings(s.EventDiscard)
	s.Campaign = s.Campaign.clone()
	s.TemporaryEffects = s.TemporaryEffects.Clone()
	s.ServicesRecovered = cloneStrings(s.ServicesRecovered)
	s.ServicesThatWentDown = cloneStrings(s.ServicesThatWentDown)
	if s.Log == nil {
		s.Log = []LogEntry{}
	}
	return &s, nil
}
