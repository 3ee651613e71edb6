package game

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

const (
	// StabilityMax and TrustMax bound the two global markers.
	StabilityMax = 100
	TrustMax     = 50

	handTarget = 5
	handLimit  = 7
)

// IntermittenceMode selects how INTERMITTENT services propagate.
type IntermittenceMode string

const (
	IntermittenceDeterministic IntermittenceMode = "deterministic"
	IntermittenceRandom        IntermittenceMode = "random"
)

// Config holds the per-game settings chosen at creation.
type Config struct {
	TurnLimit         int               `json:"turnLimit"`
	BudgetPerTurn     int               `json:"budgetPerTurn"`
	IntermittenceMode IntermittenceMode `json:"intermittenceMode"`
	MapID             string            `json:"mapId"`
}

// DefaultConfig returns the standard game settings.
func DefaultConfig() Config {
	return Config{
		TurnLimit:         8,
		BudgetPerTurn:     8,
		IntermittenceMode: IntermittenceDeterministic,
		MapID:             "standard",
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.TurnLimit == 0 {
		c.TurnLimit = def.TurnLimit
	}
	if c.BudgetPerTurn == 0 {
		c.BudgetPerTurn = def.BudgetPerTurn
	}
	if c.IntermittenceMode == "" {
		c.IntermittenceMode = def.IntermittenceMode
	}
	if c.MapID == "" {
		c.MapID = def.MapID
	}
	return c
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.TurnLimit <= 0 {
		return fmt.Errorf("turn limit must be positive, got %d", c.TurnLimit)
	}
	if c.BudgetPerTurn <= 0 {
		return fmt.Errorf("budget per turn must be positive, got %d", c.BudgetPerTurn)
	}
	switch c.IntermittenceMode {
	case IntermittenceDeterministic, IntermittenceRandom:
	default:
		return fmt.Errorf("unknown intermittence mode %q", c.IntermittenceMode)
	}
	return nil
}

// Service is the live state of one board service.
type Service struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Crit          int                `json:"crit"`
	Int           int                `json:"int"`
	IntMax        int                `json:"intMax"`
	State         rules.ServiceState `json:"state"`
	Dependencies  []string           `json:"dependencies"`
	CitizenFacing bool               `json:"citizenFacing"`
	DownEffect    string             `json:"downEffect,omitempty"`
}

// DependsOn reports whether the service lists id as a dependency.
func (s Service) DependsOn(id string) bool {
	for _, dep := range s.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// SeatState is one faction's budget and card zones.
type SeatState struct {
	BudgetRemaining int      `json:"budgetRemaining"`
	Hand            []string `json:"hand"`
	Deck            []string `json:"deck"`
	Discard         []string `json:"discard"`
	BasicActionUsed bool     `json:"basicActionUsed"`
}

func (s SeatState) clone() SeatState {
	s.Hand = cloneStrings(s.Hand)
	s.Deck = cloneStrings(s.Deck)
	s.Discard = cloneStrings(s.Discard)
	return s
}

// InHand reports whether cardID is in the hand.
func (s SeatState) InHand(cardID string) bool {
	return indexOf(s.Hand, cardID) >= 0
}

// Seats holds both factions keyed the way clients expect.
type Seats struct {
	Malosos  SeatState `json:"MALOSOS"`
	Buenosos SeatState `json:"BUENOSOS"`
}

// Get returns a pointer to seat's state.
func (s *Seats) Get(seat rules.Seat) *SeatState {
	if seat == rules.SeatMalosos {
		return &s.Malosos
	}
	return &s.Buenosos
}

// Markers are the global game counters.
type Markers struct {
	Stability int         `json:"stability"`
	Trust     int         `json:"trust"`
	Turn      int         `json:"turn"`
	Phase     rules.Phase `json:"phase"`
}

// CampaignState is the attacker's progress track.
type CampaignState struct {
	CompletedPhases         []rules.CampaignPhase `json:"completedPhases"`
	ReconThisTurn           bool                  `json:"reconThisTurn"`
	PhasesCompletedThisTurn int                   `json:"phasesCompletedThisTurn"`
}

// Completed reports whether phase is permanently completed.
func (c CampaignState) Completed(phase rules.CampaignPhase) bool {
	for _, p := range c.CompletedPhases {
		if p == phase {
			return true
		}
	}
	return false
}

func (c CampaignState) clone() CampaignState {
	c.CompletedPhases = append([]rules.CampaignPhase{}, c.CompletedPhases...)
	return c
}

// LogEntry is one append-only record of the game log.
// Entries are never modified once appended to a state.
type LogEntry struct {
	ID        string             `json:"id"`
	Turn      int                `json:"turn"`
	Phase     rules.Phase        `json:"phase"`
	Timestamp int64              `json:"timestamp"`
	Action    string             `json:"action"`
	Actor     rules.Seat         `json:"actor,omitempty"`
	Details   map[string]any     `json:"details"`
	Before    map[string]Service `json:"before,omitempty"`
	After     map[string]Service `json:"after,omitempty"`
}

// Category returns the card category recorded on a card-play entry.
func (l LogEntry) Category() rules.Category {
	if l.Details == nil {
		return ""
	}
	switch v := l.Details["category"].(type) {
	case string:
		return rules.Category(v)
	case rules.Category:
		return v
	default:
		return ""
	}
}

// Log action tags.
const (
	ActionGameStarted      = "GAME_STARTED"
	ActionMaintenanceDone  = "MAINTENANCE_DONE"
	ActionEventDrawn       = "EVENT_DRAWN"
	ActionCascadeEvaluated = "CASCADE_EVALUATED"
	ActionTurnEnded        = "TURN_ENDED"
	ActionCardPlayed       = "CARD_PLAYED"
	ActionBasicRecon       = "BASIC_ACTION_RECON"
	ActionBasicMonitoring  = "BASIC_ACTION_MONITORING"
	ActionPhaseAdvanced    = "PHASE_ADVANCED"
	ActionGamePaused       = "GAME_PAUSED"
	ActionGameResumed      = "GAME_RESUMED"
)

// GameState is the aggregate root. Engine operations treat it as a value:
// they return a new state and never modify the one passed in.
type GameState struct {
	ID                   string             `json:"id"`
	Status               rules.Status       `json:"status"`
	Config               Config             `json:"config"`
	Services             map[string]Service `json:"services"`
	Seats                Seats              `json:"seats"`
	EventDeck            []string           `json:"eventDeck"`
	EventDiscard         []string           `json:"eventDiscard"`
	Markers              Markers            `json:"markers"`
	Campaign             CampaignState      `json:"campaign"`
	TemporaryEffects     effects.List       `json:"temporaryEffects"`
	Winner               rules.Seat         `json:"winner,omitempty"`
	BackupsVerified      bool               `json:"backupsVerified"`
	ServicesRecovered    []string           `json:"servicesRecovered"`
	ServicesThatWentDown []string           `json:"servicesThatWentDown"`
	Log                  []LogEntry         `json:"log"`
	CreatedAt            int64              `json:"createdAt"`
	UpdatedAt            int64              `json:"updatedAt"`
}

// Clone returns a deep copy. Log entries are shared because they are immutable.
func (s *GameState) Clone() *GameState {
	out := *s
	out.Services = cloneServices(s.Services)
	out.Seats = Seats{Malosos: s.Seats.Malosos.clone(), Buenosos: s.Seats.Buenosos.clone()}
	out.EventDeck = cloneStrings(s.EventDeck)
	out.EventDiscard = cloneStrings(s.EventDiscard)
	out.Campaign = s.Campaign.clone()
	out.TemporaryEffects = s.TemporaryEffects.Clone()
	out.ServicesRecovered = cloneStrings(s.ServicesRecovered)
	out.ServicesThatWentDown = cloneStrings(s.ServicesThatWentDown)
	out.Log = append([]LogEntry{}, s.Log...)
	return &out
}

// ServiceIDs returns service ids in natural order (S1, S2, ..., S10).
func (s *GameState) ServiceIDs() []string {
	return sortedServiceIDs(s.Services)
}

// Running reports whether the game accepts actions.
func (s *GameState) Running() bool {
	return s.Status == rules.StatusRunning
}

func cloneServices(services map[string]Service) map[string]Service {
	out := make(map[string]Service, len(services))
	for id, svc := range services {
		out[id] = svc
	}
	return out
}

func sortedServiceIDs(services map[string]Service) []string {
	ids := make([]string, 0, len(services))
	for id := range services {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return naturalLess(ids[i], ids[j]) })
	return ids
}

// naturalLess orders ids by alphabetic prefix, then numeric suffix.
func naturalLess(a, b string) bool {
	pa, na := splitNumericSuffix(a)
	pb, nb := splitNumericSuffix(b)
	if pa != pb {
		return pa < pb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func splitNumericSuffix(id string) (string, int) {
	cut := strings.TrimRightFunc(id, func(r rune) bool { return r >= '0' && r <= '9' })
	n, err := strconv.Atoi(id[len(cut):])
	if err != nil {
		return id, -1
	}
	return cut, n
}

func cloneStrings(in []string) []string {
	return append([]string{}, in...)
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}

func contains(list []string, id string) bool {
	return indexOf(list, id) >= 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
