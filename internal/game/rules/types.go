package rules

import (
	"fmt"
	"strings"
)

// Seat is one of the two competing factions.
type Seat string

const (
	SeatBuenosos Seat = "BUENOSOS"
	SeatMalosos  Seat = "MALOSOS"
)

// Seats lists both factions in a stable order.
var Seats = []Seat{SeatMalosos, SeatBuenosos}

// Valid reports whether s names a faction.
func (s Seat) Valid() bool {
	return s == SeatBuenosos || s == SeatMalosos
}

// Opponent returns the other faction.
func (s Seat) Opponent() Seat {
	if s == SeatMalosos {
		return SeatBuenosos
	}
	return SeatMalosos
}

// ParseSeat converts a wire name into a Seat.
func ParseSeat(name string) (Seat, error) {
	seat := Seat(strings.ToUpper(strings.TrimSpace(name)))
	if !seat.Valid() {
		return "", fmt.Errorf("unknown seat %q", name)
	}
	return seat, nil
}

// Role is the part a connected player takes in a game.
type Role string

const (
	RoleBuenosos    Role = Role(SeatBuenosos)
	RoleMalosos     Role = Role(SeatMalosos)
	RoleFacilitator Role = "FACILITATOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBuenosos || r == RoleMalosos || r == RoleFacilitator
}

// CanActFor reports whether a player holding r may act for seat.
// Facilitators may act for either faction.
func (r Role) CanActFor(seat Seat) bool {
	return r == RoleFacilitator || Seat(r) == seat
}

// Status is the lifecycle state of a game.
type Status string

const (
	StatusLobby    Status = "lobby"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// ServiceState is the discrete health of a service.
type ServiceState string

const (
	StateOK           ServiceState = "OK"
	StateDegraded     ServiceState = "DEGRADED"
	StateIntermittent ServiceState = "INTERMITTENT"
	StateDown         ServiceState = "DOWN"
)

// Valid reports whether s is a known service state.
func (s ServiceState) Valid() bool {
	switch s {
	case StateOK, StateDegraded, StateIntermittent, StateDown:
		return true
	default:
		return false
	}
}

// DegradedOrWorse reports whether the state counts as affected.
func (s ServiceState) DegradedOrWorse() bool {
	return s == StateDegraded || s == StateIntermittent || s == StateDown
}

// Side is the deck a card belongs to.
type Side string

const (
	SideMalosos  Side = "MALOSOS"
	SideBuenosos Side = "BUENOSOS"
	SideEvent    Side = "EVENT"
)

// SideOf returns the card side that seat plays from.
func SideOf(seat Seat) Side {
	if seat == SeatMalosos {
		return SideMalosos
	}
	return SideBuenosos
}

// Category classifies cards for cost modifiers and campaign tracking.
type Category string

const (
	CategoryRecon             Category = "RECON"
	CategoryAccess            Category = "ACCESS"
	CategoryPersistence       Category = "PERSISTENCE"
	CategoryLateralMovement   Category = "LATERAL_MOVEMENT"
	CategoryImpact            Category = "IMPACT"
	CategoryImpactAlto        Category = "IMPACT_ALTO"
	CategoryResource          Category = "RESOURCE"
	CategorySocial            Category = "SOCIAL"
	CategoryPrevention        Category = "PREVENTION"
	CategoryDetectionResponse Category = "DETECTION_RESPONSE"
	CategoryDRP               Category = "DRP"
	CategoryBCP               Category = "BCP"
	CategoryTailRisk          Category = "TAIL_RISK"
)

var knownCategories = map[Category]struct{}{
	CategoryRecon: {}, CategoryAccess: {}, CategoryPersistence: {}, CategoryLateralMovement: {},
	CategoryImpact: {}, CategoryImpactAlto: {}, CategoryResource: {}, CategorySocial: {},
	CategoryPrevention: {}, CategoryDetectionResponse: {}, CategoryDRP: {}, CategoryBCP: {},
	CategoryTailRisk: {},
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}

// CampaignPhase is one step of the attacker's campaign track.
type CampaignPhase string

const (
	CampaignRecon           CampaignPhase = "RECON"
	CampaignAccess          CampaignPhase = "ACCESS"
	CampaignPersistence     CampaignPhase = "PERSISTENCE"
	CampaignLateralMovement CampaignPhase = "LATERAL_MOVEMENT"
	CampaignImpact          CampaignPhase = "IMPACT"
)

// CampaignOrder is the ordered campaign track.
var CampaignOrder = []CampaignPhase{
	CampaignRecon,
	CampaignAccess,
	CampaignPersistence,
	CampaignLateralMovement,
	CampaignImpact,
}

// IsCampaignPhase reports whether token names a campaign phase.
func IsCampaignPhase(token string) bool {
	for _, phase := range CampaignOrder {
		if string(phase) == token {
			return true
		}
	}
	return false
}

// CampaignPhaseFor maps a card category to the campaign phase it completes.
// IMPACT cards do not advance the track.
func CampaignPhaseFor(category Category) (CampaignPhase, bool) {
	switch category {
	case CategoryRecon:
		return CampaignRecon, true
	case CategoryAccess:
		return CampaignAccess, true
	case CategoryPersistence:
		return CampaignPersistence, true
	case CategoryLateralMovement:
		return CampaignLateralMovement, true
	default:
		return "", false
	}
}

// Duration is the lifetime class declared by a card.
type Duration string

const (
	DurationImmediate Duration = "immediate"
	DurationTurn      Duration = "turn"
	DurationPermanent Duration = "permanent"
	DurationGame      Duration = "game"
)

// Requirement tokens that are not campaign phases.
const (
	RequirementBackupsVerified     = "BACKUPS_VERIFIED"
	RequirementPrevDetection       = "PREV_DETECTION"
	RequirementTwoServicesDegraded = "2_SERVICES_DEGRADED_OR_WORSE"
)
