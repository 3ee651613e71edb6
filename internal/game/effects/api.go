package effects

import (
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// Descriptor is one entry of a card's or event's effect list.
// The set of implementations is closed; unknown catalog types decode to Unknown.
type Descriptor interface {
	Type() string
}

// Effect type tags as they appear in catalog data.
const (
	TypeDamageInt             = "damageInt"
	TypeHealInt               = "healInt"
	TypeSetState              = "setState"
	TypeSetInt                = "setInt"
	TypeSetStateIfAlready     = "setStateIfAlready"
	TypeSetStateIfInt0        = "setStateIfInt0"
	TypeConditionalDamage     = "conditionalDamage"
	TypeSetStateIfCondition   = "setStateIfCondition"
	TypeModifyTrust           = "modifyTrust"
	TypeConditionalTrust      = "conditionalTrust"
	TypeModifyStability       = "modifyStability"
	TypeMarkCampaignPhase     = "markCampaignPhase"
	TypeRollbackCampaignPhase = "rollbackCampaignPhase"
	TypeSetBackupsVerified    = "setBackupsVerified"
	TypeDiscardOpponentCard   = "discardOpponentCard"
	TypeAddTempEffect         = "addTempEffect"
	TypeEventActivation       = "eventActivation"
	TypeSetLatent             = "setLatent"
)

// Named conditions understood by the interpreter.
const (
	ConditionTargetDown                = "targetDown"
	ConditionS11DegradedOrWorse        = "S11DegradedOrWorse"
	ConditionS1DegradedOrWorse         = "S1DegradedOrWorse"
	ConditionS7orS10IntermittentOrDown = "S7orS10IntermittentOrDown"
	ConditionTurnAtLeast5              = "turn>=5"
	ConditionS7orS10DegradedOrWorse    = "S7orS10DegradedOrWorse"
	ConditionS12DegradedOrWorse        = "S12DegradedOrWorse"
)

// Discard modes.
const (
	DiscardRandom      = "random"
	DiscardHighestCost = "highestCost"
)

// DamageInt removes integrity from one target or, with TargetAll, every supplied target.
type DamageInt struct {
	TargetID  string
	Amount    int
	TargetAll bool
}

// HealInt restores integrity, never past intMax; a DOWN service comes
// back as DEGRADED.
type HealInt struct {
	TargetID string
	Amount   int
}

// SetState forces a service state.
type SetState struct {
	TargetID string
	State    rules.ServiceState
}

// SetInt forces a service's integrity.
type SetInt struct {
	TargetID string
	Value    int
}

// SetStateIfAlready changes state only when the service is in CurrentState.
type SetStateIfAlready struct {
	TargetID     string
	CurrentState rules.ServiceState
	NewState     rules.ServiceState
}

// SetStateIfInt0 changes state only when the service's integrity is zero.
type SetStateIfInt0 struct {
	TargetID string
	State    rules.ServiceState
}

// ConditionalDamage damages Victims when ConditionTargetID meets Condition.
type ConditionalDamage struct {
	Condition         string
	ConditionTargetID string
	Victims           []string
	Amount            int
}

// SetStateIfCondition changes state when a named condition holds.
type SetStateIfCondition struct {
	TargetID  string
	Condition string
	NewState  rules.ServiceState
}

// ModifyTrust adjusts trust directly.
type ModifyTrust struct {
	Amount int
}

// ConditionalTrust adjusts trust when a named condition holds.
type ConditionalTrust struct {
	Condition string
	Amount    int
}

// ModifyStability adjusts stability directly.
type ModifyStability struct {
	Amount int
}

// MarkCampaignPhase completes a campaign phase.
type MarkCampaignPhase struct {
	Phase rules.CampaignPhase
}

// RollbackCampaignPhase removes the first completed phase among Choices,
// or the most recent one when Choices is empty.
type RollbackCampaignPhase struct {
	Choices []rules.CampaignPhase
}

// SetBackupsVerified sets the global backups flag.
type SetBackupsVerified struct {
	Value bool
}

// DiscardOpponentCard moves cards from a hand to its discard pile.
type DiscardOpponentCard struct {
	Opponent rules.Seat
	Count    int
	Mode     string
}

// AddTempEffect registers a temporary effect.
type AddTempEffect struct {
	EffectType      Kind
	Duration        rules.Duration
	TargetID        string
	Value           *int
	Amount          *int
	FromServiceID   string
	ToServiceID     string
	Targets         []string
	BudgetPenalty   *int
	DamageReduction *int
	Extra           map[string]any
}

// EventActivation applies IfTrue or IfFalse depending on Condition.
type EventActivation struct {
	Condition string
	IfTrue    []Descriptor
	IfFalse   []Descriptor
}

// SetLatent registers a latent event marker.
type SetLatent struct {
	ActivationTurn int
}

// Unknown preserves a catalog entry whose type the interpreter does not know.
type Unknown struct {
	Kind string
	Raw  map[string]any
}

func (DamageInt) Type() string             { return TypeDamageInt }
func (HealInt) Type() string               { return TypeHealInt }
func (SetState) Type() string              { return TypeSetState }
func (SetInt) Type() string                { return TypeSetInt }
func (SetStateIfAlready) Type() string     { return TypeSetStateIfAlready }
func (SetStateIfInt0) Type() string        { return TypeSetStateIfInt0 }
func (ConditionalDamage) Type() string     { return TypeConditionalDamage }
func (SetStateIfCondition) Type() string   { return TypeSetStateIfCondition }
func (ModifyTrust) Type() string           { return TypeModifyTrust }
func (ConditionalTrust) Type() string      { return TypeConditionalTrust }
func (ModifyStability) Type() string       { return TypeModifyStability }
func (MarkCampaignPhase) Type() string     { return TypeMarkCampaignPhase }
func (RollbackCampaignPhase) Type() string { return TypeRollbackCampaignPhase }
func (SetBackupsVerified) Type() string    { return TypeSetBackupsVerified }
func (DiscardOpponentCard) Type() string   { return TypeDiscardOpponentCard }
func (AddTempEffect) Type() string         { return TypeAddTempEffect }
func (EventActivation) Type() string       { return TypeEventActivation }
func (SetLatent) Type() string             { return TypeSetLatent }
func (u Unknown) Type() string             { return u.Kind }
