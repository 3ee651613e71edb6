package effects

import (
	"fmt"
	"math"

	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// reservedKeys are consumed by the descriptor itself and never copied onto
// a temporary effect's Extra payload.
var reservedKeys = map[string]struct{}{
	"type": {}, "effectType": {}, "duration": {}, "targetId": {}, "expiresAtTurn": {},
	"expiresAtPhase": {}, "value": {}, "amount": {}, "state": {}, "phase": {},
	"choices": {}, "condition": {}, "ifTrue": {}, "ifFalse": {}, "targetAll": {},
	"currentState": {}, "newState": {}, "victims": {}, "opponent": {}, "count": {},
	"mode": {}, "activationTurn": {},
}

// keys lifted into dedicated AddTempEffect fields.
var tempEffectFieldKeys = map[string]struct{}{
	"fromServiceId": {}, "toServiceId": {}, "targets": {},
	"budgetPenalty": {}, "damageReduction": {},
}

// DecodeList decodes an ordered effect list.
func DecodeList(raw []map[string]any) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(raw))
	for i, entry := range raw {
		descriptor, err := Decode(entry)
		if err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		out = append(out, descriptor)
	}
	return out, nil
}

// Decode converts one catalog record into a Descriptor.
// Records with an unrecognised type decode to Unknown.
func Decode(raw map[string]any) (Descriptor, error) {
	kind, ok := raw["type"].(string)
	if !ok || kind == "" {
		return nil, fmt.Errorf("effect is missing a type")
	}
	r := reader{raw: raw}

	var d Descriptor
	switch kind {
	case TypeDamageInt:
		d = DamageInt{TargetID: r.str("targetId"), Amount: r.integer("amount", 0), TargetAll: r.boolean("targetAll", false)}
	case TypeHealInt:
		d = HealInt{TargetID: r.str("targetId"), Amount: r.integer("amount", 0)}
	case TypeSetState:
		d = SetState{TargetID: r.str("targetId"), State: r.state("state")}
	case TypeSetInt:
		d = SetInt{TargetID: r.str("targetId"), Value: r.integer("value", 0)}
	case TypeSetStateIfAlready:
		d = SetStateIfAlready{TargetID: r.str("targetId"), CurrentState: r.state("currentState"), NewState: r.state("newState")}
	case TypeSetStateIfInt0:
		d = SetStateIfInt0{TargetID: r.str("targetId"), State: r.state("state")}
	case TypeConditionalDamage:
		d = ConditionalDamage{
			Condition:         r.str("condition"),
			ConditionTargetID: r.str("conditionTargetId"),
			Victims:           r.strings("victims"),
			Amount:            r.integer("amount", 0),
		}
	case TypeSetStateIfCondition:
		d = SetStateIfCondition{TargetID: r.str("targetId"), Condition: r.str("condition"), NewState: r.state("newState")}
	case TypeModifyTrust:
		d = ModifyTrust{Amount: r.integer("amount", 0)}
	case TypeConditionalTrust:
		d = ConditionalTrust{Condition: r.str("condition"), Amount: r.integer("amount", 0)}
	case TypeModifyStability:
		d = ModifyStability{Amount: r.integer("amount", 0)}
	case TypeMarkCampaignPhase:
		d = MarkCampaignPhase{Phase: rules.CampaignPhase(r.str("phase"))}
	case TypeRollbackCampaignPhase:
		choices := r.strings("choices")
		phases := make([]rules.CampaignPhase, 0, len(choices))
		for _, choice := range choices {
			phases = append(phases, rules.CampaignPhase(choice))
		}
		d = RollbackCampaignPhase{Choices: phases}
	case TypeSetBackupsVerified:
		d = SetBackupsVerified{Value: r.boolean("value", true)}
	case TypeDiscardOpponentCard:
		mode := r.str("mode")
		if mode == "" {
			mode = DiscardRandom
		}
		d = DiscardOpponentCard{Opponent: rules.Seat(r.str("opponent")), Count: r.integer("count", 1), Mode: mode}
	case TypeAddTempEffect:
		d = AddTempEffect{
			EffectType:      Kind(r.str("effectType")),
			Duration:        rules.Duration(r.str("duration")),
			TargetID:        r.str("targetId"),
			Value:           r.optionalInt("value"),
			Amount:          r.optionalInt("amount"),
			FromServiceID:   r.str("fromServiceId"),
			ToServiceID:     r.str("toServiceId"),
			Targets:         r.strings("targets"),
			BudgetPenalty:   r.optionalInt("budgetPenalty"),
			DamageReduction: r.optionalInt("damageReduction"),
			Extra:           extraFields(raw),
		}
	case TypeEventActivation:
		ifTrue, err := r.nested("ifTrue")
		if err != nil {
			return nil, err
		}
		ifFalse, err := r.nested("ifFalse")
		if err != nil {
			return nil, err
		}
		d = EventActivation{Condition: r.str("condition"), IfTrue: ifTrue, IfFalse: ifFalse}
	case TypeSetLatent:
		d = SetLatent{ActivationTurn: r.integer("activationTurn", 5)}
	default:
		return Unknown{Kind: kind, Raw: raw}, nil
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", kind, r.err)
	}
	return d, nil
}

func extraFields(raw map[string]any) map[string]any {
	var extra map[string]any
	for key, value := range raw {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		if _, lifted := tempEffectFieldKeys[key]; lifted {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[key] = value
	}
	return extra
}

// reader pulls typed fields out of a loosely typed record and keeps the
// first conversion error.
type reader struct {
	raw map[string]any
	err error
}

func (r *reader) fail(key string, value any, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("field %q: expected %s, got %T", key, want, value)
	}
}

func (r *reader) str(key string) string {
	value, ok := r.raw[key]
	if !ok || value == nil {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		r.fail(key, value, "string")
	}
	return s
}

func (r *reader) state(key string) rules.ServiceState {
	state := rules.ServiceState(r.str(key))
	if state != "" && !state.Valid() {
		r.fail(key, string(state), "service state")
	}
	return state
}

func (r *reader) boolean(key string, fallback bool) bool {
	value, ok := r.raw[key]
	if !ok || value == nil {
		return fallback
	}
	b, ok := value.(bool)
	if !ok {
		r.fail(key, value, "bool")
		return fallback
	}
	return b
}

func (r *reader) optionalInt(key string) *int {
	value, ok := r.raw[key]
	if !ok || value == nil {
		return nil
	}
	n, ok := toInt(value)
	if !ok {
		r.fail(key, value, "integer")
		return nil
	}
	return &n
}

func (r *reader) integer(key string, fallback int) int {
	if n := r.optionalInt(key); n != nil {
		return *n
	}
	return fallback
}

func (r *reader) strings(key string) []string {
	value, ok := r.raw[key]
	if !ok || value == nil {
		return nil
	}
	switch list := value.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				r.fail(key, item, "string list")
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		r.fail(key, value, "string list")
		return nil
	}
}

func (r *reader) nested(key string) ([]Descriptor, error) {
	value, ok := r.raw[key]
	if !ok || value == nil {
		return nil, nil
	}
	var entries []map[string]any
	switch list := value.(type) {
	case []map[string]any:
		entries = list
	case []any:
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("field %q: expected effect record, got %T", key, item)
			}
			entries = append(entries, entry)
		}
	default:
		return nil, fmt.Errorf("field %q: expected effect list, got %T", key, value)
	}
	return DecodeList(entries)
}

func toInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
