package botconfig

import (
	"github.com/leadline-ai/lead-concierge/internal/screening"
)

// Behavior tunes how the bot talks rather than what it may do.
type Behavior struct {
	// Tone sets the communication style: "warm", "professional", "clinical"
	Tone string `json:"tone,omitempty"`
	// ResponseDelaySeconds is consumed by the delivery collaborator, not here
	ResponseDelaySeconds *int `json:"response_delay_seconds,omitempty"`
	// AutoFollowUp enables the external follow-up scheduler
	AutoFollowUp *bool `json:"auto_follow_up,omitempty"`
	// NotifyOnHandoff controls operator notifications when automation stops
	NotifyOnHandoff *bool `json:"notify_on_handoff,omitempty"`
}

// Settings is one stored configuration blob, global or client-specific.
// Every field is optional; absent fields fall through to the next layer.
type Settings struct {
	AutomatedPhases       []Phase           `json:"automated_phases,omitempty"`
	MaxPhase              *Phase            `json:"max_phase,omitempty"`
	RequireApproval       map[Phase]bool    `json:"require_approval,omitempty"`
	Behavior              *Behavior         `json:"behavior,omitempty"`
	ScreeningFields       []screening.Field `json:"screening_fields,omitempty"`
	TriggerViewingAfterQA *bool             `json:"trigger_viewing_after_qa,omitempty"`
	HandoffMessage        string            `json:"handoff_message,omitempty"`
	FallbackMessage       string            `json:"fallback_message,omitempty"`
	MaxUnparseableTurns   *int              `json:"max_unparseable_turns,omitempty"`
}

// EffectiveConfig is the fully resolved automation ruleset for one
// conversation. Raw Settings blobs never leave this package.
type EffectiveConfig struct {
	AutomatedPhases       map[Phase]bool
	MaxPhase              Phase
	RequireApproval       map[Phase]bool
	Tone                  string
	ResponseDelaySeconds  int
	AutoFollowUp          bool
	NotifyOnHandoff       bool
	ScreeningFields       []screening.Field
	TriggerViewingAfterQA bool
	HandoffMessage        string
	FallbackMessage       string
	MaxUnparseableTurns   int
}

// GateReason returns "" when the bot may execute the phase autonomously,
// otherwise the reason automation must stop.
func (c EffectiveConfig) GateReason(p Phase) string {
	if !c.AutomatedPhases[p] {
		return "not_automated"
	}
	if PhaseRank(p) > PhaseRank(c.MaxPhase) {
		return "beyond_max_phase"
	}
	if c.RequireApproval[p] {
		return "approval_required"
	}
	return ""
}

const (
	defaultHandoffMessage  = "Thanks! One of our agents will take it from here and follow up with you shortly."
	defaultFallbackMessage = "Sorry, I didn't quite get that. Could you say it again?"
)

// Defaults returns the built-in configuration used when no stored
// configuration exists at all.
func Defaults() EffectiveConfig {
	automated := make(map[Phase]bool, len(WorkflowPhases))
	for _, p := range WorkflowPhases {
		automated[p] = true
	}
	return EffectiveConfig{
		AutomatedPhases:       automated,
		MaxPhase:              PhaseFollowup,
		RequireApproval:       map[Phase]bool{},
		Tone:                  "warm",
		ResponseDelaySeconds:  0,
		AutoFollowUp:          false,
		NotifyOnHandoff:       true,
		ScreeningFields:       DefaultScreeningFields(),
		TriggerViewingAfterQA: true,
		HandoffMessage:        defaultHandoffMessage,
		FallbackMessage:       defaultFallbackMessage,
		MaxUnparseableTurns:   3,
	}
}

// DefaultScreeningFields is the built-in screening set applied when
// neither global nor client configuration define one.
func DefaultScreeningFields() []screening.Field {
	min := 0.0
	return []screening.Field{
		{ID: "full_name", Type: screening.FieldText, Label: "Full name", Required: true},
		{ID: "budget", Type: screening.FieldNumber, Label: "Monthly budget", Required: true, Min: &min},
		{ID: "move_in_date", Type: screening.FieldDate, Label: "Desired move-in date", Required: true},
		{ID: "occupants", Type: screening.FieldNumber, Label: "Number of occupants", Required: false, Min: &min},
		{ID: "has_guarantor", Type: screening.FieldYesNo, Label: "Has a guarantor", Required: false},
	}
}

// apply overlays one settings blob onto the config, field by field.
// Only explicitly set fields take effect.
func (c EffectiveConfig) apply(s *Settings) EffectiveConfig {
	if s == nil {
		return c
	}
	if len(s.AutomatedPhases) > 0 {
		automated := make(map[Phase]bool, len(s.AutomatedPhases))
		for _, p := range s.AutomatedPhases {
			if ValidPhase(p) {
				automated[p] = true
			}
		}
		c.AutomatedPhases = automated
	}
	if s.MaxPhase != nil && ValidPhase(*s.MaxPhase) {
		c.MaxPhase = *s.MaxPhase
	}
	if len(s.RequireApproval) > 0 {
		merged := make(map[Phase]bool, len(c.RequireApproval)+len(s.RequireApproval))
		for p, v := range c.RequireApproval {
			merged[p] = v
		}
		for p, v := range s.RequireApproval {
			merged[p] = v
		}
		c.RequireApproval = merged
	}
	if s.Behavior != nil {
		if s.Behavior.Tone != "" {
			c.Tone = s.Behavior.Tone
		}
		if s.Behavior.ResponseDelaySeconds != nil {
			c.ResponseDelaySeconds = *s.Behavior.ResponseDelaySeconds
		}
		if s.Behavior.AutoFollowUp != nil {
			c.AutoFollowUp = *s.Behavior.AutoFollowUp
		}
		if s.Behavior.NotifyOnHandoff != nil {
			c.NotifyOnHandoff = *s.Behavior.NotifyOnHandoff
		}
	}
	if len(s.ScreeningFields) > 0 {
		c.ScreeningFields = s.ScreeningFields
	}
	if s.TriggerViewingAfterQA != nil {
		c.TriggerViewingAfterQA = *s.TriggerViewingAfterQA
	}
	if s.HandoffMessage != "" {
		c.HandoffMessage = s.HandoffMessage
	}
	if s.FallbackMessage != "" {
		c.FallbackMessage = s.FallbackMessage
	}
	if s.MaxUnparseableTurns != nil && *s.MaxUnparseableTurns > 0 {
		c.MaxUnparseableTurns = *s.MaxUnparseableTurns
	}
	return c
}
