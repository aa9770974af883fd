// Package conversation drives the lead-qualification workflow: a
// phase-tagged state machine persisted per (account, counterparty).
package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadline-ai/lead-concierge/internal/botconfig"
	"github.com/leadline-ai/lead-concierge/internal/listing"
	"github.com/leadline-ai/lead-concierge/internal/screening"
	"github.com/leadline-ai/lead-concierge/internal/viewing"
)

// Phase re-exports the workflow phase vocabulary.
type Phase = botconfig.Phase

const (
	PhaseScreening         = botconfig.PhaseScreening
	PhasePropertyDetection = botconfig.PhasePropertyDetection
	PhasePropertyQA        = botconfig.PhasePropertyQA
	PhaseViewingProposal   = botconfig.PhaseViewingProposal
	PhaseViewingBooking    = botconfig.PhaseViewingBooking
	PhaseFollowup          = botconfig.PhaseFollowup
	PhaseHandoff           = botconfig.PhaseHandoff
)

// Status marks whether automation still owns the conversation record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// SchemaVersion is the current persisted state shape. Loads of newer
// versions are refused rather than guessed at.
const SchemaVersion = 1

// LastInbound records the most recent processed inbound message so that a
// re-delivered duplicate can be recognized and answered idempotently.
type LastInbound struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// State is the durable per-conversation record mutated once per turn.
type State struct {
	SchemaVersion     int               `json:"schema_version"`
	Phase             Phase             `json:"phase"`
	PropertyRef       *listing.Ref      `json:"property_ref,omitempty"`
	ScreeningFields   []screening.Field `json:"screening_fields,omitempty"`
	ScreeningAnswers  map[string]string `json:"screening_answers,omitempty"`
	ScreeningComplete bool              `json:"screening_complete"`
	OfferedSlots      []viewing.Slot    `json:"offered_slots,omitempty"`
	Status            Status            `json:"status"`
	HandoffReason     string            `json:"handoff_reason,omitempty"`
	UnparseableTurns  int               `json:"unparseable_turns,omitempty"`
	LastInbound       *LastInbound      `json:"last_inbound,omitempty"`
	LastReply         string            `json:"last_reply,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewState creates the state for a first inbound message. The screening
// fields are copied out of the effective configuration so that later
// configuration edits never alter an in-flight conversation.
func NewState(cfg botconfig.EffectiveConfig, ref *listing.Ref) *State {
	fields := make([]screening.Field, len(cfg.ScreeningFields))
	copy(fields, cfg.ScreeningFields)

	phase := PhaseScreening
	if ref != nil {
		phase = PhasePropertyDetection
	}
	return &State{
		SchemaVersion:    SchemaVersion,
		Phase:            phase,
		PropertyRef:      ref,
		ScreeningFields:  fields,
		ScreeningAnswers: map[string]string{},
		Status:           StatusActive,
	}
}

// ApplyAnswers merges an extraction delta and recomputes completeness.
func (s *State) ApplyAnswers(delta screening.AnswerDelta) {
	if s.ScreeningAnswers == nil {
		s.ScreeningAnswers = map[string]string{}
	}
	for id, value := range delta {
		s.ScreeningAnswers[id] = value
	}
	s.ScreeningComplete = screening.Complete(s.ScreeningFields, s.ScreeningAnswers)
}

// PendingFields returns the screening fields still awaiting an answer.
func (s *State) PendingFields() []screening.Field {
	return screening.Pending(s.ScreeningFields, s.ScreeningAnswers)
}

// IsDuplicate reports whether the inbound message is a re-delivery of the
// last processed one. A zero timestamp falls back to text equality.
func (s *State) IsDuplicate(text string, at time.Time) bool {
	if s.LastInbound == nil || s.LastInbound.Text != text {
		return false
	}
	if at.IsZero() || s.LastInbound.At.IsZero() {
		return true
	}
	return s.LastInbound.At.Equal(at)
}

// EncodeState serializes a state blob at the current schema version.
func EncodeState(s *State) ([]byte, error) {
	s.SchemaVersion = SchemaVersion
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to encode state: %w", err)
	}
	return data, nil
}

// DecodeState parses a persisted blob, migrating legacy versionless
// blobs. Blobs written by a newer schema are refused.
func DecodeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode state: %w", err)
	}
	switch s.SchemaVersion {
	case SchemaVersion:
		// Current shape.
	case 0:
		// Legacy blobs predate the version field and were known to carry
		// a stale completeness flag; re-derive it from the answers.
		s.ScreeningComplete = screening.Complete(s.ScreeningFields, s.ScreeningAnswers)
		s.SchemaVersion = SchemaVersion
	default:
		return nil, fmt.Errorf("conversation: unsupported state schema version %d", s.SchemaVersion)
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if s.ScreeningAnswers == nil {
		s.ScreeningAnswers = map[string]string{}
	}
	if !botconfig.ValidPhase(s.Phase) {
		return nil, fmt.Errorf("conversation: unknown phase %q in stored state", s.Phase)
	}
	return &s, nil
}
