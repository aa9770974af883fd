// Package botconfig resolves global and client-specific automation rules
// into one effective configuration per conversation.
package botconfig

// Phase names a stage of the conversation workflow.
type Phase string

const (
	PhaseScreening         Phase = "screening"
	PhasePropertyDetection Phase = "property_detection"
	PhasePropertyQA        Phase = "property_qa"
	PhaseViewingProposal   Phase = "viewing_proposal"
	PhaseViewingBooking    Phase = "viewing_booking"
	PhaseFollowup          Phase = "followup"
	PhaseHandoff           Phase = "handoff"
)

// WorkflowPhases lists the automatable phases in workflow order.
// Handoff is excluded: it is the escape hatch, never automated "work".
var WorkflowPhases = []Phase{
	PhaseScreening,
	PhasePropertyDetection,
	PhasePropertyQA,
	PhaseViewingProposal,
	PhaseViewingBooking,
	PhaseFollowup,
}

// PhaseRank returns the position of a phase in the workflow order,
// or -1 for handoff and unknown phases.
func PhaseRank(p Phase) int {
	for i, candidate := range WorkflowPhases {
		if candidate == p {
			return i
		}
	}
	return -1
}

// ValidPhase reports whether p names a known workflow phase or handoff.
func ValidPhase(p Phase) bool {
	return p == PhaseHandoff || PhaseRank(p) >= 0
}
