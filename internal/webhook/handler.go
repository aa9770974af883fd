// Package webhook exposes the inbound message endpoint for messaging
// transports.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/leadline-ai/lead-concierge/internal/conversation"
	"github.com/leadline-ai/lead-concierge/internal/listing"
	"github.com/leadline-ai/lead-concierge/internal/notify"
	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

type turner interface {
	HandleMessage(ctx context.Context, in conversation.TurnInput) (conversation.TurnOutput, error)
}

type handoffNotifier interface {
	NotifyHandoff(ctx context.Context, h notify.Handoff) error
}

// MessageHandler processes inbound lead messages delivered by the
// messaging transport.
type MessageHandler struct {
	orchestrator turner
	notifier     handoffNotifier
	logger       *logging.Logger
}

// NewMessageHandler creates the webhook handler. The notifier may be nil
// when no operator channel is configured.
func NewMessageHandler(orchestrator turner, notifier handoffNotifier, logger *logging.Logger) *MessageHandler {
	if orchestrator == nil {
		panic("webhook: orchestrator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MessageHandler{
		orchestrator: orchestrator,
		notifier:     notifier,
		logger:       logger,
	}
}

type inboundMessage struct {
	AccountID      string    `json:"account_id"`
	CounterpartyID string    `json:"counterparty_id"`
	Text           string    `json:"text"`
	MessageID      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
	// Optional listing context from portal inquiry forms.
	ListingID    string `json:"listing_id,omitempty"`
	ListingURL   string `json:"listing_url,omitempty"`
	ListingTitle string `json:"listing_title,omitempty"`
}

type turnResponse struct {
	Reply         string `json:"reply"`
	NotifyHandoff bool   `json:"notify_handoff"`
	HandoffReason string `json:"handoff_reason,omitempty"`
	Phase         string `json:"phase"`
}

// HandleMessages accepts one inbound message and returns the bot's reply.
func (h *MessageHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	var msg inboundMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg.AccountID == "" || msg.CounterpartyID == "" || msg.Text == "" || msg.MessageID == "" {
		writeError(w, http.StatusBadRequest, "account_id, counterparty_id, message_id and text are required")
		return
	}

	in := conversation.TurnInput{
		AccountID:      msg.AccountID,
		CounterpartyID: msg.CounterpartyID,
		Text:           msg.Text,
		MessageID:      msg.MessageID,
		Timestamp:      msg.Timestamp,
	}
	if msg.ListingID != "" || msg.ListingURL != "" {
		in.PropertyRef = &listing.Ref{
			ID:    msg.ListingID,
			URL:   msg.ListingURL,
			Title: msg.ListingTitle,
		}
	}

	out, err := h.orchestrator.HandleMessage(r.Context(), in)
	if err != nil {
		h.logger.Error("message processing failed",
			"account_id", msg.AccountID, "message_id", msg.MessageID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "message processing failed")
		return
	}

	if out.NotifyHandoff && h.notifier != nil {
		// Operator alerting is best-effort; the lead's reply never waits
		// on it failing.
		if err := h.notifier.NotifyHandoff(r.Context(), notify.Handoff{
			AccountID:      msg.AccountID,
			CounterpartyID: msg.CounterpartyID,
			Reason:         out.HandoffReason,
			LastMessage:    msg.Text,
			LeadDetails:    out.LeadDetails,
			PropertyURL:    out.PropertyURL,
		}); err != nil {
			h.logger.Error("handoff notification failed",
				"account_id", msg.AccountID, "error", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, turnResponse{
		Reply:         out.Reply,
		NotifyHandoff: out.NotifyHandoff,
		HandoffReason: out.HandoffReason,
		Phase:         string(out.Phase),
	})
}

// HealthCheck reports liveness.
func (h *MessageHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
