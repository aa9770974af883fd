// Package notify alerts human operators when a conversation leaves
// automation.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

// OperatorMessenger delivers a short text notification to an operator.
type OperatorMessenger interface {
	Send(ctx context.Context, to, body string) error
}

// Handoff describes a conversation that now needs a human.
type Handoff struct {
	AccountID      string
	CounterpartyID string
	Reason         string
	LastMessage    string
	// LeadDetails are the screening answers collected so far, already
	// formatted as "label: value" lines.
	LeadDetails []string
	PropertyURL string
}

// Service fans a handoff out to the configured operator recipients.
// Delivery is best-effort; a failed recipient never blocks the others.
type Service struct {
	messenger  OperatorMessenger
	recipients []string
	logger     *logging.Logger
}

// NewService creates a notification service. A nil messenger or empty
// recipient list yields a service that only logs.
func NewService(messenger OperatorMessenger, recipients []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		messenger:  messenger,
		recipients: recipients,
		logger:     logger,
	}
}

var reasonLabels = map[string]string{
	"user_request":      "the lead asked for a human",
	"unparseable":       "the lead's replies could not be understood",
	"not_automated":     "the phase is not automated for this account",
	"beyond_max_phase":  "the conversation passed the automation limit",
	"approval_required": "the next step requires operator approval",
	"no_slots":          "no viewing slots were available to offer",
}

// NotifyHandoff sends the handoff alert to every recipient.
func (s *Service) NotifyHandoff(ctx context.Context, h Handoff) error {
	if s.messenger == nil || len(s.recipients) == 0 {
		s.logger.Info("handoff notification skipped, no operator recipients configured",
			"account_id", h.AccountID, "reason", h.Reason)
		return nil
	}

	body := s.buildBody(h)

	var errs []error
	for _, recipient := range s.recipients {
		if err := s.messenger.Send(ctx, recipient, body); err != nil {
			s.logger.Error("handoff notification failed",
				"to", recipient, "account_id", h.AccountID, "error", err.Error())
			errs = append(errs, err)
			continue
		}
		s.logger.Info("handoff notification sent",
			"to", recipient, "account_id", h.AccountID, "reason", h.Reason)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

func (s *Service) buildBody(h Handoff) string {
	reason := reasonLabels[h.Reason]
	if reason == "" {
		reason = h.Reason
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Lead %s needs a human: %s.", h.CounterpartyID, reason)
	if h.LastMessage != "" {
		fmt.Fprintf(&b, " Last message: %q.", truncate(h.LastMessage, 120))
	}
	if len(h.LeadDetails) > 0 {
		b.WriteString(" Details: " + strings.Join(h.LeadDetails, ", ") + ".")
	}
	if h.PropertyURL != "" {
		b.WriteString(" Listing: " + h.PropertyURL)
	}
	return b.String()
}

// SimpleMessenger adapts a plain send function to OperatorMessenger.
type SimpleMessenger struct {
	sendFunc func(ctx context.Context, to, from, body string) error
	from     string
	logger   *logging.Logger
}

// NewSimpleMessenger creates a messenger with a custom send function.
func NewSimpleMessenger(from string, sendFunc func(ctx context.Context, to, from, body string) error, logger *logging.Logger) *SimpleMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &SimpleMessenger{
		sendFunc: sendFunc,
		from:     from,
		logger:   logger,
	}
}

// Send delivers the notification through the configured send function.
func (m *SimpleMessenger) Send(ctx context.Context, to, body string) error {
	if m.sendFunc == nil {
		m.logger.Warn("operator messenger not configured")
		return nil
	}
	return m.sendFunc(ctx, to, m.from, body)
}

// StubMessenger logs instead of sending. Used in development.
type StubMessenger struct {
	logger *logging.Logger
}

// NewStubMessenger creates a log-only messenger.
func NewStubMessenger(logger *logging.Logger) *StubMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubMessenger{logger: logger}
}

// Send logs but does not deliver.
func (m *StubMessenger) Send(ctx context.Context, to, body string) error {
	m.logger.Info("stub messenger: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ OperatorMessenger = (*SimpleMessenger)(nil)
var _ OperatorMessenger = (*StubMessenger)(nil)
