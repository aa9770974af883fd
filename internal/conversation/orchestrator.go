package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadline-ai/lead-concierge/internal/botconfig"
	"github.com/leadline-ai/lead-concierge/internal/calendar"
	"github.com/leadline-ai/lead-concierge/internal/listing"
	"github.com/leadline-ai/lead-concierge/internal/llm"
	"github.com/leadline-ai/lead-concierge/internal/observability/metrics"
	"github.com/leadline-ai/lead-concierge/internal/screening"
	"github.com/leadline-ai/lead-concierge/internal/viewing"
	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

// TurnInput is one inbound lead message plus its delivery metadata.
type TurnInput struct {
	AccountID      string
	CounterpartyID string
	Text           string
	MessageID      string
	Timestamp      time.Time
	// PropertyRef is set when the transport already knows which listing
	// the lead is inquiring about (e.g. a portal inquiry form).
	PropertyRef *listing.Ref
}

// TurnOutput is the bot's response for one processed turn.
type TurnOutput struct {
	Reply         string
	NotifyHandoff bool
	HandoffReason string
	Phase         Phase

	// Filled on handoff so operator notifications carry context.
	LeadDetails []string
	PropertyURL string
}

type configResolver interface {
	Resolve(ctx context.Context, accountID, clientID string) botconfig.EffectiveConfig
}

type fieldExtractor interface {
	Extract(ctx context.Context, fields []screening.Field, message string, prior map[string]string) (screening.AnswerDelta, error)
}

type slotProposer interface {
	ProposeSlots() ([]viewing.Slot, error)
}

type refDetector interface {
	Detect(message string) *listing.Ref
}

type completionGateway interface {
	Complete(ctx context.Context, req llm.Request) (llm.Result, error)
}

type transcriptStore interface {
	Load(ctx context.Context, accountID, counterpartyID string) ([]llm.ChatMessage, error)
	Append(ctx context.Context, accountID, counterpartyID string, msgs ...llm.ChatMessage) error
}

type eventScheduler interface {
	CreateEvent(ctx context.Context, ev calendar.Event) error
}

// Orchestrator advances one conversation per inbound message: it resolves
// the effective bot configuration, loads durable state, runs the current
// phase, and persists the outcome.
type Orchestrator struct {
	resolver   configResolver
	store      Store
	extractor  fieldExtractor
	gateway    completionGateway
	negotiator slotProposer
	detector   refDetector

	history  transcriptStore
	calendar eventScheduler
	metrics  *metrics.ConversationMetrics

	logger *logging.Logger
	tracer trace.Tracer
	locks  *keyedMutex
	now    func() time.Time
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithHistory attaches a rolling transcript store used as LLM context.
func WithHistory(h transcriptStore) OrchestratorOption {
	return func(o *Orchestrator) { o.history = h }
}

// WithCalendar attaches the calendar client used on booking confirmation.
func WithCalendar(c eventScheduler) OrchestratorOption {
	return func(o *Orchestrator) { o.calendar = c }
}

// WithMetrics attaches turn/handoff counters.
func WithMetrics(m *metrics.ConversationMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the conversation engine.
func NewOrchestrator(
	resolver configResolver,
	store Store,
	extractor fieldExtractor,
	gateway completionGateway,
	negotiator slotProposer,
	detector refDetector,
	logger *logging.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if resolver == nil {
		panic("conversation: resolver cannot be nil")
	}
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if extractor == nil {
		panic("conversation: extractor cannot be nil")
	}
	if gateway == nil {
		panic("conversation: gateway cannot be nil")
	}
	if negotiator == nil {
		panic("conversation: negotiator cannot be nil")
	}
	if detector == nil {
		panic("conversation: detector cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		resolver:   resolver,
		store:      store,
		extractor:  extractor,
		gateway:    gateway,
		negotiator: negotiator,
		detector:   detector,
		logger:     logger,
		tracer:     otel.Tracer("leadline.internal.conversation"),
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type turnContext struct {
	in            TurnInput
	text          string
	cfg           botconfig.EffectiveConfig
	state         *State
	reply         string
	handoffReason string
}

// HandleMessage processes one inbound message and returns the reply.
// Turns for the same conversation are serialized; a re-delivered message
// returns the previously generated reply without side effects.
func (o *Orchestrator) HandleMessage(ctx context.Context, in TurnInput) (TurnOutput, error) {
	if in.AccountID == "" || in.CounterpartyID == "" {
		return TurnOutput{}, errors.New("conversation: account and counterparty ids are required")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return TurnOutput{}, errors.New("conversation: message text is empty")
	}

	ctx, span := o.tracer.Start(ctx, "conversation.handle_message",
		trace.WithAttributes(attribute.String("leadline.account_id", in.AccountID)))
	defer span.End()

	unlock := o.locks.Lock(in.AccountID + ":" + in.CounterpartyID)
	defer unlock()

	cfg := o.resolver.Resolve(ctx, in.AccountID, in.CounterpartyID)

	state, err := o.store.LoadActive(ctx, in.AccountID, in.CounterpartyID)
	if err != nil {
		// Without trustworthy state we must not fabricate progress.
		o.logger.Error("conversation state load failed",
			"account_id", in.AccountID, "error", err.Error())
		span.RecordError(err)
		return TurnOutput{Reply: cfg.FallbackMessage}, nil
	}

	if state == nil {
		ref := in.PropertyRef
		if ref == nil {
			ref = o.detector.Detect(text)
		}
		state = NewState(cfg, ref)
	} else if state.IsDuplicate(text, in.Timestamp) {
		o.observeTurn(state.Phase, "duplicate")
		return TurnOutput{Reply: state.LastReply, Phase: state.Phase}, nil
	}

	t := &turnContext{in: in, text: text, cfg: cfg, state: state}

	switch {
	case state.Phase == PhaseHandoff:
		// A human owns the thread; automation stays silent and the
		// message is still recorded for the agent's context.
		o.appendHistory(ctx, in, text, "")
		o.observeTurn(PhaseHandoff, "absorbed")
		return TurnOutput{Phase: PhaseHandoff}, nil
	case wantsHuman(text):
		o.handoff(t, "user_request")
	default:
		if err := o.runPhase(ctx, t); err != nil {
			if errors.Is(err, llm.ErrUpstreamUnavailable) {
				// Both backends down. Apologize and leave the state
				// untouched so the lead's retry replays the turn.
				o.logger.Warn("turn degraded, all llm backends unavailable",
					"account_id", in.AccountID, "phase", string(state.Phase))
				span.RecordError(err)
				o.observeTurn(state.Phase, "upstream_unavailable")
				return TurnOutput{Reply: cfg.FallbackMessage, Phase: state.Phase}, nil
			}
			span.RecordError(err)
			return TurnOutput{}, err
		}
	}

	state.LastInbound = &LastInbound{Text: text, At: in.Timestamp}
	state.LastReply = t.reply
	state.UpdatedAt = o.now()

	if err := o.store.Save(ctx, in.AccountID, in.CounterpartyID, state); err != nil {
		// The lead still gets the reply; the next delivery may replay.
		o.logger.Error("conversation state save failed",
			"account_id", in.AccountID, "error", err.Error())
		span.RecordError(err)
	}
	o.appendHistory(ctx, in, text, t.reply)

	outcome := "ok"
	if t.handoffReason != "" {
		outcome = "handoff"
		if o.metrics != nil {
			o.metrics.ObserveHandoff(t.handoffReason)
		}
	}
	o.observeTurn(state.Phase, outcome)

	out := TurnOutput{
		Reply:         t.reply,
		NotifyHandoff: t.handoffReason != "" && cfg.NotifyOnHandoff,
		HandoffReason: t.handoffReason,
		Phase:         state.Phase,
	}
	if t.handoffReason != "" {
		out.LeadDetails = leadDetails(state)
		if state.PropertyRef != nil {
			out.PropertyURL = state.PropertyRef.URL
		}
	}
	return out, nil
}

// leadDetails renders the collected answers as "label: value" lines.
func leadDetails(state *State) []string {
	details := make([]string, 0, len(state.ScreeningAnswers))
	for _, f := range state.ScreeningFields {
		if v, ok := state.ScreeningAnswers[f.ID]; ok {
			details = append(details, f.Label+": "+v)
		}
	}
	return details
}

// runPhase gates and executes the current phase. Gate checks run before
// any side effect so a blocked phase never partially executes.
func (o *Orchestrator) runPhase(ctx context.Context, t *turnContext) error {
	if reason := t.cfg.GateReason(t.state.Phase); reason != "" {
		o.handoff(t, reason)
		return nil
	}
	switch t.state.Phase {
	case PhaseScreening:
		return o.runScreening(ctx, t)
	case PhasePropertyDetection:
		return o.runPropertyDetection(ctx, t)
	case PhasePropertyQA:
		return o.runPropertyQA(ctx, t)
	case PhaseViewingProposal:
		return o.runViewingProposal(ctx, t)
	case PhaseFollowup:
		return o.runFollowup(ctx, t)
	default:
		o.handoff(t, "unknown_phase")
		return nil
	}
}

func (o *Orchestrator) handoff(t *turnContext, reason string) {
	t.state.Phase = PhaseHandoff
	t.state.HandoffReason = reason
	t.reply = t.cfg.HandoffMessage
	t.handoffReason = reason
}

func (o *Orchestrator) runScreening(ctx context.Context, t *turnContext) error {
	delta, err := o.extractor.Extract(ctx, t.state.ScreeningFields, t.text, t.state.ScreeningAnswers)
	if err != nil {
		return err
	}

	if len(delta) == 0 {
		t.state.UnparseableTurns++
		if t.state.UnparseableTurns >= t.cfg.MaxUnparseableTurns {
			o.handoff(t, "unparseable")
			return nil
		}
		t.reply = o.promptNextField(t)
		return nil
	}

	t.state.UnparseableTurns = 0
	t.state.ApplyAnswers(delta)

	if !t.state.ScreeningComplete {
		t.reply = o.promptNextField(t)
		return nil
	}

	// Screening done; move on and try to place the property in the same
	// turn so the lead is never asked something we already know.
	t.state.Phase = PhasePropertyDetection
	if reason := t.cfg.GateReason(PhasePropertyDetection); reason != "" {
		o.handoff(t, reason)
		return nil
	}
	if t.state.PropertyRef == nil {
		if ref := o.detector.Detect(t.text); ref != nil {
			t.state.PropertyRef = ref
		}
	}
	if t.state.PropertyRef == nil {
		t.reply = "Thanks, that's everything I need! Which property were you interested in? A link to the listing works best."
		return nil
	}
	if reason := t.cfg.GateReason(PhasePropertyQA); reason != "" {
		o.handoff(t, reason)
		return nil
	}
	t.state.Phase = PhasePropertyQA
	t.reply = fmt.Sprintf("Thanks, that's everything I need! Happy to answer any questions about %s, or we can set up a viewing whenever you're ready.", t.state.PropertyRef.Label())
	return nil
}

// promptNextField asks for the first pending required field, falling back
// to a generic nudge when only optional fields remain.
func (o *Orchestrator) promptNextField(t *turnContext) string {
	for _, f := range t.state.PendingFields() {
		if f.Required {
			return fmt.Sprintf("Could you share your %s?", strings.ToLower(f.Label))
		}
	}
	return t.cfg.FallbackMessage
}

func (o *Orchestrator) runPropertyDetection(ctx context.Context, t *turnContext) error {
	if t.state.PropertyRef == nil {
		t.state.PropertyRef = o.detector.Detect(t.text)
	}
	if t.state.PropertyRef == nil {
		t.state.UnparseableTurns++
		if t.state.UnparseableTurns >= t.cfg.MaxUnparseableTurns {
			o.handoff(t, "unparseable")
			return nil
		}
		t.reply = "Which property are you asking about? If you send the listing link I can pull it up."
		return nil
	}
	t.state.UnparseableTurns = 0
	if reason := t.cfg.GateReason(PhasePropertyQA); reason != "" {
		o.handoff(t, reason)
		return nil
	}
	t.state.Phase = PhasePropertyQA
	t.reply = fmt.Sprintf("Got it, %s. What would you like to know? I can also set up a viewing whenever you're ready.", t.state.PropertyRef.Label())
	return nil
}

func (o *Orchestrator) runPropertyQA(ctx context.Context, t *turnContext) error {
	if t.cfg.TriggerViewingAfterQA && wantsViewing(t.text) {
		return o.proposeViewing(ctx, t)
	}

	reply, err := o.generateReply(ctx, t)
	if err != nil {
		return err
	}
	t.reply = reply
	return nil
}

// proposeViewing transitions into the proposal phase and offers slots.
func (o *Orchestrator) proposeViewing(ctx context.Context, t *turnContext) error {
	if reason := t.cfg.GateReason(PhaseViewingProposal); reason != "" {
		o.handoff(t, reason)
		return nil
	}
	slots, err := o.negotiator.ProposeSlots()
	if err != nil {
		if errors.Is(err, viewing.ErrNoSlots) {
			o.handoff(t, "no_slots")
			return nil
		}
		return err
	}
	t.state.Phase = PhaseViewingProposal
	t.state.OfferedSlots = slots
	t.state.UnparseableTurns = 0
	t.reply = "Here are a few times that work for a viewing:\n" + viewing.FormatSlots(slots)
	return nil
}

func (o *Orchestrator) runViewingProposal(ctx context.Context, t *turnContext) error {
	slot, outcome := viewing.ConfirmSlot(t.text, t.state.OfferedSlots)
	switch outcome {
	case viewing.MatchFound:
		return o.confirmBooking(ctx, t, slot)
	case viewing.MatchAmbiguous:
		t.reply = "Just to be sure, which of these did you mean?\n" + viewing.FormatSlots(t.state.OfferedSlots)
		return nil
	default:
		// Not a slot selection; it may be another question about the
		// property before committing to a time.
		reply, err := o.generateReply(ctx, t)
		if err != nil {
			return err
		}
		t.reply = reply + "\n\nThe offered times are still open:\n" + viewing.FormatSlots(t.state.OfferedSlots)
		return nil
	}
}

// confirmBooking executes the booking transition. The gate runs before
// any slot is touched so a blocked booking leaves every offer intact.
func (o *Orchestrator) confirmBooking(ctx context.Context, t *turnContext, slot *viewing.Slot) error {
	if reason := t.cfg.GateReason(PhaseViewingBooking); reason != "" {
		o.handoff(t, reason)
		return nil
	}
	t.state.Phase = PhaseViewingBooking

	confirmed := *slot
	confirmed.Status = viewing.SlotConfirmed
	for i := range t.state.OfferedSlots {
		if t.state.OfferedSlots[i].Start.Equal(confirmed.Start) {
			t.state.OfferedSlots[i].Status = viewing.SlotConfirmed
		}
	}

	o.scheduleEvent(ctx, t, confirmed)

	t.state.Phase = PhaseFollowup
	t.reply = fmt.Sprintf("You're all set for %s. Looking forward to seeing you there! Let me know if anything changes.", confirmed.Display())
	return nil
}

// scheduleEvent pushes the confirmed viewing to the operator calendar.
// Failures are logged, never surfaced to the lead.
func (o *Orchestrator) scheduleEvent(ctx context.Context, t *turnContext, slot viewing.Slot) {
	if o.calendar == nil {
		return
	}
	ev := calendar.Event{
		AccountID:      t.in.AccountID,
		CounterpartyID: t.in.CounterpartyID,
		Title:          "Property viewing",
		Start:          slot.Start,
		End:            slot.End,
		Timezone:       slot.Timezone,
	}
	if t.state.PropertyRef != nil {
		ev.PropertyID = t.state.PropertyRef.ID
		ev.Title = "Viewing: " + t.state.PropertyRef.Label()
	}
	if err := o.calendar.CreateEvent(ctx, ev); err != nil {
		o.logger.Error("calendar event creation failed",
			"account_id", t.in.AccountID, "error", err.Error())
	}
}

func (o *Orchestrator) runFollowup(ctx context.Context, t *turnContext) error {
	if t.cfg.TriggerViewingAfterQA && wantsViewing(t.text) {
		// Rebooking request after a completed (or canceled) viewing.
		return o.proposeViewing(ctx, t)
	}
	reply, err := o.generateReply(ctx, t)
	if err != nil {
		return err
	}
	t.reply = reply
	return nil
}

// generateReply produces a conversational answer from the gateway using
// the rolling transcript as context.
func (o *Orchestrator) generateReply(ctx context.Context, t *turnContext) (string, error) {
	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: o.systemPrompt(t)}}
	if o.history != nil {
		prior, err := o.history.Load(ctx, t.in.AccountID, t.in.CounterpartyID)
		if err != nil {
			o.logger.Warn("history load failed, replying without transcript",
				"account_id", t.in.AccountID, "error", err.Error())
		} else {
			messages = append(messages, prior...)
		}
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: t.text})

	result, err := o.gateway.Complete(ctx, llm.Request{
		Messages:    messages,
		Temperature: 0.6,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (o *Orchestrator) systemPrompt(t *turnContext) string {
	var b strings.Builder
	b.WriteString("You are a leasing assistant texting with a prospective tenant. ")
	b.WriteString("Tone: " + t.cfg.Tone + ". Keep replies short, one or two sentences, no markdown.\n")
	if t.state.PropertyRef != nil {
		b.WriteString("The conversation is about the listing " + t.state.PropertyRef.Label())
		if t.state.PropertyRef.URL != "" {
			b.WriteString(" (" + t.state.PropertyRef.URL + ")")
		}
		b.WriteString(".\n")
	}
	if len(t.state.ScreeningAnswers) > 0 {
		b.WriteString("Known lead details:\n")
		for _, f := range t.state.ScreeningFields {
			if v, ok := t.state.ScreeningAnswers[f.ID]; ok {
				b.WriteString(fmt.Sprintf("- %s: %s\n", f.Label, v))
			}
		}
	}
	b.WriteString("If you do not know a factual answer about the property, say you will check rather than guessing.")
	return b.String()
}

func (o *Orchestrator) appendHistory(ctx context.Context, in TurnInput, text, reply string) {
	if o.history == nil {
		return
	}
	msgs := []llm.ChatMessage{{Role: llm.RoleUser, Content: text}}
	if reply != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleAssistant, Content: reply})
	}
	if err := o.history.Append(ctx, in.AccountID, in.CounterpartyID, msgs...); err != nil {
		o.logger.Warn("history append failed",
			"account_id", in.AccountID, "error", err.Error())
	}
}

func (o *Orchestrator) observeTurn(phase Phase, outcome string) {
	if o.metrics != nil {
		o.metrics.ObserveTurn(string(phase), outcome)
	}
}

var humanPattern = regexp.MustCompile(`(?i)\b(human|real person|speak (to|with) (someone|a person|an agent)|talk (to|with) (someone|a person|an agent)|stop (the )?bot|representative)\b`)

// wantsHuman reports an explicit request to leave automation.
func wantsHuman(text string) bool {
	return humanPattern.MatchString(text)
}

var viewingPattern = regexp.MustCompile(`(?i)\b(viewing|tour|visit|see (it|the (place|apartment|unit|property|house))|check it out|come (by|see)|schedule|appointment|showing|in person)\b`)

// wantsViewing reports receptiveness to scheduling a viewing.
func wantsViewing(text string) bool {
	return viewingPattern.MatchString(text)
}
