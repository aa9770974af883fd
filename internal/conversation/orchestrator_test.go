package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadline-ai/lead-concierge/internal/botconfig"
	"github.com/leadline-ai/lead-concierge/internal/calendar"
	"github.com/leadline-ai/lead-concierge/internal/listing"
	"github.com/leadline-ai/lead-concierge/internal/llm"
	"github.com/leadline-ai/lead-concierge/internal/screening"
	"github.com/leadline-ai/lead-concierge/internal/viewing"
)

type stubResolver struct {
	cfg botconfig.EffectiveConfig
}

func (s stubResolver) Resolve(ctx context.Context, accountID, clientID string) botconfig.EffectiveConfig {
	return s.cfg
}

// memStore round-trips states through the codec so tests also exercise
// the persisted shape.
type memStore struct {
	blobs   map[string][]byte
	loadErr error
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}}
}

func (s *memStore) LoadActive(ctx context.Context, accountID, counterpartyID string) (*State, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	data, ok := s.blobs[accountID+":"+counterpartyID]
	if !ok {
		return nil, nil
	}
	return DecodeState(data)
}

func (s *memStore) Save(ctx context.Context, accountID, counterpartyID string, state *State) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := EncodeState(state)
	if err != nil {
		return err
	}
	s.blobs[accountID+":"+counterpartyID] = data
	s.saves++
	return nil
}

func (s *memStore) mustPut(t *testing.T, accountID, counterpartyID string, state *State) {
	t.Helper()
	data, err := EncodeState(state)
	require.NoError(t, err)
	s.blobs[accountID+":"+counterpartyID] = data
}

func (s *memStore) mustGet(t *testing.T, accountID, counterpartyID string) *State {
	t.Helper()
	state, err := s.LoadActive(context.Background(), accountID, counterpartyID)
	require.NoError(t, err)
	require.NotNil(t, state)
	return state
}

type stubExtractor struct {
	deltas []screening.AnswerDelta
	err    error
	calls  int
}

func (e *stubExtractor) Extract(ctx context.Context, pending []screening.Field, message string, prior map[string]string) (screening.AnswerDelta, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if len(e.deltas) == 0 {
		return screening.AnswerDelta{}, nil
	}
	delta := e.deltas[0]
	e.deltas = e.deltas[1:]
	return delta, nil
}

type stubGateway struct {
	content string
	err     error
	calls   int
}

func (g *stubGateway) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	g.calls++
	if g.err != nil {
		return llm.Result{}, g.err
	}
	return llm.Result{Content: g.content, Provider: "openai"}, nil
}

type stubProposer struct {
	slots []viewing.Slot
	err   error
}

func (p *stubProposer) ProposeSlots() ([]viewing.Slot, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([]viewing.Slot, len(p.slots))
	copy(out, p.slots)
	return out, nil
}

type calRecorder struct {
	events []calendar.Event
	err    error
}

func (c *calRecorder) CreateEvent(ctx context.Context, ev calendar.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func testSlots() []viewing.Slot {
	tz := time.FixedZone("EST", -5*3600)
	return []viewing.Slot{
		{
			Start:    time.Date(2026, 9, 8, 10, 0, 0, 0, tz), // Tuesday
			End:      time.Date(2026, 9, 8, 10, 30, 0, 0, tz),
			Timezone: "America/New_York",
			Status:   viewing.SlotOffered,
		},
		{
			Start:    time.Date(2026, 9, 10, 16, 0, 0, 0, tz), // Thursday
			End:      time.Date(2026, 9, 10, 16, 30, 0, 0, tz),
			Timezone: "America/New_York",
			Status:   viewing.SlotOffered,
		},
	}
}

type orchestratorFixture struct {
	orch      *Orchestrator
	store     *memStore
	extractor *stubExtractor
	gateway   *stubGateway
	proposer  *stubProposer
	calendar  *calRecorder
}

func newFixture(cfg botconfig.EffectiveConfig) *orchestratorFixture {
	f := &orchestratorFixture{
		store:     newMemStore(),
		extractor: &stubExtractor{},
		gateway:   &stubGateway{content: "The unit has two bedrooms and in-unit laundry."},
		proposer:  &stubProposer{slots: testSlots()},
		calendar:  &calRecorder{},
	}
	f.orch = NewOrchestrator(
		stubResolver{cfg: cfg},
		f.store,
		f.extractor,
		f.gateway,
		f.proposer,
		listing.NewDetector(nil),
		nil,
		WithCalendar(f.calendar),
	)
	return f
}

func turn(text string) TurnInput {
	return TurnInput{
		AccountID:      "acct-1",
		CounterpartyID: "lead-1",
		Text:           text,
		MessageID:      "m-1",
		Timestamp:      time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHandleMessageValidatesInput(t *testing.T) {
	f := newFixture(botconfig.Defaults())

	_, err := f.orch.HandleMessage(context.Background(), TurnInput{Text: "hi"})
	require.Error(t, err)

	_, err = f.orch.HandleMessage(context.Background(), TurnInput{
		AccountID: "a", CounterpartyID: "b", Text: "   ",
	})
	require.Error(t, err)
}

func TestFirstMessageStartsScreening(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	f.extractor.deltas = []screening.AnswerDelta{{"full_name": "Dana Reyes"}}

	out, err := f.orch.HandleMessage(context.Background(), turn("hi, I'm Dana Reyes"))

	require.NoError(t, err)
	assert.Equal(t, PhaseScreening, out.Phase)
	assert.Contains(t, out.Reply, "monthly budget")
	assert.False(t, out.NotifyHandoff)

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.Equal(t, "Dana Reyes", saved.ScreeningAnswers["full_name"])
	assert.False(t, saved.ScreeningComplete)
}

func TestScreeningCompletionAdvancesToPropertyQA(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12", Title: "12 Main St #4B"})
	state.Phase = PhaseScreening
	state.ApplyAnswers(map[string]string{"full_name": "Dana Reyes", "budget": "2500"})
	f.store.mustPut(t, "acct-1", "lead-1", state)
	f.extractor.deltas = []screening.AnswerDelta{{"move_in_date": "2026-10-01"}}

	out, err := f.orch.HandleMessage(context.Background(), turn("hoping to move in october 1st"))

	require.NoError(t, err)
	assert.Equal(t, PhasePropertyQA, out.Phase)
	assert.Contains(t, out.Reply, "12 Main St #4B")

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.True(t, saved.ScreeningComplete)
}

func TestScreeningCompletionWithoutPropertyAsksForListing(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	f.extractor.deltas = []screening.AnswerDelta{{
		"full_name": "Dana Reyes", "budget": "2500", "move_in_date": "2026-10-01",
	}}

	out, err := f.orch.HandleMessage(context.Background(),
		turn("Dana Reyes, 2500 a month, moving October 1st"))

	require.NoError(t, err)
	assert.Equal(t, PhasePropertyDetection, out.Phase)
	assert.Contains(t, out.Reply, "Which property")
}

func TestPropertyDetectionResolvesListingURL(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), nil)
	state.Phase = PhasePropertyDetection
	state.ScreeningComplete = true
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(),
		turn("this one: https://homes.example.com/listings/apt-12"))

	require.NoError(t, err)
	assert.Equal(t, PhasePropertyQA, out.Phase)

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	require.NotNil(t, saved.PropertyRef)
	assert.Equal(t, "apt-12", saved.PropertyRef.ID)
}

func TestDuplicateDeliveryReturnsSameReply(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	in := turn("budget is 2500")
	state := NewState(botconfig.Defaults(), nil)
	state.LastInbound = &LastInbound{Text: "budget is 2500", At: in.Timestamp}
	state.LastReply = "Could you share your full name?"
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "Could you share your full name?", out.Reply)
	assert.Zero(t, f.extractor.calls)
	assert.Zero(t, f.store.saves)
}

func TestExplicitHumanRequestHandsOff(t *testing.T) {
	f := newFixture(botconfig.Defaults())

	out, err := f.orch.HandleMessage(context.Background(),
		turn("can I talk to a person instead?"))

	require.NoError(t, err)
	assert.Equal(t, PhaseHandoff, out.Phase)
	assert.Equal(t, "user_request", out.HandoffReason)
	assert.True(t, out.NotifyHandoff)
	assert.NotEmpty(t, out.Reply)
	assert.Zero(t, f.extractor.calls)
}

func TestNotifyOnHandoffPreferenceSuppressesNotification(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.NotifyOnHandoff = false
	f := newFixture(cfg)

	out, err := f.orch.HandleMessage(context.Background(), turn("I want a human"))

	require.NoError(t, err)
	assert.Equal(t, "user_request", out.HandoffReason)
	assert.False(t, out.NotifyHandoff)
}

func TestHandoffPhaseAbsorbsMessages(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), nil)
	state.Phase = PhaseHandoff
	state.HandoffReason = "user_request"
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("hello??"))

	require.NoError(t, err)
	assert.Equal(t, PhaseHandoff, out.Phase)
	assert.Empty(t, out.Reply)
	assert.False(t, out.NotifyHandoff)
	assert.Zero(t, f.store.saves)
}

func TestNotAutomatedPhaseHandsOffBeforeAnyWork(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.AutomatedPhases[botconfig.PhaseScreening] = false
	f := newFixture(cfg)

	out, err := f.orch.HandleMessage(context.Background(), turn("hi there"))

	require.NoError(t, err)
	assert.Equal(t, "not_automated", out.HandoffReason)
	assert.Zero(t, f.extractor.calls)
}

func TestBeyondMaxPhaseHandsOff(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.MaxPhase = botconfig.PhaseScreening
	f := newFixture(cfg)
	state := NewState(cfg, &listing.Ref{ID: "apt-12"})
	state.Phase = PhasePropertyQA
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("does it allow pets?"))

	require.NoError(t, err)
	assert.Equal(t, "beyond_max_phase", out.HandoffReason)
	assert.Zero(t, f.gateway.calls)
}

func TestScreeningCompletionHonorsPropertyQAGate(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.RequireApproval[botconfig.PhasePropertyQA] = true
	f := newFixture(cfg)
	state := NewState(cfg, &listing.Ref{ID: "apt-12"})
	state.Phase = PhaseScreening
	state.ApplyAnswers(map[string]string{"full_name": "Dana Reyes", "budget": "2500"})
	f.store.mustPut(t, "acct-1", "lead-1", state)
	f.extractor.deltas = []screening.AnswerDelta{{"move_in_date": "2026-10-01"}}

	out, err := f.orch.HandleMessage(context.Background(), turn("october 1st"))

	require.NoError(t, err)
	assert.Equal(t, "approval_required", out.HandoffReason)
	assert.Zero(t, f.gateway.calls)

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.Equal(t, PhaseHandoff, saved.Phase)
}

func TestPropertyDetectionHonorsMaxPhase(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.MaxPhase = botconfig.PhasePropertyDetection
	f := newFixture(cfg)
	state := NewState(cfg, nil)
	state.Phase = PhasePropertyDetection
	state.ScreeningComplete = true
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(),
		turn("here: https://homes.example.com/listings/apt-12"))

	require.NoError(t, err)
	assert.Equal(t, "beyond_max_phase", out.HandoffReason)
	assert.Zero(t, f.gateway.calls)

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.Equal(t, PhaseHandoff, saved.Phase)
}

func TestUnparseableTurnsEscalate(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.MaxUnparseableTurns = 2
	f := newFixture(cfg)

	out, err := f.orch.HandleMessage(context.Background(), turn("asdf ghjk"))
	require.NoError(t, err)
	assert.Equal(t, PhaseScreening, out.Phase)
	assert.Empty(t, out.HandoffReason)

	out, err = f.orch.HandleMessage(context.Background(), TurnInput{
		AccountID: "acct-1", CounterpartyID: "lead-1", Text: "qwerty",
		Timestamp: time.Date(2026, 9, 1, 10, 5, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "unparseable", out.HandoffReason)
	assert.True(t, out.NotifyHandoff)
}

func TestParsedTurnResetsUnparseableCounter(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.MaxUnparseableTurns = 2
	f := newFixture(cfg)
	state := NewState(cfg, nil)
	state.UnparseableTurns = 1
	f.store.mustPut(t, "acct-1", "lead-1", state)
	f.extractor.deltas = []screening.AnswerDelta{{"full_name": "Dana Reyes"}}

	out, err := f.orch.HandleMessage(context.Background(), turn("I'm Dana Reyes"))

	require.NoError(t, err)
	assert.Empty(t, out.HandoffReason)
	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.Zero(t, saved.UnparseableTurns)
}

func TestPropertyQAAnswersViaGateway(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12"})
	state.Phase = PhasePropertyQA
	state.ScreeningComplete = true
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("how many bedrooms?"))

	require.NoError(t, err)
	assert.Equal(t, PhasePropertyQA, out.Phase)
	assert.Equal(t, "The unit has two bedrooms and in-unit laundry.", out.Reply)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestSchedulingIntentProposesSlots(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12"})
	state.Phase = PhasePropertyQA
	state.ScreeningComplete = true
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("can I come see it this week?"))

	require.NoError(t, err)
	assert.Equal(t, PhaseViewingProposal, out.Phase)
	assert.Contains(t, out.Reply, "1.")
	assert.Contains(t, out.Reply, "2.")

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	require.Len(t, saved.OfferedSlots, 2)
	assert.Equal(t, viewing.SlotOffered, saved.OfferedSlots[0].Status)
}

func TestNoAvailableSlotsHandsOff(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	f.proposer.err = viewing.ErrNoSlots
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12"})
	state.Phase = PhasePropertyQA
	state.ScreeningComplete = true
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("can I schedule a tour?"))

	require.NoError(t, err)
	assert.Equal(t, "no_slots", out.HandoffReason)
	assert.True(t, out.NotifyHandoff)
}

func TestSlotSelectionConfirmsBooking(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12", Title: "12 Main St #4B"})
	state.Phase = PhaseViewingProposal
	state.ScreeningComplete = true
	state.OfferedSlots = testSlots()
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("the first one works"))

	require.NoError(t, err)
	assert.Equal(t, PhaseFollowup, out.Phase)
	assert.Contains(t, out.Reply, "You're all set")

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.Equal(t, viewing.SlotConfirmed, saved.OfferedSlots[0].Status)
	assert.Equal(t, viewing.SlotOffered, saved.OfferedSlots[1].Status)

	require.Len(t, f.calendar.events, 1)
	assert.Equal(t, "apt-12", f.calendar.events[0].PropertyID)
	assert.True(t, f.calendar.events[0].Start.Equal(testSlots()[0].Start))
}

func TestBookingApprovalGateBlocksBeforeSideEffects(t *testing.T) {
	cfg := botconfig.Defaults()
	cfg.RequireApproval[botconfig.PhaseViewingBooking] = true
	f := newFixture(cfg)
	state := NewState(cfg, &listing.Ref{ID: "apt-12"})
	state.Phase = PhaseViewingProposal
	state.OfferedSlots = testSlots()
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("2 please"))

	require.NoError(t, err)
	assert.Equal(t, "approval_required", out.HandoffReason)
	assert.True(t, out.NotifyHandoff)
	assert.Empty(t, f.calendar.events)

	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.Equal(t, PhaseHandoff, saved.Phase)
	for _, slot := range saved.OfferedSlots {
		assert.Equal(t, viewing.SlotOffered, slot.Status)
	}
}

func TestAmbiguousSelectionAsksForClarification(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12"})
	state.Phase = PhaseViewingProposal
	state.OfferedSlots = testSlots()
	f.store.mustPut(t, "acct-1", "lead-1", state)

	// Two offers, a bare yes does not pick one.
	out, err := f.orch.HandleMessage(context.Background(), turn("yes"))

	require.NoError(t, err)
	assert.Equal(t, PhaseViewingProposal, out.Phase)
	assert.Contains(t, out.Reply, "which of these")
	assert.Empty(t, f.calendar.events)
}

func TestQuestionDuringProposalKeepsSlotsOpen(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12"})
	state.Phase = PhaseViewingProposal
	state.OfferedSlots = testSlots()
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(), turn("is there parking?"))

	require.NoError(t, err)
	assert.Equal(t, PhaseViewingProposal, out.Phase)
	assert.Contains(t, out.Reply, "The unit has two bedrooms")
	assert.Contains(t, out.Reply, "still open")
}

func TestUpstreamUnavailableLeavesStateUntouched(t *testing.T) {
	cfg := botconfig.Defaults()
	f := newFixture(cfg)
	state := NewState(cfg, &listing.Ref{ID: "apt-12"})
	state.Phase = PhasePropertyQA
	f.store.mustPut(t, "acct-1", "lead-1", state)
	f.gateway.err = fmt.Errorf("%w: all backends failed", llm.ErrUpstreamUnavailable)

	out, err := f.orch.HandleMessage(context.Background(), turn("how big is the kitchen?"))

	require.NoError(t, err)
	assert.Equal(t, cfg.FallbackMessage, out.Reply)
	assert.Equal(t, PhasePropertyQA, out.Phase)
	assert.Zero(t, f.store.saves)

	// The untouched state means the retry is not treated as a duplicate.
	saved := f.store.mustGet(t, "acct-1", "lead-1")
	assert.Nil(t, saved.LastInbound)
}

func TestUpstreamUnavailableDuringScreening(t *testing.T) {
	cfg := botconfig.Defaults()
	f := newFixture(cfg)
	f.extractor.err = fmt.Errorf("screening: extraction failed: %w", llm.ErrUpstreamUnavailable)

	out, err := f.orch.HandleMessage(context.Background(), turn("my budget is 2500"))

	require.NoError(t, err)
	assert.Equal(t, cfg.FallbackMessage, out.Reply)
	assert.Zero(t, f.store.saves)
}

func TestSaveFailureStillReturnsReply(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	f.store.saveErr = errors.New("connection refused")
	f.extractor.deltas = []screening.AnswerDelta{{"full_name": "Dana Reyes"}}

	out, err := f.orch.HandleMessage(context.Background(), turn("I'm Dana Reyes"))

	require.NoError(t, err)
	assert.NotEmpty(t, out.Reply)
}

func TestLoadFailureDegradesToFallback(t *testing.T) {
	cfg := botconfig.Defaults()
	f := newFixture(cfg)
	f.store.loadErr = errors.New("connection refused")

	out, err := f.orch.HandleMessage(context.Background(), turn("hello"))

	require.NoError(t, err)
	assert.Equal(t, cfg.FallbackMessage, out.Reply)
	assert.Zero(t, f.extractor.calls)
}

func TestFollowupRebookingReproposesSlots(t *testing.T) {
	f := newFixture(botconfig.Defaults())
	state := NewState(botconfig.Defaults(), &listing.Ref{ID: "apt-12"})
	state.Phase = PhaseFollowup
	f.store.mustPut(t, "acct-1", "lead-1", state)

	out, err := f.orch.HandleMessage(context.Background(),
		turn("something came up, can we schedule another time?"))

	require.NoError(t, err)
	assert.Equal(t, PhaseViewingProposal, out.Phase)
	assert.Contains(t, out.Reply, "1.")
}

func TestWantsHuman(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"can I speak to a person", true},
		{"I want to talk with an agent", true},
		{"get me a real person", true},
		{"is this a human?", true},
		{"the humane society is nearby", false},
		{"what's the rent?", false},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, wantsHuman(tc.text))
		})
	}
}

func TestWantsViewing(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"can I tour the place?", true},
		{"I'd like to see it in person", true},
		{"when can I visit?", true},
		{"let's schedule something", true},
		{"what's the square footage?", false},
		{"do you allow cats?", false},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, wantsViewing(tc.text))
		})
	}
}
