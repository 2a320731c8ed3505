package dialog

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
	"github.com/BellwoodLabs/DrillLine/internal/registration"
	"github.com/BellwoodLabs/DrillLine/internal/store"
)

const testPhone = "+15551230000"

// fakeValidator returns canned verdicts per code; unknown codes are invalid.
type fakeValidator struct {
	payloads map[string]registration.CodeValidationPayload
	err      error
	calls    int
}

func (f *fakeValidator) ValidateCode(ctx context.Context, code string) (registration.CodeValidationPayload, error) {
	f.calls++
	if f.err != nil {
		return registration.CodeValidationPayload{}, f.err
	}
	return f.payloads[code], nil
}

type engineFixture struct {
	engine    *Engine
	store     *store.InMemoryStore
	validator *fakeValidator
	seq       int64
}

func newFixture() *engineFixture {
	st := store.NewInMemoryStore()
	return &engineFixture{
		engine: NewEngine(st),
		store:  st,
		validator: &fakeValidator{payloads: map[string]registration.CodeValidationPayload{
			"valid-code": {Valid: true, AccountInfo: map[string]any{"employer": "acme"}},
			"demo-code":  {Valid: true, IsDemo: true},
		}},
	}
}

// process runs a command at the next sequence position.
func (f *engineFixture) process(t *testing.T, cmd Command) *events.DialogEventBatch {
	t.Helper()
	f.seq++
	batch, err := f.engine.ProcessCommand(context.Background(), cmd, strconv.FormatInt(f.seq, 10))
	if err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	return batch
}

func (f *engineFixture) sms(t *testing.T, content string) *events.DialogEventBatch {
	t.Helper()
	return f.process(t, NewProcessInboundMessage(testPhone, content, f.validator))
}

func (f *engineFixture) state(t *testing.T) *models.DialogState {
	t.Helper()
	state, err := f.store.FetchDialogState(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("FetchDialogState: %v", err)
	}
	return state
}

// validate brings the subscriber past registration.
func (f *engineFixture) validate(t *testing.T) {
	t.Helper()
	assertEventTypes(t, f.sms(t, "valid-code"), events.EventUserValidated)
}

// startDrill puts the subscriber mid-drill and returns the instance id.
func (f *engineFixture) startDrill(t *testing.T, drill *models.Drill) uuid.UUID {
	t.Helper()
	id := uuid.New()
	cmd, err := NewStartDrill(testPhone, drill, id)
	if err != nil {
		t.Fatalf("NewStartDrill: %v", err)
	}
	assertEventTypes(t, f.process(t, cmd), events.EventDrillStarted)
	return id
}

func assertEventTypes(t *testing.T, batch *events.DialogEventBatch, want ...events.EventType) {
	t.Helper()
	if batch == nil {
		t.Fatalf("expected a batch with events %v, got nil", want)
	}
	if len(batch.Events) != len(want) {
		t.Fatalf("got %d events %v, want %v", len(batch.Events), typesOf(batch), want)
	}
	for i, ev := range batch.Events {
		if ev.Type() != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, ev.Type(), want[i], typesOf(batch))
		}
	}
}

func typesOf(batch *events.DialogEventBatch) []events.EventType {
	out := make([]events.EventType, len(batch.Events))
	for i, ev := range batch.Events {
		out[i] = ev.Type()
	}
	return out
}

func trainingDrill() *models.Drill {
	return &models.Drill{
		Slug: "knife-safety",
		Name: "Knife Safety",
		Prompts: []models.Prompt{
			{Slug: "intro", Messages: []models.PromptMessage{{Text: "Welcome"}}},
			{Slug: "q1", Messages: []models.PromptMessage{{Text: "How do you hold the food?"}}, CorrectResponse: "b) curl your fingers"},
			{Slug: "store-name", Messages: []models.PromptMessage{{Text: "What is your name?"}}, ResponseProfileKey: models.ProfileKeyName},
			{Slug: "wrap-up", Messages: []models.PromptMessage{{Text: "Done!"}}},
		},
	}
}

func singlePromptDrill() *models.Drill {
	return &models.Drill{
		Slug:    "checkin",
		Name:    "Check In",
		Prompts: []models.Prompt{{Slug: "only", Messages: []models.PromptMessage{{Text: "Ready?"}}}},
	}
}

func TestSequenceIdempotency(t *testing.T) {
	f := newFixture()
	f.validate(t)

	batch, err := f.engine.ProcessCommand(context.Background(),
		NewProcessInboundMessage(testPhone, "thanks", f.validator), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch != nil {
		t.Error("replay at an already processed seq should return a nil batch")
	}
	if got := len(f.store.EventBatches(testPhone)); got != 1 {
		t.Errorf("store has %d batches, want 1 (replay must not persist)", got)
	}
	if f.state(t).Seq != "1" {
		t.Errorf("state seq = %q, want 1", f.state(t).Seq)
	}
}

func TestInvalidSeqRejected(t *testing.T) {
	f := newFixture()
	_, err := f.engine.ProcessCommand(context.Background(),
		NewProcessInboundMessage(testPhone, "hi", f.validator), "not-a-number")
	if err == nil {
		t.Error("expected error for non-numeric seq")
	}
}

func TestRegistrationFlow(t *testing.T) {
	f := newFixture()

	assertEventTypes(t, f.sms(t, "wrong-code"), events.EventUserValidationFailed)
	if f.state(t).UserProfile.Validated {
		t.Error("failed validation should not mark the profile validated")
	}

	assertEventTypes(t, f.sms(t, "valid-code"), events.EventUserValidated)
	state := f.state(t)
	if !state.UserProfile.Validated {
		t.Error("profile not validated")
	}
	if state.UserProfile.AccountInfo["employer"] != "acme" {
		t.Error("account info not stored on validation")
	}
}

func TestValidatorErrorPropagates(t *testing.T) {
	f := newFixture()
	f.validator.err = errors.New("account service down")
	_, err := f.engine.ProcessCommand(context.Background(),
		NewProcessInboundMessage(testPhone, "some-code", f.validator), "1")
	if err == nil {
		t.Fatal("expected validator error to propagate")
	}
	if got := len(f.store.EventBatches(testPhone)); got != 0 {
		t.Errorf("failed command persisted %d batches, want 0", got)
	}
}

func TestStartDrillGatedByDefault(t *testing.T) {
	f := newFixture()
	cmd, err := NewStartDrill(testPhone, trainingDrill(), uuid.New())
	if err != nil {
		t.Fatalf("NewStartDrill: %v", err)
	}
	batch := f.process(t, cmd)
	assertEventTypes(t, batch)
	if f.state(t).MidDrill() {
		t.Error("gated start must not begin a drill for an unvalidated subscriber")
	}
}

func TestStartDrillUngated(t *testing.T) {
	f := newFixture()
	cmd, err := NewStartDrill(testPhone, trainingDrill(), uuid.New(), WithUngatedStart())
	if err != nil {
		t.Fatalf("NewStartDrill: %v", err)
	}
	assertEventTypes(t, f.process(t, cmd), events.EventDrillStarted)
	if !f.state(t).MidDrill() {
		t.Error("ungated start should begin the drill")
	}
}

func TestStartDrillRejectsInvalidSnapshot(t *testing.T) {
	if _, err := NewStartDrill(testPhone, &models.Drill{Slug: "x"}, uuid.New()); err == nil {
		t.Error("expected error for invalid drill snapshot")
	}
}

func TestDrillTraversal(t *testing.T) {
	f := newFixture()
	f.validate(t)
	id := f.startDrill(t, trainingDrill())

	state := f.state(t)
	if state.DrillInstanceID == nil || *state.DrillInstanceID != id {
		t.Fatal("drill instance id not persisted")
	}
	if state.CurrentPromptState.Slug != "intro" {
		t.Fatalf("current prompt = %q, want intro", state.CurrentPromptState.Slug)
	}

	// Ungraded prompt advances on anything.
	assertEventTypes(t, f.sms(t, "ok"),
		events.EventCompletedPrompt, events.EventAdvancedToNextPrompt)
	if f.state(t).CurrentPromptState.Slug != "q1" {
		t.Fatalf("current prompt = %q, want q1", f.state(t).CurrentPromptState.Slug)
	}

	// First wrong answer repeats the prompt.
	batch := f.sms(t, "stab it")
	assertEventTypes(t, batch, events.EventFailedPrompt)
	failed := batch.Events[0].(*events.FailedPrompt)
	if failed.Abandoned {
		t.Error("first failure should not abandon the prompt")
	}
	if f.state(t).CurrentPromptState.Failures != 1 {
		t.Errorf("failures = %d, want 1", f.state(t).CurrentPromptState.Failures)
	}

	// Correct answer moves on.
	assertEventTypes(t, f.sms(t, "b"),
		events.EventCompletedPrompt, events.EventAdvancedToNextPrompt)
	if f.state(t).CurrentPromptState.Slug != "store-name" {
		t.Fatalf("current prompt = %q, want store-name", f.state(t).CurrentPromptState.Slug)
	}

	// Profile-storing prompt writes the answer; next prompt is the last, so
	// completion rides along with the advance.
	assertEventTypes(t, f.sms(t, "Ana"),
		events.EventCompletedPrompt, events.EventAdvancedToNextPrompt, events.EventDrillCompleted)
	state = f.state(t)
	if state.UserProfile.Name != "Ana" {
		t.Errorf("profile name = %q, want Ana", state.UserProfile.Name)
	}
	if state.MidDrill() {
		t.Error("completed drill should clear mid-drill state")
	}
}

func TestGradedPromptAbandonedAfterMaxFailures(t *testing.T) {
	f := newFixture()
	f.validate(t)
	f.startDrill(t, trainingDrill())
	f.sms(t, "ok") // past intro, q1 is current

	assertEventTypes(t, f.sms(t, "wrong once"), events.EventFailedPrompt)

	// Default tolerance is one failure; the second wrong answer abandons the
	// prompt and moves on.
	batch := f.sms(t, "wrong twice")
	assertEventTypes(t, batch, events.EventFailedPrompt, events.EventAdvancedToNextPrompt)
	if !batch.Events[0].(*events.FailedPrompt).Abandoned {
		t.Error("final failure should be marked abandoned")
	}
	if f.state(t).CurrentPromptState.Slug != "store-name" {
		t.Errorf("current prompt = %q, want store-name", f.state(t).CurrentPromptState.Slug)
	}
}

func TestAbandonedPromptBeforeLastCompletesDrill(t *testing.T) {
	f := newFixture()
	f.validate(t)
	drill := &models.Drill{
		Slug: "quick-quiz",
		Name: "Quick Quiz",
		Prompts: []models.Prompt{
			{Slug: "question", Messages: []models.PromptMessage{{Text: "Which hand?"}}, CorrectResponse: "a) the left"},
			{Slug: "goodbye", Messages: []models.PromptMessage{{Text: "All done"}}},
		},
	}
	f.startDrill(t, drill)

	assertEventTypes(t, f.sms(t, "no idea"), events.EventFailedPrompt)

	// Abandoning the second-to-last prompt lands on the final ungraded prompt,
	// so the completion rides in the same batch as the advance.
	batch := f.sms(t, "still no idea")
	assertEventTypes(t, batch,
		events.EventFailedPrompt, events.EventAdvancedToNextPrompt, events.EventDrillCompleted)
	if !batch.Events[0].(*events.FailedPrompt).Abandoned {
		t.Error("final failure should be marked abandoned")
	}
	if f.state(t).MidDrill() {
		t.Error("abandonment onto the last prompt should clear mid-drill state")
	}
}

func TestEmptyReplyToGradedPrompt(t *testing.T) {
	f := newFixture()
	f.validate(t)
	f.startDrill(t, trainingDrill())
	f.sms(t, "ok")

	batch := f.sms(t, "   ")
	assertEventTypes(t, batch, events.EventFailedPrompt)
	if batch.Events[0].(*events.FailedPrompt).Response != nil {
		t.Error("whitespace-only reply should be recorded as a nil response")
	}
}

func TestSinglePromptDrillCompletesDirectly(t *testing.T) {
	f := newFixture()
	f.validate(t)
	f.startDrill(t, singlePromptDrill())

	assertEventTypes(t, f.sms(t, "yes"),
		events.EventCompletedPrompt, events.EventDrillCompleted)
	if f.state(t).MidDrill() {
		t.Error("single-prompt drill should complete on its one reply")
	}
}

func TestOptOutFlow(t *testing.T) {
	f := newFixture()
	f.validate(t)
	id := f.startDrill(t, trainingDrill())

	batch := f.sms(t, "STOP")
	assertEventTypes(t, batch, events.EventOptedOut)
	opted := batch.Events[0].(*events.OptedOut)
	if opted.DrillInstanceID == nil || *opted.DrillInstanceID != id {
		t.Error("opt-out should carry the abandoned drill instance id")
	}
	state := f.state(t)
	if !state.UserProfile.OptedOut || state.MidDrill() {
		t.Errorf("opt-out not applied: %+v", state)
	}

	// Everything but the re-opt-in keyword is absorbed.
	assertEventTypes(t, f.sms(t, "hello?"))
	assertEventTypes(t, f.sms(t, "valid-code"))

	assertEventTypes(t, f.sms(t, "start"), events.EventNextDrillRequested)
	if f.state(t).UserProfile.OptedOut {
		t.Error("start keyword should clear the opt-out flag")
	}
}

func TestInterruptKeywordsPreemptGrading(t *testing.T) {
	f := newFixture()
	f.validate(t)
	id := f.startDrill(t, trainingDrill())
	f.sms(t, "ok") // q1 current

	batch := f.sms(t, "menu")
	assertEventTypes(t, batch, events.EventMenuRequested)
	menu := batch.Events[0].(*events.MenuRequested)
	if menu.AbandonedDrillInstanceID == nil || *menu.AbandonedDrillInstanceID != id {
		t.Error("menu request should carry the abandoned drill instance id")
	}
	if f.state(t).MidDrill() {
		t.Error("menu request should abandon the drill")
	}
}

func TestGradingPreemptsLaterKeywords(t *testing.T) {
	f := newFixture()
	f.validate(t)
	f.startDrill(t, trainingDrill())
	f.sms(t, "ok") // q1 current

	// "start" is a keyword, but while a graded prompt awaits a reply it is
	// treated as an answer.
	assertEventTypes(t, f.sms(t, "start"), events.EventFailedPrompt)
	if !f.state(t).MidDrill() {
		t.Error("keyword-shaped answer should not leave the drill")
	}
}

func TestHelpAbsorbed(t *testing.T) {
	f := newFixture()
	f.validate(t)
	assertEventTypes(t, f.sms(t, "HELP"))
}

func TestNamedIntentKeywords(t *testing.T) {
	tests := []struct {
		content string
		want    events.EventType
	}{
		{"name", events.EventNameChangeDrillRequested},
		{"nombre", events.EventNameChangeDrillRequested},
		{"language", events.EventLanguageChangeDrillRequested},
		{"idioma", events.EventLanguageChangeDrillRequested},
		{"schedule", events.EventSchedulingDrillRequested},
		{"horario", events.EventSchedulingDrillRequested},
		{"support", events.EventSupportRequested},
		{"dashboard", events.EventManagerDashboardRequested},
		{"demo", events.EventDemoDrillRequested},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			f := newFixture()
			f.validate(t)
			assertEventTypes(t, f.sms(t, tt.content), tt.want)
		})
	}
}

func TestNextDrillKeyword(t *testing.T) {
	f := newFixture()
	f.validate(t)
	assertEventTypes(t, f.sms(t, "more"), events.EventNextDrillRequested)
	assertEventTypes(t, f.sms(t, "más"), events.EventNextDrillRequested)
}

func TestStartRequestsDrillWhenIdle(t *testing.T) {
	f := newFixture()
	f.validate(t)
	assertEventTypes(t, f.sms(t, "empezar"), events.EventNextDrillRequested)
}

func TestThankYouPhrase(t *testing.T) {
	f := newFixture()
	f.validate(t)
	assertEventTypes(t, f.sms(t, "thanks so much!"), events.EventThankYouReceived)
	assertEventTypes(t, f.sms(t, "muchas gracias"), events.EventThankYouReceived)
}

func TestUnhandledFallback(t *testing.T) {
	f := newFixture()
	f.validate(t)
	batch := f.sms(t, "what time is the shift tomorrow")
	assertEventTypes(t, batch, events.EventUnhandledMessageReceived)
	ev := batch.Events[0].(*events.UnhandledMessageReceived)
	if ev.Message != "what time is the shift tomorrow" {
		t.Errorf("message = %q", ev.Message)
	}
}

func TestDemoRevalidationMidDrill(t *testing.T) {
	f := newFixture()
	assertEventTypes(t, f.sms(t, "demo-code"), events.EventUserValidated)
	f.startDrill(t, trainingDrill())

	// A valid code from a demo account restarts registration, abandoning the
	// drill in progress.
	assertEventTypes(t, f.sms(t, "demo-code"), events.EventUserValidated)
	if f.state(t).MidDrill() {
		t.Error("revalidation should abandon the drill")
	}

	// A non-code message falls through to the rest of the chain.
	f.startDrill(t, trainingDrill())
	assertEventTypes(t, f.sms(t, "ok"),
		events.EventCompletedPrompt, events.EventAdvancedToNextPrompt)
}

func TestTriggerReminder(t *testing.T) {
	f := newFixture()
	f.validate(t)
	id := f.startDrill(t, trainingDrill())

	assertEventTypes(t, f.process(t, NewTriggerReminder(testPhone, id, "intro")),
		events.EventReminderTriggered)
	if !f.state(t).CurrentPromptState.ReminderTriggered {
		t.Error("reminder flag not persisted")
	}

	// A second trigger for the same prompt is a no-op.
	assertEventTypes(t, f.process(t, NewTriggerReminder(testPhone, id, "intro")))

	// A trigger for a prompt the subscriber has moved past is a no-op.
	f.sms(t, "ok")
	assertEventTypes(t, f.process(t, NewTriggerReminder(testPhone, id, "intro")))

	// A trigger for a stale drill instance is a no-op.
	assertEventTypes(t, f.process(t, NewTriggerReminder(testPhone, uuid.New(), "q1")))
}

func TestSendAdHocMessage(t *testing.T) {
	f := newFixture()
	f.validate(t)
	batch := f.process(t, NewSendAdHocMessage(testPhone, "Shift starts at 9", "https://example.com/map.png"))
	assertEventTypes(t, batch, events.EventAdHocMessageSent)
	ev := batch.Events[0].(*events.AdHocMessageSent)
	if ev.Message.Body != "Shift starts at 9" || ev.Message.MediaURL != "https://example.com/map.png" {
		t.Errorf("message = %+v", ev.Message)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture()
	f.validate(t)
	cmd, err := NewUpdateProfile(testPhone, models.ProfilePatch{
		models.ProfileKeyName:     "Ana",
		models.ProfileKeyLanguage: "Spanish",
	})
	if err != nil {
		t.Fatalf("NewUpdateProfile: %v", err)
	}
	assertEventTypes(t, f.process(t, cmd), events.EventUserProfileUpdated)
	state := f.state(t)
	if state.UserProfile.Name != "Ana" || state.UserProfile.Language != "sp" {
		t.Errorf("profile = %+v", state.UserProfile)
	}

	if _, err := NewUpdateProfile(testPhone, models.ProfilePatch{"favorite_color": "blue"}); err == nil {
		t.Error("expected error for invalid patch key")
	}
}

func TestMidDrillFieldsMoveTogether(t *testing.T) {
	f := newFixture()
	f.validate(t)
	f.startDrill(t, singlePromptDrill())

	state := f.state(t)
	if state.CurrentDrill == nil || state.DrillInstanceID == nil || state.CurrentPromptState == nil {
		t.Fatal("mid-drill fields should all be set")
	}
	f.sms(t, "done")
	state = f.state(t)
	if state.CurrentDrill != nil || state.DrillInstanceID != nil || state.CurrentPromptState != nil {
		t.Fatal("mid-drill fields should all be nil after completion")
	}
}
