// Package events defines the domain events of the dialog engine.
//
// Every event is an immutable record of exactly one deterministic mutation of
// dialog state. Events carry a copy of the user profile as it was before the
// event's own effect, so downstream consumers see pre-mutation snapshots.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/BellwoodLabs/DrillLine/internal/models"
	"github.com/BellwoodLabs/DrillLine/internal/registration"
)

// EventType tags each event variant.
type EventType string

const (
	EventDrillStarted                 EventType = "DRILL_STARTED"
	EventReminderTriggered            EventType = "REMINDER_TRIGGERED"
	EventUserValidated                EventType = "USER_VALIDATED"
	EventUserValidationFailed         EventType = "USER_VALIDATION_FAILED"
	EventCompletedPrompt              EventType = "COMPLETED_PROMPT"
	EventFailedPrompt                 EventType = "FAILED_PROMPT"
	EventAdvancedToNextPrompt         EventType = "ADVANCED_TO_NEXT_PROMPT"
	EventDrillCompleted               EventType = "DRILL_COMPLETED"
	EventOptedOut                     EventType = "OPTED_OUT"
	EventNextDrillRequested           EventType = "NEXT_DRILL_REQUESTED"
	EventSchedulingDrillRequested     EventType = "SCHEDULING_DRILL_REQUESTED"
	EventNameChangeDrillRequested     EventType = "NAME_CHANGE_DRILL_REQUESTED"
	EventLanguageChangeDrillRequested EventType = "LANGUAGE_CHANGE_DRILL_REQUESTED"
	EventMenuRequested                EventType = "MENU_REQUESTED"
	EventSupportRequested             EventType = "SUPPORT_REQUESTED"
	EventManagerDashboardRequested    EventType = "MANAGER_DASHBOARD_REQUESTED"
	EventDemoDrillRequested           EventType = "DEMO_DRILL_REQUESTED"
	EventThankYouReceived             EventType = "THANK_YOU_RECEIVED"
	EventAdHocMessageSent             EventType = "AD_HOC_MESSAGE_SENT"
	EventUserProfileUpdated           EventType = "USER_PROFILE_UPDATED"
	EventUnhandledMessageReceived     EventType = "UNHANDLED_MESSAGE_RECEIVED"
)

// Event is one deterministic state transition. Apply is the only sanctioned
// mutator of DialogState; it branches on nothing but the event's own fields
// and the state's current shape.
type Event interface {
	Type() EventType
	Apply(state *models.DialogState)
}

// Meta carries the fields common to every event variant.
type Meta struct {
	EventType     EventType          `json:"event_type"`
	PhoneNumber   string             `json:"phone_number"`
	EventID       uuid.UUID          `json:"event_id"`
	CreatedTime   time.Time          `json:"created_time"`
	SchemaVersion int                `json:"schema_version"`
	UserProfile   models.UserProfile `json:"user_profile"`
}

// NewMeta stamps a fresh event id and creation time and snapshots the given
// profile. Callers pass the profile before the event's effect is applied.
func NewMeta(t EventType, phoneNumber string, profile models.UserProfile) Meta {
	return Meta{
		EventType:     t,
		PhoneNumber:   phoneNumber,
		EventID:       uuid.New(),
		CreatedTime:   time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
		UserProfile:   profile.Clone(),
	}
}

// OutboundMessage is the body of an ad-hoc message, with an optional media
// attachment reference.
type OutboundMessage struct {
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
}

// DrillStarted records that a drill began. The full drill definition travels
// on the event so the snapshot in state is insulated from later content edits.
type DrillStarted struct {
	Meta
	Drill           *models.Drill `json:"drill"`
	FirstPrompt     models.Prompt `json:"first_prompt"`
	DrillInstanceID uuid.UUID     `json:"drill_instance_id"`
}

func (e *DrillStarted) Type() EventType { return EventDrillStarted }

func (e *DrillStarted) Apply(state *models.DialogState) {
	state.CurrentDrill = e.Drill.Clone()
	id := e.DrillInstanceID
	state.DrillInstanceID = &id
	state.CurrentPromptState = &models.PromptState{
		Slug:      e.FirstPrompt.Slug,
		StartTime: e.CreatedTime,
	}
}

// ReminderTriggered records that an idle-prompt reminder went out for the
// given drill instance and prompt.
type ReminderTriggered struct {
	Meta
	DrillInstanceID uuid.UUID `json:"drill_instance_id"`
	PromptSlug      string    `json:"prompt_slug"`
}

func (e *ReminderTriggered) Type() EventType { return EventReminderTriggered }

func (e *ReminderTriggered) Apply(state *models.DialogState) {
	if state.CurrentPromptState != nil {
		state.CurrentPromptState.ReminderTriggered = true
	}
}

// UserValidated records a successful registration-code validation.
// Re-validation always interrupts an active drill.
type UserValidated struct {
	Meta
	CodeValidationPayload registration.CodeValidationPayload `json:"code_validation_payload"`
}

func (e *UserValidated) Type() EventType { return EventUserValidated }

func (e *UserValidated) Apply(state *models.DialogState) {
	state.ClearDrill()
	state.UserProfile.Validated = true
	state.UserProfile.IsDemo = e.CodeValidationPayload.IsDemo
	state.UserProfile.AccountInfo = e.CodeValidationPayload.AccountInfo
}

// UserValidationFailed records a rejected registration code.
type UserValidationFailed struct {
	Meta
}

func (e *UserValidationFailed) Type() EventType { return EventUserValidationFailed }

func (e *UserValidationFailed) Apply(state *models.DialogState) {}

// CompletedPrompt records a reply that advanced past a prompt, either because
// it was graded correct or because the prompt is ungraded.
type CompletedPrompt struct {
	Meta
	Prompt          models.Prompt `json:"prompt"`
	Response        string        `json:"response"`
	DrillInstanceID uuid.UUID     `json:"drill_instance_id"`
}

func (e *CompletedPrompt) Type() EventType { return EventCompletedPrompt }

func (e *CompletedPrompt) Apply(state *models.DialogState) {
	state.CurrentPromptState = nil
	if e.Prompt.StoresAnswer() {
		// Keys are validated when drill content is constructed.
		_ = state.UserProfile.Set(e.Prompt.ResponseProfileKey, e.Response)
	}
}

// FailedPrompt records a reply graded incorrect. Response is nil when the
// reply was empty, preserving the distinction between "no answer given" and
// "answered with whitespace". Abandoned marks the failure that exhausted the
// prompt's tolerance.
type FailedPrompt struct {
	Meta
	Prompt          models.Prompt `json:"prompt"`
	Response        *string       `json:"response"`
	Abandoned       bool          `json:"abandoned"`
	DrillInstanceID uuid.UUID     `json:"drill_instance_id"`
}

func (e *FailedPrompt) Type() EventType { return EventFailedPrompt }

func (e *FailedPrompt) Apply(state *models.DialogState) {
	if e.Abandoned {
		state.CurrentPromptState = nil
		return
	}
	t := e.CreatedTime
	state.CurrentPromptState.LastResponseTime = &t
	state.CurrentPromptState.Failures++
}

// AdvancedToNextPrompt records the traversal moving to the next prompt.
type AdvancedToNextPrompt struct {
	Meta
	Prompt          models.Prompt `json:"prompt"`
	DrillInstanceID uuid.UUID     `json:"drill_instance_id"`
}

func (e *AdvancedToNextPrompt) Type() EventType { return EventAdvancedToNextPrompt }

func (e *AdvancedToNextPrompt) Apply(state *models.DialogState) {
	state.CurrentPromptState = &models.PromptState{
		Slug:      e.Prompt.Slug,
		StartTime: e.CreatedTime,
	}
}

// DrillCompleted records the end of a drill instance. AutoContinue tells
// downstream consumers to initiate the next drill immediately.
type DrillCompleted struct {
	Meta
	DrillInstanceID uuid.UUID `json:"drill_instance_id"`
	AutoContinue    bool      `json:"auto_continue,omitempty"`
}

func (e *DrillCompleted) Type() EventType { return EventDrillCompleted }

func (e *DrillCompleted) Apply(state *models.DialogState) {
	state.ClearDrill()
}

// OptedOut records an opt-out keyword. DrillInstanceID carries the drill in
// progress at the time, if any.
type OptedOut struct {
	Meta
	DrillInstanceID *uuid.UUID `json:"drill_instance_id"`
}

func (e *OptedOut) Type() EventType { return EventOptedOut }

func (e *OptedOut) Apply(state *models.DialogState) {
	state.ClearDrill()
	state.UserProfile.OptedOut = true
}

// NextDrillRequested records a request for the next drill, which also serves
// as the re-opt-in path.
type NextDrillRequested struct {
	Meta
}

func (e *NextDrillRequested) Type() EventType { return EventNextDrillRequested }

func (e *NextDrillRequested) Apply(state *models.DialogState) {
	state.UserProfile.OptedOut = false
}

// interruptRequest is the shared apply for keyword intents that abandon any
// in-progress drill and hand control to a downstream flow.
func interruptRequest(state *models.DialogState) {
	state.ClearDrill()
	state.UserProfile.OptedOut = false
}

// SchedulingDrillRequested records a schedule-change keyword.
type SchedulingDrillRequested struct {
	Meta
	AbandonedDrillInstanceID *uuid.UUID `json:"abandoned_drill_instance_id,omitempty"`
}

func (e *SchedulingDrillRequested) Type() EventType { return EventSchedulingDrillRequested }

func (e *SchedulingDrillRequested) Apply(state *models.DialogState) { interruptRequest(state) }

// NameChangeDrillRequested records a name-change keyword.
type NameChangeDrillRequested struct {
	Meta
	AbandonedDrillInstanceID *uuid.UUID `json:"abandoned_drill_instance_id,omitempty"`
}

func (e *NameChangeDrillRequested) Type() EventType { return EventNameChangeDrillRequested }

func (e *NameChangeDrillRequested) Apply(state *models.DialogState) { interruptRequest(state) }

// LanguageChangeDrillRequested records a language-change keyword.
type LanguageChangeDrillRequested struct {
	Meta
	AbandonedDrillInstanceID *uuid.UUID `json:"abandoned_drill_instance_id,omitempty"`
}

func (e *LanguageChangeDrillRequested) Type() EventType { return EventLanguageChangeDrillRequested }

func (e *LanguageChangeDrillRequested) Apply(state *models.DialogState) { interruptRequest(state) }

// MenuRequested records a menu keyword.
type MenuRequested struct {
	Meta
	AbandonedDrillInstanceID *uuid.UUID `json:"abandoned_drill_instance_id,omitempty"`
}

func (e *MenuRequested) Type() EventType { return EventMenuRequested }

func (e *MenuRequested) Apply(state *models.DialogState) { interruptRequest(state) }

// SupportRequested records a support keyword.
type SupportRequested struct {
	Meta
	AbandonedDrillInstanceID *uuid.UUID `json:"abandoned_drill_instance_id,omitempty"`
}

func (e *SupportRequested) Type() EventType { return EventSupportRequested }

func (e *SupportRequested) Apply(state *models.DialogState) { interruptRequest(state) }

// ManagerDashboardRequested records a dashboard keyword.
type ManagerDashboardRequested struct {
	Meta
	AbandonedDrillInstanceID *uuid.UUID `json:"abandoned_drill_instance_id,omitempty"`
}

func (e *ManagerDashboardRequested) Type() EventType { return EventManagerDashboardRequested }

func (e *ManagerDashboardRequested) Apply(state *models.DialogState) { interruptRequest(state) }

// DemoDrillRequested records the demo-trigger keyword.
type DemoDrillRequested struct {
	Meta
	AbandonedDrillInstanceID *uuid.UUID `json:"abandoned_drill_instance_id,omitempty"`
}

func (e *DemoDrillRequested) Type() EventType { return EventDemoDrillRequested }

func (e *DemoDrillRequested) Apply(state *models.DialogState) { interruptRequest(state) }

// ThankYouReceived records a thank-you phrase; the acknowledgment reply is a
// consumer responsibility.
type ThankYouReceived struct {
	Meta
}

func (e *ThankYouReceived) Type() EventType { return EventThankYouReceived }

func (e *ThankYouReceived) Apply(state *models.DialogState) {}

// AdHocMessageSent records an operator-initiated outbound message.
type AdHocMessageSent struct {
	Meta
	Message OutboundMessage `json:"message"`
}

func (e *AdHocMessageSent) Type() EventType { return EventAdHocMessageSent }

func (e *AdHocMessageSent) Apply(state *models.DialogState) {}

// UserProfileUpdated records an operator-issued profile patch.
type UserProfileUpdated struct {
	Meta
	Patch models.ProfilePatch `json:"patch"`
}

func (e *UserProfileUpdated) Type() EventType { return EventUserProfileUpdated }

func (e *UserProfileUpdated) Apply(state *models.DialogState) {
	// Patch keys are validated when the command is constructed.
	_ = e.Patch.ApplyTo(&state.UserProfile)
}

// UnhandledMessageReceived is the fallback for free text no handler claimed.
type UnhandledMessageReceived struct {
	Meta
	Message string `json:"message"`
}

func (e *UnhandledMessageReceived) Type() EventType { return EventUnhandledMessageReceived }

func (e *UnhandledMessageReceived) Apply(state *models.DialogState) {}
