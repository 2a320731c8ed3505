package dialog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
)

// StartDrill begins a drill for a subscriber. The command carries a full
// snapshot of the drill definition and a drill instance id pre-minted by the
// initiator, so the engine never invents identity.
type StartDrill struct {
	phoneNumber     string
	drill           *models.Drill
	drillInstanceID uuid.UUID

	// allowUngated skips the validation/opt-out gate. Gating is the default
	// policy: drills do not start for subscribers who have not validated or
	// who have opted out.
	allowUngated bool
}

// StartDrillOption configures a StartDrill command.
type StartDrillOption func(*StartDrill)

// WithUngatedStart disables the validation/opt-out gate for this start.
func WithUngatedStart() StartDrillOption {
	return func(c *StartDrill) { c.allowUngated = true }
}

// NewStartDrill validates the drill snapshot up front: a malformed snapshot
// must be rejected here rather than stranding the subscriber mid-traversal.
func NewStartDrill(phoneNumber string, drill *models.Drill, drillInstanceID uuid.UUID, opts ...StartDrillOption) (*StartDrill, error) {
	if err := drill.Validate(); err != nil {
		return nil, fmt.Errorf("invalid drill snapshot: %w", err)
	}
	cmd := &StartDrill{
		phoneNumber:     phoneNumber,
		drill:           drill.Clone(),
		drillInstanceID: drillInstanceID,
	}
	for _, opt := range opts {
		opt(cmd)
	}
	return cmd, nil
}

// PhoneNumber returns the subscriber the command addresses.
func (c *StartDrill) PhoneNumber() string { return c.phoneNumber }

// Execute emits DrillStarted, unless the gate rejects the subscriber.
func (c *StartDrill) Execute(ctx context.Context, state *models.DialogState) ([]events.Event, error) {
	if !c.allowUngated && (state.UserProfile.OptedOut || !state.UserProfile.Validated) {
		slog.Warn("StartDrill rejected for non-validated or opted-out subscriber",
			"phone_number", c.phoneNumber, "drill", c.drill.Slug)
		return nil, nil
	}
	return []events.Event{
		&events.DrillStarted{
			Meta:            events.NewMeta(events.EventDrillStarted, c.phoneNumber, state.UserProfile),
			Drill:           c.drill.Clone(),
			FirstPrompt:     *c.drill.FirstPrompt(),
			DrillInstanceID: c.drillInstanceID,
		},
	}, nil
}

// SendAdHocMessage records an operator-initiated outbound message. Delivery
// is a consumer responsibility; the engine only emits the event.
type SendAdHocMessage struct {
	phoneNumber string
	message     events.OutboundMessage
}

// NewSendAdHocMessage creates the command.
func NewSendAdHocMessage(phoneNumber, body, mediaURL string) *SendAdHocMessage {
	return &SendAdHocMessage{
		phoneNumber: phoneNumber,
		message:     events.OutboundMessage{Body: body, MediaURL: mediaURL},
	}
}

// PhoneNumber returns the subscriber the command addresses.
func (c *SendAdHocMessage) PhoneNumber() string { return c.phoneNumber }

// Execute emits AdHocMessageSent.
func (c *SendAdHocMessage) Execute(ctx context.Context, state *models.DialogState) ([]events.Event, error) {
	return []events.Event{
		&events.AdHocMessageSent{
			Meta:    events.NewMeta(events.EventAdHocMessageSent, c.phoneNumber, state.UserProfile),
			Message: c.message,
		},
	}, nil
}

// UpdateProfile applies an operator-issued profile patch.
type UpdateProfile struct {
	phoneNumber string
	patch       models.ProfilePatch
}

// NewUpdateProfile validates the patch keys at construction.
func NewUpdateProfile(phoneNumber string, patch models.ProfilePatch) (*UpdateProfile, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile patch: %w", err)
	}
	return &UpdateProfile{phoneNumber: phoneNumber, patch: patch}, nil
}

// PhoneNumber returns the subscriber the command addresses.
func (c *UpdateProfile) PhoneNumber() string { return c.phoneNumber }

// Execute emits UserProfileUpdated.
func (c *UpdateProfile) Execute(ctx context.Context, state *models.DialogState) ([]events.Event, error) {
	return []events.Event{
		&events.UserProfileUpdated{
			Meta:  events.NewMeta(events.EventUserProfileUpdated, c.phoneNumber, state.UserProfile),
			Patch: c.patch,
		},
	}, nil
}

// TriggerReminder nudges a subscriber idle on a prompt. The command names the
// drill instance and prompt it was scheduled for; if the subscriber has moved
// on, or the reminder already fired, it is a no-op. That makes redelivery of
// the same trigger harmless.
type TriggerReminder struct {
	phoneNumber     string
	drillInstanceID uuid.UUID
	promptSlug      string
}

// NewTriggerReminder creates the command.
func NewTriggerReminder(phoneNumber string, drillInstanceID uuid.UUID, promptSlug string) *TriggerReminder {
	return &TriggerReminder{
		phoneNumber:     phoneNumber,
		drillInstanceID: drillInstanceID,
		promptSlug:      promptSlug,
	}
}

// PhoneNumber returns the subscriber the command addresses.
func (c *TriggerReminder) PhoneNumber() string { return c.phoneNumber }

// Execute emits ReminderTriggered while the addressed prompt is still
// current and unreminded.
func (c *TriggerReminder) Execute(ctx context.Context, state *models.DialogState) ([]events.Event, error) {
	if state.DrillInstanceID == nil || *state.DrillInstanceID != c.drillInstanceID {
		slog.Debug("TriggerReminder drill instance no longer current",
			"phone_number", c.phoneNumber, "drill_instance_id", c.drillInstanceID)
		return nil, nil
	}
	ps := state.CurrentPromptState
	if ps == nil || ps.Slug != c.promptSlug || ps.ReminderTriggered {
		return nil, nil
	}
	return []events.Event{
		&events.ReminderTriggered{
			Meta:            events.NewMeta(events.EventReminderTriggered, c.phoneNumber, state.UserProfile),
			DrillInstanceID: c.drillInstanceID,
			PromptSlug:      c.promptSlug,
		},
	}, nil
}
