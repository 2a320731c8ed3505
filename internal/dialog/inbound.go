package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
	"github.com/BellwoodLabs/DrillLine/internal/registration"
)

// ProcessInboundMessage classifies one free-text message against the current
// dialog state and converts it into events.
//
// Classification is a first-match chain of responsibility over a fixed,
// ordered handler list. A handler either claims the message (possibly with
// zero events) or passes it to the next. Precedence matters: a graded reply
// while a prompt is pending pre-empts keyword routing, so keyword text typed
// as an answer during a drill is graded, not routed.
type ProcessInboundMessage struct {
	phoneNumber  string
	content      string
	contentLower string
	validator    registration.Validator
}

// NewProcessInboundMessage creates the command for one inbound message.
func NewProcessInboundMessage(phoneNumber, content string, validator registration.Validator) *ProcessInboundMessage {
	trimmed := strings.TrimSpace(content)
	return &ProcessInboundMessage{
		phoneNumber:  phoneNumber,
		content:      trimmed,
		contentLower: strings.ToLower(trimmed),
		validator:    validator,
	}
}

// PhoneNumber returns the subscriber the command addresses.
func (c *ProcessInboundMessage) PhoneNumber() string { return c.phoneNumber }

// handler claims a message by returning handled=true; events may be empty.
type handler func(ctx context.Context, state *models.DialogState) (handled bool, evs []events.Event, err error)

// Execute runs the classification chain. The first handler that claims the
// message wins; the fallback always claims it.
func (c *ProcessInboundMessage) Execute(ctx context.Context, state *models.DialogState) ([]events.Event, error) {
	chain := []handler{
		c.respondToHelp,
		c.handleInterruptKeywords,
		c.handleOptOut,
		c.handleOptedOut,
		c.revalidateDemo,
		c.checkResponse,
		c.handleDemoTrigger,
		c.validateRegistration,
		c.handleStartDrill,
		c.handleNextDrill,
		c.handleNamedIntents,
		c.handleThankYou,
		c.handleUnclassified,
	}
	for _, h := range chain {
		handled, evs, err := h(ctx, state)
		if err != nil {
			return nil, err
		}
		if handled {
			return evs, nil
		}
	}
	return nil, nil
}

func (c *ProcessInboundMessage) meta(t events.EventType, state *models.DialogState) events.Meta {
	return events.NewMeta(t, c.phoneNumber, state.UserProfile)
}

// respondToHelp absorbs the help keyword; the gateway's auto-response
// handles the reply.
func (c *ProcessInboundMessage) respondToHelp(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	if matchesKeyword(c.contentLower, helpKeywords) {
		return true, nil, nil
	}
	return false, nil, nil
}

// handleInterruptKeywords routes menu, support, and dashboard requests.
// These abandon any drill in progress.
func (c *ProcessInboundMessage) handleInterruptKeywords(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	switch {
	case matchesKeyword(c.contentLower, menuKeywords):
		return true, []events.Event{&events.MenuRequested{
			Meta:                     c.meta(events.EventMenuRequested, state),
			AbandonedDrillInstanceID: state.DrillInstanceID,
		}}, nil
	case matchesKeyword(c.contentLower, supportKeywords):
		return true, []events.Event{&events.SupportRequested{
			Meta:                     c.meta(events.EventSupportRequested, state),
			AbandonedDrillInstanceID: state.DrillInstanceID,
		}}, nil
	case matchesKeyword(c.contentLower, dashboardKeywords):
		return true, []events.Event{&events.ManagerDashboardRequested{
			Meta:                     c.meta(events.EventManagerDashboardRequested, state),
			AbandonedDrillInstanceID: state.DrillInstanceID,
		}}, nil
	}
	return false, nil, nil
}

func (c *ProcessInboundMessage) handleOptOut(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	if !matchesKeyword(c.contentLower, optOutKeywords) {
		return false, nil, nil
	}
	return true, []events.Event{&events.OptedOut{
		Meta:            c.meta(events.EventOptedOut, state),
		DrillInstanceID: state.DrillInstanceID,
	}}, nil
}

// handleOptedOut silently absorbs everything from an opted-out subscriber
// except the re-opt-in keyword.
func (c *ProcessInboundMessage) handleOptedOut(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	if !state.UserProfile.OptedOut {
		return false, nil, nil
	}
	if matchesKeyword(c.contentLower, optInKeywords) {
		return true, []events.Event{&events.NextDrillRequested{
			Meta: c.meta(events.EventNextDrillRequested, state),
		}}, nil
	}
	return true, nil, nil
}

// revalidateDemo lets demo accounts re-enter registration codes at any time,
// including mid-drill. An invalid code is not an error here; it falls
// through to the rest of the chain.
func (c *ProcessInboundMessage) revalidateDemo(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	if !state.UserProfile.IsDemo || !state.UserProfile.Validated {
		return false, nil, nil
	}
	payload, err := c.validator.ValidateCode(ctx, c.contentLower)
	if err != nil {
		return false, nil, fmt.Errorf("code validation failed: %w", err)
	}
	if !payload.Valid {
		return false, nil, nil
	}
	return true, []events.Event{&events.UserValidated{
		Meta:                  c.meta(events.EventUserValidated, state),
		CodeValidationPayload: payload,
	}}, nil
}

// checkResponse grades the reply against the prompt awaiting one and
// advances, repeats, or abandons per the prompt's failure tolerance.
func (c *ProcessInboundMessage) checkResponse(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	prompt, err := state.CurrentPrompt()
	if err != nil {
		return false, nil, err
	}
	if prompt == nil {
		return false, nil, nil
	}

	var evs []events.Event
	var shouldAdvance bool
	if prompt.ShouldAdvanceWith(c.contentLower) {
		evs = append(evs, &events.CompletedPrompt{
			Meta:            c.meta(events.EventCompletedPrompt, state),
			Prompt:          *prompt,
			Response:        c.content,
			DrillInstanceID: *state.DrillInstanceID,
		})
		shouldAdvance = true
	} else {
		shouldAdvance = state.CurrentPromptState.Failures >= prompt.FailureLimit()
		var response *string
		if c.content != "" {
			response = &c.content
		}
		evs = append(evs, &events.FailedPrompt{
			Meta:            c.meta(events.EventFailedPrompt, state),
			Prompt:          *prompt,
			Response:        response,
			Abandoned:       shouldAdvance,
			DrillInstanceID: *state.DrillInstanceID,
		})
	}

	if !shouldAdvance {
		return true, evs, nil
	}

	next, err := state.NextPrompt()
	if err != nil {
		return false, nil, err
	}
	if next != nil {
		evs = append(evs, &events.AdvancedToNextPrompt{
			Meta:            c.meta(events.EventAdvancedToNextPrompt, state),
			Prompt:          *next,
			DrillInstanceID: *state.DrillInstanceID,
		})
		nextIsLast, err := state.IsNextPromptLast()
		if err != nil {
			return false, nil, err
		}
		if nextIsLast {
			// The final prompt never awaits a reply, so completion is
			// emitted together with the advance.
			evs = append(evs, c.drillCompleted(state))
		}
	} else if len(state.CurrentDrill.Prompts) == 1 {
		evs = append(evs, c.drillCompleted(state))
	}
	return true, evs, nil
}

func (c *ProcessInboundMessage) drillCompleted(state *models.DialogState) events.Event {
	return &events.DrillCompleted{
		Meta:            c.meta(events.EventDrillCompleted, state),
		DrillInstanceID: *state.DrillInstanceID,
		AutoContinue:    state.CurrentDrill.AutoContinue,
	}
}

func (c *ProcessInboundMessage) handleDemoTrigger(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	if !matchesKeyword(c.contentLower, demoKeywords) {
		return false, nil, nil
	}
	return true, []events.Event{&events.DemoDrillRequested{
		Meta:                     c.meta(events.EventDemoDrillRequested, state),
		AbandonedDrillInstanceID: state.DrillInstanceID,
	}}, nil
}

// validateRegistration handles first contact: every message from a
// non-validated subscriber is treated as a candidate registration code.
func (c *ProcessInboundMessage) validateRegistration(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	if state.UserProfile.Validated {
		return false, nil, nil
	}
	payload, err := c.validator.ValidateCode(ctx, c.contentLower)
	if err != nil {
		return false, nil, fmt.Errorf("code validation failed: %w", err)
	}
	if payload.Valid {
		return true, []events.Event{&events.UserValidated{
			Meta:                  c.meta(events.EventUserValidated, state),
			CodeValidationPayload: payload,
		}}, nil
	}
	return true, []events.Event{&events.UserValidationFailed{
		Meta: c.meta(events.EventUserValidationFailed, state),
	}}, nil
}

func (c *ProcessInboundMessage) handleStartDrill(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	if state.MidDrill() || !matchesKeyword(c.contentLower, startDrillKeywords) {
		return false, nil, nil
	}
	return true, []events.Event{&events.NextDrillRequested{
		Meta: c.meta(events.EventNextDrillRequested, state),
	}}, nil
}

func (c *ProcessInboundMessage) handleNextDrill(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	prompt, err := state.CurrentPrompt()
	if err != nil {
		return false, nil, err
	}
	if prompt != nil || !matchesKeyword(c.contentLower, nextDrillKeywords) {
		return false, nil, nil
	}
	return true, []events.Event{&events.NextDrillRequested{
		Meta: c.meta(events.EventNextDrillRequested, state),
	}}, nil
}

func (c *ProcessInboundMessage) handleNamedIntents(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	switch {
	case matchesKeyword(c.contentLower, nameChangeKeywords):
		return true, []events.Event{&events.NameChangeDrillRequested{
			Meta:                     c.meta(events.EventNameChangeDrillRequested, state),
			AbandonedDrillInstanceID: state.DrillInstanceID,
		}}, nil
	case matchesKeyword(c.contentLower, languageChangeKeywords):
		return true, []events.Event{&events.LanguageChangeDrillRequested{
			Meta:                     c.meta(events.EventLanguageChangeDrillRequested, state),
			AbandonedDrillInstanceID: state.DrillInstanceID,
		}}, nil
	case matchesKeyword(c.contentLower, scheduleChangeKeywords):
		return true, []events.Event{&events.SchedulingDrillRequested{
			Meta:                     c.meta(events.EventSchedulingDrillRequested, state),
			AbandonedDrillInstanceID: state.DrillInstanceID,
		}}, nil
	}
	return false, nil, nil
}

func (c *ProcessInboundMessage) handleThankYou(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	for _, phrase := range thankYouPhrases {
		if strings.Contains(c.contentLower, phrase) {
			return true, []events.Event{&events.ThankYouReceived{
				Meta: c.meta(events.EventThankYouReceived, state),
			}}, nil
		}
	}
	return false, nil, nil
}

// handleUnclassified is the terminal fallback; it always claims the message.
func (c *ProcessInboundMessage) handleUnclassified(ctx context.Context, state *models.DialogState) (bool, []events.Event, error) {
	return true, []events.Event{&events.UnhandledMessageReceived{
		Meta:    c.meta(events.EventUnhandledMessageReceived, state),
		Message: c.content,
	}}, nil
}
