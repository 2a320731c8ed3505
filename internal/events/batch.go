package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DialogEventBatch is the atomic output of one command: the ordered events it
// produced, together with the command's sequence token. The batch is the unit
// persisted and the unit handed to downstream consumers.
type DialogEventBatch struct {
	Events      []Event   `json:"events"`
	PhoneNumber string    `json:"phone_number"`
	Seq         string    `json:"seq"`
	BatchID     uuid.UUID `json:"batch_id"`
	CreatedTime time.Time `json:"created_time"`
}

// NewBatch assembles a batch for one processed command.
func NewBatch(phoneNumber, seq string, evs []Event) *DialogEventBatch {
	return &DialogEventBatch{
		Events:      evs,
		PhoneNumber: phoneNumber,
		Seq:         seq,
		BatchID:     uuid.New(),
		CreatedTime: time.Now().UTC(),
	}
}

// eventFactories maps each event type tag to a constructor for decoding.
var eventFactories = map[EventType]func() Event{
	EventDrillStarted:                 func() Event { return &DrillStarted{} },
	EventReminderTriggered:            func() Event { return &ReminderTriggered{} },
	EventUserValidated:                func() Event { return &UserValidated{} },
	EventUserValidationFailed:         func() Event { return &UserValidationFailed{} },
	EventCompletedPrompt:              func() Event { return &CompletedPrompt{} },
	EventFailedPrompt:                 func() Event { return &FailedPrompt{} },
	EventAdvancedToNextPrompt:         func() Event { return &AdvancedToNextPrompt{} },
	EventDrillCompleted:               func() Event { return &DrillCompleted{} },
	EventOptedOut:                     func() Event { return &OptedOut{} },
	EventNextDrillRequested:           func() Event { return &NextDrillRequested{} },
	EventSchedulingDrillRequested:     func() Event { return &SchedulingDrillRequested{} },
	EventNameChangeDrillRequested:     func() Event { return &NameChangeDrillRequested{} },
	EventLanguageChangeDrillRequested: func() Event { return &LanguageChangeDrillRequested{} },
	EventMenuRequested:                func() Event { return &MenuRequested{} },
	EventSupportRequested:             func() Event { return &SupportRequested{} },
	EventManagerDashboardRequested:    func() Event { return &ManagerDashboardRequested{} },
	EventDemoDrillRequested:           func() Event { return &DemoDrillRequested{} },
	EventThankYouReceived:             func() Event { return &ThankYouReceived{} },
	EventAdHocMessageSent:             func() Event { return &AdHocMessageSent{} },
	EventUserProfileUpdated:           func() Event { return &UserProfileUpdated{} },
	EventUnhandledMessageReceived:     func() Event { return &UnhandledMessageReceived{} },
}

// UnmarshalEvent decodes one event from its JSON envelope, dispatching on the
// event_type tag.
func UnmarshalEvent(data []byte) (Event, error) {
	var envelope struct {
		EventType EventType `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to read event envelope: %w", err)
	}
	factory, ok := eventFactories[envelope.EventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", envelope.EventType)
	}
	ev := factory()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", envelope.EventType, err)
	}
	return ev, nil
}

// UnmarshalJSON decodes a batch, reconstructing each event's concrete type
// from its event_type tag.
func (b *DialogEventBatch) UnmarshalJSON(data []byte) error {
	var raw struct {
		Events      []json.RawMessage `json:"events"`
		PhoneNumber string            `json:"phone_number"`
		Seq         string            `json:"seq"`
		BatchID     uuid.UUID         `json:"batch_id"`
		CreatedTime time.Time         `json:"created_time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.PhoneNumber = raw.PhoneNumber
	b.Seq = raw.Seq
	b.BatchID = raw.BatchID
	b.CreatedTime = raw.CreatedTime
	b.Events = make([]Event, 0, len(raw.Events))
	for _, rawEvent := range raw.Events {
		ev, err := UnmarshalEvent(rawEvent)
		if err != nil {
			return err
		}
		b.Events = append(b.Events, ev)
	}
	return nil
}
