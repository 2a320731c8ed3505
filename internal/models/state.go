package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current version of the persisted dialog state shape.
const SchemaVersion = 1

// PromptState is the transient progress marker for the prompt currently
// awaiting a reply. It is created when a drill starts or advances and
// destroyed when the drill completes or is abandoned.
type PromptState struct {
	Slug              string     `json:"slug"`
	StartTime         time.Time  `json:"start_time"`
	LastResponseTime  *time.Time `json:"last_response_time,omitempty"`
	ReminderTriggered bool       `json:"reminder_triggered,omitempty"`
	Failures          int        `json:"failures"`
}

// DialogState is the durable per-subscriber record, keyed by phone number.
//
// Seq is kept as a decimal string to avoid integer conversion imprecision in
// storage backends. CurrentDrill, DrillInstanceID, and CurrentPromptState are
// either all set or all nil: a subscriber is between drills or mid-drill,
// never partially so.
type DialogState struct {
	PhoneNumber        string       `json:"phone_number"`
	Seq                string       `json:"seq"`
	SchemaVersion      int          `json:"schema_version"`
	UserProfile        UserProfile  `json:"user_profile"`
	CurrentDrill       *Drill       `json:"current_drill,omitempty"`
	DrillInstanceID    *uuid.UUID   `json:"drill_instance_id,omitempty"`
	CurrentPromptState *PromptState `json:"current_prompt_state,omitempty"`
}

// NewDialogState returns the zero state for a subscriber who has never been
// seen before.
func NewDialogState(phoneNumber string) *DialogState {
	return &DialogState{
		PhoneNumber:   phoneNumber,
		Seq:           "0",
		SchemaVersion: SchemaVersion,
	}
}

// CurrentPrompt returns the prompt awaiting a reply, or nil when the
// subscriber is between drills.
func (s *DialogState) CurrentPrompt() (*Prompt, error) {
	if s.CurrentDrill == nil || s.CurrentPromptState == nil {
		return nil, nil
	}
	return s.CurrentDrill.GetPrompt(s.CurrentPromptState.Slug)
}

// NextPrompt returns the prompt after the one awaiting a reply, or nil when
// the current prompt is the drill's last.
func (s *DialogState) NextPrompt() (*Prompt, error) {
	return s.CurrentDrill.GetNextPrompt(s.CurrentPromptState.Slug)
}

// IsNextPromptLast reports whether the prompt after the current one is the
// drill's final prompt.
func (s *DialogState) IsNextPromptLast() (bool, error) {
	next, err := s.NextPrompt()
	if err != nil || next == nil {
		return false, err
	}
	return s.CurrentDrill.LastPrompt().Slug == next.Slug, nil
}

// ClearDrill resets the three mid-drill fields together, preserving the
// all-or-none invariant.
func (s *DialogState) ClearDrill() {
	s.CurrentDrill = nil
	s.DrillInstanceID = nil
	s.CurrentPromptState = nil
}

// MidDrill reports whether a drill is in progress.
func (s *DialogState) MidDrill() bool {
	return s.CurrentDrill != nil
}
