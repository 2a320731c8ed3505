// Package models defines the core data structures for DrillLine.
//
// It includes the drill and prompt content model, the per-subscriber dialog
// state, and the user profile, which are shared across modules.
package models

import (
	"errors"
	"fmt"

	"github.com/BellwoodLabs/DrillLine/internal/grading"
)

// DefaultMaxFailures is the number of wrong answers tolerated on a prompt
// before it is abandoned, when the content does not set its own limit.
const DefaultMaxFailures = 1

// Error variables for better error handling and testability
var (
	ErrEmptyDrillSlug    = errors.New("drill slug cannot be empty")
	ErrEmptyDrillName    = errors.New("drill name cannot be empty")
	ErrNoPrompts         = errors.New("drill must contain at least one prompt")
	ErrEmptyPromptSlug   = errors.New("prompt slug cannot be empty")
	ErrDuplicatePrompt   = errors.New("prompt slugs must be unique within a drill")
	ErrNoPromptMessages  = errors.New("prompt must contain at least one message")
	ErrInvalidProfileKey = errors.New("invalid user profile key")
)

// PromptMessage is one outbound message of a prompt, optionally carrying a
// media attachment reference.
type PromptMessage struct {
	Text     string `json:"text"`
	MediaURL string `json:"media_url,omitempty"`
}

// Prompt is one step of a drill. A prompt is ungraded, profile-storing, or
// answer-graded depending on which optional fields are set. Setting both
// CorrectResponse and ResponseProfileKey is undefined behavior and shipped
// content never does it.
type Prompt struct {
	Slug               string          `json:"slug"`
	Messages           []PromptMessage `json:"messages"`
	ResponseProfileKey ProfileKey      `json:"response_user_profile_key,omitempty"`
	CorrectResponse    string          `json:"correct_response,omitempty"`
	MaxFailures        int             `json:"max_failures,omitempty"`
}

// IsGraded reports whether replies to this prompt are checked for correctness.
func (p *Prompt) IsGraded() bool {
	return p.CorrectResponse != ""
}

// StoresAnswer reports whether replies to this prompt are written into the
// user profile verbatim.
func (p *Prompt) StoresAnswer() bool {
	return p.ResponseProfileKey != ""
}

// FailureLimit returns the configured failure tolerance, defaulting to
// DefaultMaxFailures when the content leaves it unset.
func (p *Prompt) FailureLimit() int {
	if p.MaxFailures <= 0 {
		return DefaultMaxFailures
	}
	return p.MaxFailures
}

// ShouldAdvanceWith reports whether the given reply advances past this prompt.
// Ungraded prompts advance on any reply.
func (p *Prompt) ShouldAdvanceWith(answer string) bool {
	if !p.IsGraded() {
		return true
	}
	return grading.IsCorrectResponse(answer, p.CorrectResponse)
}

// Validate checks structural requirements on a prompt.
func (p *Prompt) Validate() error {
	if p.Slug == "" {
		return ErrEmptyPromptSlug
	}
	if len(p.Messages) == 0 {
		return fmt.Errorf("prompt %q: %w", p.Slug, ErrNoPromptMessages)
	}
	if p.ResponseProfileKey != "" && !IsValidProfileKey(p.ResponseProfileKey) {
		return fmt.Errorf("prompt %q key %q: %w", p.Slug, p.ResponseProfileKey, ErrInvalidProfileKey)
	}
	return nil
}

// Drill is a named, ordered sequence of prompts. A full copy of the drill is
// snapshotted into dialog state when it starts, so edits to drill content
// never affect conversations already in flight.
type Drill struct {
	Slug         string   `json:"slug"`
	Name         string   `json:"name"`
	Prompts      []Prompt `json:"prompts"`
	AutoContinue bool     `json:"auto_continue,omitempty"`
}

// Validate checks structural requirements on a drill and all of its prompts.
func (d *Drill) Validate() error {
	if d.Slug == "" {
		return ErrEmptyDrillSlug
	}
	if d.Name == "" {
		return ErrEmptyDrillName
	}
	if len(d.Prompts) == 0 {
		return fmt.Errorf("drill %q: %w", d.Slug, ErrNoPrompts)
	}
	seen := make(map[string]bool, len(d.Prompts))
	for i := range d.Prompts {
		if err := d.Prompts[i].Validate(); err != nil {
			return fmt.Errorf("drill %q: %w", d.Slug, err)
		}
		if seen[d.Prompts[i].Slug] {
			return fmt.Errorf("drill %q prompt %q: %w", d.Slug, d.Prompts[i].Slug, ErrDuplicatePrompt)
		}
		seen[d.Prompts[i].Slug] = true
	}
	return nil
}

// FirstPrompt returns the drill's first prompt.
func (d *Drill) FirstPrompt() *Prompt {
	return &d.Prompts[0]
}

// LastPrompt returns the drill's final prompt.
func (d *Drill) LastPrompt() *Prompt {
	return &d.Prompts[len(d.Prompts)-1]
}

// GetPrompt returns the prompt with the given slug. A slug that does not
// exist in the drill indicates a corrupt or mismatched snapshot and fails
// loudly rather than stranding the subscriber.
func (d *Drill) GetPrompt(slug string) (*Prompt, error) {
	for i := range d.Prompts {
		if d.Prompts[i].Slug == slug {
			return &d.Prompts[i], nil
		}
	}
	return nil, fmt.Errorf("drill %q: unknown prompt %q", d.Slug, slug)
}

// GetNextPrompt returns the prompt following the given slug, or nil when the
// slug names the final prompt. Unknown slugs fail loudly, as in GetPrompt.
func (d *Drill) GetNextPrompt(slug string) (*Prompt, error) {
	for i := range d.Prompts {
		if d.Prompts[i].Slug == slug {
			if i+1 < len(d.Prompts) {
				return &d.Prompts[i+1], nil
			}
			return nil, nil
		}
	}
	return nil, fmt.Errorf("drill %q: unknown prompt %q", d.Slug, slug)
}

// Clone returns a deep copy of the drill.
func (d *Drill) Clone() *Drill {
	if d == nil {
		return nil
	}
	out := *d
	out.Prompts = make([]Prompt, len(d.Prompts))
	copy(out.Prompts, d.Prompts)
	for i := range out.Prompts {
		msgs := make([]PromptMessage, len(d.Prompts[i].Messages))
		copy(msgs, d.Prompts[i].Messages)
		out.Prompts[i].Messages = msgs
	}
	return &out
}
