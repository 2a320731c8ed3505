package sms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
)

// Reminder copy per profile language; English is the fallback.
var reminderBodies = map[string]string{
	"en": "It looks like you haven't answered yet. Reply when you're ready to continue.",
	"es": "Parece que aún no has respondido. Responde cuando estés listo para continuar.",
}

// Dispatcher turns persisted dialog events into outbound SMS traffic. It is
// the only component that talks to the carrier; the engine itself never
// sends anything.
type Dispatcher struct {
	sender Sender
}

func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

// DispatchBatch sends the messages implied by each event in the batch, in
// event order. A send failure stops the batch and is returned; events carry
// no delivery state, so a retry simply re-sends from the top.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch *events.DialogEventBatch) error {
	for _, ev := range batch.Events {
		if err := d.dispatchEvent(ctx, batch.PhoneNumber, ev); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, phoneNumber string, ev events.Event) error {
	switch e := ev.(type) {
	case *events.DrillStarted:
		return d.sendPrompt(ctx, phoneNumber, e.FirstPrompt)
	case *events.AdvancedToNextPrompt:
		return d.sendPrompt(ctx, phoneNumber, e.Prompt)
	case *events.AdHocMessageSent:
		if err := d.sender.SendMessage(ctx, phoneNumber, e.Message.Body, e.Message.MediaURL); err != nil {
			return fmt.Errorf("failed to dispatch ad-hoc message: %w", err)
		}
		return nil
	case *events.ReminderTriggered:
		body := reminderBodies[models.NormalizeLanguage(e.UserProfile.Language)]
		if body == "" {
			body = reminderBodies["en"]
		}
		if err := d.sender.SendMessage(ctx, phoneNumber, body, ""); err != nil {
			return fmt.Errorf("failed to dispatch reminder: %w", err)
		}
		slog.Debug("Dispatcher reminder sent", "phone_number", phoneNumber, "prompt_slug", e.PromptSlug)
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) sendPrompt(ctx context.Context, phoneNumber string, prompt models.Prompt) error {
	for _, msg := range prompt.Messages {
		if err := d.sender.SendMessage(ctx, phoneNumber, msg.Text, msg.MediaURL); err != nil {
			return fmt.Errorf("failed to dispatch prompt %s: %w", prompt.Slug, err)
		}
	}
	return nil
}
