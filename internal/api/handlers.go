// Package api provides HTTP handlers for DrillLine endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BellwoodLabs/DrillLine/internal/dialog"
	"github.com/BellwoodLabs/DrillLine/internal/models"
)

// Command types accepted on the command intake endpoint.
const (
	CommandInboundSMS        = "INBOUND_SMS"
	CommandStartDrill        = "START_DRILL"
	CommandSendAdHocMessage  = "SEND_AD_HOC_MESSAGE"
	CommandUpdateUserProfile = "UPDATE_USER_PROFILE"
	CommandTriggerReminder   = "TRIGGER_REMINDER"
)

// CommandEnvelope is the wire form of one sequenced command.
type CommandEnvelope struct {
	PhoneNumber string          `json:"phone_number"`
	Seq         string          `json:"seq"`
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

// CommandResult summarizes the processing of one command.
type CommandResult struct {
	BatchID   uuid.UUID `json:"batch_id,omitempty"`
	Seq       string    `json:"seq"`
	Events    []string  `json:"events"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

type inboundSMSPayload struct {
	Content string `json:"content"`
}

type startDrillPayload struct {
	Drill           *models.Drill `json:"drill"`
	DrillInstanceID uuid.UUID     `json:"drill_instance_id"`
	Ungated         bool          `json:"ungated,omitempty"`
}

type adHocMessagePayload struct {
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
}

type updateProfilePayload struct {
	Patch models.ProfilePatch `json:"patch"`
}

type triggerReminderPayload struct {
	DrillInstanceID uuid.UUID `json:"drill_instance_id"`
	PromptSlug      string    `json:"prompt_slug"`
}

// commandsHandler accepts one sequenced command (POST /v1/commands).
func (s *Server) commandsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.commandsHandler: processing command request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.commandsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var env CommandEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		slog.Warn("Server.commandsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if env.PhoneNumber == "" || env.Seq == "" {
		slog.Warn("Server.commandsHandler: missing phone_number or seq")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: phone_number, seq"))
		return
	}

	cmd, err := s.buildCommand(env)
	if err != nil {
		slog.Warn("Server.commandsHandler: invalid command", "command_type", env.CommandType, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	batch, err := s.engine.ProcessCommand(ctx, cmd, env.Seq)
	if err != nil {
		slog.Error("Server.commandsHandler: command processing failed",
			"command_type", env.CommandType, "phone_number", env.PhoneNumber, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process command"))
		return
	}
	if batch == nil {
		// Already processed at this seq; idempotent success.
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Command already processed",
			CommandResult{Seq: env.Seq, Events: []string{}, Duplicate: true}))
		return
	}

	s.consumeBatch(ctx, batch)

	eventTypes := make([]string, len(batch.Events))
	for i, ev := range batch.Events {
		eventTypes[i] = string(ev.Type())
	}
	slog.Info("Server.commandsHandler: command processed",
		"command_type", env.CommandType, "phone_number", env.PhoneNumber, "seq", env.Seq, "events", len(eventTypes))
	writeJSONResponse(w, http.StatusCreated, models.Success(CommandResult{
		BatchID: batch.BatchID,
		Seq:     batch.Seq,
		Events:  eventTypes,
	}))
}

// buildCommand decodes the envelope payload into the matching engine command.
func (s *Server) buildCommand(env CommandEnvelope) (dialog.Command, error) {
	switch env.CommandType {
	case CommandInboundSMS:
		var p inboundSMSPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.CommandType, err)
		}
		return dialog.NewProcessInboundMessage(env.PhoneNumber, p.Content, s.validator), nil
	case CommandStartDrill:
		var p startDrillPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.CommandType, err)
		}
		if p.Drill == nil {
			return nil, fmt.Errorf("missing required field: drill")
		}
		if p.DrillInstanceID == uuid.Nil {
			return nil, fmt.Errorf("missing required field: drill_instance_id")
		}
		var opts []dialog.StartDrillOption
		if p.Ungated {
			opts = append(opts, dialog.WithUngatedStart())
		}
		return dialog.NewStartDrill(env.PhoneNumber, p.Drill, p.DrillInstanceID, opts...)
	case CommandSendAdHocMessage:
		var p adHocMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.CommandType, err)
		}
		if p.Body == "" {
			return nil, fmt.Errorf("missing required field: body")
		}
		return dialog.NewSendAdHocMessage(env.PhoneNumber, p.Body, p.MediaURL), nil
	case CommandUpdateUserProfile:
		var p updateProfilePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.CommandType, err)
		}
		return dialog.NewUpdateProfile(env.PhoneNumber, p.Patch)
	case CommandTriggerReminder:
		var p triggerReminderPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.CommandType, err)
		}
		if p.DrillInstanceID == uuid.Nil || p.PromptSlug == "" {
			return nil, fmt.Errorf("missing required fields: drill_instance_id, prompt_slug")
		}
		return dialog.NewTriggerReminder(env.PhoneNumber, p.DrillInstanceID, p.PromptSlug), nil
	default:
		return nil, fmt.Errorf("unknown command type %q", env.CommandType)
	}
}

// dialogStateHandler returns one subscriber's dialog state (GET /v1/dialog-state).
func (s *Server) dialogStateHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.dialogStateHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.dialogStateHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	phoneNumber := r.URL.Query().Get("phone_number")
	if phoneNumber == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: phone_number"))
		return
	}
	state, err := s.repo.FetchDialogState(r.Context(), phoneNumber)
	if err != nil {
		slog.Error("Server.dialogStateHandler: failed to fetch dialog state",
			"phone_number", phoneNumber, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch dialog state"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
