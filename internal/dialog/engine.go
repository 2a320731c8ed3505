// Package dialog implements the per-subscriber conversation engine.
//
// A command plus an externally assigned sequence token goes in; an ordered
// batch of domain events and the subscriber's next state come out. Duplicate
// or out-of-order delivery of the same command never double-applies its
// effects: the sequence check is the engine's sole idempotency mechanism and
// runs before any command executes.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
	"github.com/BellwoodLabs/DrillLine/internal/store"
)

// Command is an intent to be processed against a subscriber's state.
// Execute is a pure function of the command and the current state: it must
// not mutate state, and side effects are expressed only as emitted events.
type Command interface {
	PhoneNumber() string
	Execute(ctx context.Context, state *models.DialogState) ([]events.Event, error)
}

// Engine ties state fetch, sequencing, command execution, event application,
// and atomic persistence together. It is synchronous: one command in, one
// state fetch, one persist. Different subscribers are fully independent;
// within one subscriber, ordering rests entirely on the sequence check and
// the repository's consistent read-then-write.
type Engine struct {
	repo store.DialogRepository
}

// NewEngine creates an engine over the given dialog repository.
func NewEngine(repo store.DialogRepository) *Engine {
	return &Engine{repo: repo}
}

// ProcessCommand runs one command at the given sequence position.
//
// A command whose seq is at or below the state's seq is a known duplicate or
// stale replay: it is logged and dropped with zero events, zero persistence,
// and a nil batch. Otherwise the command's events are applied in order to a
// working copy of state, the state's seq advances to the command's, and the
// (batch, state) pair is persisted as one atomic unit. A failed persist
// leaves the command not-yet-applied; retrying it is safe.
func (e *Engine) ProcessCommand(ctx context.Context, cmd Command, seq string) (*events.DialogEventBatch, error) {
	state, err := e.repo.FetchDialogState(ctx, cmd.PhoneNumber())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dialog state: %w", err)
	}

	commandSeq, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid command seq %q: %w", seq, err)
	}
	stateSeq, err := strconv.ParseInt(state.Seq, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid state seq %q: %w", state.Seq, err)
	}
	if commandSeq <= stateSeq {
		slog.Info("Engine dropping already processed command",
			"phone_number", cmd.PhoneNumber(), "seq", seq, "state_seq", state.Seq)
		return nil, nil
	}

	evs, err := cmd.Execute(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("command execution failed: %w", err)
	}
	slog.Info("Engine applying events",
		"phone_number", cmd.PhoneNumber(), "seq", seq, "events", eventTypeList(evs))

	// Events snapshot the pre-mutation profile at construction time, so
	// applying them in order cannot leak post-mutation values into the
	// persisted batch.
	for _, ev := range evs {
		ev.Apply(state)
	}
	state.Seq = seq

	batch := events.NewBatch(cmd.PhoneNumber(), seq, evs)
	if err := e.repo.PersistDialogState(ctx, batch, state); err != nil {
		return nil, fmt.Errorf("failed to persist dialog state: %w", err)
	}
	return batch, nil
}

func eventTypeList(evs []events.Event) []string {
	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = string(ev.Type())
	}
	return types
}
