package progress

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
)

const testPhone = "+15551230000"

func testRepo(t *testing.T) *Repository {
	// Requires a running PostgreSQL instance; set PROGRESS_DATABASE_URL to run.
	dsn := getenvOrSkip(t, "PROGRESS_DATABASE_URL")
	r, err := NewRepository(WithDSN(dsn))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(func() {
		r.db.Exec("DELETE FROM drill_instances")
		r.db.Exec("DELETE FROM processed_batches")
		r.Close()
	})
	r.db.Exec("DELETE FROM drill_instances")
	r.db.Exec("DELETE FROM processed_batches")
	return r
}

func drill() *models.Drill {
	return &models.Drill{
		Slug: "knife-safety",
		Name: "Knife Safety",
		Prompts: []models.Prompt{
			{Slug: "intro", Messages: []models.PromptMessage{{Text: "Welcome"}}},
			{Slug: "q1", Messages: []models.PromptMessage{{Text: "Q1"}}},
		},
	}
}

func startedBatch(seq string, id uuid.UUID) *events.DialogEventBatch {
	d := drill()
	return events.NewBatch(testPhone, seq, []events.Event{
		&events.DrillStarted{
			Meta:            events.NewMeta(events.EventDrillStarted, testPhone, models.UserProfile{}),
			Drill:           d,
			FirstPrompt:     *d.FirstPrompt(),
			DrillInstanceID: id,
		},
	})
}

func TestHandleBatchProjectsDrillLifecycle(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	id := uuid.New()

	if err := r.HandleBatch(ctx, startedBatch("1", id)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	di, err := r.GetDrillInstance(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if di == nil || di.DrillSlug != "knife-safety" || !di.IsValid {
		t.Fatalf("instance not projected: %+v", di)
	}
	if di.CurrentPromptSlug == nil || *di.CurrentPromptSlug != "intro" {
		t.Errorf("current prompt = %v, want intro", di.CurrentPromptSlug)
	}

	advance := events.NewBatch(testPhone, "2", []events.Event{
		&events.CompletedPrompt{
			Meta:            events.NewMeta(events.EventCompletedPrompt, testPhone, models.UserProfile{}),
			Prompt:          models.Prompt{Slug: "intro"},
			Response:        "ok",
			DrillInstanceID: id,
		},
		&events.AdvancedToNextPrompt{
			Meta:            events.NewMeta(events.EventAdvancedToNextPrompt, testPhone, models.UserProfile{}),
			Prompt:          models.Prompt{Slug: "q1"},
			DrillInstanceID: id,
		},
	})
	if err := r.HandleBatch(ctx, advance); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	di, _ = r.GetDrillInstance(ctx, id)
	if di.CurrentPromptSlug == nil || *di.CurrentPromptSlug != "q1" {
		t.Errorf("current prompt = %v, want q1", di.CurrentPromptSlug)
	}
	if di.CurrentPromptLastResponseTime != nil {
		t.Error("advance should reset the last response time")
	}

	complete := events.NewBatch(testPhone, "3", []events.Event{
		&events.DrillCompleted{
			Meta:            events.NewMeta(events.EventDrillCompleted, testPhone, models.UserProfile{}),
			DrillInstanceID: id,
		},
	})
	if err := r.HandleBatch(ctx, complete); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	di, _ = r.GetDrillInstance(ctx, id)
	if di.CompletionTime == nil || di.CurrentPromptSlug != nil {
		t.Errorf("completion not projected: %+v", di)
	}
}

func TestHandleBatchIsIdempotent(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	id := uuid.New()
	batch := startedBatch("1", id)

	if err := r.HandleBatch(ctx, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Redelivery of the same batch changes nothing.
	if err := r.HandleBatch(ctx, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM drill_instances").Scan(&count); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("instance count = %d, want 1", count)
	}
}

func TestOptOutInvalidatesIncompleteDrills(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	id := uuid.New()
	if err := r.HandleBatch(ctx, startedBatch("1", id)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	optOut := events.NewBatch(testPhone, "2", []events.Event{
		&events.OptedOut{
			Meta:            events.NewMeta(events.EventOptedOut, testPhone, models.UserProfile{}),
			DrillInstanceID: &id,
		},
	})
	if err := r.HandleBatch(ctx, optOut); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	di, _ := r.GetDrillInstance(ctx, id)
	if di.IsValid {
		t.Error("opt-out should invalidate the incomplete drill instance")
	}
}

func TestListIncompleteDrills(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	id := uuid.New()
	if err := r.HandleBatch(ctx, startedBatch("1", id)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idle, err := r.ListIncompleteDrills(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idle) != 1 || idle[0].DrillInstanceID != id {
		t.Errorf("idle drills = %+v, want the started instance", idle)
	}

	none, err := r.ListIncompleteDrills(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("idle drills before start = %+v, want none", none)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
