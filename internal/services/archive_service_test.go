package services

import (
	"context"
	"testing"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

func newArchiveService(env *testEnv, retention time.Duration, archive bool) *ArchiveService {
	return NewArchiveService(env.store.Activities(), retention, archive, env.audit, zap.NewNop())
}

// seedActivity appends a success record with an explicit timestamp.
func seedActivity(t *testing.T, env *testEnv, age time.Duration) {
	t.Helper()
	activity := entities.NewActivity(entities.ChangeTypeCreate, "system")
	activity.PerformedAt = time.Now().UTC().Add(-age)
	if err := env.store.Activities().Append(context.Background(), activity); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestArchiveService_MovesOldRecords(t *testing.T) {
	env := newTestEnv(t)
	svc := newArchiveService(env, 24*time.Hour, true)

	seedActivity(t, env, 48*time.Hour)
	seedActivity(t, env, 36*time.Hour)
	seedActivity(t, env, time.Hour)

	moved, err := svc.ArchiveOldActivity(context.Background(), admin(), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 records moved, got %d", moved)
	}

	live, archived, err := env.store.Activities().Counts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if archived != 2 {
		t.Errorf("expected 2 archived, got %d", archived)
	}
	// The recent record plus the archive run's own audit record.
	if live != 2 {
		t.Errorf("expected 2 live, got %d", live)
	}
}

func TestArchiveService_Rerun_MovesNothing(t *testing.T) {
	env := newTestEnv(t)
	svc := newArchiveService(env, 24*time.Hour, true)

	seedActivity(t, env, 48*time.Hour)

	if _, err := svc.ArchiveOldActivity(context.Background(), admin(), 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	moved, err := svc.ArchiveOldActivity(context.Background(), admin(), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 0 {
		t.Errorf("re-run over the same window must move nothing, got %d", moved)
	}

	_, archived, err := env.store.Activities().Counts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if archived != 1 {
		t.Errorf("expected 1 archived record, got %d", archived)
	}
}

func TestArchiveService_DeleteMode(t *testing.T) {
	env := newTestEnv(t)
	svc := newArchiveService(env, 24*time.Hour, false)

	seedActivity(t, env, 48*time.Hour)

	moved, err := svc.ArchiveOldActivity(context.Background(), admin(), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 record removed, got %d", moved)
	}

	_, archived, err := env.store.Activities().Counts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if archived != 0 {
		t.Errorf("delete mode must not archive, got %d", archived)
	}
}

func TestArchiveService_RequiresCapability(t *testing.T) {
	env := newTestEnv(t)
	svc := newArchiveService(env, 24*time.Hour, true)

	viewer := &entities.Principal{UserID: "viewer", Capabilities: entities.Capabilities{CanViewAuditLog: true}}
	_, err := svc.ArchiveOldActivity(context.Background(), viewer, 0, nil)
	if !errors.Is(err, entities.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	failures := env.failureActivities(t, entities.ChangeTypeArchive)
	if len(failures) != 1 {
		t.Fatalf("expected one failure activity, got %d", len(failures))
	}
}

func TestArchiveService_UnconfiguredRetention(t *testing.T) {
	env := newTestEnv(t)
	svc := newArchiveService(env, 0, true)

	_, err := svc.ArchiveOldActivity(context.Background(), admin(), 0, nil)
	if !errors.Is(err, entities.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestArchiveService_RetentionOverride(t *testing.T) {
	env := newTestEnv(t)
	// Configured window keeps everything; the call narrows it.
	svc := newArchiveService(env, 30*24*time.Hour, true)

	seedActivity(t, env, 48*time.Hour)
	seedActivity(t, env, time.Hour)

	moved, err := svc.ArchiveOldActivity(context.Background(), admin(), 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 1 {
		t.Errorf("expected 1 record moved under the overridden window, got %d", moved)
	}
}

func TestArchiveService_ArchiveOverride(t *testing.T) {
	env := newTestEnv(t)
	svc := newArchiveService(env, 24*time.Hour, true)

	seedActivity(t, env, 48*time.Hour)

	noCopy := false
	moved, err := svc.ArchiveOldActivity(context.Background(), admin(), 0, &noCopy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 record removed, got %d", moved)
	}

	_, archived, err := env.store.Activities().Counts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if archived != 0 {
		t.Errorf("delete override must bypass the archive, got %d", archived)
	}
}

func TestArchiveService_NegativeRetention(t *testing.T) {
	env := newTestEnv(t)
	svc := newArchiveService(env, 24*time.Hour, true)

	_, err := svc.ArchiveOldActivity(context.Background(), admin(), -time.Hour, nil)
	if !errors.Is(err, entities.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
