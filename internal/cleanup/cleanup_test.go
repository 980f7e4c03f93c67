package cleanup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/aatumaykin/tfreaper/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "state", "tfreaper.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedEvent(t *testing.T, st store.Store, age time.Duration) {
	t.Helper()

	e := &store.Event{
		ProjectID: "p1",
		Type:      store.EventDiscovered,
		CreatedAt: time.Now().Add(-age).UTC(),
	}
	if err := st.LogEvent(context.Background(), e); err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
}

func seedExecution(t *testing.T, st store.Store, status store.ExecutionStatus, age time.Duration) {
	t.Helper()

	e := &store.Execution{
		ID:        uuid.NewString(),
		ProjectID: "p1",
		Command:   "terraform destroy -auto-approve",
		Status:    status,
		StartedAt: time.Now().Add(-age).UTC(),
	}
	if err := st.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("failed to seed execution: %v", err)
	}
}

func TestRun_PurgesOldRows(t *testing.T) {
	st := newTestStore(t)

	seedEvent(t, st, 40*24*time.Hour)
	seedEvent(t, st, time.Hour)
	seedExecution(t, st, store.ExecutionCompleted, 20*24*time.Hour)
	seedExecution(t, st, store.ExecutionCompleted, time.Hour)

	r := NewRunner(Config{EventTTLDays: 30, ExecutionTTLDays: 14}, st, logger.NewDiscard(), nil)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.EventsPurged != 1 {
		t.Errorf("EventsPurged = %d, want 1", stats.EventsPurged)
	}
	if stats.ExecutionsPurged != 1 {
		t.Errorf("ExecutionsPurged = %d, want 1", stats.ExecutionsPurged)
	}

	events, err := st.QueryEvents(context.Background(), store.EventFilter{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("remaining events = %d, want 1", len(events))
	}

	execs, err := st.ListExecutionsByProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListExecutionsByProject failed: %v", err)
	}
	if len(execs) != 1 {
		t.Errorf("remaining executions = %d, want 1", len(execs))
	}
}

func TestRun_KeepsRunningExecutions(t *testing.T) {
	st := newTestStore(t)

	seedExecution(t, st, store.ExecutionRunning, 20*24*time.Hour)

	r := NewRunner(Config{ExecutionTTLDays: 14}, st, logger.NewDiscard(), nil)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.ExecutionsPurged != 0 {
		t.Errorf("ExecutionsPurged = %d, want 0", stats.ExecutionsPurged)
	}

	running, err := st.ListRunningExecutions(context.Background())
	if err != nil {
		t.Fatalf("ListRunningExecutions failed: %v", err)
	}
	if len(running) != 1 {
		t.Errorf("running executions = %d, want 1", len(running))
	}
}

func TestRun_ZeroTTLDisablesSweep(t *testing.T) {
	st := newTestStore(t)

	seedEvent(t, st, 100*24*time.Hour)
	seedExecution(t, st, store.ExecutionCompleted, 100*24*time.Hour)

	r := NewRunner(Config{}, st, logger.NewDiscard(), nil)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.EventsPurged != 0 || stats.ExecutionsPurged != 0 {
		t.Errorf("stats = %+v, want no purges", stats)
	}
}

func TestRun_RecordsLastRun(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(Config{EventTTLDays: 30}, st, logger.NewDiscard(), nil)

	if !r.GetLastRun().IsZero() {
		t.Error("GetLastRun() should be zero before any run")
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if r.GetLastRun().IsZero() {
		t.Error("GetLastRun() should be set after a run")
	}
}

func TestScheduler_InitialSweep(t *testing.T) {
	st := newTestStore(t)
	seedEvent(t, st, 40*24*time.Hour)

	r := NewRunner(Config{EventTTLDays: 30}, st, logger.NewDiscard(), nil)
	s := NewScheduler(r, SchedulerConfig{Enabled: true, Interval: time.Hour}, logger.NewDiscard())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !r.GetLastRun().IsZero() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("initial sweep did not run")
}

func TestScheduler_DisabledDoesNothing(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(Config{EventTTLDays: 30}, st, logger.NewDiscard(), nil)
	s := NewScheduler(r, SchedulerConfig{Enabled: false}, logger.NewDiscard())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	s.Stop()

	time.Sleep(50 * time.Millisecond)
	if !r.GetLastRun().IsZero() {
		t.Error("disabled scheduler must not run sweeps")
	}
}

func TestScheduler_Trigger(t *testing.T) {
	st := newTestStore(t)
	seedEvent(t, st, 40*24*time.Hour)

	r := NewRunner(Config{EventTTLDays: 30}, st, logger.NewDiscard(), nil)
	s := NewScheduler(r, SchedulerConfig{Enabled: false}, logger.NewDiscard())

	stats, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Trigger() failed: %v", err)
	}
	if stats.EventsPurged != 1 {
		t.Errorf("EventsPurged = %d, want 1", stats.EventsPurged)
	}
}
