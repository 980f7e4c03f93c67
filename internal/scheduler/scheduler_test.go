package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/tfreaper/internal/executor"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/aatumaykin/tfreaper/internal/store/sqlite"
)

type fakeOutcome struct {
	status store.ExecutionStatus
	err    error
}

// fakeExecutor replays one outcome per call; the last outcome repeats.
type fakeExecutor struct {
	mu       sync.Mutex
	outcomes []fakeOutcome
	attempts []int
}

func (f *fakeExecutor) Execute(_ context.Context, project *store.Project, attempt int) (*store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	outcome := f.outcomes[len(f.outcomes)-1]
	if len(f.attempts) < len(f.outcomes) {
		outcome = f.outcomes[len(f.attempts)]
	}
	f.attempts = append(f.attempts, attempt)

	if outcome.err != nil {
		return nil, outcome.err
	}

	code := 1
	if outcome.status == store.ExecutionCompleted {
		code = 0
	}
	now := time.Now().UTC()
	return &store.Execution{
		ID:          uuid.New().String(),
		ProjectID:   project.ID,
		Status:      outcome.status,
		Attempt:     attempt,
		ExitCode:    &code,
		StartedAt:   now,
		CompletedAt: &now,
	}, nil
}

func (f *fakeExecutor) CancelProject(string) error {
	return executor.ErrExecutionNotFound
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func (f *fakeExecutor) attemptsSeen() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.attempts))
	copy(out, f.attempts)
	return out
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "state", "tfreaper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestScheduler(t *testing.T, cfg Config, st store.Store, exec Executor) *Scheduler {
	t.Helper()
	s := New(cfg, st, exec, nil, logger.NewDiscard(), nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func seedProject(t *testing.T, st store.Store, destroyAt time.Time) *store.Project {
	t.Helper()
	now := time.Now().UTC()
	p := &store.Project{
		ID:           uuid.New().String(),
		Name:         "proj-" + uuid.New().String()[:8],
		Path:         "/srv/projects/" + uuid.New().String(),
		Status:       store.StatusActive,
		DiscoveredAt: now,
		DestroyAt:    destroyAt.UTC(),
	}
	require.NoError(t, st.CreateProject(context.Background(), p))
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func projectStatus(t *testing.T, st store.Store, id string) store.ProjectStatus {
	t.Helper()
	p, err := st.GetProject(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestSchedule_ArmsDestroyAndWarningLadder(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(2*time.Hour))

	require.NoError(t, s.Schedule(context.Background(), p))

	jobs := s.JobsForProject(p.ID)
	require.Len(t, jobs, 5)
	assert.Equal(t, p.ID+":warn:60", jobs[0].ID)
	assert.Equal(t, p.ID+":warn:15", jobs[1].ID)
	assert.Equal(t, p.ID+":warn:5", jobs[2].ID)
	assert.Equal(t, p.ID+":warn:1", jobs[3].ID)
	assert.Equal(t, p.ID+":destroy", jobs[4].ID)
	assert.Equal(t, JobDestroy, jobs[4].Kind)
	assert.Equal(t, 1, jobs[4].Attempt)
	assert.Equal(t, 5, s.JobCount())
}

func TestSchedule_SkipsElapsedWarnings(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(10*time.Minute))

	require.NoError(t, s.Schedule(context.Background(), p))

	jobs := s.JobsForProject(p.ID)
	require.Len(t, jobs, 3)
	assert.Equal(t, p.ID+":warn:5", jobs[0].ID)
	assert.Equal(t, p.ID+":warn:1", jobs[1].ID)
	assert.Equal(t, p.ID+":destroy", jobs[2].ID)
}

func TestSchedule_ReplacesExistingJobs(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(2*time.Hour))

	require.NoError(t, s.Schedule(context.Background(), p))
	require.Equal(t, 5, s.JobCount())

	p.DestroyAt = time.Now().Add(10 * time.Minute).UTC()
	require.NoError(t, s.Schedule(context.Background(), p))

	jobs := s.JobsForProject(p.ID)
	require.Len(t, jobs, 3)
	assert.Equal(t, 3, s.JobCount())

	destroys := 0
	for _, job := range jobs {
		if job.Kind == JobDestroy {
			destroys++
		}
	}
	assert.Equal(t, 1, destroys, "exactly one destruction job per project")
}

func TestSchedule_JobLimit(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{MaxJobs: 3}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})

	short := seedProject(t, st, time.Now().Add(10*time.Minute))
	require.NoError(t, s.Schedule(context.Background(), short))

	long := seedProject(t, st, time.Now().Add(2*time.Hour))
	err := s.Schedule(context.Background(), long)
	assert.ErrorIs(t, err, ErrJobLimit)
	assert.Empty(t, s.JobsForProject(long.ID))
	assert.Equal(t, 3, s.JobCount(), "rejected schedule must not disturb armed jobs")
}

func TestSchedule_NotStarted(t *testing.T) {
	st := newTestStore(t)
	s := New(Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}}, nil, logger.NewDiscard(), nil)

	err := s.Schedule(context.Background(), seedProject(t, st, time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSchedule_RejectsNonSchedulableStatus(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(time.Hour))
	p.Status = store.StatusDestroyed

	err := s.Schedule(context.Background(), p)
	assert.ErrorIs(t, err, ErrNotSchedulable)
	assert.Empty(t, s.JobsForProject(p.ID))
}

func TestReschedule_MovesDeadlineAndReplacesJobs(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(2*time.Hour))
	require.NoError(t, s.Schedule(context.Background(), p))
	require.Equal(t, 5, s.JobCount())

	newTime := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.Reschedule(context.Background(), p.ID, newTime))

	assert.Len(t, s.JobsForProject(p.ID), 3)
	got, err := st.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, newTime.UTC(), got.DestroyAt, time.Second)
}

func TestReschedule_ToleratesUnscheduledProject(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(time.Hour))

	// Nothing armed yet; reschedule proceeds to arm anyway.
	require.NoError(t, s.Reschedule(context.Background(), p.ID, time.Now().Add(2*time.Hour)))
	assert.NotEmpty(t, s.JobsForProject(p.ID))
}

func TestReschedule_RevivesTerminalProject(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(time.Hour))
	failed := store.StatusFailed
	require.NoError(t, st.UpdateProject(context.Background(), p.ID, store.ProjectUpdate{Status: &failed}))

	require.NoError(t, s.Reschedule(context.Background(), p.ID, time.Now().Add(time.Hour)))

	assert.Equal(t, store.StatusActive, projectStatus(t, st, p.ID))
	assert.NotEmpty(t, s.JobsForProject(p.ID))
}

func TestReschedule_RefusesInFlightDestruction(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(time.Hour))
	destroying := store.StatusDestroying
	require.NoError(t, st.UpdateProject(context.Background(), p.ID, store.ProjectUpdate{Status: &destroying}))

	err := s.Reschedule(context.Background(), p.ID, time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotSchedulable)
}

func TestReschedule_UnknownProject(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})

	err := s.Reschedule(context.Background(), uuid.New().String(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFireDestroy_Success(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}}
	s := newTestScheduler(t, Config{}, st, exec)
	p := seedProject(t, st, time.Now().Add(50*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), p))

	waitFor(t, 5*time.Second, func() bool {
		return projectStatus(t, st, p.ID) == store.StatusDestroyed
	})
	assert.Equal(t, []int{1}, exec.attemptsSeen())
	assert.Empty(t, s.JobsForProject(p.ID))

	events, err := st.QueryEvents(context.Background(), store.EventFilter{ProjectID: p.ID})
	require.NoError(t, err)
	types := make(map[store.EventType]bool)
	for _, e := range events {
		types[e.Type] = true
	}
	assert.True(t, types[store.EventRegistered])
	assert.True(t, types[store.EventDestroying])
	assert.True(t, types[store.EventDestroyed])
}

func TestFireDestroy_CancelledRaceIsNoop(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}}
	s := newTestScheduler(t, Config{}, st, exec)
	p := seedProject(t, st, time.Now().Add(150*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), p))

	// A second process cancels before the timer fires.
	cancelled := store.StatusCancelled
	require.NoError(t, st.UpdateProject(context.Background(), p.ID, store.ProjectUpdate{Status: &cancelled}))

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 0, exec.calls())
	assert.Equal(t, store.StatusCancelled, projectStatus(t, st, p.ID))
}

func TestFireDestroy_FollowsMovedDeadline(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}}
	s := newTestScheduler(t, Config{}, st, exec)
	p := seedProject(t, st, time.Now().Add(100*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), p))

	// A second process extends the deadline before the timer fires.
	movedTo := time.Now().Add(time.Hour).UTC()
	require.NoError(t, st.UpdateProject(context.Background(), p.ID, store.ProjectUpdate{DestroyAt: &movedTo}))

	waitFor(t, 5*time.Second, func() bool {
		jobs := s.JobsForProject(p.ID)
		if len(jobs) == 0 {
			return false
		}
		last := jobs[len(jobs)-1]
		return last.Kind == JobDestroy && last.FireAt.After(time.Now().Add(50*time.Minute))
	})
	assert.Equal(t, 0, exec.calls())
}

func TestRetry_ExhaustsAttemptBudget(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionFailed}}}
	s := newTestScheduler(t, Config{RetryBackoff: 30 * time.Millisecond}, st, exec)
	p := seedProject(t, st, time.Now().Add(30*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), p))

	waitFor(t, 5*time.Second, func() bool {
		return projectStatus(t, st, p.ID) == store.StatusFailed
	})
	assert.Equal(t, []int{1, 2, 3, 4}, exec.attemptsSeen(), "one initial attempt plus three retries")
	assert.Empty(t, s.JobsForProject(p.ID))

	// No further attempts after exhaustion.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 4, exec.calls())
}

func TestRetry_CapacityDoesNotConsumeAttempt(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{outcomes: []fakeOutcome{
		{err: executor.ErrAtCapacity},
		{status: store.ExecutionCompleted},
	}}
	s := newTestScheduler(t, Config{RetryBackoff: 30 * time.Millisecond}, st, exec)
	p := seedProject(t, st, time.Now().Add(30*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), p))

	waitFor(t, 5*time.Second, func() bool {
		return projectStatus(t, st, p.ID) == store.StatusDestroyed
	})
	assert.Equal(t, []int{1, 1}, exec.attemptsSeen(), "capacity rejection must not consume an attempt")
}

func TestFireDestroy_CancelledExecutionEndsRetries(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCancelled}}}
	s := newTestScheduler(t, Config{RetryBackoff: 30 * time.Millisecond}, st, exec)
	p := seedProject(t, st, time.Now().Add(30*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), p))

	waitFor(t, 5*time.Second, func() bool { return exec.calls() == 1 })
	time.Sleep(200 * time.Millisecond)

	// No retry after a cancelled run; the project returns to active and
	// stays tracked for the next rediscovery.
	assert.Equal(t, 1, exec.calls())
	assert.Equal(t, store.StatusActive, projectStatus(t, st, p.ID))
	assert.Empty(t, s.JobsForProject(p.ID))

	events, err := st.QueryEvents(context.Background(), store.EventFilter{ProjectID: p.ID, Type: store.EventCancelled})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestCancel_DisarmsAllJobs(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})
	p := seedProject(t, st, time.Now().Add(time.Hour))

	require.NoError(t, s.Schedule(context.Background(), p))
	require.NoError(t, s.Cancel(context.Background(), p.ID))

	assert.Empty(t, s.JobsForProject(p.ID))
	assert.Equal(t, 0, s.JobCount(), "destruction and every warning removed together")
	assert.Equal(t, store.StatusActive, projectStatus(t, st, p.ID))

	events, err := st.QueryEvents(context.Background(), store.EventFilter{ProjectID: p.ID, Type: store.EventCancelled})
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	err = s.Cancel(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestCancel_UnknownProject(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}})

	err := s.Cancel(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestStart_RearmsPersistedProjects(t *testing.T) {
	st := newTestStore(t)
	overdue := seedProject(t, st, time.Now().Add(-time.Hour))
	upcoming := seedProject(t, st, time.Now().Add(time.Hour))

	exec := &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}}
	s := New(Config{}, st, exec, nil, logger.NewDiscard(), nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	// The overdue project executes immediately on startup.
	waitFor(t, 5*time.Second, func() bool {
		return projectStatus(t, st, overdue.ID) == store.StatusDestroyed
	})

	jobs := s.JobsForProject(upcoming.ID)
	require.NotEmpty(t, jobs)
	assert.Equal(t, JobDestroy, jobs[len(jobs)-1].Kind)
}

func TestStartStop_Lifecycle(t *testing.T) {
	st := newTestStore(t)
	s := New(Config{}, st, &fakeExecutor{outcomes: []fakeOutcome{{status: store.ExecutionCompleted}}}, nil, logger.NewDiscard(), nil)

	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsStarted())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsStarted())
	assert.Equal(t, 0, s.JobCount())
}
