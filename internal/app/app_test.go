package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aatumaykin/tfreaper/internal/config"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/projectfile"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Daemon.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.Discovery.Roots = []string{root}
	cfg.Discovery.RescanSchedule = "@every 1h"
	cfg.Retention.Enabled = true
	return cfg
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
	t.Fatal("condition not met before timeout")
}

func writeProject(t *testing.T, root, name string) string {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "version: 1\nname: " + name + "\ntimeout: 2h\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, projectfile.Filename), []byte(content), 0o644))
	return dir
}

func TestAppLifecycle(t *testing.T) {
	a := New(testConfig(t), logger.NewDiscard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Initialize(ctx))
	require.True(t, a.IsStarted())
	require.True(t, a.Scheduler().IsStarted())

	require.NoError(t, a.Shutdown())
	require.False(t, a.IsStarted())

	// A second shutdown is a no-op.
	require.NoError(t, a.Shutdown())
}

func TestAppDiscoversProjectsOnStartup(t *testing.T) {
	cfg := testConfig(t)
	dir := writeProject(t, cfg.Discovery.Roots[0], "staging")

	a := New(cfg, logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Initialize(ctx))
	defer a.Shutdown()

	waitFor(t, 5*time.Second, func() bool {
		p, err := a.Store().GetProjectByPath(context.Background(), dir)
		return err == nil && p.Status == store.StatusActive
	})

	p, err := a.Store().GetProjectByPath(context.Background(), dir)
	require.NoError(t, err)
	require.NotEmpty(t, a.Scheduler().JobsForProject(p.ID))
}

func TestAppWatcherPicksUpNewProject(t *testing.T) {
	cfg := testConfig(t)

	a := New(cfg, logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Initialize(ctx))
	defer a.Shutdown()

	dir := writeProject(t, cfg.Discovery.Roots[0], "late-arrival")

	waitFor(t, 5*time.Second, func() bool {
		_, err := a.Store().GetProjectByPath(context.Background(), dir)
		return err == nil
	})
}

func TestAppRunStopsOnContextCancel(t *testing.T) {
	a := New(testConfig(t), logger.NewDiscard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, 5*time.Second, a.IsStarted)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.False(t, a.IsStarted())
}
