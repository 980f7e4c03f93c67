package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/projectfile"
)

type actionRecorder struct {
	mu      sync.Mutex
	changes []string
	removes []string
}

func (r *actionRecorder) change(_ context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, dir)
	return nil
}

func (r *actionRecorder) remove(_ context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, dir)
	return nil
}

func (r *actionRecorder) changed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r *actionRecorder) removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.removes))
	copy(out, r.removes)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// tempRoot resolves symlinks so event paths compare cleanly against the
// root; macOS points TMPDIR through /var.
func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func newTestWatcher(t *testing.T, root string) (*Watcher, *actionRecorder) {
	t.Helper()

	rec := &actionRecorder{}
	w := New(Config{
		Roots:    []string{root},
		Debounce: 50 * time.Millisecond,
	}, rec.change, rec.remove, logger.NewDiscard())

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		if w.IsStarted() {
			_ = w.Stop()
		}
	})
	return w, rec
}

func writeProjectFile(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := []byte("version: 1\ntimeout: 1h\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, projectfile.Filename), content, 0o644))
}

func TestWatcher_DetectsNewProjectFile(t *testing.T) {
	root := tempRoot(t)
	dir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, rec := newTestWatcher(t, root)

	writeProjectFile(t, dir)

	waitFor(t, 2*time.Second, func() bool { return len(rec.changed()) >= 1 })
	assert.Equal(t, dir, rec.changed()[0])
}

func TestWatcher_DetectsProjectInNewDirectory(t *testing.T) {
	root := tempRoot(t)
	_, rec := newTestWatcher(t, root)

	// The directory did not exist at start; the create event must extend
	// the watch and pick up the file inside.
	dir := filepath.Join(root, "later")
	writeProjectFile(t, dir)

	waitFor(t, 2*time.Second, func() bool { return len(rec.changed()) >= 1 })
	assert.Equal(t, dir, rec.changed()[0])
}

func TestWatcher_CollapsesWriteBursts(t *testing.T) {
	root := tempRoot(t)
	dir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, rec := newTestWatcher(t, root)

	path := filepath.Join(dir, projectfile.Filename)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("version: 1\ntimeout: 1h\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool { return len(rec.changed()) >= 1 })
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, rec.changed(), 1, "a write burst must settle into one change")
}

func TestWatcher_RemovalTriggersRemove(t *testing.T) {
	root := tempRoot(t)
	dir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, rec := newTestWatcher(t, root)

	writeProjectFile(t, dir)
	waitFor(t, 2*time.Second, func() bool { return len(rec.changed()) >= 1 })

	require.NoError(t, os.Remove(filepath.Join(dir, projectfile.Filename)))

	waitFor(t, 2*time.Second, func() bool { return len(rec.removed()) >= 1 })
	assert.Equal(t, dir, rec.removed()[0])
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	root := tempRoot(t)
	_, rec := newTestWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.changed())
	assert.Empty(t, rec.removed())
}

func TestWatcher_IgnoresExcludedDirs(t *testing.T) {
	root := tempRoot(t)
	_, rec := newTestWatcher(t, root)

	writeProjectFile(t, filepath.Join(root, "node_modules", "dep"))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.changed())
}

func TestWatcher_MissingRootFailsStart(t *testing.T) {
	rec := &actionRecorder{}
	w := New(Config{Roots: []string{"/does/not/exist"}}, rec.change, rec.remove, logger.NewDiscard())

	assert.Error(t, w.Start(context.Background()))
	assert.False(t, w.IsStarted())
}

func TestWatcher_Lifecycle(t *testing.T) {
	root := tempRoot(t)
	w, _ := newTestWatcher(t, root)

	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.Stop(), ErrNotStarted)
}
