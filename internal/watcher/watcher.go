// Package watcher reacts to filesystem changes under the discovery roots so
// project file edits take effect without waiting for the next scan. Events
// are debounced per path; editors produce bursts of writes for one save.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aatumaykin/tfreaper/internal/discovery"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/projectfile"
	"github.com/aatumaykin/tfreaper/internal/store"
)

var (
	ErrAlreadyStarted = errors.New("watcher is already started")
	ErrNotStarted     = errors.New("watcher is not started")
)

// DefaultDebounce is the quiet period after the last event on a path before
// the change is acted on.
const DefaultDebounce = 500 * time.Millisecond

// Action receives the project directory once a change has settled.
type Action func(ctx context.Context, dir string) error

// Config mirrors the discovery traversal settings so both see the same
// slice of the filesystem.
type Config struct {
	Roots      []string
	MaxDepth   int
	Exclusions []string
	Debounce   time.Duration
}

// Watcher maintains recursive fsnotify watches over the roots and invokes
// onChange / onRemove for settled project file events.
type Watcher struct {
	cfg      Config
	onChange Action
	onRemove Action
	logger   *logger.Logger

	mu      sync.Mutex
	started bool
	fsw     *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending map[string]*time.Timer
}

// New creates a watcher. onChange fires when a project file appears or is
// edited, onRemove when it disappears; both receive the project directory.
func New(cfg Config, onChange, onRemove Action, log *logger.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = discovery.DefaultMaxDepth
	}
	if len(cfg.Exclusions) == 0 {
		cfg.Exclusions = discovery.DefaultExclusions
	}
	for i, root := range cfg.Roots {
		cfg.Roots[i] = filepath.Clean(root)
	}

	return &Watcher{
		cfg:      cfg,
		onChange: onChange,
		onRemove: onRemove,
		logger:   log,
	}
}

// Start registers watches for every directory under the roots and launches
// the event loop. A missing root fails the start.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.pending = make(map[string]*time.Timer)

	dirs := 0
	for _, root := range w.cfg.Roots {
		n, err := w.addTree(fsw, root, false)
		if err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.cancel()
			return fmt.Errorf("watch %s: %w", root, err)
		}
		dirs += n
	}

	w.started = true
	w.wg.Add(1)
	go w.loop(fsw)

	w.logger.Info("file watcher started",
		logger.Field{Key: "roots", Value: len(w.cfg.Roots)},
		logger.Field{Key: "dirs", Value: dirs},
		logger.Field{Key: "debounce", Value: w.cfg.Debounce.String()})
	return nil
}

// Stop closes the fsnotify watcher and discards pending debounce timers.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrNotStarted
	}
	w.started = false
	w.cancel()

	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}

	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()

	w.logger.Info("file watcher stopped")
	return err
}

// IsStarted reports whether the watcher is running.
func (w *Watcher) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	name := filepath.Clean(event.Name)

	// A new directory gets watched immediately, including everything a
	// rename moved in with it; fsnotify does not replay existing contents.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if !w.shouldWatch(name) {
				return
			}
			if _, err := w.addTree(fsw, name, true); err != nil {
				w.logger.Warn("failed to watch new directory",
					logger.Field{Key: "path", Value: name},
					logger.Field{Key: "error", Value: err.Error()})
			}
			return
		}
	}

	if filepath.Base(name) != projectfile.Filename {
		return
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.logger.Debug("project file event",
			logger.Field{Key: "op", Value: event.Op.String()},
			logger.Field{Key: "path", Value: name})
		w.debounce(name)
	}
}

// debounce starts or resets the settle timer for a path.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}

	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() { w.settle(path) })
}

// settle decides, after the quiet period, whether the path ended up present
// or gone. A burst of write/remove/create events collapses into whichever
// state survived it.
func (w *Watcher) settle(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	ctx := w.ctx
	w.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	dir := filepath.Dir(path)

	if _, err := os.Stat(path); err == nil {
		if err := w.onChange(ctx, dir); err != nil {
			w.logger.Warn("change handler failed",
				logger.Field{Key: "path", Value: dir},
				logger.Field{Key: "error", Value: err.Error()})
		}
		return
	}

	if err := w.onRemove(ctx, dir); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Debug("removed file was not tracked",
				logger.Field{Key: "path", Value: dir})
			return
		}
		w.logger.Warn("remove handler failed",
			logger.Field{Key: "path", Value: dir},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

// addTree watches dir and its subdirectories, honoring exclusions and the
// depth limit. With announce set, project files encountered during the walk
// are fed through the debounce path; used for directories that appeared
// after startup.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string, announce bool) (int, error) {
	root, ok := w.rootFor(dir)
	if !ok {
		return 0, nil
	}

	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if announce && d.Name() == projectfile.Filename {
				w.debounce(path)
			}
			return nil
		}
		if path != dir && w.excluded(d.Name()) {
			return fs.SkipDir
		}
		if w.depth(root, path) > w.cfg.MaxDepth {
			return fs.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}

// shouldWatch reports whether dir lies under a root, below the depth limit,
// with no excluded component on the way.
func (w *Watcher) shouldWatch(dir string) bool {
	root, ok := w.rootFor(dir)
	if !ok {
		return false
	}

	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	if rel != "." {
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if w.excluded(part) {
				return false
			}
		}
	}

	return w.depth(root, dir) <= w.cfg.MaxDepth
}

func (w *Watcher) rootFor(path string) (string, bool) {
	for _, root := range w.cfg.Roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

func (w *Watcher) excluded(name string) bool {
	for _, pattern := range w.cfg.Exclusions {
		if name == pattern {
			return true
		}
	}
	return false
}

func (w *Watcher) depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
