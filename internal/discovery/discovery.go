// Package discovery walks configured roots for project config files and
// reconciles the persisted project set against what is actually on disk. A
// full pass is authoritative: tracked projects whose file disappeared are
// deleted. Single-path variants serve live file-watch events.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
	"github.com/aatumaykin/tfreaper/internal/projectfile"
	"github.com/aatumaykin/tfreaper/internal/store"
)

const (
	// DefaultMaxDepth bounds traversal below each root.
	DefaultMaxDepth = 10
	// DefaultBatchSize is how many found files are processed concurrently
	// before the next batch starts.
	DefaultBatchSize = 50
	// DefaultTimeout replaces a project timeout that cannot be parsed.
	DefaultTimeout = 2 * time.Hour
)

// DefaultExclusions are directory names never descended into.
var DefaultExclusions = []string{
	"node_modules",
	".git",
	"vendor",
	".terraform",
	"dist",
	"build",
	"target",
}

// Registrar is the slice of the scheduler discovery drives. Nil disables
// scheduling side effects (one-shot CLI scans).
type Registrar interface {
	Schedule(ctx context.Context, project *store.Project) error
	Disarm(projectID string)
}

// Stats summarizes one discovery pass.
type Stats struct {
	Scanned  int
	Found    int
	New      int
	Updated  int
	Deleted  int
	Errors   int
	Duration time.Duration
}

// Config controls discovery behavior.
type Config struct {
	Roots          []string
	MaxDepth       int
	Exclusions     []string
	BatchSize      int
	DefaultTimeout time.Duration
}

// Discoverer scans roots and keeps the store consistent with disk.
type Discoverer struct {
	cfg       Config
	store     store.Store
	registrar Registrar
	bus       *bus.Bus
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// New creates a discoverer. Zero config fields fall back to defaults.
func New(cfg Config, st store.Store, reg Registrar, b *bus.Bus, log *logger.Logger, m *metrics.Metrics) *Discoverer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if len(cfg.Exclusions) == 0 {
		cfg.Exclusions = DefaultExclusions
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}

	return &Discoverer{
		cfg:       cfg,
		store:     st,
		registrar: reg,
		bus:       b,
		logger:    log,
		metrics:   m,
	}
}

// Discover runs one authoritative pass: walk every root, create or update a
// project per config file found, then delete tracked projects whose file is
// gone. An unreadable root fails the whole pass before anything is touched.
func (d *Discoverer) Discover(ctx context.Context) (*Stats, error) {
	start := time.Now()

	for _, root := range d.cfg.Roots {
		if err := checkRoot(root); err != nil {
			return nil, fmt.Errorf("discovery root: %w", err)
		}
	}

	stats := &Stats{}
	dirs, scanned, walkErrors := d.collect()
	stats.Scanned = scanned
	stats.Found = len(dirs)
	stats.Errors = walkErrors

	var created, updated, failed atomic.Int64
	for batchStart := 0; batchStart < len(dirs); batchStart += d.cfg.BatchSize {
		end := batchStart + d.cfg.BatchSize
		if end > len(dirs) {
			end = len(dirs)
		}

		// Each batch settles completely, successes and failures both,
		// before the next one starts.
		var g errgroup.Group
		for _, dir := range dirs[batchStart:end] {
			g.Go(func() error {
				_, outcome, err := d.processDir(ctx, dir)
				switch {
				case err != nil:
					failed.Add(1)
				case outcome == outcomeNew:
					created.Add(1)
				case outcome == outcomeUpdated:
					updated.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	stats.New = int(created.Load())
	stats.Updated = int(updated.Load())
	stats.Errors += int(failed.Load())

	deleted, reconcileErrors := d.reconcile(ctx, dirs)
	stats.Deleted = deleted
	stats.Errors += reconcileErrors

	stats.Duration = time.Since(start)
	d.metrics.RecordDiscovery(stats.Errors, stats.Duration)
	d.refreshProjectGauges(ctx)

	d.logger.Info("discovery pass finished",
		logger.Field{Key: "scanned", Value: stats.Scanned},
		logger.Field{Key: "found", Value: stats.Found},
		logger.Field{Key: "new", Value: stats.New},
		logger.Field{Key: "updated", Value: stats.Updated},
		logger.Field{Key: "deleted", Value: stats.Deleted},
		logger.Field{Key: "errors", Value: stats.Errors},
		logger.Field{Key: "duration", Value: stats.Duration.String()})
	return stats, nil
}

// DiscoverProject runs the create/update logic for a single directory
// without the deletion sweep. Used by file-watch add/change events.
func (d *Discoverer) DiscoverProject(ctx context.Context, dir string) (*store.Project, error) {
	project, _, err := d.processDir(ctx, dir)
	return project, err
}

// RemoveProjectByPath deletes the project tracked for a directory, used by
// file-watch unlink events. Returns store.ErrNotFound for untracked paths.
func (d *Discoverer) RemoveProjectByPath(ctx context.Context, dir string) error {
	project, err := d.store.GetProjectByPath(ctx, dir)
	if err != nil {
		return err
	}
	return d.remove(ctx, project)
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeNew
	outcomeUpdated
)

// processDir parses the config file in dir and creates or updates the
// tracked project. Parse and validation failures are reported as errors,
// never as partial writes.
func (d *Discoverer) processDir(ctx context.Context, dir string) (*store.Project, outcome, error) {
	cfg, err := projectfile.ParseFile(filepath.Join(dir, projectfile.Filename))
	if err != nil {
		d.fileError(dir, err)
		return nil, outcomeNone, err
	}
	blob, err := cfg.ToJSON()
	if err != nil {
		d.fileError(dir, err)
		return nil, outcomeNone, err
	}

	existing, err := d.store.GetProjectByPath(ctx, dir)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return d.create(ctx, dir, cfg, blob)
	case err != nil:
		d.fileError(dir, err)
		return nil, outcomeNone, err
	default:
		return d.update(ctx, existing, cfg, blob)
	}
}

func (d *Discoverer) create(ctx context.Context, dir string, cfg *projectfile.Config, blob string) (*store.Project, outcome, error) {
	now := time.Now().UTC()
	project := &store.Project{
		ID:           uuid.New().String(),
		Name:         projectName(cfg, dir),
		Path:         dir,
		Config:       blob,
		Status:       store.StatusActive,
		DiscoveredAt: now,
		DestroyAt:    now.Add(d.timeout(cfg, dir)),
	}
	if err := d.store.CreateProject(ctx, project); err != nil {
		d.fileError(dir, err)
		return nil, outcomeNone, err
	}

	d.logEvent(ctx, project.ID, store.EventDiscovered, map[string]any{
		"timeout":    cfg.Timeout,
		"destroy_at": project.DestroyAt.Format(time.RFC3339),
	})
	d.publish(bus.Notification{
		Type:        bus.TypeDiscovered,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
		DestroyAt:   project.DestroyAt,
	})
	d.logger.Info("project discovered",
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "name", Value: project.Name},
		logger.Field{Key: "path", Value: project.Path},
		logger.Field{Key: "destroy_at", Value: project.DestroyAt.Format(time.RFC3339)})

	d.schedule(ctx, project)
	return project, outcomeNew, nil
}

func (d *Discoverer) update(ctx context.Context, existing *store.Project, cfg *projectfile.Config, blob string) (*store.Project, outcome, error) {
	// An unchanged file seen again is a no-op: recomputing the deadline
	// here would slide it forward on every periodic rescan.
	if existing.Config == blob {
		return existing, outcomeNone, nil
	}
	// Leave an in-flight destruction alone; the edit is picked up by the
	// next pass once the run has finished.
	if existing.Status == store.StatusDestroying {
		d.logger.Debug("skipping config update during destruction",
			logger.Field{Key: "project_id", Value: existing.ID})
		return existing, outcomeNone, nil
	}

	now := time.Now().UTC()
	name := projectName(cfg, existing.Path)
	destroyAt := now.Add(d.timeout(cfg, existing.Path))
	status := existing.Status
	if terminal(status) {
		status = store.StatusActive
	}

	upd := store.ProjectUpdate{
		Name:      &name,
		Config:    &blob,
		Status:    &status,
		DestroyAt: &destroyAt,
	}
	if err := d.store.UpdateProject(ctx, existing.ID, upd); err != nil {
		d.fileError(existing.Path, err)
		return nil, outcomeNone, err
	}

	project := *existing
	project.Name = name
	project.Config = blob
	project.Status = status
	project.DestroyAt = destroyAt

	d.logEvent(ctx, project.ID, store.EventDiscovered, map[string]any{
		"detail":     "updated",
		"timeout":    cfg.Timeout,
		"destroy_at": destroyAt.Format(time.RFC3339),
	})
	d.publish(bus.Notification{
		Type:        bus.TypeUpdated,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
		DestroyAt:   project.DestroyAt,
	})
	d.logger.Info("project updated",
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "name", Value: project.Name},
		logger.Field{Key: "destroy_at", Value: destroyAt.Format(time.RFC3339)})

	d.schedule(ctx, &project)
	return &project, outcomeUpdated, nil
}

// reconcile deletes every schedulable project whose directory was not found
// in this pass.
func (d *Discoverer) reconcile(ctx context.Context, found []string) (deleted, errs int) {
	onDisk := make(map[string]struct{}, len(found))
	for _, dir := range found {
		onDisk[dir] = struct{}{}
	}

	tracked, err := d.store.ListSchedulable(ctx)
	if err != nil {
		d.logger.Error("failed to list projects for reconciliation", err)
		return 0, 1
	}

	for _, project := range tracked {
		if _, ok := onDisk[project.Path]; ok {
			continue
		}
		if err := d.remove(ctx, project); err != nil {
			d.logger.Error("failed to remove vanished project", err,
				logger.Field{Key: "project_id", Value: project.ID})
			errs++
			continue
		}
		deleted++
	}
	return deleted, errs
}

func (d *Discoverer) remove(ctx context.Context, project *store.Project) error {
	if d.registrar != nil {
		d.registrar.Disarm(project.ID)
	}
	if err := d.store.DeleteProject(ctx, project.ID); err != nil {
		return err
	}

	d.logEvent(ctx, project.ID, store.EventCancelled, map[string]any{
		"reason": "config file deleted",
		"path":   project.Path,
	})
	d.publish(bus.Notification{
		Type:        bus.TypeRemoved,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
	})
	d.logger.Info("project removed",
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "name", Value: project.Name},
		logger.Field{Key: "path", Value: project.Path})
	return nil
}

// collect walks every root and returns the directories containing a config
// file, deduplicated across overlapping roots.
func (d *Discoverer) collect() (dirs []string, scanned, errs int) {
	seen := make(map[string]struct{})

	for _, root := range d.cfg.Roots {
		root := filepath.Clean(root)
		walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				// Only the root itself fails the pass; subtree errors are
				// isolated.
				d.logger.Warn("walk error",
					logger.Field{Key: "path", Value: path},
					logger.Field{Key: "error", Value: err.Error()})
				errs++
				return nil
			}

			if entry.IsDir() {
				scanned++
				if path != root && d.excluded(entry.Name()) {
					return fs.SkipDir
				}
				if d.depth(root, path) > d.cfg.MaxDepth {
					return fs.SkipDir
				}
				return nil
			}

			if entry.Name() == projectfile.Filename {
				dir := filepath.Dir(path)
				if _, ok := seen[dir]; !ok {
					seen[dir] = struct{}{}
					dirs = append(dirs, dir)
				}
			}
			return nil
		})
		if walkErr != nil {
			d.logger.Warn("walk aborted",
				logger.Field{Key: "root", Value: root},
				logger.Field{Key: "error", Value: walkErr.Error()})
			errs++
		}
	}
	return dirs, scanned, errs
}

func (d *Discoverer) excluded(name string) bool {
	for _, pattern := range d.cfg.Exclusions {
		if name == pattern {
			return true
		}
	}
	return false
}

func (d *Discoverer) depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// timeout resolves the project's destroy delay, falling back to the
// configured default when the string does not parse. Discovery never fails
// a project solely because of a bad timeout.
func (d *Discoverer) timeout(cfg *projectfile.Config, dir string) time.Duration {
	timeout, err := cfg.Duration()
	if err != nil {
		d.logger.Warn("unparseable timeout, using default",
			logger.Field{Key: "path", Value: dir},
			logger.Field{Key: "timeout", Value: cfg.Timeout},
			logger.Field{Key: "default", Value: d.cfg.DefaultTimeout.String()})
		return d.cfg.DefaultTimeout
	}
	return timeout
}

func (d *Discoverer) schedule(ctx context.Context, project *store.Project) {
	if d.registrar == nil {
		return
	}
	if err := d.registrar.Schedule(ctx, project); err != nil {
		d.logger.Error("failed to schedule discovered project", err,
			logger.Field{Key: "project_id", Value: project.ID})
	}
}

func (d *Discoverer) fileError(dir string, err error) {
	d.publish(bus.Notification{
		Type:  bus.TypeError,
		Path:  dir,
		Error: err.Error(),
	})
	d.logger.Warn("failed to process project config",
		logger.Field{Key: "path", Value: dir},
		logger.Field{Key: "error", Value: err.Error()})
}

func (d *Discoverer) refreshProjectGauges(ctx context.Context) {
	projects, err := d.store.ListProjects(ctx)
	if err != nil {
		return
	}
	counts := map[store.ProjectStatus]int{
		store.StatusActive:     0,
		store.StatusPending:    0,
		store.StatusDestroying: 0,
		store.StatusDestroyed:  0,
		store.StatusFailed:     0,
		store.StatusCancelled:  0,
	}
	for _, p := range projects {
		counts[p.Status]++
	}
	for status, n := range counts {
		d.metrics.SetProjectsTracked(string(status), n)
	}
}

func (d *Discoverer) logEvent(ctx context.Context, projectID string, eventType store.EventType, detail map[string]any) {
	event := &store.Event{
		ProjectID: projectID,
		Type:      eventType,
		Detail:    eventDetail(detail),
	}
	if err := d.store.LogEvent(ctx, event); err != nil {
		d.logger.Error("failed to log event", err,
			logger.Field{Key: "project_id", Value: projectID},
			logger.Field{Key: "event_type", Value: eventType})
	}
}

func (d *Discoverer) publish(n bus.Notification) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish(n)
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	if _, err := os.ReadDir(root); err != nil {
		return err
	}
	return nil
}

func projectName(cfg *projectfile.Config, dir string) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return filepath.Base(dir)
}

func terminal(status store.ProjectStatus) bool {
	switch status {
	case store.StatusDestroyed, store.StatusFailed, store.StatusCancelled:
		return true
	}
	return false
}

func eventDetail(detail map[string]any) string {
	data, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(data)
}
