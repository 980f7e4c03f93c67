package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aatumaykin/tfreaper/internal/store"
)

const projectColumns = "id, name, path, config, status, discovered_at, destroy_at, created_at, updated_at"

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = store.StatusActive
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = now
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO projects (`+projectColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.Config, p.Status,
		p.DiscoveredAt, p.DestroyAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, id string, upd store.ProjectUpdate) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Config != nil {
		sets = append(sets, "config = ?")
		args = append(args, *upd.Config)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.DestroyAt != nil {
		sets = append(sets, "destroy_at = ?")
		args = append(args, upd.DestroyAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res)
}

func (s *Store) GetProject(ctx context.Context, id string) (*store.Project, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	return scanProject(row)
}

func (s *Store) GetProjectByPath(ctx context.Context, path string) (*store.Project, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE path = ?", path)
	return scanProject(row)
}

func (s *Store) ListSchedulable(ctx context.Context) ([]*store.Project, error) {
	return s.ListProjectsByStatus(ctx, store.SchedulableStatuses...)
}

func (s *Store) ListProjectsByStatus(ctx context.Context, statuses ...store.ProjectStatus) ([]*store.Project, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+projectColumns+` FROM projects
WHERE status IN (`+placeholders+`)
ORDER BY destroy_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects by status: %w", err)
	}
	return scanProjects(rows)
}

func (s *Store) ListProjects(ctx context.Context) ([]*store.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+projectColumns+" FROM projects ORDER BY destroy_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return scanProjects(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*store.Project, error) {
	var p store.Project
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.Config, &p.Status,
		&p.DiscoveredAt, &p.DestroyAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}

func scanProjects(rows *sql.Rows) ([]*store.Project, error) {
	defer rows.Close()

	var out []*store.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// requireRow converts a zero-row write into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
