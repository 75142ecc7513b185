package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

var _ repository.ProjectRepository = (*ProjectStore)(nil)

// ProjectStore persists projects and their favorite and editor sets.
//
// Reads always exclude soft-deleted rows. Owner and Editors are filled as
// MemberSummary values; a project never carries a full member.
type ProjectStore struct {
	q DBTX
}

const projectSelect = `
	SELECT p.id, p.name, p.owner_id, p.sandpack_template, p.files,
	       p.is_template, p.is_public, p.created_at, p.updated_at,
	       m.username
	FROM projects p
	JOIN members m ON m.id = p.owner_id`

func (s *ProjectStore) Create(ctx context.Context, p *model.Project) error {
	now := time.Now().UTC()
	p.ID = xid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO projects (id, name, owner_id, sandpack_template, files,
		                       is_template, is_public, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerID, p.SandpackTemplate, p.Files,
		p.IsTemplate, p.IsPublic, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		p.ID = ""
		if foreignKeyViolation(err) {
			return apperror.MemberNotFound(p.OwnerID)
		}
		return storeErr("insert project", err)
	}
	return nil
}

func (s *ProjectStore) GetByID(ctx context.Context, id string) (*model.Project, error) {
	row := s.q.QueryRowContext(ctx,
		projectSelect+` WHERE p.id = ? AND p.deleted_at IS NULL`, id,
	)
	p, err := scanProject(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.ProjectNotFound(id)
		}
		return nil, storeErr("get project", err)
	}
	if err := s.loadEditors(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns matching projects, newest first.
func (s *ProjectStore) List(ctx context.Context, f repository.ProjectFilter, opts repository.ListOptions) ([]*model.Project, error) {
	where := []string{"p.deleted_at IS NULL"}
	var args []any

	if f.PublicOnly {
		where = append(where, "p.is_public = 1")
	}
	if f.OwnerID != "" {
		where = append(where, "p.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.EditorID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM project_editors e WHERE e.project_id = p.id AND e.member_id = ?)")
		args = append(args, f.EditorID)
	}
	if f.FavoritedByID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM project_favorites fv WHERE fv.project_id = p.id AND fv.member_id = ?)")
		args = append(args, f.FavoritedByID)
	}
	if f.SandpackTemplate != "" {
		where = append(where, "p.sandpack_template = ?")
		args = append(args, f.SandpackTemplate)
	}
	if f.VisibleTo != "" {
		where = append(where, `(p.is_public = 1 OR p.owner_id = ?
			OR EXISTS (SELECT 1 FROM project_editors ve WHERE ve.project_id = p.id AND ve.member_id = ?))`)
		args = append(args, f.VisibleTo, f.VisibleTo)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.q.QueryContext(ctx,
		projectSelect+` WHERE `+strings.Join(where, " AND ")+
			` ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, storeErr("list projects", err)
	}

	projects := []*model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, storeErr("scan project", err)
		}
		projects = append(projects, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, storeErr("iterate projects", err)
	}

	// Editors are loaded after rows is closed: an in-memory database has a
	// single connection and a second query would wait on the first.
	for _, p := range projects {
		if err := s.loadEditors(ctx, p); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

func (s *ProjectStore) Update(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE projects
		 SET name = ?, sandpack_template = ?, files = ?, is_template = ?, is_public = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		p.Name, p.SandpackTemplate, p.Files, p.IsTemplate, p.IsPublic, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return storeErr("update project", err)
	}
	return requireRow(res, apperror.ProjectNotFound(p.ID))
}

func (s *ProjectStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE projects SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return storeErr("delete project", err)
	}
	return requireRow(res, apperror.ProjectNotFound(id))
}

func (s *ProjectStore) AddFavorite(ctx context.Context, projectID, memberID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO project_favorites (project_id, member_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (project_id, member_id) DO NOTHING`,
		projectID, memberID, time.Now().UTC(),
	)
	if foreignKeyViolation(err) {
		return apperror.ProjectNotFound(projectID)
	}
	return storeErr("add favorite", err)
}

func (s *ProjectStore) RemoveFavorite(ctx context.Context, projectID, memberID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM project_favorites WHERE project_id = ? AND member_id = ?`,
		projectID, memberID,
	)
	return storeErr("remove favorite", err)
}

func (s *ProjectStore) AddEditors(ctx context.Context, projectID string, memberIDs []string) error {
	now := time.Now().UTC()
	for _, memberID := range memberIDs {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO project_editors (project_id, member_id, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (project_id, member_id) DO NOTHING`,
			projectID, memberID, now,
		)
		if foreignKeyViolation(err) {
			return apperror.MemberNotFound(memberID)
		}
		if err != nil {
			return storeErr("add editor", err)
		}
	}
	return nil
}

func (s *ProjectStore) loadEditors(ctx context.Context, p *model.Project) error {
	rows, err := s.q.QueryContext(ctx,
		`SELECT m.id, m.username
		 FROM project_editors e
		 JOIN members m ON m.id = e.member_id
		 WHERE e.project_id = ?
		 ORDER BY e.created_at, m.username`,
		p.ID,
	)
	if err != nil {
		return storeErr("list editors", err)
	}
	defer rows.Close()

	p.Editors = []*model.MemberSummary{}
	for rows.Next() {
		var e model.MemberSummary
		if err := rows.Scan(&e.ID, &e.Username); err != nil {
			return storeErr("scan editor", err)
		}
		p.Editors = append(p.Editors, &e)
	}
	if err := rows.Err(); err != nil {
		return storeErr("iterate editors", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p             model.Project
		ownerUsername string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.OwnerID, &p.SandpackTemplate, &p.Files,
		&p.IsTemplate, &p.IsPublic, &p.CreatedAt, &p.UpdatedAt,
		&ownerUsername,
	)
	if err != nil {
		return nil, err
	}
	p.Owner = &model.MemberSummary{ID: p.OwnerID, Username: ownerUsername}
	return &p, nil
}
