package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

const (
	MaxProjectNameLength = 100
	MaxFilesLength       = 1 << 20 // the bundler's serialized file map
	DefaultListLimit     = 20
	MaxListLimit         = 100
)

// ProjectInput is the full set of fields for a new project.
type ProjectInput struct {
	Name             string
	SandpackTemplate string
	Files            string
	IsTemplate       bool
	IsPublic         bool
}

// ProjectPatch changes only the non-nil fields. Name and the flags are
// owner-only; files and template may also be changed by editors.
type ProjectPatch struct {
	Name             *string
	SandpackTemplate *string
	Files            *string
	IsTemplate       *bool
	IsPublic         *bool
}

func (p ProjectPatch) ownerOnly() bool {
	return p.Name != nil || p.IsTemplate != nil || p.IsPublic != nil
}

// ProjectService applies the sharing rules on top of the project store.
//
// A project is visible to a member when it is public, when the member owns
// it, or when the member is one of its editors. Everything else reads as
// ProjectNotFound, so callers cannot discover private project IDs.
type ProjectService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewProjectService(store repository.Store, logger *slog.Logger) *ProjectService {
	return &ProjectService{store: store, logger: logger, now: time.Now}
}

func (s *ProjectService) Create(ctx context.Context, member *model.Member, in ProjectInput) (*model.Project, error) {
	if member == nil {
		return nil, apperror.Unauthorized()
	}

	name := strings.TrimSpace(in.Name)
	if err := validateProjectName(name); err != nil {
		return nil, err
	}
	if err := validateTemplate(in.SandpackTemplate); err != nil {
		return nil, err
	}
	if err := validateFiles(in.Files); err != nil {
		return nil, err
	}

	p := &model.Project{
		Name:             name,
		OwnerID:          member.ID,
		SandpackTemplate: in.SandpackTemplate,
		Files:            in.Files,
		IsTemplate:       in.IsTemplate,
		IsPublic:         in.IsPublic,
	}
	if err := s.store.Projects().Create(ctx, p); err != nil {
		s.logger.Error("failed to create project",
			slog.String("ownerID", member.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating project: %w", err)
	}

	s.logger.Info("project created",
		slog.String("id", p.ID),
		slog.String("ownerID", member.ID),
	)
	return s.store.Projects().GetByID(ctx, p.ID)
}

// Get returns the project if member may see it.
func (s *ProjectService) Get(ctx context.Context, member *model.Member, id string) (*model.Project, error) {
	return s.visible(ctx, s.store.Projects(), member, id)
}

func (s *ProjectService) ListPublic(ctx context.Context, limit, offset int) ([]*model.Project, error) {
	return s.list(ctx, repository.ProjectFilter{PublicOnly: true}, limit, offset)
}

func (s *ProjectService) ListOwned(ctx context.Context, member *model.Member, limit, offset int) ([]*model.Project, error) {
	if member == nil {
		return nil, apperror.Unauthorized()
	}
	return s.list(ctx, repository.ProjectFilter{OwnerID: member.ID}, limit, offset)
}

func (s *ProjectService) ListEditable(ctx context.Context, member *model.Member, limit, offset int) ([]*model.Project, error) {
	if member == nil {
		return nil, apperror.Unauthorized()
	}
	return s.list(ctx, repository.ProjectFilter{EditorID: member.ID}, limit, offset)
}

// ListFavorited returns the member's favorites that are still visible to
// them. A project made private after being favorited drops out.
func (s *ProjectService) ListFavorited(ctx context.Context, member *model.Member, limit, offset int) ([]*model.Project, error) {
	if member == nil {
		return nil, apperror.Unauthorized()
	}
	return s.list(ctx, repository.ProjectFilter{FavoritedByID: member.ID, VisibleTo: member.ID}, limit, offset)
}

// ListByTemplate returns the projects built on template that member may see.
func (s *ProjectService) ListByTemplate(ctx context.Context, member *model.Member, template string, limit, offset int) ([]*model.Project, error) {
	if member == nil {
		return nil, apperror.Unauthorized()
	}
	if err := validateTemplate(template); err != nil {
		return nil, err
	}
	return s.list(ctx, repository.ProjectFilter{SandpackTemplate: template, VisibleTo: member.ID}, limit, offset)
}

func (s *ProjectService) list(ctx context.Context, f repository.ProjectFilter, limit, offset int) ([]*model.Project, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	projects, err := s.store.Projects().List(ctx, f, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list projects", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// Update applies patch. Owners may change anything; editors may change
// files and template only.
func (s *ProjectService) Update(ctx context.Context, member *model.Member, id string, patch ProjectPatch) (*model.Project, error) {
	var updated *model.Project
	err := s.store.InTx(ctx, func(tx repository.Stores) error {
		p, err := s.visible(ctx, tx.Projects(), member, id)
		if err != nil {
			return err
		}

		isOwner := p.OwnerID == member.ID
		if !isOwner && !p.HasEditor(member.ID) {
			return apperror.Forbidden("only the owner or an editor can change this project")
		}
		if patch.ownerOnly() && !isOwner {
			return apperror.Forbidden("only the owner can rename a project or change its visibility")
		}

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if err := validateProjectName(name); err != nil {
				return err
			}
			p.Name = name
		}
		if patch.SandpackTemplate != nil {
			if err := validateTemplate(*patch.SandpackTemplate); err != nil {
				return err
			}
			p.SandpackTemplate = *patch.SandpackTemplate
		}
		if patch.Files != nil {
			if err := validateFiles(*patch.Files); err != nil {
				return err
			}
			p.Files = *patch.Files
		}
		if patch.IsTemplate != nil {
			p.IsTemplate = *patch.IsTemplate
		}
		if patch.IsPublic != nil {
			p.IsPublic = *patch.IsPublic
		}

		if err := tx.Projects().Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating project: %w", err)
	}

	s.logger.Info("project updated", slog.String("id", id), slog.String("memberID", member.ID))
	return updated, nil
}

// Delete soft-deletes a project. Owner only.
func (s *ProjectService) Delete(ctx context.Context, member *model.Member, id string) error {
	p, err := s.visible(ctx, s.store.Projects(), member, id)
	if err != nil {
		return err
	}
	if p.OwnerID != member.ID {
		return apperror.Forbidden("only the owner can delete a project")
	}
	if err := s.store.Projects().SoftDelete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}

	s.logger.Info("project deleted", slog.String("id", id))
	return nil
}

// Favorite marks a visible project as a favorite. Repeating it is a no-op.
func (s *ProjectService) Favorite(ctx context.Context, member *model.Member, id string) error {
	if _, err := s.visible(ctx, s.store.Projects(), member, id); err != nil {
		return err
	}
	if err := s.store.Projects().AddFavorite(ctx, id, member.ID); err != nil {
		return fmt.Errorf("favoriting project: %w", err)
	}
	return nil
}

func (s *ProjectService) Unfavorite(ctx context.Context, member *model.Member, id string) error {
	if member == nil {
		return apperror.Unauthorized()
	}
	if err := s.store.Projects().RemoveFavorite(ctx, id, member.ID); err != nil {
		return fmt.Errorf("unfavoriting project: %w", err)
	}
	return nil
}

// Share grants editor rights to memberIDs. Owner only; the owner's own ID
// and duplicates are ignored.
func (s *ProjectService) Share(ctx context.Context, member *model.Member, id string, memberIDs []string) (*model.Project, error) {
	if len(memberIDs) == 0 {
		return nil, apperror.ValidationFailed("memberIds", "at least one member is required")
	}

	var shared *model.Project
	err := s.store.InTx(ctx, func(tx repository.Stores) error {
		p, err := s.visible(ctx, tx.Projects(), member, id)
		if err != nil {
			return err
		}
		if p.OwnerID != member.ID {
			return apperror.Forbidden("only the owner can share a project")
		}

		editors := make([]string, 0, len(memberIDs))
		seen := map[string]bool{member.ID: true}
		for _, mid := range memberIDs {
			mid = strings.TrimSpace(mid)
			if mid == "" || seen[mid] {
				continue
			}
			seen[mid] = true
			editors = append(editors, mid)
		}
		if err := tx.Projects().AddEditors(ctx, id, editors); err != nil {
			return err
		}
		shared, err = tx.Projects().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sharing project: %w", err)
	}

	s.logger.Info("project shared", slog.String("id", id), slog.Int("editors", len(shared.Editors)))
	return shared, nil
}

func (s *ProjectService) visible(ctx context.Context, projects repository.ProjectRepository, member *model.Member, id string) (*model.Project, error) {
	if member == nil {
		return nil, apperror.Unauthorized()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("projectId", "project ID is required")
	}

	p, err := projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(member, p) {
		return nil, apperror.ProjectNotFound(id)
	}
	return p, nil
}

func canSee(member *model.Member, p *model.Project) bool {
	return p.IsPublic || p.OwnerID == member.ID || p.HasEditor(member.ID)
}

func validateProjectName(name string) error {
	if name == "" {
		return apperror.ValidationFailed("name", "project name is required")
	}
	if len(name) > MaxProjectNameLength {
		return apperror.ValidationFailed("name",
			fmt.Sprintf("project name must be %d characters or less", MaxProjectNameLength))
	}
	return nil
}

func validateTemplate(template string) error {
	if !model.IsSandpackTemplate(template) {
		return apperror.ValidationFailed("sandpackTemplate", fmt.Sprintf("unknown sandpack template %q", template))
	}
	return nil
}

func validateFiles(files string) error {
	if len(files) > MaxFilesLength {
		return apperror.ValidationFailed("files",
			fmt.Sprintf("files must be %d bytes or fewer", MaxFilesLength))
	}
	return nil
}
