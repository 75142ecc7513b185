package handler

import (
	"github.com/sakif/sandbox-server/internal/service"
)

// ProjectResolvers exposes projects, favorites and sharing.
type ProjectResolvers struct {
	projects *service.ProjectService
}

func NewProjectResolvers(projects *service.ProjectService) *ProjectResolvers {
	return &ProjectResolvers{projects: projects}
}

type createProjectArgs struct {
	Name             string `json:"name" validate:"required"`
	SandpackTemplate string `json:"sandpackTemplate" validate:"required"`
	Files            string `json:"files"`
	IsTemplate       bool   `json:"isTemplate"`
	IsPublic         bool   `json:"isPublic"`
}

// updateProjectArgs uses pointers so an omitted field stays unchanged.
type updateProjectArgs struct {
	ProjectID        string  `json:"projectId" validate:"required"`
	Name             *string `json:"name"`
	SandpackTemplate *string `json:"sandpackTemplate"`
	Files            *string `json:"files"`
	IsTemplate       *bool   `json:"isTemplate"`
	IsPublic         *bool   `json:"isPublic"`
}

type projectIDArgs struct {
	ProjectID string `json:"projectId" validate:"required"`
}

type pageArgs struct {
	Limit  int `json:"limit" validate:"min=0,max=100"`
	Offset int `json:"offset" validate:"min=0"`
}

type templatePageArgs struct {
	SandpackTemplate string `json:"sandpackTemplate" validate:"required"`
	pageArgs
}

type shareProjectArgs struct {
	ProjectID string   `json:"projectId" validate:"required"`
	MemberIDs []string `json:"memberIds" validate:"required,min=1,max=50,dive,required"`
}

func (h *ProjectResolvers) Operations() map[string]Operation {
	return map[string]Operation{
		"createProject":        op(true, h.create),
		"getProjectById":       op(true, h.get),
		"getAllPublicProjects": op(true, h.listPublic),
		"getAllByOwner":        op(true, h.listOwned),
		"getAllByEditor":       op(true, h.listEditable),
		"getFavoritedProjects": op(true, h.listFavorited),
		"getAllByTemplate":     op(true, h.listByTemplate),
		"updateProject":        op(true, h.update),
		"deleteProject":        op(true, h.delete),
		"favoriteProject":      op(true, h.favorite),
		"unfavoriteProject":    op(true, h.unfavorite),
		"shareProject":         op(true, h.share),
	}
}

func (h *ProjectResolvers) create(c *Call, a *createProjectArgs) (any, error) {
	return h.projects.Create(c.Ctx, c.Member, service.ProjectInput{
		Name:             a.Name,
		SandpackTemplate: a.SandpackTemplate,
		Files:            a.Files,
		IsTemplate:       a.IsTemplate,
		IsPublic:         a.IsPublic,
	})
}

func (h *ProjectResolvers) get(c *Call, a *projectIDArgs) (any, error) {
	return h.projects.Get(c.Ctx, c.Member, a.ProjectID)
}

func (h *ProjectResolvers) listPublic(c *Call, a *pageArgs) (any, error) {
	return h.projects.ListPublic(c.Ctx, a.Limit, a.Offset)
}

func (h *ProjectResolvers) listOwned(c *Call, a *pageArgs) (any, error) {
	return h.projects.ListOwned(c.Ctx, c.Member, a.Limit, a.Offset)
}

func (h *ProjectResolvers) listEditable(c *Call, a *pageArgs) (any, error) {
	return h.projects.ListEditable(c.Ctx, c.Member, a.Limit, a.Offset)
}

func (h *ProjectResolvers) listFavorited(c *Call, a *pageArgs) (any, error) {
	return h.projects.ListFavorited(c.Ctx, c.Member, a.Limit, a.Offset)
}

func (h *ProjectResolvers) listByTemplate(c *Call, a *templatePageArgs) (any, error) {
	return h.projects.ListByTemplate(c.Ctx, c.Member, a.SandpackTemplate, a.Limit, a.Offset)
}

func (h *ProjectResolvers) update(c *Call, a *updateProjectArgs) (any, error) {
	return h.projects.Update(c.Ctx, c.Member, a.ProjectID, service.ProjectPatch{
		Name:             a.Name,
		SandpackTemplate: a.SandpackTemplate,
		Files:            a.Files,
		IsTemplate:       a.IsTemplate,
		IsPublic:         a.IsPublic,
	})
}

func (h *ProjectResolvers) delete(c *Call, a *projectIDArgs) (any, error) {
	if err := h.projects.Delete(c.Ctx, c.Member, a.ProjectID); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *ProjectResolvers) favorite(c *Call, a *projectIDArgs) (any, error) {
	if err := h.projects.Favorite(c.Ctx, c.Member, a.ProjectID); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *ProjectResolvers) unfavorite(c *Call, a *projectIDArgs) (any, error) {
	if err := h.projects.Unfavorite(c.Ctx, c.Member, a.ProjectID); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *ProjectResolvers) share(c *Call, a *shareProjectArgs) (any, error) {
	return h.projects.Share(c.Ctx, c.Member, a.ProjectID, a.MemberIDs)
}
