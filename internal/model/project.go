package model

import "time"

// Project is a saved sandbox. Files is the opaque, client-encoded file map
// produced by the in-browser bundler; the server stores it verbatim.
//
// Owner and Editors are bounded projections filled by the store on read.
type Project struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	OwnerID          string           `json:"-"`
	Owner            *MemberSummary   `json:"owner,omitempty"`
	Editors          []*MemberSummary `json:"editors"`
	SandpackTemplate string           `json:"sandpackTemplate"`
	Files            string           `json:"files"`
	IsTemplate       bool             `json:"isTemplate"`
	IsPublic         bool             `json:"isPublic"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	DeletedAt        *time.Time       `json:"-"`
}

// HasEditor reports whether memberID is one of the project's editors.
func (p *Project) HasEditor(memberID string) bool {
	for _, e := range p.Editors {
		if e.ID == memberID {
			return true
		}
	}
	return false
}

// SandpackTemplates lists the template identifiers the bundler widget
// understands.
var SandpackTemplates = []string{
	"static", "angular", "react", "react-ts", "solid", "svelte",
	"vanilla", "vanilla-ts", "vue", "vue-ts", "node", "nextjs",
	"vite", "vite-react", "vite-react-ts", "vite-vue", "vite-vue-ts",
	"vite-svelte", "vite-svelte-ts", "astro", "test-ts",
}

// IsSandpackTemplate reports whether name is a known template identifier.
func IsSandpackTemplate(name string) bool {
	for _, t := range SandpackTemplates {
		if t == name {
			return true
		}
	}
	return false
}
