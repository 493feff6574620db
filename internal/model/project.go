package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Row API table names.
const (
	TableProjects = "map_projects"
	TablePins     = "pins"
	TableDrawings = "drawings"
	TableProfiles = "profiles"
)

// DraftTitle is the title given to a freshly created map.
const DraftTitle = "New map 🗺"

// MapProject is the top-level map document. UUID is the only public
// identifier; ID is internal and is <= 0 until the backend assigns one.
type MapProject struct {
	ID          int64     `json:"id,omitempty" yaml:"id,omitempty"`
	UUID        string    `json:"uuid" yaml:"uuid"`
	ProfileID   string    `json:"profile_id,omitempty" yaml:"profile_id,omitempty"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Bounds      *Bounds   `json:"bounds" yaml:"bounds,omitempty"`
	Published   bool      `json:"published" yaml:"published"`
	CreatedAt   time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`

	// IsDraft marks a project that exists only locally.
	IsDraft bool `json:"-" yaml:"-"`
}

// NewDraft returns an unsaved project owned by profileID. author is used in
// the placeholder description and falls back to "user".
func NewDraft(profileID, author string) *MapProject {
	if strings.TrimSpace(author) == "" {
		author = "user"
	}
	return &MapProject{
		ID:          -1,
		UUID:        uuid.NewString(),
		ProfileID:   profileID,
		Title:       DraftTitle,
		Description: "an untitled map by " + author,
		CreatedAt:   time.Now().UTC(),
		IsDraft:     true,
	}
}

// Persisted reports whether the backend has assigned an ID.
func (p *MapProject) Persisted() bool {
	return p != nil && p.ID > 0
}

// SameIdentity reports whether p and q refer to the same stored project.
// Field edits do not change identity.
func (p *MapProject) SameIdentity(q *MapProject) bool {
	if p == nil || q == nil {
		return p == q
	}
	return p.ID == q.ID && p.UUID == q.UUID
}

// Clone returns a deep copy.
func (p *MapProject) Clone() *MapProject {
	if p == nil {
		return nil
	}
	c := *p
	if p.Bounds != nil {
		b := *p.Bounds
		c.Bounds = &b
	}
	return &c
}

// Normalize trims and NFC-normalizes the user-editable text fields.
func (p *MapProject) Normalize() {
	p.Title = norm.NFC.String(strings.TrimSpace(p.Title))
	p.Description = norm.NFC.String(strings.TrimSpace(p.Description))
}

// ProjectPatch is a partial update. Nil fields are left unchanged.
type ProjectPatch struct {
	Title       *string `json:"title,omitempty" yaml:"title,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	Bounds      *Bounds `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Published   *bool   `json:"published,omitempty" yaml:"published,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (pp ProjectPatch) Empty() bool {
	return pp.Title == nil && pp.Description == nil && pp.Bounds == nil && pp.Published == nil
}

// Merge returns pp with every field set in next taking next's value.
func (pp ProjectPatch) Merge(next ProjectPatch) ProjectPatch {
	if next.Title != nil {
		pp.Title = next.Title
	}
	if next.Description != nil {
		pp.Description = next.Description
	}
	if next.Bounds != nil {
		pp.Bounds = next.Bounds
	}
	if next.Published != nil {
		pp.Published = next.Published
	}
	return pp
}

// Apply returns a copy of p with the patch applied and text normalized.
func (pp ProjectPatch) Apply(p *MapProject) *MapProject {
	c := p.Clone()
	if pp.Title != nil {
		c.Title = *pp.Title
	}
	if pp.Description != nil {
		c.Description = *pp.Description
	}
	if pp.Bounds != nil {
		b := *pp.Bounds
		c.Bounds = &b
	}
	if pp.Published != nil {
		c.Published = *pp.Published
	}
	c.Normalize()
	return c
}

// Columns renders the patch as a column map for the row API.
func (pp ProjectPatch) Columns() map[string]any {
	cols := make(map[string]any, 4)
	if pp.Title != nil {
		cols["title"] = norm.NFC.String(strings.TrimSpace(*pp.Title))
	}
	if pp.Description != nil {
		cols["description"] = norm.NFC.String(strings.TrimSpace(*pp.Description))
	}
	if pp.Bounds != nil {
		cols["bounds"] = *pp.Bounds
	}
	if pp.Published != nil {
		cols["published"] = *pp.Published
	}
	return cols
}
