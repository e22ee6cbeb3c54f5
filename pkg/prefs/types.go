package prefs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/goliatone/go-tablestate/layering"
)

var (
	// ErrTableRequired indicates a Ref without a table identifier.
	ErrTableRequired = errors.New("prefs: table is required")
	// ErrETagMismatch indicates a concurrent write between load and save.
	ErrETagMismatch = errors.New("prefs: etag mismatch")
	// ErrClosed is returned by writes on a closed Store.
	ErrClosed = errors.New("prefs: store is closed")
)

// PinSide is the edge a column is pinned to. The empty value means the column
// was explicitly unpinned.
type PinSide string

const (
	PinNone PinSide = ""
	PinLeft PinSide = "left"
)

// Record holds the preferences of a single column. Nil fields are unset and
// fall back to defaults or weaker scopes.
type Record struct {
	Visible *bool    `json:"visible,omitempty"`
	Pinned  *PinSide `json:"pinned,omitempty"`
	Wrapped *bool    `json:"wrapped,omitempty"`
	Order   *int     `json:"order,omitempty"`
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Pin returns a pointer to side.
func Pin(side PinSide) *PinSide { return &side }

// VisibleOr returns the stored visibility or fallback when unset.
func (r Record) VisibleOr(fallback bool) bool {
	if r.Visible == nil {
		return fallback
	}
	return *r.Visible
}

// PinnedLeft reports whether the column is pinned to the left edge.
func (r Record) PinnedLeft() bool {
	return r.Pinned != nil && *r.Pinned == PinLeft
}

// IsWrapped reports the stored wrap flag, false when unset.
func (r Record) IsWrapped() bool {
	return r.Wrapped != nil && *r.Wrapped
}

// OrderOr returns the stored order rank or fallback when unset.
func (r Record) OrderOr(fallback int) int {
	if r.Order == nil {
		return fallback
	}
	return *r.Order
}

// IsZero reports whether no field is set.
func (r Record) IsZero() bool {
	return r.Visible == nil && r.Pinned == nil && r.Wrapped == nil && r.Order == nil
}

// Changes flattens the set fields, used for activity metadata.
func (r Record) Changes() map[string]any {
	out := map[string]any{}
	if r.Visible != nil {
		out["visible"] = *r.Visible
	}
	if r.Pinned != nil {
		out["pinned"] = string(*r.Pinned)
	}
	if r.Wrapped != nil {
		out["wrapped"] = *r.Wrapped
	}
	if r.Order != nil {
		out["order"] = *r.Order
	}
	return out
}

// Preferences is the persisted state of one table.
type Preferences struct {
	Columns      map[string]Record `json:"columns"`
	GlobalSizing map[string]int    `json:"globalSizing"`
}

// Column returns the record for id, or a zero Record.
func (p Preferences) Column(id string) Record {
	return p.Columns[id]
}

// Clone returns a deep copy of p with non-nil maps.
func (p Preferences) Clone() Preferences {
	out := layering.Clone(p)
	if out.Columns == nil {
		out.Columns = map[string]Record{}
	}
	if out.GlobalSizing == nil {
		out.GlobalSizing = map[string]int{}
	}
	return out
}

// IsEmpty reports whether p holds no column records and no sizing.
func (p Preferences) IsEmpty() bool {
	return len(p.Columns) == 0 && len(p.GlobalSizing) == 0
}

// Scope names.
const (
	ScopeSystem    = "system"
	ScopeWorkspace = "workspace"
	ScopeUser      = "user"
)

// Recommended priorities; higher numbers win.
const (
	PrioritySystem    = 100
	PriorityWorkspace = 300
	PriorityUser      = 500
)

// Scope is a named precedence bucket.
type Scope struct {
	Name     string            `json:"name"`
	Priority int               `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SystemScope is the weakest, installation-wide scope.
func SystemScope() Scope {
	return Scope{Name: ScopeSystem, Priority: PrioritySystem}
}

// WorkspaceScope scopes preferences to a workspace.
func WorkspaceScope(workspaceID string) Scope {
	return Scope{Name: ScopeWorkspace, Priority: PriorityWorkspace, Metadata: map[string]string{"workspace_id": workspaceID}}
}

// UserScope scopes preferences to a user.
func UserScope(userID string) Scope {
	return Scope{Name: ScopeUser, Priority: PriorityUser, Metadata: map[string]string{"user_id": userID}}
}

func (s Scope) clone() Scope {
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

// Ref identifies one persisted snapshot.
type Ref struct {
	Table string
	Scope Scope
}

// Identifier returns the canonical storage key of r.
func (r Ref) Identifier() (string, error) {
	if r.Table == "" {
		return "", ErrTableRequired
	}
	switch r.Scope.Name {
	case ScopeSystem:
		return fmt.Sprintf("system/%s", r.Table), nil
	case ScopeWorkspace, ScopeUser:
		key := r.Scope.Name + "_id"
		id := r.Scope.Metadata[key]
		if id == "" {
			return "", fmt.Errorf("prefs: missing metadata key %q for scope %q", key, r.Scope.Name)
		}
		return fmt.Sprintf("%s/%s/%s", r.Scope.Name, id, r.Table), nil
	default:
		return "", fmt.Errorf("prefs: unsupported scope name %q", r.Scope.Name)
	}
}

// Meta is backend-owned metadata used for provenance and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

func (m Meta) clone() Meta {
	m.Extra = maps.Clone(m.Extra)
	return m
}

// Backend persists one snapshot per Ref.
type Backend interface {
	Load(ctx context.Context, ref Ref) (snapshot Preferences, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot Preferences, meta Meta) (Meta, error)
	Delete(ctx context.Context, ref Ref) error
}
