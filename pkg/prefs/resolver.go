package prefs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goliatone/go-tablestate/layering"
)

var (
	// ErrScopeNameRequired indicates a scope without a name.
	ErrScopeNameRequired = errors.New("prefs: scope name must be provided")
	// ErrDuplicateScopeName indicates the same scope name was supplied twice.
	ErrDuplicateScopeName = errors.New("prefs: scope names must be unique")
	// ErrPriorityOrder indicates two scopes share a priority.
	ErrPriorityOrder = errors.New("prefs: scope priorities must be distinct")
)

// Layer is one loaded scope snapshot.
type Layer struct {
	Scope      Scope
	Snapshot   Preferences
	SnapshotID string
}

// Provenance describes what one scope holds for a traced column.
type Provenance struct {
	Scope      Scope  `json:"scope"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Record     Record `json:"record"`
	Found      bool   `json:"found"`
}

// Trace lists, strongest first, every scope's contribution to a column.
type Trace struct {
	Table  string       `json:"table"`
	Column string       `json:"column"`
	Layers []Provenance `json:"layers"`
}

// Mutator edits a snapshot in place.
type Mutator func(*Preferences) error

// Resolver loads scoped snapshots of a table and layers them.
type Resolver struct {
	Backend Backend
}

// Layers loads every scope of table that has a snapshot, strongest first.
func (r Resolver) Layers(ctx context.Context, table string, scopes ...Scope) ([]Layer, error) {
	if r.Backend == nil {
		return nil, fmt.Errorf("prefs: backend is required")
	}
	if table == "" {
		return nil, ErrTableRequired
	}
	ordered, err := orderScopes(scopes)
	if err != nil {
		return nil, err
	}

	layers := make([]Layer, 0, len(ordered))
	for _, scope := range ordered {
		snapshot, meta, ok, err := r.Backend.Load(ctx, Ref{Table: table, Scope: scope})
		if err != nil {
			return nil, fmt.Errorf("prefs: load %q for scope %q: %w", table, scope.Name, err)
		}
		if !ok {
			continue
		}
		layers = append(layers, Layer{Scope: scope, Snapshot: snapshot, SnapshotID: meta.SnapshotID})
	}
	return layers, nil
}

// Resolve layers every available scope of table. Missing snapshots are
// skipped; when none exist the result is empty, not an error.
func (r Resolver) Resolve(ctx context.Context, table string, scopes ...Scope) (Preferences, error) {
	layers, err := r.Layers(ctx, table, scopes...)
	if err != nil {
		return Preferences{}, err
	}
	return mergeLayers(layers), nil
}

// Trace reports how each scope contributes to column.
func (r Resolver) Trace(ctx context.Context, table, column string, scopes ...Scope) (Trace, error) {
	layers, err := r.Layers(ctx, table, scopes...)
	if err != nil {
		return Trace{}, err
	}
	trace := Trace{Table: table, Column: column, Layers: make([]Provenance, 0, len(layers))}
	for _, layer := range layers {
		record, found := layer.Snapshot.Columns[column]
		trace.Layers = append(trace.Layers, Provenance{
			Scope:      layer.Scope.clone(),
			SnapshotID: layer.SnapshotID,
			Record:     layering.Clone(record),
			Found:      found,
		})
	}
	return trace, nil
}

// Mutate loads one snapshot, applies fn and saves it. A non-empty meta.ETag
// must match the stored ETag.
func (r Resolver) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator) (Preferences, Meta, error) {
	if r.Backend == nil {
		return Preferences{}, Meta{}, fmt.Errorf("prefs: backend is required")
	}
	if ref.Table == "" {
		return Preferences{}, Meta{}, ErrTableRequired
	}
	if fn == nil {
		return Preferences{}, Meta{}, fmt.Errorf("prefs: mutator is required")
	}

	snapshot, loaded, ok, err := r.Backend.Load(ctx, ref)
	if err != nil {
		return Preferences{}, Meta{}, fmt.Errorf("prefs: load %q for scope %q: %w", ref.Table, ref.Scope.Name, err)
	}
	if !ok {
		snapshot = Preferences{}
		loaded = Meta{}
	}
	snapshot = snapshot.Clone()

	if meta.ETag != "" && loaded.ETag != "" && meta.ETag != loaded.ETag {
		return Preferences{}, loaded, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loaded.ETag)
	}
	if err := fn(&snapshot); err != nil {
		return Preferences{}, loaded, err
	}

	saved, err := r.Backend.Save(ctx, ref, snapshot, mergeMeta(loaded, meta))
	if err != nil {
		return Preferences{}, loaded, fmt.Errorf("prefs: save %q for scope %q: %w", ref.Table, ref.Scope.Name, err)
	}
	return snapshot, saved, nil
}

func orderScopes(scopes []Scope) ([]Scope, error) {
	seen := make(map[string]struct{}, len(scopes))
	ordered := make([]Scope, 0, len(scopes))
	for _, scope := range scopes {
		if scope.Name == "" {
			return nil, ErrScopeNameRequired
		}
		if _, ok := seen[scope.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateScopeName, scope.Name)
		}
		seen[scope.Name] = struct{}{}
		ordered = append(ordered, scope.clone())
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Priority == ordered[i].Priority {
			return nil, fmt.Errorf("%w: %d", ErrPriorityOrder, ordered[i].Priority)
		}
	}
	return ordered, nil
}

func mergeLayers(layers []Layer) Preferences {
	snapshots := make([]Preferences, len(layers))
	for i, layer := range layers {
		snapshots[i] = layer.Snapshot
	}
	return layering.MergeLayers(snapshots...).Clone()
}

func mergeMeta(base, override Meta) Meta {
	out := base.clone()
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
