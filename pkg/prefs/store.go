package prefs

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/go-logr/logr"
	"github.com/goliatone/go-tablestate/layering"
	"github.com/goliatone/go-tablestate/pkg/activity"
)

// Store is the column preference store of one table identity. Reads are
// served from memory; every write updates memory first and then persists
// synchronously through the Backend. Backend failures are logged and
// returned, and the in-memory state keeps the write.
type Store struct {
	mu       sync.RWMutex
	backend  Backend
	ref      Ref
	own      Preferences
	meta     Meta
	defaults Preferences
	scopes   []Scope
	logger   logr.Logger
	emitter  *activity.Emitter
	actorID  string
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for backend failures.
func WithLogger(logger logr.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithEmitter routes preference change events to emitter.
func WithEmitter(emitter *activity.Emitter) Option {
	return func(s *Store) {
		s.emitter = emitter
	}
}

// WithActor records actorID on emitted events.
func WithActor(actorID string) Option {
	return func(s *Store) {
		s.actorID = actorID
	}
}

// WithDefaults layers static defaults underneath the stored record.
func WithDefaults(defaults Preferences) Option {
	return func(s *Store) {
		s.defaults = layering.MergeLayers(s.defaults, defaults)
	}
}

// WithDefaultScopes loads the given scopes on Open and layers them
// underneath the stored record. Scopes at or above the store's own priority
// are ignored.
func WithDefaultScopes(scopes ...Scope) Option {
	return func(s *Store) {
		s.scopes = append(s.scopes, scopes...)
	}
}

// Open loads the preferences of ref from backend. A failed load is logged and
// the store starts empty.
func Open(ctx context.Context, backend Backend, ref Ref, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("prefs: backend is required")
	}
	if _, err := ref.Identifier(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s := &Store{
		backend: backend,
		ref:     ref,
		logger:  logr.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	snapshot, meta, ok, err := backend.Load(ctx, ref)
	switch {
	case err != nil:
		s.logger.Error(err, "load column preferences", "table", ref.Table, "scope", ref.Scope.Name)
	case ok:
		s.own = snapshot
		s.meta = meta
	}
	s.own = s.own.Clone()

	if len(s.scopes) > 0 {
		s.loadDefaultScopes(ctx)
	}
	return s, nil
}

func (s *Store) loadDefaultScopes(ctx context.Context) {
	scopes := make([]Scope, 0, len(s.scopes))
	for _, scope := range s.scopes {
		if scope.Priority >= s.ref.Scope.Priority {
			continue
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		return
	}
	inherited, err := Resolver{Backend: s.backend}.Resolve(ctx, s.ref.Table, scopes...)
	if err != nil {
		s.logger.Error(err, "load default column preferences", "table", s.ref.Table)
		return
	}
	s.defaults = layering.MergeLayers(inherited, s.defaults)
}

// Ref returns the identity the store was opened for.
func (s *Store) Ref() Ref {
	return s.ref
}

// Meta returns the metadata of the last load or save.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.clone()
}

// Preferences returns the effective preferences: the stored record layered
// over any defaults.
func (s *Store) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return layering.MergeLayers(s.own, s.defaults).Clone()
}

// Own returns only what was stored for this identity, without defaults.
func (s *Store) Own() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.own.Clone()
}

// ColumnPreference returns the effective record of column id.
func (s *Store) ColumnPreference(id string) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return layering.MergeLayers(s.own.Columns[id], s.defaults.Columns[id])
}

// SetColumnPreference merges partial into the stored record of column id.
// Fields left nil in partial are untouched.
func (s *Store) SetColumnPreference(ctx context.Context, id string, partial Record) error {
	if partial.IsZero() {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.own.Columns[id] = layering.Patch(s.own.Columns[id], partial)
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.emit(ctx, activity.BuildColumnUpdatedEvent, id, partial.Changes())
	return nil
}

// SetColumnSizing replaces the table-wide sizing mapping.
func (s *Store) SetColumnSizing(ctx context.Context, sizing map[string]int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.own.GlobalSizing = maps.Clone(sizing)
	if s.own.GlobalSizing == nil {
		s.own.GlobalSizing = map[string]int{}
	}
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	changes := make(map[string]any, len(sizing))
	for id, size := range sizing {
		changes[id] = size
	}
	s.emit(ctx, activity.BuildSizingUpdatedEvent, "", changes)
	return nil
}

// ResetPreferences drops every stored record and the sizing mapping.
func (s *Store) ResetPreferences(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.own = Preferences{}.Clone()
	s.meta = Meta{}
	err := s.backend.Delete(ctxOrBackground(ctx), s.ref)
	if err != nil {
		s.logger.Error(err, "delete column preferences", "table", s.ref.Table, "scope", s.ref.Scope.Name)
		err = fmt.Errorf("prefs: delete %q: %w", s.ref.Table, err)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.emit(ctx, activity.BuildResetEvent, "", nil)
	return nil
}

// ResetColumn drops the stored record and stored width of column id.
func (s *Store) ResetColumn(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	_, hadRecord := s.own.Columns[id]
	_, hadSize := s.own.GlobalSizing[id]
	if !hadRecord && !hadSize {
		s.mu.Unlock()
		return nil
	}
	delete(s.own.Columns, id)
	delete(s.own.GlobalSizing, id)
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.emit(ctx, activity.BuildColumnResetEvent, id, nil)
	return nil
}

// Close releases the store. Later writes return ErrClosed; reads keep
// serving the last state.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	meta, err := s.backend.Save(ctxOrBackground(ctx), s.ref, s.own.Clone(), s.meta)
	if err != nil {
		s.logger.Error(err, "save column preferences", "table", s.ref.Table, "scope", s.ref.Scope.Name)
		return fmt.Errorf("prefs: save %q: %w", s.ref.Table, err)
	}
	s.meta = meta
	return nil
}

func (s *Store) emit(ctx context.Context, build func(activity.PreferenceEventInput) activity.Event, column string, changes map[string]any) {
	if !s.emitter.Enabled() {
		return
	}
	s.mu.RLock()
	input := activity.PreferenceEventInput{
		ActorID:     s.actorID,
		UserID:      s.ref.Scope.Metadata["user_id"],
		WorkspaceID: s.ref.Scope.Metadata["workspace_id"],
		Table:       s.ref.Table,
		Column:      column,
		Scope:       s.ref.Scope.Name,
		SnapshotID:  s.meta.SnapshotID,
		Changes:     changes,
	}
	s.mu.RUnlock()
	event := build(input)
	if err := s.emitter.Emit(ctxOrBackground(ctx), event); err != nil {
		s.logger.Error(err, "emit preference activity", "table", s.ref.Table, "verb", event.Verb)
	}
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
