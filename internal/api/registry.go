package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/goliatone/go-tablestate"
	"github.com/goliatone/go-tablestate/pkg/prefs"
)

// StoreOpener opens the preference store of table.
type StoreOpener func(ctx context.Context, table string) (*prefs.Store, error)

// Registry keeps one Manager per table for the lifetime of the process.
type Registry struct {
	open   StoreOpener
	opts   []tablestate.Option
	logger logr.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	manager *tablestate.Manager
	store   *prefs.Store
}

// NewRegistry returns a Registry opening stores through open and building
// managers with opts.
func NewRegistry(open StoreOpener, logger logr.Logger, opts ...tablestate.Option) *Registry {
	return &Registry{
		open:    open,
		opts:    append([]tablestate.Option{tablestate.WithLogger(logger)}, opts...),
		logger:  logger,
		entries: map[string]*entry{},
	}
}

// Register installs form, replacing the definition of an already known
// table. Stored preferences survive the replacement.
func (r *Registry) Register(ctx context.Context, form tablestate.Form) (*tablestate.Manager, error) {
	table := form.TableID()
	if table == "" {
		return nil, fmt.Errorf("%w: form has no id", tablestate.ErrMalformedForm)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("api: registry is closed")
	}
	if existing, ok := r.entries[table]; ok {
		existing.manager.SetForm(form)
		return existing.manager, nil
	}

	store, err := r.open(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("api: open preferences for %q: %w", table, err)
	}
	manager, err := tablestate.NewManager(form, store, r.opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	r.entries[table] = &entry{manager: manager, store: store}
	r.logger.V(1).Info("table registered", "table", table)
	return manager, nil
}

// Manager returns the manager of table.
func (r *Registry) Manager(table string) (*tablestate.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[table]
	if !ok {
		return nil, false
	}
	return e.manager, true
}

// Tables lists the registered table ids.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]string, 0, len(r.entries))
	for table := range r.entries {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// Close flushes every manager and closes its store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for table, e := range r.entries {
		if err := e.manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close manager %q: %w", table, err))
		}
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %q: %w", table, err))
		}
	}
	return errors.Join(errs...)
}
