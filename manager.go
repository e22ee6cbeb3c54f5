package tablestate

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/goliatone/go-tablestate/pkg/prefs"
)

// PreferenceStore is the column preference store a Manager reads and writes.
// *prefs.Store implements it.
type PreferenceStore interface {
	Preferences() prefs.Preferences
	ColumnPreference(id string) prefs.Record
	SetColumnPreference(ctx context.Context, id string, partial prefs.Record) error
	SetColumnSizing(ctx context.Context, sizing map[string]int) error
	ResetPreferences(ctx context.Context) error
	ResetColumn(ctx context.Context, id string) error
}

// Manager derives the table state of one form from its definition and the
// stored column preferences, and writes preference changes back.
//
// Every read derives fresh from the current form and store. Derivation
// faults are logged and collapse to an empty column list; store failures are
// logged and never returned. A Manager is safe for concurrent use.
type Manager struct {
	cfg   managerConfig
	store PreferenceStore

	mu      sync.Mutex
	form    Form
	pending map[string]int
	resize  *debouncer[map[string]int]
	closed  bool

	evalOnce     sync.Once
	evaluator    Evaluator
	evaluatorErr error
	compiled     sync.Map // rule expression -> CompiledRule
}

// NewManager returns a Manager for form backed by store.
func NewManager(form Form, store PreferenceStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	m := &Manager{
		cfg:   applyOptions(opts),
		store: store,
		form:  form,
	}
	m.resize = newDebouncer(m.cfg.clock, m.cfg.debounce, m.persistSizing)
	return m, nil
}

// Form returns the current form definition.
func (m *Manager) Form() Form {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.form
}

// SetForm replaces the form definition. Stored preferences are kept.
func (m *Manager) SetForm(form Form) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.form = form
}

// Columns returns the base column list of the form. Derivation errors and
// panics are logged and yield an empty list.
func (m *Manager) Columns() []Column {
	return m.columns(m.Form())
}

func (m *Manager) columns(form Form) (columns []Column) {
	defer func() {
		if r := recover(); r != nil {
			m.cfg.logger.Error(fmt.Errorf("panic: %v", r), "derive columns", "table", form.TableID())
			columns = []Column{}
		}
	}()
	derived, err := DeriveColumns(form)
	if err != nil {
		m.cfg.logger.Error(err, "derive columns", "table", form.TableID())
		return []Column{}
	}
	return derived
}

// HasColumn reports whether id is a column of the current table, synthetic
// columns included.
func (m *Manager) HasColumn(id string) bool {
	return slices.ContainsFunc(m.TableColumns(), func(c Column) bool { return c.ID == id })
}

// Visibility maps each base column to its resolved visibility: the stored
// flag, or !Removed.
func (m *Manager) Visibility() map[string]bool {
	return visibility(m.Columns(), m.store.Preferences())
}

func visibility(columns []Column, p prefs.Preferences) map[string]bool {
	out := make(map[string]bool, len(columns))
	for _, column := range columns {
		out[column.ID] = p.Column(column.ID).VisibleOr(!column.Removed)
	}
	return out
}

// SetVisibility writes the entries of next whose value differs from the
// resolved visibility.
func (m *Manager) SetVisibility(ctx context.Context, next map[string]bool) {
	columns := m.Columns()
	removed := make(map[string]bool, len(columns))
	for _, column := range columns {
		removed[column.ID] = column.Removed
	}

	for _, id := range sortedKeys(next) {
		visible := next[id]
		current := m.store.ColumnPreference(id).VisibleOr(!removed[id])
		if current == visible {
			continue
		}
		m.write(ctx, id, prefs.Record{Visible: prefs.Bool(visible)})
	}
}

// Pinning returns the left pinned base columns in derivation order. Right is
// always [actions].
func (m *Manager) Pinning() Pinning {
	return pinning(m.Columns(), m.store.Preferences())
}

func pinning(columns []Column, p prefs.Preferences) Pinning {
	out := Pinning{Left: []string{}, Right: []string{ColumnActions}}
	for _, column := range columns {
		if p.Column(column.ID).PinnedLeft() {
			out.Left = append(out.Left, column.ID)
		}
	}
	return out
}

// SetPinning unpins every column not in next.Left and pins the ones that are.
// next.Right and any attempt to pin actions are ignored.
func (m *Manager) SetPinning(ctx context.Context, next Pinning) {
	left := make(map[string]struct{}, len(next.Left))
	for _, id := range next.Left {
		if id != ColumnActions {
			left[id] = struct{}{}
		}
	}

	for _, column := range m.Columns() {
		if column.ID == ColumnActions {
			continue
		}
		_, want := left[column.ID]
		if !want && m.store.ColumnPreference(column.ID).PinnedLeft() {
			m.write(ctx, column.ID, prefs.Record{Pinned: prefs.Pin(prefs.PinNone)})
		}
	}
	for _, id := range next.Left {
		if id == ColumnActions || m.store.ColumnPreference(id).PinnedLeft() {
			continue
		}
		m.write(ctx, id, prefs.Record{Pinned: prefs.Pin(prefs.PinLeft)})
	}
}

// Wrapping maps each base column to its wrap flag.
func (m *Manager) Wrapping() map[string]bool {
	return wrapping(m.Columns(), m.store.Preferences())
}

func wrapping(columns []Column, p prefs.Preferences) map[string]bool {
	out := make(map[string]bool, len(columns))
	for _, column := range columns {
		out[column.ID] = p.Column(column.ID).IsWrapped()
	}
	return out
}

// OrderedColumns sorts the base columns by stored order rank. Unranked
// columns rank HiddenOrder; ties keep derivation order.
func (m *Manager) OrderedColumns() []Column {
	return ordered(m.Columns(), m.store.Preferences())
}

func ordered(columns []Column, p prefs.Preferences) []Column {
	out := slices.Clone(columns)
	sort.SliceStable(out, func(i, j int) bool {
		return p.Column(out[i].ID).OrderOr(HiddenOrder) < p.Column(out[j].ID).OrderOr(HiddenOrder)
	})
	return out
}

// SetOrderedColumns ranks every base column by its position in next. Base
// columns absent from next rank HiddenOrder.
func (m *Manager) SetOrderedColumns(ctx context.Context, next []Column) {
	m.writeOrder(ctx, columnIDs(next))
}

// SetColumnOrder moves id to index within the visible ordered columns, then
// ranks the visible columns 0..n-1 and every hidden column HiddenOrder.
// index is clamped to the bounds of the visible list.
func (m *Manager) SetColumnOrder(ctx context.Context, id string, index int) {
	p := m.store.Preferences()
	columns := m.Columns()
	vis := visibility(columns, p)

	visible := make([]string, 0, len(columns))
	for _, column := range ordered(columns, p) {
		if vis[column.ID] && column.ID != id {
			visible = append(visible, column.ID)
		}
	}
	index = min(max(index, 0), len(visible))
	visible = slices.Insert(visible, index, id)

	m.writeOrder(ctx, visible)
}

func (m *Manager) writeOrder(ctx context.Context, ids []string) {
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	for _, column := range m.Columns() {
		order, ok := rank[column.ID]
		if !ok {
			order = HiddenOrder
		}
		if current := m.store.ColumnPreference(column.ID).Order; current != nil && *current == order {
			continue
		}
		m.write(ctx, column.ID, prefs.Record{Order: prefs.Int(order)})
	}
}

// TableColumns is the final column list: ordered base columns, then every
// rule column whose rule holds (status first), then actions when the table
// is client rendered and opted into actions.
func (m *Manager) TableColumns() []Column {
	form := m.Form()
	return m.tableColumns(form, ordered(m.columns(form), m.store.Preferences()))
}

func (m *Manager) tableColumns(form Form, base []Column) []Column {
	columns := slices.Clone(base)
	seen := make(map[string]struct{}, len(columns)+len(m.cfg.rules)+1)
	for _, column := range columns {
		seen[column.ID] = struct{}{}
	}
	for _, rule := range m.cfg.rules {
		if _, dup := seen[rule.Column.ID]; dup || rule.Column.ID == "" {
			continue
		}
		if m.evaluateRule(rule, form) {
			seen[rule.Column.ID] = struct{}{}
			columns = append(columns, rule.Column)
		}
	}
	if m.cfg.clientRendered && m.cfg.withActions {
		if _, dup := seen[ColumnActions]; !dup {
			columns = append(columns, ActionsColumn())
		}
	}
	return columns
}

// Sizing maps every table column to its width. A pending resize is returned
// as is; otherwise stored widths are used (DefaultColumnSize when missing)
// or, without stored sizing, defaults with ActionsColumnSize for actions.
func (m *Manager) Sizing() map[string]int {
	m.mu.Lock()
	pending := maps.Clone(m.pending)
	m.mu.Unlock()
	if pending != nil {
		return pending
	}
	return sizing(m.TableColumns(), m.store.Preferences())
}

func sizing(columns []Column, p prefs.Preferences) map[string]int {
	out := make(map[string]int, len(columns))
	if len(p.GlobalSizing) > 0 {
		for _, column := range columns {
			size, ok := p.GlobalSizing[column.ID]
			if !ok {
				size = DefaultColumnSize
			}
			out[column.ID] = ClampSize(size)
		}
		return out
	}
	for _, column := range columns {
		if column.ID == ColumnActions {
			out[column.ID] = ActionsColumnSize
			continue
		}
		out[column.ID] = DefaultColumnSize
	}
	return out
}

// CanResize reports whether id is a table column with resizing enabled.
func (m *Manager) CanResize(id string) bool {
	for _, column := range m.TableColumns() {
		if column.ID == id {
			return column.EnableResizing
		}
	}
	return false
}

// HandleColumnResize clamps size, applies it to the in-memory sizing at once
// and schedules a debounced write of the whole mapping. Calls within the
// debounce window collapse into one write of the latest mapping. Columns
// that cannot be resized, such as actions, are ignored.
func (m *Manager) HandleColumnResize(id string, size int) {
	if !m.CanResize(id) {
		m.cfg.logger.V(1).Info("ignoring resize", "table", m.Form().TableID(), "column", id)
		return
	}
	size = ClampSize(size)
	current := m.Sizing()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.pending != nil {
		current = maps.Clone(m.pending)
	}
	current[id] = size
	m.pending = current
	m.resize.Trigger(maps.Clone(current))
}

func (m *Manager) persistSizing(next map[string]int) {
	if err := m.store.SetColumnSizing(context.Background(), next); err != nil {
		m.cfg.logger.Error(err, "persist column sizing", "table", m.Form().TableID())
	}
	m.mu.Lock()
	if maps.Equal(m.pending, next) {
		m.pending = nil
	}
	m.mu.Unlock()
}

// ResizePending reports whether a sizing write is waiting for the debounce.
func (m *Manager) ResizePending() bool {
	return m.resize.Pending()
}

// ToggleColumnVisibility flips the resolved visibility of id.
func (m *Manager) ToggleColumnVisibility(ctx context.Context, id string) {
	current := m.Visibility()[id]
	m.SetVisibility(ctx, map[string]bool{id: !current})
}

// ToggleColumnWrapping flips the wrap flag of id.
func (m *Manager) ToggleColumnWrapping(ctx context.Context, id string) {
	wrapped := m.store.ColumnPreference(id).IsWrapped()
	m.write(ctx, id, prefs.Record{Wrapped: prefs.Bool(!wrapped)})
}

// ToggleColumnPin unpins id when it is pinned left. Otherwise it unpins every
// other column and pins id, making it visible. actions cannot be toggled.
func (m *Manager) ToggleColumnPin(ctx context.Context, id string) {
	if id == ColumnActions {
		return
	}
	if m.store.ColumnPreference(id).PinnedLeft() {
		m.write(ctx, id, prefs.Record{Pinned: prefs.Pin(prefs.PinNone)})
		return
	}
	for _, column := range m.Columns() {
		if column.ID == ColumnActions || column.ID == id {
			continue
		}
		if m.store.ColumnPreference(column.ID).PinnedLeft() {
			m.write(ctx, column.ID, prefs.Record{Pinned: prefs.Pin(prefs.PinNone)})
		}
	}
	m.write(ctx, id, prefs.Record{Pinned: prefs.Pin(prefs.PinLeft), Visible: prefs.Bool(true)})
}

// ColumnPreference returns the stored record of id.
func (m *Manager) ColumnPreference(id string) prefs.Record {
	return m.store.ColumnPreference(id)
}

// SetColumnPreference merges partial into the stored record of id.
func (m *Manager) SetColumnPreference(ctx context.Context, id string, partial prefs.Record) {
	m.write(ctx, id, partial)
}

// ResetPreferences drops every stored preference of the table, including a
// pending resize.
func (m *Manager) ResetPreferences(ctx context.Context) {
	m.cancelResize()
	if err := m.store.ResetPreferences(ctx); err != nil {
		m.cfg.logger.Error(err, "reset preferences", "table", m.Form().TableID())
	}
}

// ResetColumn drops the stored record and width of id.
func (m *Manager) ResetColumn(ctx context.Context, id string) {
	m.mu.Lock()
	_, resizing := m.pending[id]
	m.mu.Unlock()
	if resizing {
		m.resize.Flush()
	}
	if err := m.store.ResetColumn(ctx, id); err != nil {
		m.cfg.logger.Error(err, "reset column", "table", m.Form().TableID(), "column", id)
	}
}

// State derives every view at once from a single preference snapshot.
func (m *Manager) State() TableState {
	form := m.Form()
	p := m.store.Preferences()
	base := m.columns(form)
	table := m.tableColumns(form, ordered(base, p))

	m.mu.Lock()
	sizes := maps.Clone(m.pending)
	m.mu.Unlock()
	if sizes == nil {
		sizes = sizing(table, p)
	}

	return TableState{
		Table:      form.TableID(),
		Columns:    table,
		Visibility: visibility(base, p),
		Pinning:    pinning(base, p),
		Sizing:     sizes,
		Wrapping:   wrapping(base, p),
	}
}

// Close flushes a pending resize. Later resizes are ignored.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.resize.Flush()
	return nil
}

func (m *Manager) cancelResize() {
	m.resize.Cancel()
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}

func (m *Manager) write(ctx context.Context, id string, partial prefs.Record) {
	if err := m.store.SetColumnPreference(ctx, id, partial); err != nil {
		m.cfg.logger.Error(err, "write column preference", "table", m.Form().TableID(), "column", id)
	}
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
