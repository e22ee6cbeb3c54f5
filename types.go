package tablestate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Size bounds and sentinels shared by every table.
const (
	MinColumnSize     = 80
	MaxColumnSize     = 700
	DefaultColumnSize = 200
	ActionsColumnSize = 80

	// Resize bounds advertised on data columns.
	DataColumnMinSize = 100
	DataColumnMaxSize = 500

	// HiddenOrder is the rank given to columns without an explicit position.
	HiddenOrder = 9999

	ResizeDebounce = 50 * time.Millisecond
)

// Synthetic column ids.
const (
	ColumnCreatedAt = "created_at"
	ColumnStatus    = "status"
	ColumnActions   = "actions"
)

// Field types that never hold submission data.
var nonDataFieldTypes = map[string]struct{}{
	"nf-text":       {},
	"nf-code":       {},
	"nf-page-break": {},
	"nf-divider":    {},
	"nf-image":      {},
}

// IsDataField reports whether a field of fieldType becomes a table column.
func IsDataField(fieldType string) bool {
	_, skip := nonDataFieldTypes[fieldType]
	return !skip
}

// Form is the part of a form definition the table cares about.
type Form struct {
	ID                       string  `json:"id"`
	Slug                     string  `json:"slug,omitempty"`
	Title                    string  `json:"title,omitempty"`
	WorkspaceID              string  `json:"workspace_id,omitempty"`
	IsPro                    bool    `json:"is_pro"`
	IsTrialing               bool    `json:"is_trialing,omitempty"`
	IsClosed                 bool    `json:"is_closed,omitempty"`
	EnablePartialSubmissions bool    `json:"enable_partial_submissions"`
	IsPasswordProtected      bool    `json:"is_password_protected,omitempty"`
	Properties               []Field `json:"properties"`
	RemovedProperties        []Field `json:"removed_properties,omitempty"`
}

// TableID is the preference key of the form: its id, or its slug when the id
// is unknown.
func (f Form) TableID() string {
	if id := strings.TrimSpace(f.ID); id != "" {
		return id
	}
	return strings.TrimSpace(f.Slug)
}

// RuleSnapshot exposes the form to column rules.
func (f Form) RuleSnapshot() map[string]any {
	return map[string]any{
		"id":                         f.ID,
		"slug":                       f.Slug,
		"title":                      f.Title,
		"workspace_id":               f.WorkspaceID,
		"is_pro":                     f.IsPro,
		"is_trialing":                f.IsTrialing,
		"is_closed":                  f.IsClosed,
		"enable_partial_submissions": f.EnablePartialSubmissions,
		"property_count":             len(f.Properties),
		"removed_count":              len(f.RemovedProperties),
	}
}

// Field is one form block. Attributes holds everything besides the keys the
// table reads, so it can be passed through to the renderer untouched.
type Field struct {
	ID         string
	Name       string
	Type       string
	Columns    []string
	Attributes map[string]any
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: field: %v", ErrMalformedForm, err)
	}
	field, err := FieldFromMap(raw)
	if err != nil {
		return err
	}
	*f = field
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f Field) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Attributes)+4)
	for key, value := range f.Attributes {
		out[key] = value
	}
	out["id"] = f.ID
	out["name"] = f.Name
	if f.Type != "" {
		out["type"] = f.Type
	}
	if f.Columns != nil {
		out["columns"] = f.Columns
	}
	return json.Marshal(out)
}

// FieldFromMap builds a Field from a decoded JSON object. Numeric ids are
// formatted as strings and a columns value that is not a list is dropped.
func FieldFromMap(raw map[string]any) (Field, error) {
	if raw == nil {
		return Field{}, fmt.Errorf("%w: field is null", ErrMalformedForm)
	}
	field := Field{Attributes: map[string]any{}}
	for key, value := range raw {
		switch key {
		case "id":
			field.ID = scalarString(value)
		case "name":
			field.Name = scalarString(value)
		case "type":
			field.Type = scalarString(value)
		case "columns":
			columns, ok := value.([]any)
			if !ok {
				continue
			}
			field.Columns = make([]string, 0, len(columns))
			for _, column := range columns {
				field.Columns = append(field.Columns, scalarString(column))
			}
		default:
			field.Attributes[key] = value
		}
	}
	if len(field.Attributes) == 0 {
		field.Attributes = nil
	}
	return field, nil
}

func scalarString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

// Column is one table column handed to the renderer.
type Column struct {
	ID                 string         `json:"id"`
	AccessorKey        string         `json:"accessor_key"`
	Header             string         `json:"header"`
	Type               string         `json:"type,omitempty"`
	Removed            bool           `json:"is_removed"`
	EnableResizing     bool           `json:"enable_resizing"`
	MinSize            int            `json:"min_size,omitempty"`
	MaxSize            int            `json:"max_size,omitempty"`
	Size               int            `json:"size,omitempty"`
	MatrixColumns      []string       `json:"matrix_columns,omitempty"`
	EnableColumnFilter bool           `json:"enable_column_filter,omitempty"`
	FilterFn           string         `json:"filter_fn,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
}

// Pinning lists pinned column ids per edge. Right is always [actions].
type Pinning struct {
	Left  []string `json:"left"`
	Right []string `json:"right"`
}

// TableState is the full derived view of one table.
type TableState struct {
	Table      string          `json:"table"`
	Columns    []Column        `json:"columns"`
	Visibility map[string]bool `json:"visibility"`
	Pinning    Pinning         `json:"pinning"`
	Sizing     map[string]int  `json:"sizing"`
	Wrapping   map[string]bool `json:"wrapping"`
}

// ClampSize bounds size to [MinColumnSize, MaxColumnSize].
func ClampSize(size int) int {
	return min(max(size, MinColumnSize), MaxColumnSize)
}
