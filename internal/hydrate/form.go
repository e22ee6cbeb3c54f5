package hydrate

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/goliatone/go-tablestate"
)

// ErrTableMismatch reports a payload whose id differs from Context.Table.
var ErrTableMismatch = errors.New("hydrate: payload belongs to another table")

// camelCase spellings accepted for the keys the table reads.
var formKeyAliases = map[string]string{
	"removedProperties":        "removed_properties",
	"isPro":                    "is_pro",
	"isTrialing":               "is_trialing",
	"isClosed":                 "is_closed",
	"enablePartialSubmissions": "enable_partial_submissions",
	"isPasswordProtected":      "is_password_protected",
	"workspaceId":              "workspace_id",
}

// NewFormDecoder returns a decoder for form resource payloads. The built-in
// hooks run before any passed in opts.
func NewFormDecoder(opts ...DecoderOption[tablestate.Form]) *Decoder[tablestate.Form] {
	base := []DecoderOption[tablestate.Form]{
		WithPreHook[tablestate.Form](UnwrapEnvelope),
		WithPreHook[tablestate.Form](NormalizeFormKeys),
		WithPreHook[tablestate.Form](StringifyFormIDs),
		WithPreHook[tablestate.Form](DropProtectedProperties),
		WithPreHook[tablestate.Form](DropMalformedFieldLists),
		WithPostHook(ValidateForm),
	}
	return NewDecoder(append(base, opts...)...)
}

// DecodeForm decodes a form resource document.
func DecodeForm(ctx Context, data []byte) (tablestate.Form, error) {
	return NewFormDecoder().DecodeBytes(ctx, data)
}

// UnwrapEnvelope lifts a resource wrapped as {"data": {...}}.
func UnwrapEnvelope(_ Context, payload map[string]any) (map[string]any, error) {
	if len(payload) != 1 {
		return payload, nil
	}
	if inner, ok := payload["data"].(map[string]any); ok {
		return inner, nil
	}
	return payload, nil
}

// NormalizeFormKeys renames camelCase keys to their snake_case form. An
// existing snake_case key wins.
func NormalizeFormKeys(_ Context, payload map[string]any) (map[string]any, error) {
	for alias, key := range formKeyAliases {
		value, ok := payload[alias]
		if !ok {
			continue
		}
		delete(payload, alias)
		if _, exists := payload[key]; !exists {
			payload[key] = value
		}
	}
	return payload, nil
}

// StringifyFormIDs turns numeric form and workspace ids into strings.
func StringifyFormIDs(_ Context, payload map[string]any) (map[string]any, error) {
	for _, key := range []string{"id", "workspace_id"} {
		switch v := payload[key].(type) {
		case float64:
			payload[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return nil, fmt.Errorf("%w: %s must be a string or number", tablestate.ErrMalformedForm, key)
		}
	}
	return payload, nil
}

// DropProtectedProperties empties the field lists of password protected
// forms, which are served without their definition.
func DropProtectedProperties(_ Context, payload map[string]any) (map[string]any, error) {
	if protected, _ := payload["is_password_protected"].(bool); protected {
		payload["properties"] = []any{}
		delete(payload, "removed_properties")
	}
	return payload, nil
}

// DropMalformedFieldLists removes a properties or removed_properties value
// that is not a list. A form without properties derives no columns, so a
// broken definition renders an empty table instead of failing.
func DropMalformedFieldLists(ctx Context, payload map[string]any) (map[string]any, error) {
	for _, key := range []string{"properties", "removed_properties"} {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		if _, isList := value.([]any); isList {
			continue
		}
		ctx.Logger.Info("dropping malformed field list", "source", ctx.label(), "key", key, "kind", fmt.Sprintf("%T", value))
		delete(payload, key)
	}
	return payload, nil
}

// ValidateForm checks the decoded form has a table id matching ctx.Table and
// that every field carries an id.
func ValidateForm(ctx Context, form *tablestate.Form) error {
	table := form.TableID()
	if table == "" {
		return fmt.Errorf("%w: form has neither id nor slug", tablestate.ErrMalformedForm)
	}
	if ctx.Table != "" && ctx.Table != table {
		return fmt.Errorf("%w: got %q, want %q", ErrTableMismatch, table, ctx.Table)
	}
	for i, field := range form.Properties {
		if field.ID == "" {
			return fmt.Errorf("%w: properties[%d] has no id", tablestate.ErrMalformedForm, i)
		}
	}
	for i, field := range form.RemovedProperties {
		if field.ID == "" {
			return fmt.Errorf("%w: removed_properties[%d] has no id", tablestate.ErrMalformedForm, i)
		}
	}
	return nil
}
