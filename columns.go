package tablestate

import (
	"fmt"
	"maps"
	"slices"
)

// DeriveColumns maps a form definition to its base column list: every data
// field in form order, then one hidden-by-default column per removed
// property, then created_at when no field already uses that id. Later
// duplicates of an id are dropped. A form without properties has no columns.
func DeriveColumns(form Form) ([]Column, error) {
	if form.Properties == nil {
		return []Column{}, nil
	}
	columns := make([]Column, 0, len(form.Properties)+len(form.RemovedProperties)+1)
	seen := make(map[string]struct{}, cap(columns))

	add := func(field Field, removed bool, index int) error {
		if field.ID == "" {
			kind := "properties"
			if removed {
				kind = "removed_properties"
			}
			return fmt.Errorf("%w: %s[%d] has no id", ErrMalformedForm, kind, index)
		}
		if _, dup := seen[field.ID]; dup {
			return nil
		}
		seen[field.ID] = struct{}{}
		columns = append(columns, fieldColumn(field, removed))
		return nil
	}

	for i, field := range form.Properties {
		if !IsDataField(field.Type) {
			continue
		}
		if err := add(field, false, i); err != nil {
			return nil, err
		}
	}
	for i, field := range form.RemovedProperties {
		if err := add(field, true, i); err != nil {
			return nil, err
		}
	}
	if _, ok := seen[ColumnCreatedAt]; !ok {
		columns = append(columns, createdAtColumn())
	}
	return columns, nil
}

func fieldColumn(field Field, removed bool) Column {
	column := Column{
		ID:             field.ID,
		AccessorKey:    field.ID,
		Header:         field.Name,
		Type:           field.Type,
		Removed:        removed,
		EnableResizing: true,
		MinSize:        DataColumnMinSize,
		MaxSize:        DataColumnMaxSize,
		Attributes:     maps.Clone(field.Attributes),
	}
	if field.Type == "matrix" {
		column.MatrixColumns = slices.Clone(field.Columns)
	}
	return column
}

func createdAtColumn() Column {
	return Column{
		ID:             ColumnCreatedAt,
		AccessorKey:    ColumnCreatedAt,
		Header:         "Created at",
		Type:           "date",
		EnableResizing: true,
		MinSize:        DataColumnMinSize,
		MaxSize:        DataColumnMaxSize,
	}
}

func columnIDs(columns []Column) []string {
	ids := make([]string, len(columns))
	for i, column := range columns {
		ids[i] = column.ID
	}
	return ids
}
