package activity

import (
	"strings"
	"time"
)

// Verbs emitted by the preference store.
const (
	VerbColumnUpdated = "preferences.column.updated"
	VerbColumnReset   = "preferences.column.reset"
	VerbSizingUpdated = "preferences.sizing.updated"
	VerbReset         = "preferences.reset"
)

// ObjectTypeTable is the object type of every preference event; the object id
// is the table identifier.
const ObjectTypeTable = "table"

// PreferenceEventInput carries the fields shared by preference events.
type PreferenceEventInput struct {
	ActorID     string
	UserID      string
	WorkspaceID string
	Table       string
	Column      string
	Scope       string
	SnapshotID  string
	Changes     map[string]any
	OccurredAt  time.Time
}

// BuildColumnUpdatedEvent describes a partial write to one column record.
func BuildColumnUpdatedEvent(input PreferenceEventInput) Event {
	return buildPreferenceEvent(VerbColumnUpdated, input)
}

// BuildColumnResetEvent describes the removal of one column record.
func BuildColumnResetEvent(input PreferenceEventInput) Event {
	return buildPreferenceEvent(VerbColumnReset, input)
}

// BuildSizingUpdatedEvent describes a replacement of the table sizing map.
func BuildSizingUpdatedEvent(input PreferenceEventInput) Event {
	return buildPreferenceEvent(VerbSizingUpdated, input)
}

// BuildResetEvent describes the removal of every preference of a table.
func BuildResetEvent(input PreferenceEventInput) Event {
	return buildPreferenceEvent(VerbReset, input)
}

func buildPreferenceEvent(verb string, input PreferenceEventInput) Event {
	var metadata map[string]any
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}
	if column := strings.TrimSpace(input.Column); column != "" {
		set("column", column)
	}
	if scope := strings.TrimSpace(input.Scope); scope != "" {
		set("scope", scope)
	}
	if input.SnapshotID != "" {
		set("snapshot_id", input.SnapshotID)
	}
	if len(input.Changes) > 0 {
		set("changes", cloneMap(input.Changes))
	}

	return Event{
		Verb:        verb,
		ActorID:     strings.TrimSpace(input.ActorID),
		UserID:      strings.TrimSpace(input.UserID),
		WorkspaceID: strings.TrimSpace(input.WorkspaceID),
		ObjectType:  ObjectTypeTable,
		ObjectID:    strings.TrimSpace(input.Table),
		Metadata:    metadata,
		OccurredAt:  input.OccurredAt,
	}
}
