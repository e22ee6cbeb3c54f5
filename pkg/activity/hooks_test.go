package activity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeEventTrimsClonesAndDefaults(t *testing.T) {
	meta := map[string]any{"column": "name"}
	evt := Event{
		Verb:        " preferences.column.updated ",
		ActorID:     " actor ",
		UserID:      " user ",
		WorkspaceID: " ws ",
		ObjectType:  " table ",
		ObjectID:    " form-1 ",
		Channel:     " prefs ",
		Metadata:    meta,
	}

	got := NormalizeEvent(evt)

	if got.Verb != VerbColumnUpdated || got.ObjectType != "table" || got.ObjectID != "form-1" {
		t.Fatalf("unexpected normalized fields: %+v", got)
	}
	if got.ActorID != "actor" || got.UserID != "user" || got.WorkspaceID != "ws" || got.Channel != "prefs" {
		t.Fatalf("unexpected trimming: %+v", got)
	}
	if got.OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be set")
	}
	got.Metadata["column"] = "changed"
	if meta["column"] != "name" {
		t.Fatalf("expected original metadata untouched: %+v", meta)
	}
}

func TestHooksNotifyDropsIncompleteEvents(t *testing.T) {
	capture := &CaptureHook{}
	if err := (Hooks{capture}).Notify(context.Background(), Event{Verb: VerbReset}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(capture.Events()) != 0 {
		t.Fatalf("expected no events captured, got %d", len(capture.Events()))
	}
}

func TestHooksNotifyFanOutAndJoinErrors(t *testing.T) {
	capture := &CaptureHook{}
	boom1 := errors.New("boom1")
	boom2 := errors.New("boom2")
	hooks := Hooks{
		capture,
		HookFunc(func(context.Context, Event) error { return boom1 }),
		nil,
		HookFunc(func(context.Context, Event) error { return boom2 }),
	}

	err := hooks.Notify(nil, Event{Verb: VerbReset, ObjectType: ObjectTypeTable, ObjectID: "form-1"})
	if !errors.Is(err, boom1) || !errors.Is(err, boom2) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(capture.Events()) != 1 {
		t.Fatalf("expected event captured once, got %d", len(capture.Events()))
	}
}

func TestEmitterDisabledAndEnabled(t *testing.T) {
	capture := &CaptureHook{}
	event := Event{Verb: VerbReset, ObjectType: ObjectTypeTable, ObjectID: "form-1"}

	disabled := NewEmitter(Hooks{capture}, Config{Enabled: false})
	if disabled.Enabled() {
		t.Fatalf("expected emitter to be disabled")
	}
	if err := disabled.Emit(context.Background(), event); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(capture.Events()) != 0 {
		t.Fatalf("expected no events captured when disabled")
	}

	var nilEmitter *Emitter
	if err := nilEmitter.Emit(context.Background(), event); err != nil {
		t.Fatalf("nil emitter: %v", err)
	}

	enabled := NewEmitter(Hooks{capture}, Config{Enabled: true})
	if err := enabled.Emit(context.Background(), event); err != nil {
		t.Fatalf("emit: %v", err)
	}
	events := capture.Events()
	if len(events) != 1 || events[0].Channel != DefaultChannel {
		t.Fatalf("expected default channel applied, got %+v", events)
	}
}

func TestEmitterPreservesExplicitChannel(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true, Channel: "audit"})
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := emitter.Emit(context.Background(), Event{
		Verb:       VerbReset,
		ObjectType: ObjectTypeTable,
		ObjectID:   "form-1",
		Channel:    "custom",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	got := capture.Events()[0]
	if got.Channel != "custom" || !got.OccurredAt.Equal(at) {
		t.Fatalf("expected explicit channel and timestamp preserved, got %+v", got)
	}
}

func TestBuildColumnUpdatedEventCarriesChanges(t *testing.T) {
	changes := map[string]any{"visible": false}
	event := BuildColumnUpdatedEvent(PreferenceEventInput{
		UserID:     " u42 ",
		Table:      " form-1 ",
		Column:     "name",
		Scope:      "user",
		SnapshotID: "snap-1",
		Changes:    changes,
	})

	if event.Verb != VerbColumnUpdated || event.ObjectType != ObjectTypeTable || event.ObjectID != "form-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.UserID != "u42" {
		t.Fatalf("expected trimmed user id, got %q", event.UserID)
	}
	if event.Metadata["column"] != "name" || event.Metadata["scope"] != "user" || event.Metadata["snapshot_id"] != "snap-1" {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
	got := event.Metadata["changes"].(map[string]any)
	got["visible"] = true
	if changes["visible"] != false {
		t.Fatalf("expected input changes untouched")
	}
}

func TestBuildResetEventHasNoMetadataWhenEmpty(t *testing.T) {
	event := BuildResetEvent(PreferenceEventInput{Table: "form-1"})
	if event.Verb != VerbReset || event.Metadata != nil {
		t.Fatalf("unexpected reset event: %+v", event)
	}
}
