package hydrate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/goliatone/go-tablestate"
	"github.com/goliatone/go-tablestate/pkg/prefs"
)

func TestFormDecoderFromFixtures(t *testing.T) {
	fx := loadFixture(t, "hydrate_forms.json")

	for _, tc := range fx.Cases {
		t.Run(tc.Name, func(t *testing.T) {
			decoder := NewFormDecoder()
			ctx := Context{Table: tc.Table, Source: tc.Name}

			result, err := decoder.Decode(ctx, tc.Input)

			if tc.ExpectErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.ExpectErr)
				}
				if !strings.Contains(err.Error(), tc.ExpectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.ExpectErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}

			if !reflect.DeepEqual(tc.Expect, result) {
				t.Fatalf("decoded form mismatch:\nwant: %#v\n got: %#v", tc.Expect, result)
			}
		})
	}
}

func TestDecodeFormErrorsWrapSentinels(t *testing.T) {
	_, err := DecodeForm(Context{}, []byte(`{"id": "f", "properties": [{"type": "text"}]}`))
	if !errors.Is(err, tablestate.ErrMalformedForm) {
		t.Fatalf("expected ErrMalformedForm, got %v", err)
	}

	_, err = DecodeForm(Context{Table: "other"}, []byte(`{"id": "f", "properties": []}`))
	if !errors.Is(err, ErrTableMismatch) {
		t.Fatalf("expected ErrTableMismatch, got %v", err)
	}

	_, err = DecodeForm(Context{Source: "form.json"}, []byte(`[1, 2]`))
	if err == nil || !strings.Contains(err.Error(), "form.json") {
		t.Fatalf("expected parse error naming the source, got %v", err)
	}
}

func TestDecodeDoesNotMutateInput(t *testing.T) {
	input := map[string]any{
		"id":                    float64(5),
		"is_password_protected": true,
		"properties":            []any{map[string]any{"id": "a", "name": "A"}},
	}

	if _, err := NewFormDecoder().Decode(Context{}, input); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if input["id"] != float64(5) {
		t.Fatalf("input id rewritten: %#v", input["id"])
	}
	if props := input["properties"].([]any); len(props) != 1 {
		t.Fatalf("input properties rewritten: %#v", props)
	}
}

func TestMalformedFormDegradesToEmpty(t *testing.T) {
	var notices []string
	log := funcr.New(func(_, args string) { notices = append(notices, args) }, funcr.Options{})

	for name, payload := range map[string]string{
		"missing properties":  `{"id": "f"}`,
		"string properties":   `{"id": "f", "properties": "oops"}`,
		"object properties":   `{"id": "f", "properties": {"id": "name"}}`,
		"only removed fields": `{"id": "f", "removed_properties": [{"id": "old", "type": "text"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			form, err := DecodeForm(Context{Source: name, Logger: log}, []byte(payload))
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if form.Properties != nil {
				t.Fatalf("expected no properties, got %#v", form.Properties)
			}

			store, err := prefs.Open(context.Background(), prefs.NewMemoryBackend(), prefs.Ref{Table: "f", Scope: prefs.UserScope("u")})
			if err != nil {
				t.Fatalf("prefs.Open failed: %v", err)
			}
			m, err := tablestate.NewManager(form, store)
			if err != nil {
				t.Fatalf("NewManager failed: %v", err)
			}
			defer m.Close()

			if columns := m.Columns(); len(columns) != 0 {
				t.Fatalf("expected no columns, got %#v", columns)
			}
			if state := m.State(); len(state.Columns) != 0 || len(state.Visibility) != 0 {
				t.Fatalf("expected empty state, got %#v", state)
			}
		})
	}

	if len(notices) != 2 {
		t.Fatalf("expected a notice per dropped list, got %q", notices)
	}
	if !strings.Contains(notices[0], `"key"="properties"`) {
		t.Fatalf("expected notice naming the key, got %q", notices[0])
	}
}

func TestExtraHooksRunAfterBuiltins(t *testing.T) {
	var seen map[string]any
	record := func(_ Context, payload map[string]any) (map[string]any, error) {
		seen = payload
		return nil, nil
	}
	rename := func(_ Context, form *tablestate.Form) error {
		form.Title = strings.ToUpper(form.Title)
		return nil
	}
	decoder := NewFormDecoder(WithPreHook[tablestate.Form](record), WithPostHook(rename))

	form, err := decoder.DecodeBytes(Context{}, []byte(`{"data": {"id": 1, "title": "hello", "removedProperties": []}}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if seen["id"] != "1" {
		t.Fatalf("expected stringified id before custom hook, got %#v", seen["id"])
	}
	if _, ok := seen["removed_properties"]; !ok {
		t.Fatalf("expected normalised keys before custom hook, got %#v", seen)
	}
	if form.Title != "HELLO" {
		t.Fatalf("expected post hook to run, got %q", form.Title)
	}
}

func TestPreHookErrorStopsDecode(t *testing.T) {
	fail := func(Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	}
	_, err := NewFormDecoder(WithPreHook[tablestate.Form](fail)).Decode(Context{Table: "t"}, map[string]any{"id": "t"})
	if err == nil || !strings.Contains(err.Error(), "pre-hook for t failed: boom") {
		t.Fatalf("expected pre-hook failure, got %v", err)
	}

	_, err = NewFormDecoder().Decode(Context{}, nil)
	if err == nil {
		t.Fatal("expected error for nil payload")
	}
}

func TestDecoderConfig(t *testing.T) {
	decoder := NewDecoder(WithDecoderConfig[strictForm](func(dec *json.Decoder) {
		dec.DisallowUnknownFields()
	}))
	if _, err := decoder.Decode(Context{}, map[string]any{"id": "a", "extra": 1}); err == nil {
		t.Fatal("expected unknown field error")
	}
	out, err := decoder.Decode(Context{}, map[string]any{"id": "a"})
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if out.ID != "a" {
		t.Fatalf("expected id a, got %q", out.ID)
	}
}

type strictForm struct {
	ID string `json:"id"`
}

type fixture struct {
	Description string        `json:"description"`
	Cases       []fixtureCase `json:"cases"`
}

type fixtureCase struct {
	Name      string          `json:"name"`
	Table     string          `json:"table"`
	Input     map[string]any  `json:"input"`
	Expect    tablestate.Form `json:"expect"`
	ExpectErr string          `json:"expectErr"`
}

func loadFixture(t *testing.T, name string) fixture {
	t.Helper()
	path := filepath.Join("..", "..", "testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read hydrate fixture %q: %v", name, err)
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("failed to unmarshal hydrate fixture %q: %v", name, err)
	}
	return fx
}
