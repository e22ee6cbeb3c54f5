package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-tablestate"
	"github.com/goliatone/go-tablestate/pkg/prefs"
)

func TestLoadConfigWithoutFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tempDir)
	t.Setenv("XDG_DATA_HOME", tempDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() without config file failed: %v", err)
	}

	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Store.Driver = %s, want sqlite", cfg.Store.Driver)
	}
	if want := filepath.Join(tempDir, "tablestate", "preferences.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %s, want %s", cfg.Store.Path, want)
	}
	if cfg.Rules.Engine != tablestate.EngineExpr {
		t.Errorf("Rules.Engine = %s, want expr", cfg.Rules.Engine)
	}
	if cfg.Table.ResizeDebounce != tablestate.ResizeDebounce {
		t.Errorf("Table.ResizeDebounce = %s, want %s", cfg.Table.ResizeDebounce, tablestate.ResizeDebounce)
	}
	if cfg.Table.WithActions || cfg.Table.ClientRendered {
		t.Errorf("actions column should be off by default, got %+v", cfg.Table)
	}
}

func TestLoadConfigWithFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tempDir)

	configDir := filepath.Join(tempDir, "tablestate")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configContent := `log:
  level: debug
store:
  driver: memory
  user: ada
table:
  with_actions: true
  client_rendered: true
  resize_debounce: 120ms
rules:
  engine: cel
  columns:
    - id: trial
      header: Trial
      type: badge
      when: is_trialing
server:
  addr: ":9090"
  cors_origins: ["https://app.example.com"]
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() with config file failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Store.Driver != DriverMemory || cfg.Store.Path != "" {
		t.Errorf("Store = %+v, want memory without path", cfg.Store)
	}
	if cfg.Store.User != "ada" {
		t.Errorf("Store.User = %s, want ada", cfg.Store.User)
	}
	if cfg.Table.ResizeDebounce != 120*time.Millisecond {
		t.Errorf("Table.ResizeDebounce = %s, want 120ms", cfg.Table.ResizeDebounce)
	}
	if len(cfg.Rules.Columns) != 1 || cfg.Rules.Columns[0].When != "is_trialing" {
		t.Errorf("Rules.Columns = %+v", cfg.Rules.Columns)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %s, want :9090", cfg.Server.Addr)
	}
	if cfg.Server.RateLimit != 10 || cfg.Server.RateBurst != 20 {
		t.Errorf("rate limit defaults not applied: %+v", cfg.Server)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  driver: memory\nrules:\n  engine: cel\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("XDG_DATA_HOME", tempDir)
	t.Setenv("TABLESTATE_STORE_DRIVER", "SQLite")
	t.Setenv("TABLESTATE_RULES_ENGINE", "expr")
	t.Setenv("TABLESTATE_ADDR", ":7000")
	t.Setenv("TABLESTATE_CLIENT_RENDERED", "true")
	t.Setenv("TABLESTATE_WITH_ACTIONS", "not-a-bool")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Store.Driver = %s, want sqlite", cfg.Store.Driver)
	}
	if cfg.Store.Path == "" {
		t.Error("sqlite driver from env should get a default path")
	}
	if cfg.Rules.Engine != tablestate.EngineExpr {
		t.Errorf("Rules.Engine = %s, want expr", cfg.Rules.Engine)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %s, want :7000", cfg.Server.Addr)
	}
	if !cfg.Table.ClientRendered || cfg.Table.WithActions {
		t.Errorf("Table = %+v, want client rendered without actions", cfg.Table)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"driver":      "store:\n  driver: postgres\n",
		"engine":      "rules:\n  engine: lua\n",
		"rule column": "rules:\n  columns:\n    - id: x\n",
		"yaml":        "store: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected Load to fail for %s", name)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Store.Driver = DriverMemory
	cfg.Store.Path = ""
	cfg.Rules.Columns = []RuleColumnConfig{{ID: "trial", When: "is_trialing"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Store.Driver != DriverMemory || len(loaded.Rules.Columns) != 1 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestManagerOptionsBuildRules(t *testing.T) {
	cfg := Default()
	cfg.Rules.Columns = []RuleColumnConfig{{ID: "trial", Type: "badge", When: "is_trialing"}}

	opts := cfg.ManagerOptions()
	if len(opts) != 5 {
		t.Fatalf("expected 5 options, got %d", len(opts))
	}

	form := tablestate.Form{ID: "f", IsTrialing: true}
	store, err := prefs.Open(context.Background(), prefs.NewMemoryBackend(), prefs.Ref{Table: "f", Scope: prefs.UserScope("u")})
	if err != nil {
		t.Fatalf("prefs.Open failed: %v", err)
	}
	m, err := tablestate.NewManager(form, store, opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	var found *tablestate.Column
	for _, column := range m.TableColumns() {
		if column.ID == "trial" {
			found = &column
		}
	}
	if found == nil {
		t.Fatal("expected configured rule column")
	}
	if found.Header != "trial" || found.Type != "badge" {
		t.Fatalf("unexpected rule column %+v", *found)
	}
}
