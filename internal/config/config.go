package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-tablestate"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Table  TableConfig  `yaml:"table"`
	Rules  RulesConfig  `yaml:"rules"`
	Server ServerConfig `yaml:"server"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// StoreConfig selects the preference backend and the identity preferences
// are stored under.
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	User      string `yaml:"user"`
	Workspace string `yaml:"workspace"`
}

type TableConfig struct {
	WithActions    bool          `yaml:"with_actions"`
	ClientRendered bool          `yaml:"client_rendered"`
	ResizeDebounce time.Duration `yaml:"resize_debounce"`
}

type RulesConfig struct {
	Engine  string             `yaml:"engine"`
	Columns []RuleColumnConfig `yaml:"columns"`
}

// RuleColumnConfig declares a synthetic column shown while When holds.
type RuleColumnConfig struct {
	ID     string `yaml:"id"`
	Header string `yaml:"header"`
	Type   string `yaml:"type"`
	When   string `yaml:"when"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimit is the sustained mutations per second allowed per client.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the config at path, or at DefaultPath when path is empty.
// A missing file yields the defaults. Environment overrides are applied
// before defaults fill the remaining gaps.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			config := &Config{}
			config.applyEnv()
			config.applyDefaults()
			return config, config.Validate()
		}
	}

	config := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultPath returns $XDG_CONFIG_HOME/tablestate/config.yaml, falling back
// to ~/.config.
func DefaultPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "tablestate", "config.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "tablestate", "config.yaml"), nil
}

// DefaultDataPath returns the default sqlite database location.
func DefaultDataPath() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "tablestate", "preferences.db")
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "share", "tablestate", "preferences.db")
	}
	return "tablestate.db"
}

// Validate rejects unknown drivers, engines and incomplete rule columns.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Rules.Engine {
	case tablestate.EngineExpr, tablestate.EngineCEL, tablestate.EngineJS:
	default:
		return fmt.Errorf("config: unknown rules engine %q", c.Rules.Engine)
	}
	for i, column := range c.Rules.Columns {
		if column.ID == "" || column.When == "" {
			return fmt.Errorf("config: rules.columns[%d] needs id and when", i)
		}
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must not be negative")
	}
	return nil
}

// ManagerOptions translates the table and rules sections into manager
// options.
func (c *Config) ManagerOptions() []tablestate.Option {
	opts := []tablestate.Option{
		tablestate.WithActions(c.Table.WithActions),
		tablestate.WithClientRendered(c.Table.ClientRendered),
		tablestate.WithDebounce(c.Table.ResizeDebounce),
		tablestate.WithEngine(c.Rules.Engine),
	}
	if len(c.Rules.Columns) > 0 {
		rules := make([]tablestate.ColumnRule, 0, len(c.Rules.Columns))
		for _, column := range c.Rules.Columns {
			header := column.Header
			if header == "" {
				header = column.ID
			}
			rules = append(rules, tablestate.ColumnRule{
				Column: tablestate.RuleColumn(column.ID, header, column.Type),
				When:   column.When,
			})
		}
		opts = append(opts, tablestate.WithRules(rules...))
	}
	return opts
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = DefaultDataPath()
	}
	if c.Store.User == "" {
		c.Store.User = "local"
	}
	if c.Table.ResizeDebounce <= 0 {
		c.Table.ResizeDebounce = tablestate.ResizeDebounce
	}
	if c.Rules.Engine == "" {
		c.Rules.Engine = tablestate.EngineExpr
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 20
	}
}

// applyEnv overrides values from TABLESTATE_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("TABLESTATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TABLESTATE_STORE_DRIVER"); v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("TABLESTATE_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TABLESTATE_USER"); v != "" {
		c.Store.User = v
	}
	if v := os.Getenv("TABLESTATE_WORKSPACE"); v != "" {
		c.Store.Workspace = v
	}
	if v := os.Getenv("TABLESTATE_RULES_ENGINE"); v != "" {
		c.Rules.Engine = strings.ToLower(v)
	}
	if v := os.Getenv("TABLESTATE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TABLESTATE_CLIENT_RENDERED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Table.ClientRendered = enabled
		}
	}
	if v := os.Getenv("TABLESTATE_WITH_ACTIONS"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Table.WithActions = enabled
		}
	}
}
