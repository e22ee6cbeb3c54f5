package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/goliatone/go-tablestate"
	"github.com/goliatone/go-tablestate/internal/config"
	"github.com/goliatone/go-tablestate/internal/hydrate"
	"github.com/goliatone/go-tablestate/pkg/activity"
	"github.com/goliatone/go-tablestate/pkg/activity/usersink"
	"github.com/goliatone/go-tablestate/pkg/logger"
	"github.com/goliatone/go-tablestate/pkg/prefs"
	"github.com/goliatone/go-tablestate/pkg/prefs/sqlitebackend"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// app carries what every subcommand shares once the root pre-run resolved
// configuration.
type app struct {
	configPath string
	logLevel   string
	dbPath     string
	user       string
	workspace  string
	audit      bool
	noColor    bool

	cfg      *config.Config
	log      logr.Logger
	syncLog  func()
	backend  prefs.Backend
	closeDB  func() error
	emitter  *activity.Emitter
	stdout   io.Writer
	logDest  io.Writer
	override func(*config.Config)
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{stdout: os.Stdout, logDest: os.Stderr})
}

func newRootCmdWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tablestate",
		Short:         "Derive and edit the column state of form submission tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd.Context(), cmd.Flags()); err != nil {
				return err
			}
			cmd.SetContext(logger.WithLogger(cmd.Context(), a.log))
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}
	root.SetOut(a.stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/tablestate/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.dbPath, "db", "", "sqlite preference database path")
	flags.StringVar(&a.user, "user", "", "user id preferences are stored under")
	flags.StringVar(&a.workspace, "workspace", "", "workspace id whose preferences act as defaults")
	flags.BoolVar(&a.audit, "audit", false, "log every preference change as an activity record")
	flags.BoolVar(&a.noColor, "no-color", false, "disable styled output")

	root.AddCommand(
		newColumnsCmd(a),
		newStateCmd(a),
		newToggleCmd(a),
		newPinCmd(a),
		newOrderCmd(a),
		newResizeCmd(a),
		newResetCmd(a),
		newTablesCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context, flags *pflag.FlagSet) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("db") {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.Path = a.dbPath
	}
	if flags.Changed("user") {
		cfg.Store.User = a.user
	}
	if flags.Changed("workspace") {
		cfg.Store.Workspace = a.workspace
	}
	if a.override != nil {
		a.override(cfg)
	}
	a.cfg = cfg

	log, sync, err := logger.New(logger.Options{Level: cfg.Log.Level, Console: cfg.Log.Console, Output: a.logDest})
	if err != nil {
		return err
	}
	a.log, a.syncLog = log, sync

	if a.audit {
		sink := logSink{log: logger.Component(log, "audit")}
		a.emitter = activity.NewEmitter(activity.Hooks{usersink.Hook{Sink: sink}}, activity.Config{Enabled: true})
	}

	if ctx == nil {
		ctx = context.Background()
	}
	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.backend = prefs.NewMemoryBackend()
		a.closeDB = func() error { return nil }
	default:
		db, err := sqlitebackend.Open(ctx, cfg.Store.Path, sqlitebackend.WithLogger(logger.Component(log, "sqlite")))
		if err != nil {
			return err
		}
		a.backend = db
		a.closeDB = db.Close
	}
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.closeDB != nil {
		err = a.closeDB()
	}
	if a.syncLog != nil {
		a.syncLog()
	}
	return err
}

// openStore opens the preferences of table for the configured user, layered
// over the workspace and system scopes.
func (a *app) openStore(ctx context.Context, table string) (*prefs.Store, error) {
	defaults := []prefs.Scope{prefs.SystemScope()}
	if a.cfg.Store.Workspace != "" {
		defaults = append(defaults, prefs.WorkspaceScope(a.cfg.Store.Workspace))
	}
	opts := []prefs.Option{
		prefs.WithLogger(logger.Component(a.log, "prefs")),
		prefs.WithDefaultScopes(defaults...),
		prefs.WithActor(a.cfg.Store.User),
	}
	if a.emitter != nil {
		opts = append(opts, prefs.WithEmitter(a.emitter))
	}
	return prefs.Open(ctx, a.backend, prefs.Ref{Table: table, Scope: prefs.UserScope(a.cfg.Store.User)}, opts...)
}

// session is a manager over a form file, closed after one command.
type session struct {
	manager *tablestate.Manager
	store   *prefs.Store
}

func (s *session) Close() error {
	return errors.Join(s.manager.Close(), s.store.Close())
}

func (a *app) openSession(ctx context.Context, formPath string) (*session, error) {
	data, err := os.ReadFile(formPath)
	if err != nil {
		return nil, err
	}
	form, err := hydrate.DecodeForm(hydrate.Context{Source: formPath, Logger: a.log}, data)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx, form.TableID())
	if err != nil {
		return nil, err
	}
	opts := append(a.cfg.ManagerOptions(), tablestate.WithLogger(logger.Component(a.log, "tablestate")))
	manager, err := tablestate.NewManager(form, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{manager: manager, store: store}, nil
}

// withColumn opens a session and checks column belongs to the table.
func (a *app) withColumn(cmd *cobra.Command, formPath, column string, fn func(*tablestate.Manager) error) error {
	s, err := a.openSession(cmd.Context(), formPath)
	if err != nil {
		return err
	}
	if !s.manager.HasColumn(column) {
		_ = s.Close()
		return fmt.Errorf("%w: %q", tablestate.ErrUnknownColumn, column)
	}
	runErr := fn(s.manager)
	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	return a.printPreview(s.manager.State())
}
