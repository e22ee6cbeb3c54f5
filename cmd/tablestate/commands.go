package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/goliatone/go-tablestate"
	"github.com/goliatone/go-tablestate/pkg/prefs/sqlitebackend"
	"github.com/spf13/cobra"
)

func newColumnsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <form.json>",
		Short: "Preview the table columns of a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return a.printPreview(s.manager.State())
		},
	}
}

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state <form.json>",
		Short: "Print the derived table state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s.manager.State())
		},
	}
}

func newToggleCmd(a *app) *cobra.Command {
	var wrap bool
	cmd := &cobra.Command{
		Use:   "toggle <form.json> <column>",
		Short: "Toggle the visibility (or text wrapping) of a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withColumn(cmd, args[0], args[1], func(m *tablestate.Manager) error {
				if wrap {
					m.ToggleColumnWrapping(cmd.Context(), args[1])
					return nil
				}
				m.ToggleColumnVisibility(cmd.Context(), args[1])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wrap, "wrap", false, "toggle text wrapping instead of visibility")
	return cmd
}

func newPinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <form.json> <column>",
		Short: "Pin a column to the left edge, or unpin it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withColumn(cmd, args[0], args[1], func(m *tablestate.Manager) error {
				m.ToggleColumnPin(cmd.Context(), args[1])
				return nil
			})
		},
	}
}

func newOrderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "order <form.json> <column> <index>",
		Short: "Move a column to a position among the visible columns",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			return a.withColumn(cmd, args[0], args[1], func(m *tablestate.Manager) error {
				m.SetColumnOrder(cmd.Context(), args[1], index)
				return nil
			})
		},
	}
}

func newResizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resize <form.json> <column> <width>",
		Short: "Set the width of a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("width must be a number: %w", err)
			}
			return a.withColumn(cmd, args[0], args[1], func(m *tablestate.Manager) error {
				if !m.CanResize(args[1]) {
					return fmt.Errorf("column %q cannot be resized", args[1])
				}
				m.HandleColumnResize(args[1], size)
				return nil
			})
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <form.json> [column]",
		Short: "Drop stored preferences of a table or of one column",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				return a.withColumn(cmd, args[0], args[1], func(m *tablestate.Manager) error {
					m.ResetColumn(cmd.Context(), args[1])
					return nil
				})
			}
			s, err := a.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s.manager.ResetPreferences(cmd.Context())
			if err := s.Close(); err != nil {
				return err
			}
			return a.printPreview(s.manager.State())
		},
	}
}

func newTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, ok := a.backend.(*sqlitebackend.Backend)
			if !ok {
				return fmt.Errorf("listing tables needs the sqlite store")
			}
			tables, err := db.Tables(cmd.Context())
			if err != nil {
				return err
			}
			for _, table := range tables {
				fmt.Fprintln(cmd.OutOrStdout(), table)
			}
			return nil
		},
	}
}
