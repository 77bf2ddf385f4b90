package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// resetTimeout bounds destructive operations.
const resetTimeout = 30 * time.Second

var errNotConfirmed = errors.New("refusing to continue without --yes")

func newTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List stored tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			tables, err := service.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			if tables == nil {
				tables = []string{}
			}
			if ok, err := printStructured(cmd, a.out, tables); ok {
				return err
			}
			rows := make([][]string, len(tables))
			for i, t := range tables {
				rows[i] = []string{t}
			}
			return printTable(a.out, []string{"TABLE"}, rows)
		},
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Show a table's columns and sample records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			schema, err := service.GetTableSchema(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok, err := printStructured(cmd, a.out, schema); ok {
				return err
			}
			return printColumns(a, schema.Columns)
		},
	}
}

func newDropCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNotConfirmed
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), resetTimeout)
			defer cancel()

			service, err := a.open(ctx)
			if err != nil {
				return err
			}
			if err := service.DropTable(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "Dropped %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the drop")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every table",
		Long:  "Drop every table in the configured store. This is destructive and asks for --yes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNotConfirmed
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), resetTimeout)
			defer cancel()

			service, err := a.open(ctx)
			if err != nil {
				return err
			}
			if err := service.Reset(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.out, "All tables dropped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}
