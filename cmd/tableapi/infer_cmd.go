package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tableapi/internal/core"
)

func newInferCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "infer <file>",
		Short: "Print the schema a file would produce without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			name := filepath.Base(args[0])
			schema, parsed, err := a.offline().InferFile(f, name, "")
			if err != nil {
				return fmt.Errorf("infer %s: %w", name, err)
			}

			if ok, err := printStructured(cmd, a.out, schema); ok {
				return err
			}
			fmt.Fprintf(a.out, "Table %s (%s, %d rows)\n\n", schema.TableName, parsed.Format, len(parsed.Rows))
			return printColumns(a, schema.Columns)
		},
	}
}

func printColumns(a *app, cols []core.ColumnSchema) error {
	rows := make([][]string, len(cols))
	for i, col := range cols {
		rows[i] = []string{col.Name, string(col.Type), strconv.FormatBool(col.Nullable)}
	}
	return printTable(a.out, []string{"COLUMN", "TYPE", "NULLABLE"}, rows)
}
