package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/ingest"
)

func newLoadCmd(a *app) *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "load <file>...",
		Short: "Parse files in parallel and store them as tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, err := a.open(ctx)
			if err != nil {
				return err
			}

			results := make([]*core.IngestResult, len(args))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(jobs)
			for i, path := range args {
				g.Go(func() error {
					parsed, err := parseFile(path)
					if err != nil {
						return err
					}
					res, err := service.LoadFile(gctx, filepath.Base(path), parsed)
					if err != nil {
						return fmt.Errorf("load %s: %w", path, err)
					}
					results[i] = res
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if ok, err := printStructured(cmd, a.out, results); ok {
				return err
			}
			rows := make([][]string, len(results))
			for i, res := range results {
				rows[i] = []string{
					res.FileName,
					res.Schema.TableName,
					res.Format,
					strconv.Itoa(res.RowsInserted),
					strconv.Itoa(res.CellsCoerced),
				}
			}
			return printTable(a.out, []string{"FILE", "TABLE", "FORMAT", "ROWS", "COERCED"}, rows)
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Files parsed at once")
	return cmd
}

func parseFile(path string) (*core.ParsedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(path)
	parsed, err := ingest.ParseFunc(f, name, "")
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return parsed, nil
}
