package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/ingest"
	"github.com/JonMunkholm/tableapi/internal/logging"
	"github.com/JonMunkholm/tableapi/internal/storage"
)

// app holds what the commands share. The store is opened on first use so
// commands like infer never touch the database.
type app struct {
	lookup  config.LookupFunc
	out     io.Writer
	cfg     *config.Config
	store   core.Store
	service *core.Service
}

func execute(args []string) int {
	a := &app{lookup: os.LookupEnv, out: os.Stdout}
	defer func() { _ = a.close() }()

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	var (
		envFile string
		driver  string
		output  string
	)

	rootCmd := &cobra.Command{
		Use:           "tableapi",
		Short:         "Infer, load and inspect tables",
		Long:          "Command-line companion to the table API server. Reads the same environment as the server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
					return fmt.Errorf("load env file: %w", err)
				}
			}
			cfg, err := config.LoadFrom(a.lookup)
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Storage.Driver = driver
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			a.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "Override STORAGE_DRIVER (memory, sqlite, postgres)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")

	rootCmd.AddCommand(
		newInferCmd(a),
		newLoadCmd(a),
		newTablesCmd(a),
		newSchemaCmd(a),
		newDropCmd(a),
		newResetCmd(a),
	)
	return rootCmd
}

// open returns the service, opening the configured store the first time.
func (a *app) open(ctx context.Context) (*core.Service, error) {
	if a.service != nil {
		return a.service, nil
	}
	store, err := storage.Open(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Storage.Driver, err)
	}
	a.store = store
	a.service = core.NewService(store, ingest.ParseFunc, a.cfg)
	return a.service, nil
}

// offline returns a service for commands that never reach storage.
func (a *app) offline() *core.Service {
	return core.NewService(nil, ingest.ParseFunc, a.cfg)
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store, a.service = nil, nil
	return err
}
