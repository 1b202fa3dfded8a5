package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenPathLab/lims/internal/config"
	"github.com/OpenPathLab/lims/internal/database"
	"github.com/OpenPathLab/lims/internal/seed"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		file    string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "seed --file <reference-data.yaml>",
		Short: "Load workflow reference data",
		Long: `Load departments, steps, workflows, tests and their action maps
from a YAML document. Rows are matched by name, so the command can be
re-run after editing the document.

Example:
  seed --file internal/seed/testdata/histology.yaml --migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd, file, migrate)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "reference data document")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create or update tables before loading")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func run(cmd *cobra.Command, file string, migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if migrate || cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	doc, err := seed.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", file, err)
	}

	summary, err := seed.Apply(cmd.Context(), db, doc)
	if err != nil {
		return err
	}

	slog.Info("reference data loaded",
		"file", file,
		"workflows", summary.Workflows,
		"workflowSteps", summary.WorkflowSteps,
		"tests", summary.Tests,
		"testWorkflowSteps", summary.TestWorkflowSteps,
		"actionMaps", summary.ActionMaps)
	return nil
}
