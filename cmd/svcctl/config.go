package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/infra"
	"github.com/civicflow/platform/internal/repository"
	"github.com/civicflow/platform/internal/workflow"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, import and publish service configurations",
	}

	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configPublishCmd())

	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file.yaml]",
		Short: "Check a service configuration without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, _, err := compileFile(args[0])
			if err != nil {
				return err
			}
			printSummary(cmd, def)
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Store a service configuration as a draft version",
		Long: `Store a service configuration as a draft version.

A draft may be re-imported until it is published; published versions are
immutable and applications stay pinned to the version they were created with.

Examples:
  svcctl config import services/building-permit.yaml
  svcctl config import services/building-permit.yaml --publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, doc, err := compileFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return withDatabase(ctx, func(db repository.DBTX) error {
				repo := repository.NewServiceVersionRepository()
				if err := repo.SaveDraft(ctx, db, &domain.ServiceVersion{
					ServiceKey: def.ServiceKey(),
					Version:    def.Version(),
					Config:     doc,
				}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s v%d as draft\n", def.ServiceKey(), def.Version())

				if !publish {
					return nil
				}
				if err := repo.Publish(ctx, db, def.ServiceKey(), def.Version()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s v%d\n", def.ServiceKey(), def.Version())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "publish the version after importing it")

	return cmd
}

func configPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [service-key] [version]",
		Short: "Publish a draft service version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil || version <= 0 {
				return fmt.Errorf("version must be a positive integer, got %q", args[1])
			}

			ctx := cmd.Context()
			return withDatabase(ctx, func(db repository.DBTX) error {
				repo := repository.NewServiceVersionRepository()
				sv, err := repo.Find(ctx, db, args[0], version)
				if err != nil {
					return err
				}
				if sv == nil {
					return fmt.Errorf("service %s version %d not found", args[0], version)
				}
				// Re-check what was stored in case it predates a validation rule.
				cfg, err := workflow.DecodeConfig(sv.Config)
				if err != nil {
					return err
				}
				if _, err := workflow.Compile(cfg); err != nil {
					return fmt.Errorf("stored configuration is invalid: %w", err)
				}
				if err := repo.Publish(ctx, db, args[0], version); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s v%d\n", args[0], version)
				return nil
			})
		},
	}
}

// compileFile parses and validates a YAML configuration and returns the
// JSON document that gets stored.
func compileFile(path string) (*workflow.Definition, json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := workflow.LoadYAML(raw)
	if err != nil {
		return nil, nil, err
	}
	def, err := workflow.Compile(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", path, err)
	}
	return def, doc, nil
}

func printSummary(cmd *cobra.Command, def *workflow.Definition) {
	out := cmd.OutOrStdout()
	wf := def.Config.Workflow
	fmt.Fprintf(out, "%s v%d: ok\n", def.ServiceKey(), def.Version())
	fmt.Fprintf(out, "  states: %d (initial %s)\n", len(wf.States), def.InitialState())
	fmt.Fprintf(out, "  transitions: %d\n", len(wf.Transitions))
	fmt.Fprintf(out, "  fee lines: %d default, %d authority overrides\n",
		len(def.Config.FeeSchedule.Default), len(def.Config.FeeSchedule.Authorities))
}

func withDatabase(ctx context.Context, fn func(db repository.DBTX) error) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return fn(pool)
}
