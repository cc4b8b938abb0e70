package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/fstx/pkg/fstx"
	"github.com/arthur-debert/fstx/pkg/fstx/batch"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
	"github.com/arthur-debert/fstx/pkg/fstx/plan"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run and check batch plans",
		Long:  "Run and validate declarative batch plans written in YAML or JSON",
	}

	cmd.AddCommand(newPlanRunCommand())
	cmd.AddCommand(newPlanValidateCommand())

	return cmd
}

func newPlanRunCommand() *cobra.Command {
	var (
		dryRun      bool
		root        string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "run [plan-file]",
		Short: "Run a plan as one batch",
		Long:  "Run every step of a plan as a single batch. If a step fails, completed steps are rolled back.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}

			if root == "" {
				root = "."
			}
			fsys := filesystem.NewOSFileSystem(root)
			op, err := p.Build(fsys, os.DirFS(root))
			if err != nil {
				return fmt.Errorf("building plan: %w", err)
			}

			if dryRun {
				return dryRunPlan(ctx, out, p, op)
			}

			engine, err := fstx.New(ctx, cfg)
			if err != nil {
				return err
			}
			res, runErr := engine.Run(ctx, op)
			if runErr == nil {
				printResult(out, p, op, res)
			}

			if metricsFile != "" {
				if err := engine.Metrics().WriteToTextfile(metricsFile); err != nil {
					runErr = errors.Join(runErr, err)
				}
			}
			if err := engine.Close(ctx); err != nil {
				runErr = errors.Join(runErr, err)
			}
			if runErr != nil {
				return runErr
			}
			if !res.Success() {
				return fmt.Errorf("plan %q %s", p.Description, res.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate every step without making changes")
	cmd.Flags().StringVar(&root, "root", "", "Root directory for file operations (default: current directory)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")

	return cmd
}

// dryRunPlan validates each command against the current filesystem state,
// the same check a batch makes before its first command runs.
func dryRunPlan(ctx context.Context, out io.Writer, p *plan.Plan, op *batch.Operation) error {
	fmt.Fprintf(out, "DRY RUN: plan '%s' (%d commands)\n", p.Description, op.Len())
	invalid := 0
	for _, cmd := range op.Commands() {
		if err := cmd.Validate(ctx); err != nil {
			invalid++
			fmt.Fprintf(out, "  %s %s\n", failMark, cmd.Description())
			fmt.Fprintf(out, "    Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "  %s %s\n", okMark, cmd.Description())
	}
	if invalid > 0 {
		fmt.Fprintf(out, "\n%d of %d commands would not validate; the run would be rejected\n", invalid, op.Len())
	}
	return nil
}

func printResult(out io.Writer, p *plan.Plan, op *batch.Operation, res *batch.Result) {
	fmt.Fprintf(out, "Plan '%s' execution summary:\n", p.Description)
	executed := make(map[string]bool, len(res.Executed))
	for _, cmd := range res.Executed {
		executed[string(cmd.Metadata().ID)] = true
	}
	for _, cmd := range op.Commands() {
		mark := failMark
		if executed[string(cmd.Metadata().ID)] {
			mark = okMark
		}
		fmt.Fprintf(out, "  %s %s (%s)\n", mark, cmd.Description(), strings.ToLower(string(cmd.Metadata().Status)))
	}

	if res.Success() {
		fmt.Fprintf(out, "\n%s Plan completed: %d/%d commands in %v\n", okMark, res.CompletedCommands, res.TotalCommands, res.Duration)
		return
	}
	fmt.Fprintf(out, "\n%s Plan %s in %v\n", failMark, res.Status, res.Duration)
	if res.Err != nil {
		fmt.Fprintf(out, "Error: %v\n", res.Err)
	}
	if res.Suggestion != nil {
		fmt.Fprintf(out, "Suggestion: %s\n", res.Suggestion.Suggestion)
	}
}

func newPlanValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [plan-file]",
		Short: "Validate a plan",
		Long:  "Check the syntax, fields and step dependencies of a plan without touching the filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			steps, err := p.Resolve()
			if err != nil {
				return fmt.Errorf("plan validation failed: %w", err)
			}

			fmt.Fprintf(out, "%s Plan file is valid\n", okMark)
			fmt.Fprintf(out, "Description: %s\n", p.Description)
			fmt.Fprintf(out, "Version: %d\n", p.Version)
			fmt.Fprintf(out, "Steps: %d\n", len(steps))
			for i, s := range steps {
				fmt.Fprintf(out, "  %d. %s: %s\n", i+1, s.ID, s.Op)
				if len(s.After) > 0 {
					fmt.Fprintf(out, "     After: %v\n", s.After)
				}
			}
			return nil
		},
	}

	return cmd
}
