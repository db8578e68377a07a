package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/vmtier/internal/harness"
	"github.com/roach88/vmtier/internal/report"
	"github.com/roach88/vmtier/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Workload string          `json:"workload"`
	Pass     bool            `json:"pass"`
	Errors   []string        `json:"errors,omitempty"`
	Failures int             `json:"failed_executions"`
	Report   json.RawMessage `json:"report"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <workload>",
		Short: "Replay a workload and print the runtime report",
		Long: `Replay a workload's block trace against the runtime and print the
performance report: execution counts per tier, hotspots, compile cache and
code cache statistics. Workload assertions are evaluated at the end.

With --db, AOT artifacts and the execution profile are persisted to the
given SQLite database, overriding the workload's runtime.store_path.

Exit codes:
  0 - All assertions held
  1 - One or more assertions failed
  2 - Command error (unreadable workload, database error, etc.)

Examples:
  vmtier run ./workloads/tierup.yaml
  vmtier run ./workloads/tierup.yaml --format json
  vmtier run ./workloads/tierup.yaml --db ./vmtier.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for artifacts and profiles")

	return cmd
}

func runWorkload(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	w, err := harness.LoadWorkload(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workload", err)
	}

	runOpts := []harness.Option{harness.WithLogger(logger)}
	if opts.Database != "" {
		logger.Info("opening database", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithStore(st))
	}

	result, err := harness.Run(w, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "workload execution failed", err)
	}
	logger.Debug("workload finished", "name", w.Name, "executions", len(result.Executions), "pass", result.Pass)

	if opts.Format == "json" {
		return outputRunJSON(cmd, w.Name, result)
	}
	return outputRunText(cmd, w.Name, result)
}

func outputRunJSON(cmd *cobra.Command, name string, result *harness.Result) error {
	data, err := report.JSON(result.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	response := CLIResponse{
		Status: "ok",
		Data: RunResult{
			Workload: name,
			Pass:     result.Pass,
			Errors:   result.Errors,
			Failures: len(result.Failures()),
			Report:   data,
		},
	}
	if !result.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeAssertions,
			Message: fmt.Sprintf("%d assertion(s) failed", len(result.Errors)),
		}
	}
	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	return assertionExit(result)
}

func outputRunText(cmd *cobra.Command, name string, result *harness.Result) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Workload: %s\n\n", name)
	if err := report.WriteText(w, result.Report); err != nil {
		return err
	}

	if failures := result.Failures(); len(failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Failed executions: %d\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(w, "  %s %s: %s\n", f.BlockID, f.Mode, f.ErrorMessage)
		}
	}

	fmt.Fprintln(w)
	if result.Pass {
		fmt.Fprintln(w, "✓ All assertions passed")
		return nil
	}
	for _, e := range result.Errors {
		fmt.Fprintln(w, e)
	}
	return assertionExit(result)
}

func assertionExit(result *harness.Result) error {
	if result.Pass {
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(result.Errors)))
}
