package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vmtier/internal/harness"
	"github.com/roach88/vmtier/internal/report"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // workload filter (glob pattern)
}

// WorkloadResult holds the result of a single workload execution.
type WorkloadResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Workloads []WorkloadResult `json:"workloads"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <workloads-dir>",
		Short: "Run every workload in a directory",
		Long: `Run all workload files in a directory, evaluating their assertions
and comparing each run against golden/<name>.golden next to the workload
when that file exists.

Exit codes:
  0 - All workloads passed
  1 - One or more workloads failed
  2 - Command error (invalid paths, etc.)

Examples:
  vmtier test ./workloads
  vmtier test ./workloads --filter "tier*"
  vmtier test ./workloads --update
  vmtier test ./workloads --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter workloads by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("workloads directory not found: %s", dir))
	}

	files, err := findWorkloadFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find workloads", err)
	}

	if len(files) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{Workloads: []WorkloadResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No workloads found.")
		return nil
	}

	result := TestResult{
		Workloads: make([]WorkloadResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		wr := runWorkloadFile(file, opts)
		if opts.Format != "json" {
			printWorkloadResult(cmd, wr)
		}
		result.Workloads = append(result.Workloads, wr)
		if wr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findWorkloadFiles finds all YAML workload files directly in dir, sorted
// by name.
func findWorkloadFiles(dir string, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// runWorkloadFile executes one workload and checks it against its golden
// file, if any.
func runWorkloadFile(file string, opts *TestOptions) WorkloadResult {
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

	w, err := harness.LoadWorkload(file)
	if err != nil {
		return WorkloadResult{Name: name, Errors: []string{fmt.Sprintf("failed to load workload: %v", err)}}
	}
	name = w.Name

	result, err := harness.Run(w)
	if err != nil {
		return WorkloadResult{Name: name, Errors: []string{fmt.Sprintf("execution failed: %v", err)}}
	}

	data, err := report.MarshalCanonical(harness.Snapshot(w.Name, result))
	if err != nil {
		return WorkloadResult{Name: name, Errors: []string{fmt.Sprintf("failed to encode snapshot: %v", err)}}
	}

	goldenPath := goldenFilePath(file, w.Name)
	if opts.Update {
		if err := writeGoldenFile(goldenPath, data); err != nil {
			return WorkloadResult{Name: name, Errors: []string{fmt.Sprintf("failed to update golden file: %v", err)}}
		}
	} else {
		golden, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
			// No golden file: assertions only.
		case err != nil:
			return WorkloadResult{Name: name, Errors: []string{fmt.Sprintf("failed to read golden file: %v", err)}}
		case !bytes.Equal(golden, data):
			errs := append([]string{"report does not match golden file (run with --update to regenerate)"}, result.Errors...)
			return WorkloadResult{Name: name, Errors: errs}
		}
	}

	return WorkloadResult{Name: name, Pass: result.Pass, Errors: result.Errors}
}

// goldenFilePath returns the golden file of a workload: golden/<name>.golden
// beside the workload file.
func goldenFilePath(workloadFile, name string) string {
	return filepath.Join(filepath.Dir(workloadFile), "golden", name+".golden")
}

func writeGoldenFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func printWorkloadResult(cmd *cobra.Command, r WorkloadResult) {
	w := cmd.OutOrStdout()
	if r.Pass {
		fmt.Fprintf(w, "✓ %s\n", r.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Name)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeTestFailed,
			Message: fmt.Sprintf("%d workload(s) failed", result.Failed),
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d workload(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d workload(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All workloads passed")
	return nil
}
