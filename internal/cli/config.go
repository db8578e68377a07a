package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vmtier/internal/config"
)

// ConfigResult is the JSON payload of the config command.
type ConfigResult struct {
	Path string `json:"path"`
	YAML string `json:"yaml"`
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <file>",
		Short: "Validate a configuration file and print the effective config",
		Long: `Load a YAML or CUE configuration file, validate it and print the
effective configuration with defaults filled in, as YAML.

CUE files are checked against the embedded schema before decoding.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - Command error (unreadable file, unsupported extension)

Examples:
  vmtier config ./vmtier.yaml
  vmtier config ./vmtier.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runConfig(opts *RootOptions, path string, cmd *cobra.Command) error {
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".cue":
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unsupported config extension %q", ext))
	}

	out := newFormatter(opts, cmd.OutOrStdout())

	f, err := config.Load(path)
	if err != nil {
		var details any
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			details = map[string]string{"field": verr.Field}
		}
		if opts.Format == "json" {
			if werr := out.Error(CodeConfig, err.Error(), details); werr != nil {
				return werr
			}
		}
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	data, err := config.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if opts.Format == "json" {
		return out.Success(ConfigResult{Path: path, YAML: string(data)})
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
