package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/roach88/vmtier/internal/store"
)

// ArtifactsOptions holds flags for the artifacts command.
type ArtifactsOptions struct {
	*RootOptions
	Database string
}

// ArtifactView is one stored artifact in command output.
type ArtifactView struct {
	Hash       string `json:"hash"`
	Mode       string `json:"mode"`
	Block      string `json:"block"`
	CodeSize   int    `json:"code_size"`
	StoredSize int    `json:"stored_size"`
	Compressed bool   `json:"compressed"`
	SessionID  string `json:"session_id"`
	CompiledAt string `json:"compiled_at"`
	CompileNS  int64  `json:"compile_ns"`
}

// NewArtifactsCommand creates the artifacts command.
func NewArtifactsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArtifactsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List persisted AOT artifacts",
		Long: `List the AOT code artifacts stored in a vmtier SQLite database,
ordered by block address.

Exit codes:
  0 - Success
  2 - Command error (database not found, etc.)

Examples:
  vmtier artifacts --db ./vmtier.db
  vmtier artifacts --db ./vmtier.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArtifacts(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runArtifacts(opts *ArtifactsOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open would create an empty database; listing never should.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	infos, err := st.ListArtifacts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list artifacts", err)
	}

	views := make([]ArtifactView, 0, len(infos))
	for _, a := range infos {
		views = append(views, ArtifactView{
			Hash:       string(a.Hash),
			Mode:       a.Mode.String(),
			Block:      a.BlockAddr.String(),
			CodeSize:   a.CodeSize,
			StoredSize: a.StoredSize,
			Compressed: a.Compressed,
			SessionID:  a.SessionID,
			CompiledAt: a.CompiledAt.UTC().Format(time.RFC3339Nano),
			CompileNS:  a.CompileDuration.Nanoseconds(),
		})
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Success(views)
	}

	w := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(w, "No artifacts stored.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tMODE\tHASH\tSIZE\tSTORED\tCOMPILED")
	var total, stored int
	for _, a := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.BlockAddr, a.Mode, a.Hash.Short(),
			units.BytesSize(float64(a.CodeSize)),
			units.BytesSize(float64(a.StoredSize)),
			a.CompiledAt.UTC().Format(time.RFC3339),
		)
		total += a.CodeSize
		stored += a.StoredSize
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d artifact(s), %s of code, %s stored\n",
		len(infos), units.BytesSize(float64(total)), units.BytesSize(float64(stored)))
	return nil
}
