package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vmtier/internal/harness"
	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/scheduler"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Mode  string
	Block string
}

// InspectEdge is one dependency between lowered ops.
type InspectEdge struct {
	From    int    `json:"from"`
	To      int    `json:"to"`
	Kind    string `json:"kind"`
	Latency int    `json:"latency"`
}

// InspectBlock shows how one block is lowered at the requested tier.
type InspectBlock struct {
	Block          string        `json:"block"`
	Hash           string        `json:"hash"`
	Mode           string        `json:"mode"`
	Original       []string      `json:"original"`
	Lowered        []string      `json:"lowered"`
	Terminator     string        `json:"terminator"`
	ConstFolds     uint64        `json:"const_folds"`
	DeadOpsRemoved uint64        `json:"dead_ops_removed"`
	Hoisted        uint64        `json:"invariants_hoisted"`
	Reordered      bool          `json:"reordered"`
	CriticalPath   int           `json:"critical_path"`
	Edges          []InspectEdge `json:"edges"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <workload>",
		Short: "Show optimized and scheduled IR for a workload's blocks",
		Long: `Lower every block of a workload the way a compile at the given tier
would, using the workload's configuration, and print the IR before and
after optimization and scheduling together with the dependency graph of
the final op order. The backend is not called.

Examples:
  vmtier inspect ./workloads/tierup.yaml
  vmtier inspect ./workloads/tierup.yaml --mode aot --block 0x1000
  vmtier inspect ./workloads/tierup.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "jit", "tier to lower for (jit|aot)")
	cmd.Flags().StringVar(&opts.Block, "block", "", "only inspect the block at this address")

	return cmd
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	mode, err := policy.ParseMode(opts.Mode)
	if err != nil || !mode.Compiled() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be jit or aot", opts.Mode))
	}

	w, err := harness.LoadWorkload(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workload", err)
	}
	env, err := harness.NewEnv(w, harness.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build runtime", err)
	}
	defer env.Close()

	blocks := env.SortedBlocks()
	if opts.Block != "" {
		addr, err := ir.ParseAddr(opts.Block)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid block address", err)
		}
		b, ok := env.Blocks[addr]
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("workload has no block at %s", addr))
		}
		blocks = []*ir.Block{b}
	}

	out := make([]InspectBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, inspectBlock(env, b, mode))
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Success(out)
	}
	for i, ib := range out {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		writeInspectText(cmd.OutOrStdout(), ib)
	}
	return nil
}

func inspectBlock(env *harness.Env, b *ir.Block, mode policy.Mode) InspectBlock {
	lowered, ostats, sstats := env.Runtime.Lower(b, mode)
	g := scheduler.BuildGraph(lowered.Ops)

	ib := InspectBlock{
		Block:          b.StartPC.String(),
		Hash:           ir.ContentHash(b).Short(),
		Mode:           mode.String(),
		Original:       opStrings(b.Ops),
		Lowered:        opStrings(lowered.Ops),
		Terminator:     b.Term.String(),
		ConstFolds:     ostats.ConstFolds,
		DeadOpsRemoved: ostats.DCEOps,
		Hoisted:        ostats.LICMHoists,
		Reordered:      sstats.Reordered,
		CriticalPath:   g.CriticalPath(),
		Edges:          make([]InspectEdge, 0, len(g.Edges)),
	}
	for _, e := range g.Edges {
		ib.Edges = append(ib.Edges, InspectEdge{From: e.From, To: e.To, Kind: e.Kind.String(), Latency: e.Latency})
	}
	return ib
}

func opStrings(ops []ir.Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

func writeInspectText(w io.Writer, ib InspectBlock) {
	fmt.Fprintf(w, "Block %s (%s) at %s\n", ib.Block, ib.Hash, ib.Mode)

	fmt.Fprintln(w, "  original:")
	for i, op := range ib.Original {
		fmt.Fprintf(w, "    %2d  %s\n", i, op)
	}
	fmt.Fprintln(w, "  lowered:")
	for i, op := range ib.Lowered {
		fmt.Fprintf(w, "    %2d  %s\n", i, op)
	}
	fmt.Fprintf(w, "        %s\n", ib.Terminator)

	fmt.Fprintf(w, "  folds %d, dead ops %d, hoisted %d, reordered %t, critical path %d\n",
		ib.ConstFolds, ib.DeadOpsRemoved, ib.Hoisted, ib.Reordered, ib.CriticalPath)

	if len(ib.Edges) == 0 {
		fmt.Fprintln(w, "  dependencies: (none)")
		return
	}
	fmt.Fprintln(w, "  dependencies:")
	for _, e := range ib.Edges {
		fmt.Fprintf(w, "    %d -> %d %s (%d)\n", e.From, e.To, e.Kind, e.Latency)
	}
}
