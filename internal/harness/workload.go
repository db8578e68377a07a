package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vmtier/internal/config"
	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// Workload is a deterministic tiering scenario.
type Workload struct {
	// Name identifies the workload and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Config is an optional inline configuration document, in the same
	// format as a YAML config file.
	Config yaml.Node `yaml:"config,omitempty"`

	Blocks []BlockSpec `yaml:"blocks"`

	// FailCompile lists blocks the fake backend refuses to compile.
	FailCompile []Addr `yaml:"fail_compile,omitempty"`

	// Trace is executed in order; each step runs its block Repeat times.
	Trace []TraceStep `yaml:"trace"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Addr is a guest address written as decimal or 0x-prefixed hex.
type Addr ir.GuestAddr

// UnmarshalYAML parses the scalar's source text, so 0x1000 stays hex.
func (a *Addr) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", n.Line)
	}
	v, err := ir.ParseAddr(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*a = Addr(v)
	return nil
}

func (a Addr) String() string {
	return ir.GuestAddr(a).String()
}

// BlockSpec declares one guest block in textual IR.
type BlockSpec struct {
	Addr Addr     `yaml:"addr"`
	Ops  []string `yaml:"ops"`
	Term string   `yaml:"term,omitempty"`
}

type TraceStep struct {
	Block  Addr `yaml:"block"`
	Repeat int  `yaml:"repeat,omitempty"`
}

// Times returns how often the step runs. Zero means once.
func (s TraceStep) Times() int {
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// Assertion checks final runtime state.
type Assertion struct {
	// Type is one of mode, count, tier, compiled or stat.
	Type string `yaml:"type"`

	// Block is the subject of mode, count, tier and compiled assertions.
	Block Addr `yaml:"block,omitempty"`

	// Expect is the expected mode or tier name.
	Expect string `yaml:"expect,omitempty"`

	// Stat names the counter checked by a stat assertion.
	Stat string `yaml:"stat,omitempty"`

	// Value is the expected number for count and stat assertions.
	Value uint64 `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertMode     = "mode"
	AssertCount    = "count"
	AssertTier     = "tier"
	AssertCompiled = "compiled"
	AssertStat     = "stat"
)

// LoadWorkload reads and parses a workload YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or fails validation.
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload file: %w", err)
	}
	return ParseWorkload(data)
}

// ParseWorkload parses and validates a workload document.
func ParseWorkload(data []byte) (*Workload, error) {
	var w Workload
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateWorkload(&w); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}
	return &w, nil
}

// ConfigFile resolves the inline config over the defaults.
func (w *Workload) ConfigFile() (config.File, error) {
	if w.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&w.Config)
	if err != nil {
		return config.File{}, fmt.Errorf("config: %w", err)
	}
	f, err := config.ParseYAML(data)
	if err != nil {
		return config.File{}, fmt.Errorf("config: %w", err)
	}
	return f, nil
}

// BuildBlocks parses every declared block, keyed by address.
func (w *Workload) BuildBlocks() (map[ir.GuestAddr]*ir.Block, error) {
	blocks := make(map[ir.GuestAddr]*ir.Block, len(w.Blocks))
	for i, spec := range w.Blocks {
		addr := ir.GuestAddr(spec.Addr)
		if _, dup := blocks[addr]; dup {
			return nil, fmt.Errorf("blocks[%d]: duplicate address %s", i, addr)
		}
		b, err := ir.ParseBlock(addr, spec.Ops, spec.Term)
		if err != nil {
			return nil, fmt.Errorf("blocks[%d]: %w", i, err)
		}
		blocks[addr] = b
	}
	return blocks, nil
}

// validateWorkload checks that required fields are present and valid.
func validateWorkload(w *Workload) error {
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	if w.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(w.Blocks) == 0 {
		return fmt.Errorf("blocks list is required and must be non-empty")
	}
	if len(w.Trace) == 0 {
		return fmt.Errorf("trace list is required and must be non-empty")
	}

	if _, err := w.ConfigFile(); err != nil {
		return err
	}

	blocks, err := w.BuildBlocks()
	if err != nil {
		return err
	}
	for i, step := range w.Trace {
		if _, ok := blocks[ir.GuestAddr(step.Block)]; !ok {
			return fmt.Errorf("trace[%d]: unknown block %s", i, step.Block)
		}
		if step.Repeat < 0 {
			return fmt.Errorf("trace[%d]: repeat must be non-negative", i)
		}
	}
	for i, addr := range w.FailCompile {
		if _, ok := blocks[ir.GuestAddr(addr)]; !ok {
			return fmt.Errorf("fail_compile[%d]: unknown block %s", i, addr)
		}
	}

	for i := range w.Assertions {
		if err := validateAssertion(i, &w.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertMode:
		if _, err := policy.ParseMode(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertCompiled:
		if a.Expect != "none" {
			if _, err := policy.ParseMode(a.Expect); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertTier:
		switch a.Expect {
		case "l1", "l2", "l3", "none":
		default:
			return fmt.Errorf("assertions[%d]: tier must be l1, l2, l3 or none, got %q", index, a.Expect)
		}
	case AssertCount:
	case AssertStat:
		if _, ok := statFields[a.Stat]; !ok {
			return fmt.Errorf("assertions[%d]: unknown stat %q", index, a.Stat)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
