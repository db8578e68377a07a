// Package config loads vmtier configuration files.
//
// Two formats are accepted, chosen by file extension:
//   - .yaml / .yml: decoded strictly, unknown keys are errors
//   - .cue: unified with the embedded #Config schema, then decoded
//
// Both start from Default(), so a file only needs the keys it changes.
// Sizes are human strings ("256KiB", "2MiB") parsed in binary units.
//
// # Usage
//
//	f, err := config.Load("vmtier.yaml")
//	if err != nil {
//	    return err
//	}
//	cfg, err := f.RuntimeConfig()
package config
