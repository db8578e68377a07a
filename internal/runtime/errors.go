package runtime

import (
	"errors"
	"fmt"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// CompileErrorKind categorizes backend failures.
type CompileErrorKind string

const (
	// ErrKindMalformedIR indicates the backend rejected the block's IR.
	ErrKindMalformedIR CompileErrorKind = "MALFORMED_IR"

	// ErrKindResourceExhausted indicates the backend ran out of a resource
	// such as code buffer space.
	ErrKindResourceExhausted CompileErrorKind = "RESOURCE_EXHAUSTED"

	// ErrKindUnsupportedOperation indicates an op the backend cannot emit.
	ErrKindUnsupportedOperation CompileErrorKind = "UNSUPPORTED_OPERATION"

	// ErrKindInternal wraps any other error returned by a backend.
	ErrKindInternal CompileErrorKind = "INTERNAL"
)

// CompileError is the structured error a Backend returns.
//
// Compile errors are never cached: the next request for the same block
// compiles again.
type CompileError struct {
	// Kind identifies the failure category.
	Kind CompileErrorKind

	// Message is a human-readable description.
	Message string

	// BlockID is the start address of the block being compiled.
	BlockID ir.GuestAddr

	// Mode is the tier that was being compiled.
	Mode policy.Mode

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s (block=%s, mode=%s)", e.Kind, e.Message, e.BlockID, e.Mode)
}

// Unwrap returns the underlying cause.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// NewCompileError creates a CompileError with a formatted message.
func NewCompileError(kind CompileErrorKind, block ir.GuestAddr, mode policy.Mode, format string, args ...any) *CompileError {
	return &CompileError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		BlockID: block,
		Mode:    mode,
	}
}

// IsCompileError returns true if err is or wraps a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// CompileErrorKindOf returns the kind of the CompileError in err's chain.
func CompileErrorKindOf(err error) (CompileErrorKind, bool) {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// asCompileError wraps a foreign backend error as ErrKindInternal.
func asCompileError(err error, block ir.GuestAddr, mode policy.Mode) error {
	if err == nil || IsCompileError(err) {
		return err
	}
	return &CompileError{
		Kind:    ErrKindInternal,
		Message: err.Error(),
		BlockID: block,
		Mode:    mode,
		Err:     err,
	}
}
