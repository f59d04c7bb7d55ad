// Package wasmerr defines the structured errors returned by wasmtier.
//
// Every failure is an *Error carrying the Phase it happened in and a Kind. Use errors.Is with the sentinels in this
// package to branch on a Kind, or errors.As to inspect the details:
//
//	if errors.Is(err, wasmerr.ErrMissingImport) { ... }
//
//	var werr *wasmerr.Error
//	if errors.As(err, &werr) && werr.Kind == wasmerr.KindTrap { ... }
package wasmerr

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // reading and converting module sources
	PhaseDecode      Phase = "decode"      // binary format
	PhaseValidate    Phase = "validate"    // module structure
	PhaseCompile     Phase = "compile"     // function bodies
	PhaseInstantiate Phase = "instantiate" // import resolution and segments
	PhaseCall        Phase = "call"        // export lookup and execution
	PhaseMemory      Phase = "memory"      // host access to linear memory
	PhaseConfig      Phase = "config"      // engine configuration
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidModule             Kind = "invalid_module"
	KindUnsupportedFeature        Kind = "unsupported_feature"
	KindDisabledFeature           Kind = "disabled_feature"
	KindMalformedBody             Kind = "malformed_body"
	KindResourceExhausted         Kind = "compilation_resource_exhausted"
	KindUnknownStrategy           Kind = "unknown_strategy"
	KindMissingImport             Kind = "missing_import"
	KindImportTypeMismatch        Kind = "import_type_mismatch"
	KindDataSegmentOutOfBounds    Kind = "data_segment_out_of_bounds"
	KindElementSegmentOutOfBounds Kind = "element_segment_out_of_bounds"
	KindExportNotFound            Kind = "export_not_found"
	KindExportKindMismatch        Kind = "export_kind_mismatch"
	KindSignatureMismatch         Kind = "signature_mismatch"
	KindTrap                      Kind = "trap"
	KindGrowLimitExceeded         Kind = "grow_limit_exceeded"
	KindInvalidLimits             Kind = "invalid_limits"
	KindSourceUnreadable          Kind = "source_unreadable"
	KindClosed                    Kind = "closed"
)

// TrapKind is the runtime fault behind a KindTrap error.
type TrapKind string

const (
	TrapOutOfBoundsAccess          TrapKind = "out_of_bounds_access"
	TrapIntegerDivideByZero        TrapKind = "integer_divide_by_zero"
	TrapIntegerOverflow            TrapKind = "integer_overflow"
	TrapInvalidConversionToInteger TrapKind = "invalid_conversion_to_integer"
	TrapUnreachable                TrapKind = "unreachable"
	TrapCallStackExhausted         TrapKind = "call_stack_exhausted"
	TrapIndirectCallTypeMismatch   TrapKind = "indirect_call_type_mismatch"
	TrapInvalidTableAccess         TrapKind = "invalid_table_access"
	TrapUnalignedAtomic            TrapKind = "unaligned_atomic"
	TrapExpectedSharedMemory       TrapKind = "expected_shared_memory"
	TrapHostFunction               TrapKind = "host_function"
)

// Error is the structured error returned by every wasmtier operation.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Trap   TrapKind
	Module string // import namespace, when relevant
	Name   string // import, export or feature name, when relevant
	// FunctionIndex is the index in the function index space of the function at fault, or -1.
	FunctionIndex int64
	Opcode        string
	Detail        string
	// Stack is the wasm backtrace of a trap, innermost frame first.
	Stack []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))
	if e.Trap != "" {
		b.WriteByte('(')
		b.WriteString(string(e.Trap))
		b.WriteByte(')')
	}

	switch {
	case e.Module != "" && e.Name != "":
		fmt.Fprintf(&b, " %q.%q", e.Module, e.Name)
	case e.Name != "":
		fmt.Fprintf(&b, " %q", e.Name)
	}

	if e.FunctionIndex >= 0 {
		fmt.Fprintf(&b, " in function[%d]", e.FunctionIndex)
	}
	if e.Opcode != "" {
		b.WriteString(" at ")
		b.WriteString(e.Opcode)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	if len(e.Stack) > 0 {
		b.WriteString("\nwasm stack trace:")
		for _, f := range e.Stack {
			b.WriteString("\n\t")
			b.WriteString(f)
		}
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target matches when its Kind is equal, and its Phase and Trap are
// either unset or equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	return t.Trap == "" || e.Trap == t.Trap
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:         phase,
			Kind:          kind,
			FunctionIndex: -1,
		},
	}
}

// Import sets the namespace and name of the import or export at fault.
func (b *Builder) Import(module, name string) *Builder {
	b.err.Module = module
	b.err.Name = name
	return b
}

// Name sets the export or feature name at fault.
func (b *Builder) Name(name string) *Builder {
	b.err.Name = name
	return b
}

// Function sets the index of the function at fault.
func (b *Builder) Function(idx uint32) *Builder {
	b.err.FunctionIndex = int64(idx)
	return b
}

// Opcode sets the name of the instruction at fault.
func (b *Builder) Opcode(name string) *Builder {
	b.err.Opcode = name
	return b
}

// Trap sets the trap kind.
func (b *Builder) Trap(kind TrapKind) *Builder {
	b.err.Trap = kind
	return b
}

// Stack sets the wasm backtrace.
func (b *Builder) Stack(frames []string) *Builder {
	b.err.Stack = frames
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}
