// Package wasmruntime holds the sentinel errors raised while executing wasm functions.
package wasmruntime

import "errors"

// All the errors are raised by the executor during the execution of wasm functions. They abort the call in flight
// and indicate that the state of the call is unrecoverable, though the instance's memory is left as-is.
var (
	// ErrRuntimeCallStackOverflow indicates that there are too many function calls,
	// and the executor terminated the execution.
	ErrRuntimeCallStackOverflow = errors.New("callstack overflow")
	// ErrRuntimeInvalidConversionToInteger indicates the wasm function tries to
	// convert NaN floating point value to integers during trunc variant instructions.
	ErrRuntimeInvalidConversionToInteger = errors.New("invalid conversion to integer")
	// ErrRuntimeIntegerOverflow indicates that an integer arithmetic resulted in
	// overflow value. For example, when the program tried to truncate a float value
	// which doesn't fit in the range of target integer.
	ErrRuntimeIntegerOverflow = errors.New("integer overflow")
	// ErrRuntimeIntegerDivideByZero indicates that an integer div or rem instructions
	// was executed with 0 as the divisor.
	ErrRuntimeIntegerDivideByZero = errors.New("integer divide by zero")
	// ErrRuntimeUnreachable means "unreachable" instruction was executed by the program.
	ErrRuntimeUnreachable = errors.New("unreachable")
	// ErrRuntimeOutOfBoundsMemoryAccess indicates that the program tried to access the
	// region beyond the linear memory.
	ErrRuntimeOutOfBoundsMemoryAccess = errors.New("out of bounds memory access")
	// ErrRuntimeInvalidTableAccess means either offset to the table was out of bounds of table, or
	// the target element in the table was uninitialized during call_indirect instruction.
	ErrRuntimeInvalidTableAccess = errors.New("invalid table access")
	// ErrRuntimeIndirectCallTypeMismatch indicates that the type check failed during call_indirect.
	ErrRuntimeIndirectCallTypeMismatch = errors.New("indirect call type mismatch")
	// ErrRuntimeUnalignedAtomic indicates that an atomic operation was made with incorrect memory alignment.
	ErrRuntimeUnalignedAtomic = errors.New("unaligned atomic")
	// ErrRuntimeExpectedSharedMemory indicates that an operation was made against unshared memory when not allowed.
	ErrRuntimeExpectedSharedMemory = errors.New("expected shared memory")
)
