package wasmerr

// Sentinels for errors.Is. Each matches any *Error of the same Kind (and TrapKind for traps), regardless of Phase.
var (
	ErrInvalidModule             = sentinel(KindInvalidModule, "")
	ErrUnsupportedFeature        = sentinel(KindUnsupportedFeature, "")
	ErrDisabledFeature           = sentinel(KindDisabledFeature, "")
	ErrMalformedBody             = sentinel(KindMalformedBody, "")
	ErrResourceExhausted         = sentinel(KindResourceExhausted, "")
	ErrUnknownStrategy           = sentinel(KindUnknownStrategy, "")
	ErrMissingImport             = sentinel(KindMissingImport, "")
	ErrImportTypeMismatch        = sentinel(KindImportTypeMismatch, "")
	ErrDataSegmentOutOfBounds    = sentinel(KindDataSegmentOutOfBounds, "")
	ErrElementSegmentOutOfBounds = sentinel(KindElementSegmentOutOfBounds, "")
	ErrExportNotFound            = sentinel(KindExportNotFound, "")
	ErrExportKindMismatch        = sentinel(KindExportKindMismatch, "")
	ErrSignatureMismatch         = sentinel(KindSignatureMismatch, "")
	ErrGrowLimitExceeded         = sentinel(KindGrowLimitExceeded, "")
	ErrInvalidLimits             = sentinel(KindInvalidLimits, "")
	ErrSourceUnreadable          = sentinel(KindSourceUnreadable, "")
	ErrClosed                    = sentinel(KindClosed, "")

	// ErrTrap matches any trap.
	ErrTrap                           = sentinel(KindTrap, "")
	ErrTrapOutOfBoundsAccess          = sentinel(KindTrap, TrapOutOfBoundsAccess)
	ErrTrapIntegerDivideByZero        = sentinel(KindTrap, TrapIntegerDivideByZero)
	ErrTrapIntegerOverflow            = sentinel(KindTrap, TrapIntegerOverflow)
	ErrTrapInvalidConversionToInteger = sentinel(KindTrap, TrapInvalidConversionToInteger)
	ErrTrapUnreachable                = sentinel(KindTrap, TrapUnreachable)
	ErrTrapCallStackExhausted         = sentinel(KindTrap, TrapCallStackExhausted)
	ErrTrapIndirectCallTypeMismatch   = sentinel(KindTrap, TrapIndirectCallTypeMismatch)
	ErrTrapInvalidTableAccess         = sentinel(KindTrap, TrapInvalidTableAccess)
	ErrTrapUnalignedAtomic            = sentinel(KindTrap, TrapUnalignedAtomic)
	ErrTrapExpectedSharedMemory       = sentinel(KindTrap, TrapExpectedSharedMemory)
	ErrTrapHostFunction               = sentinel(KindTrap, TrapHostFunction)
)

// Validation returns a KindInvalidModule error for the given phase.
func Validation(phase Phase, cause error) *Error {
	return New(phase, KindInvalidModule).Cause(cause).Build()
}

// OutOfBounds returns the trap raised by host access past the end of a memory.
func OutOfBounds(offset uint64, byteCount uint64, size uint64) *Error {
	return New(PhaseMemory, KindTrap).Trap(TrapOutOfBoundsAccess).
		Detail("offset %d + %d exceeds memory size %d", offset, byteCount, size).Build()
}

// GrowLimitExceeded returns the error for a grow that would exceed the memory maximum.
func GrowLimitExceeded(current, delta, max uint32) *Error {
	return New(PhaseMemory, KindGrowLimitExceeded).
		Detail("%d + %d pages exceeds maximum %d", current, delta, max).Build()
}

func sentinel(kind Kind, trap TrapKind) *Error {
	return &Error{Kind: kind, Trap: trap, FunctionIndex: -1}
}
