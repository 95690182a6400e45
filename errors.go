package wah

import "errors"

// Sentinel errors surfaced by the allocators and the wire codec. Matching the
// corpus's style of plain package-level sentinels checked with errors.Is,
// rather than a bespoke error-code enum.
var (
	// ErrOutOfMemory names the failure of the process allocator itself.
	// No function in this package returns or panics with it: Go's
	// allocator reports exhaustion as a fatal runtime error.
	ErrOutOfMemory = errors.New("wah: out of memory")

	// ErrRequestedTooLarge is the value an allocator panics with when a
	// single allocation exceeds the hard per-request ceiling or has a
	// negative size.
	ErrRequestedTooLarge = errors.New("wah: requested allocation too large")

	// ErrCorruptStream is returned by DecodeWAH when a wire buffer fails
	// structural validation.
	ErrCorruptStream = errors.New("wah: corrupt wire stream")
)

// invalidCookie is raised via panic by (*StackPool).Rewind when the supplied
// cookie does not correspond to any frame currently on the stack. It is a
// programmer error, not a recoverable condition.
type invalidCookie struct{ detail string }

func (e invalidCookie) Error() string { return "wah: invalid stack frame cookie: " + e.detail }

func panicInvalidCookie(detail string) {
	panic(invalidCookie{detail})
}

// missingFrame is raised via panic by (*RingPool).Alloc when called before a
// frame has been armed with NewFrame.
type missingFrame struct{ detail string }

func (e missingFrame) Error() string { return "wah: ring pool alloc without armed frame: " + e.detail }

func panicMissingFrame(detail string) {
	panic(missingFrame{detail})
}

// invariantViolation is raised via panic by internal normalization checks
// and by misuse of operations whose preconditions cannot be expressed in
// the type system.
type invariantViolation struct{ detail string }

func (e invariantViolation) Error() string { return "wah: invariant violation: " + e.detail }

func panicInvariantViolation(detail string) {
	panic(invariantViolation{detail})
}
