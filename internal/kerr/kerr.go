// Package kerr defines the kernel's closed error taxonomy.
//
// Every kernel operation returns a Go error drawn from this taxonomy (or
// nil). The syscall dispatch boundary is the only place an error is
// flattened to the small-negative-integer ABI user code observes in a0;
// everywhere else errors travel as ordinary wrapped Go errors so %w chains
// and errors.Is keep working.
package kerr

import "errors"

// Sentinel errors, one per kind in the kernel's error taxonomy.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBadFD           = errors.New("bad file descriptor")
	ErrTooManyOpen     = errors.New("too many files open")
	ErrNoSuchEntry     = errors.New("no such entry")
	ErrBusy            = errors.New("busy")
	ErrIO              = errors.New("io error")
	ErrUnsupported     = errors.New("unsupported")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrNoDataBlocks    = errors.New("no data blocks")
	ErrBadFormat       = errors.New("bad format")
	ErrAccessViolation = errors.New("access violation")
	ErrBrokenPipe      = errors.New("broken pipe")
	ErrNoThreads       = errors.New("no threads")
)

// errno maps each sentinel to the fixed negative code surfaced to user
// space. The exact magnitudes are internal to this kernel; what matters is
// that they are stable and distinct.
var errno = map[error]int32{
	ErrInvalidArgument: -1,
	ErrBadFD:           -2,
	ErrTooManyOpen:     -3,
	ErrNoSuchEntry:     -4,
	ErrBusy:            -5,
	ErrIO:              -6,
	ErrUnsupported:     -7,
	ErrOutOfMemory:     -8,
	ErrNoDataBlocks:    -9,
	ErrBadFormat:       -10,
	ErrAccessViolation: -11,
	ErrBrokenPipe:      -12,
	ErrNoThreads:       -13,
}

// Errno flattens err to the syscall-ABI result code. nil maps to 0. An
// error not drawn from this taxonomy (a programming bug) maps to the
// generic invalid-argument code rather than panicking, since this is the
// last stop before a value is written into a trap frame's a0.
func Errno(err error) int32 {
	if err == nil {
		return 0
	}
	for sentinel, code := range errno {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return errno[ErrInvalidArgument]
}
