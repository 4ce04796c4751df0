//go:build linux && (amd64 || arm64)

package wakeup

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex(2) operation codes and flags. golang.org/x/sys/unix does not
// export these (it only exposes the unrelated SYS_FUTEX_WAIT/WAKE syscall
// numbers), so they're mirrored here from linux/futex.h.
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128
)

// Event is a binary latch backed by a Linux futex. Signal is idempotent
// within an epoch: multiple signals before a waiter observes the sequence
// change only wake the waiter once, which is exactly what the consumer's
// queue-nonempty and the producers' consumed event need.
type Event struct {
	seq uint32
}

// Signal bumps the sequence and wakes every thread parked in Wait.
func (e *Event) Signal() {
	atomic.AddUint32(&e.seq, 1)
	unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&e.seq)),
		uintptr(futexWake|futexPrivateFlag), uintptr(math.MaxInt32))
}

// Wait blocks until Signal is called, a spurious futex wake occurs, or
// timeout elapses. timeout == 0 means wait indefinitely. Callers must
// re-check their condition after Wait returns: a return here only means
// "something happened", never "the condition definitely holds now".
func (e *Event) Wait(timeout time.Duration) {
	e.WaitFrom(e.Gen(), timeout)
}

// Gen returns the current sequence counter. Callers that check some
// other, separately-locked condition before deciding to wait should
// capture Gen() *before* checking that condition, then pass it to
// WaitFrom: that ordering guarantees a Signal racing the check is never
// missed, which a plain check-then-Wait cannot guarantee (see
// internal/queue.Queue.Pop and internal/ring.InputBuffer.AllocateFrame).
func (e *Event) Gen() uint32 { return atomic.LoadUint32(&e.seq) }

// WaitFrom blocks until the sequence has moved past gen, a spurious
// futex wake occurs, or timeout elapses. Unlike Wait, the snapshot is
// supplied by the caller instead of being taken at the start of the
// call; the futex syscall itself re-checks *addr == gen atomically, so
// this is safe even if gen was captured long before the call.
func (e *Event) WaitFrom(gen uint32, timeout time.Duration) {
	var tsPtr unsafe.Pointer
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsPtr = unsafe.Pointer(&ts)
	}

	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(&e.seq)),
		uintptr(futexWait|futexPrivateFlag),
		uintptr(gen),
		uintptr(tsPtr),
		0, 0)
	// EAGAIN (sequence already moved) and EINTR are both fine to ignore:
	// the caller loops on its own condition, same contract as a cond var.
}
