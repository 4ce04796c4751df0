// Package ring implements the per-producer input buffer described in
// spec.md §3/§4.3: a fixed-capacity, frame-aligned circular byte region
// with exactly two accessors — the owning producer (write side) and the
// consumer worker (read side).
//
// This is adapted from the teacher's SPSC transport ring
// (markrussinovich-grpc-go-shmem's ring.go / shm_segment.go), replaced
// end to end with the offset-based allocate/commit/discard/wraparound
// algorithm from original_source/src/asynclog.cpp's
// dlog::detail::input_buffer, since the teacher ring moves opaque byte
// streams for a gRPC transport and this ring moves aligned frames for a
// logging core.
package ring

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vermosen/reckless/internal/dispatch"
	"github.com/vermosen/reckless/internal/queue"
	"github.com/vermosen/reckless/internal/wakeup"
)

// MinFrameAlignment is the smallest alignment this package accepts: the
// wraparound marker must always fit in a single frame slot.
const MinFrameAlignment = dispatch.TagSize

// InputBuffer is one producer's thread-local input ring (spec.md §3).
//
// Field placement mirrors the cache-line-separation idiom used by
// other_examples/drgolem-go-portaudio__spsc.go: inputStart is written by
// the consumer and read by the producer, inputEnd/commitEnd are written
// only by the producer, so they are padded apart to avoid false sharing
// between the two goroutines that pound on this struct concurrently.
type InputBuffer struct {
	ID uuid.UUID

	data      []byte
	cap       uint64
	alignment uint64

	// inputStart is the consumer's read cursor. Consumer-written,
	// producer-read (relaxed loads suffice per spec.md §4.3's memory
	// ordering note: the input-consumed event supplies the producer's
	// synchronization edge, the queue push/pop supplies the consumer's).
	inputStart atomic.Uint64
	_pad0      [56]byte

	// inputEnd and commitEnd are touched only by the owning producer
	// goroutine; they need no atomicity, only the padding above so they
	// don't share a cache line with inputStart.
	inputEnd  uint64
	commitEnd uint64

	queue    *queue.Queue
	nonEmpty *wakeup.Event
	consumed *wakeup.Event
}

// New creates a producer's input buffer. alignment must be a power of
// two and capacity a multiple of alignment; New does not check either.
// An alignment below MinFrameAlignment is raised to MinFrameAlignment,
// and no other adjustment is made.
func New(id uuid.UUID, capacity, alignment uint64, q *queue.Queue, nonEmpty, consumed *wakeup.Event) *InputBuffer {
	if alignment < MinFrameAlignment {
		alignment = MinFrameAlignment
	}
	return &InputBuffer{
		ID:        id,
		data:      make([]byte, capacity),
		cap:       capacity,
		alignment: alignment,
		queue:     q,
		nonEmpty:  nonEmpty,
		consumed:  consumed,
	}
}

// Capacity returns the ring's total size in bytes.
func (ib *InputBuffer) Capacity() uint64 { return ib.cap }

// Alignment returns the frame alignment this buffer enforces.
func (ib *InputBuffer) Alignment() uint64 { return ib.alignment }

// align rounds size up to the buffer's frame alignment.
func (ib *InputBuffer) align(size uint64) uint64 {
	rem := size % ib.alignment
	if rem == 0 {
		return size
	}
	return size + (ib.alignment - rem)
}

// advance moves an offset forward by distance, wrapping to zero at the
// ring boundary exactly like advance_frame_pointer in the original: the
// offset must never come to rest at cap itself.
func (ib *InputBuffer) advance(p, distance uint64) uint64 {
	p += distance
	if p == ib.cap {
		p = 0
	}
	return p
}

// AllocateFrame reserves size bytes (already alignment-rounded by the
// caller; callers that have a raw payload size should call Align first)
// starting at the ring's current write position, blocking while the
// ring lacks room. It implements the case-A/case-B algorithm from
// spec.md §4.3 verbatim, using byte offsets in place of the original's
// raw pointers.
func (ib *InputBuffer) AllocateFrame(size uint64) ([]byte, error) {
	if size == 0 || size%ib.alignment != 0 {
		return nil, fmt.Errorf("ring: frame size %d is not a multiple of alignment %d", size, ib.alignment)
	}
	if size > ib.cap-ib.alignment {
		return nil, fmt.Errorf("ring: frame size %d exceeds usable capacity %d", size, ib.cap-ib.alignment)
	}

	for {
		// Snapshotted before reading inputStart, not after: the
		// producer must never decide "I need to wait" based on a stale
		// reading that a consumed signal has already raced past (see
		// wakeup.Event.Gen's doc comment).
		gen := ib.consumed.Gen()

		end := ib.inputEnd
		start := ib.inputStart.Load()

		free := int64(start) - int64(end)
		if free > 0 {
			// Case A: free region is contiguous, [end, start).
			if size < uint64(free) {
				ib.inputEnd = ib.advance(end, size)
				return ib.data[end : end+size], nil
			}
			ib.waitInputConsumed(gen)
			continue
		}

		// Case B: free region is split into a tail [end, cap) and a
		// head [0, start).
		freeTail := ib.cap - end
		freeHead := start
		switch {
		case size < freeTail:
			ib.inputEnd = ib.advance(end, size)
			return ib.data[end : end+size], nil
		case size < freeHead:
			dispatch.PutTag(ib.data[end:end+dispatch.TagSize], dispatch.WraparoundMarker)
			ib.inputEnd = ib.advance(0, size)
			return ib.data[0:size], nil
		default:
			ib.waitInputConsumed(gen)
		}
	}
}

// Align rounds a raw payload size (including the dispatch tag) up to
// this buffer's frame alignment, for callers building a frame outside
// the ring package (see the reckless root package's Log entry point).
func (ib *InputBuffer) Align(size uint64) uint64 { return ib.align(size) }

// waitInputConsumed blocks until the consumer has freed some space.
// Two things the original C++ (dlog::detail::input_buffer::wait_input_consumed)
// gets right that this mirrors exactly:
//
//   - if nothing has been published yet (commitEnd == inputStart), commit
//     first — otherwise the producer would wait forever for the consumer
//     to drain data it was never handed.
//   - resolved open question (ii) from spec.md §9: signal the
//     queue-nonempty event before waiting, so a ring-full producer does
//     not leave the consumer idle for up to the full backoff cap.
//
// gen must be a consumed.Gen() snapshot taken before the caller
// evaluated the free-space condition that led here, so a consumed
// signal racing that check is never missed.
func (ib *InputBuffer) waitInputConsumed(gen uint32) {
	if ib.commitEnd == ib.inputStart.Load() {
		ib.Commit()
	}
	ib.nonEmpty.Signal()
	ib.consumed.WaitFrom(gen, 0)
}

// Commit publishes every frame allocated so far by snapshotting
// inputEnd into commitEnd and enqueuing a commit extent onto the shared
// handoff queue (spec.md §4.3). Push blocks internally, using the same
// two events, if the shared queue itself is full.
func (ib *InputBuffer) Commit() {
	end := ib.inputEnd
	ib.commitEnd = end
	ib.queue.Push(queue.Extent{Buffer: ib, CommitEnd: end})
}

// InputStart is the consumer-side read of the read cursor.
func (ib *InputBuffer) InputStart() uint64 { return ib.inputStart.Load() }

// FrameAt returns the byte slice starting at offset p and running to
// the end of the ring, for the consumer to read a dispatch tag or hand
// to a decoder. Decoders never read past their own frame's known size.
func (ib *InputBuffer) FrameAt(p uint64) []byte { return ib.data[p:] }

// DiscardFrame is consumer-side: it advances inputStart past a frame of
// the given size and signals the consumed event so a producer blocked
// on a full ring or full shared queue can retry.
func (ib *InputBuffer) DiscardFrame(size uint64) uint64 {
	p := ib.advance(ib.inputStart.Load(), size)
	ib.inputStart.Store(p)
	ib.consumed.Signal()
	return p
}

// Wraparound is consumer-side: it asserts the byte at the current read
// position holds the wraparound marker and resets inputStart to the
// ring's base.
func (ib *InputBuffer) Wraparound() uint64 {
	p := ib.inputStart.Load()
	if tag := dispatch.ReadTag(ib.data[p : p+dispatch.TagSize]); tag != dispatch.WraparoundMarker {
		panic(fmt.Sprintf("ring: wraparound called at offset %d without a marker (got tag %d)", p, tag))
	}
	ib.inputStart.Store(0)
	return 0
}

// Drain commits any outstanding frames and blocks until the consumer
// has caught up to the producer's write position. It is called from
// both the per-thread buffer's detach path and reckless.Cleanup, per
// spec.md §3's "destructor must drain".
func (ib *InputBuffer) Drain() {
	ib.Commit()
	for {
		gen := ib.consumed.Gen()
		if ib.inputStart.Load() == ib.inputEnd {
			return
		}
		ib.consumed.WaitFrom(gen, 0)
	}
}

// Empty reports whether the ring currently holds no unread data. It is
// only meaningful when called by the owning producer or after the
// producer has stopped allocating (e.g. during Drain).
func (ib *InputBuffer) Empty() bool {
	return ib.inputStart.Load() == ib.inputEnd
}
